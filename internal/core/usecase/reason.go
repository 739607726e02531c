package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/resilience"
)

// ChainOfThought decomposes a complex question into a bounded tree of
// sub-questions. The tree is walked level by level with an explicit queue:
// depth, breadth, and the ancestor-hash cycle guard are structural limits,
// not recursion accidents. A weighted semaphore shared across all requests
// caps concurrent generation calls to protect the LLM provider.
type ChainOfThought struct {
	retriever  *Retriever
	reranker   *Reranker
	generators ports.GeneratorFactory
	exec       *resilience.Executor
	genSlots   *semaphore.Weighted
}

func NewChainOfThought(
	retriever *Retriever,
	reranker *Reranker,
	generators ports.GeneratorFactory,
	exec *resilience.Executor,
	maxConcurrentGenerations int64,
) *ChainOfThought {
	if maxConcurrentGenerations <= 0 {
		maxConcurrentGenerations = 8
	}
	return &ChainOfThought{
		retriever:  retriever,
		reranker:   reranker,
		generators: generators,
		exec:       exec,
		genSlots:   semaphore.NewWeighted(maxConcurrentGenerations),
	}
}

// ReasoningResult carries the append-only trace, the bottom-up summary for
// the synthesizer, and per-branch failures (never fatal).
type ReasoningResult struct {
	Trace        []domain.ReasoningStep
	Summary      string
	BranchErrors []error
}

// ShouldReason applies the complexity heuristic: reasoning only pays off for
// questions with several clauses, comparisons, or enough length to hide more
// than one information need.
func (e *ChainOfThought) ShouldReason(question string, cfg domain.PipelineConfig) bool {
	if !cfg.EnableChainOfThought {
		return false
	}
	tokens := splitAlphaNumLower(question)
	if len(tokens) >= 12 {
		return true
	}
	if strings.Count(question, "?") > 1 {
		return true
	}
	for _, token := range tokens {
		switch token {
		case "and", "or", "versus", "vs", "compare", "difference", "both", "between", "while", "whereas":
			return true
		}
	}
	return false
}

type reasoningNode struct {
	question  string
	depth     int
	ancestors map[uint64]struct{}
	// forceDirect blocks further decomposition: set at the depth limit and
	// when the node's normalized hash matches an ancestor in its branch.
	forceDirect bool
}

type nodeOutcome struct {
	step     domain.ReasoningStep
	children []string
	err      error
}

func (e *ChainOfThought) Reason(
	ctx context.Context,
	question string,
	collectionID string,
	cfg domain.PipelineConfig,
) (ReasoningResult, error) {
	rootSubs, err := e.decompose(ctx, question, cfg)
	if err != nil {
		return ReasoningResult{}, domain.WrapError(domain.ErrReasoningBranch, "root decomposition", err)
	}
	if len(rootSubs) == 0 {
		return ReasoningResult{}, nil
	}

	rootHash := normalizedQuestionHash(question)
	queue := make([]reasoningNode, 0, cfg.MaxReasoningBreadth)
	for _, sub := range trimSubQuestions(rootSubs, cfg.MaxReasoningBreadth) {
		queue = append(queue, e.childNode(sub, 1, map[uint64]struct{}{rootHash: {}}, cfg))
	}

	result := ReasoningResult{}
	for len(queue) > 0 {
		outcomes := make([]nodeOutcome, len(queue))

		// Siblings at the same depth run concurrently; branch failures are
		// collected per node, never aborting the level.
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(cfg.ReasoningConcurrency)
		for i, node := range queue {
			group.Go(func() error {
				outcomes[i] = e.processNode(groupCtx, node, collectionID, cfg)
				return nil
			})
		}
		_ = group.Wait()

		next := make([]reasoningNode, 0, len(queue)*cfg.MaxReasoningBreadth)
		for i, outcome := range outcomes {
			node := queue[i]
			if outcome.err != nil {
				result.BranchErrors = append(result.BranchErrors,
					domain.WrapError(domain.ErrReasoningBranch, node.question, outcome.err))
				continue
			}
			result.Trace = append(result.Trace, outcome.step)

			for _, childQuestion := range trimSubQuestions(outcome.children, cfg.MaxReasoningBreadth) {
				ancestors := cloneHashSet(node.ancestors)
				ancestors[normalizedQuestionHash(node.question)] = struct{}{}
				next = append(next, e.childNode(childQuestion, node.depth+1, ancestors, cfg))
			}
		}
		queue = next
	}

	result.Summary = summarizeTrace(result.Trace)
	return result, nil
}

func (e *ChainOfThought) childNode(
	question string,
	depth int,
	ancestors map[uint64]struct{},
	cfg domain.PipelineConfig,
) reasoningNode {
	node := reasoningNode{
		question:  question,
		depth:     depth,
		ancestors: ancestors,
	}
	if depth >= cfg.MaxReasoningDepth {
		node.forceDirect = true
	}
	if _, cyclic := ancestors[normalizedQuestionHash(question)]; cyclic {
		node.forceDirect = true
	}
	return node
}

func (e *ChainOfThought) processNode(
	ctx context.Context,
	node reasoningNode,
	collectionID string,
	cfg domain.PipelineConfig,
) nodeOutcome {
	retrieved, err := e.retriever.Retrieve(ctx, node.question, collectionID, cfg)
	if err != nil {
		return nodeOutcome{err: err}
	}
	chunks := retrieved.Chunks

	reranked, err := e.reranker.Rerank(ctx, chunks, node.question, cfg)
	if err != nil {
		// Degrade to retrieval order, same as the top-level policy.
		reranked = chunks
	}

	answer, err := e.generateSubAnswer(ctx, node.question, reranked, cfg)
	if err != nil {
		return nodeOutcome{err: err}
	}

	step := domain.ReasoningStep{
		SubQuestion:        node.question,
		SubAnswer:          answer,
		SupportingChunkIDs: chunkIDs(reranked),
		Depth:              node.depth,
		Confidence:         traceConfidence(reranked),
	}

	outcome := nodeOutcome{step: step}
	if !node.forceDirect {
		children, decompErr := e.decompose(ctx, node.question, cfg)
		if decompErr == nil {
			outcome.children = children
		}
	}
	return outcome
}

func (e *ChainOfThought) decompose(ctx context.Context, question string, cfg domain.PipelineConfig) ([]string, error) {
	generator, err := e.generators.Generator(cfg.GenerationBackend)
	if err != nil {
		return nil, err
	}

	var raw string
	err = e.withGenerationSlot(ctx, func(slotCtx context.Context) error {
		return e.exec.Execute(slotCtx, "llm:"+string(cfg.GenerationBackend), "decompose", func(callCtx context.Context) error {
			genCtx, cancel := context.WithTimeout(callCtx, cfg.GenerationTimeout)
			defer cancel()
			out, genErr := generator.Generate(genCtx, buildDecompositionPrompt(question, cfg.MaxReasoningBreadth), domain.GenerationOptions{
				Temperature: 0,
				MaxTokens:   512,
			})
			if genErr != nil {
				return genErr
			}
			raw = out
			return nil
		}, resilience.DefaultClassifier)
	})
	if err != nil {
		return nil, err
	}
	return parseSubQuestions(raw)
}

func (e *ChainOfThought) generateSubAnswer(
	ctx context.Context,
	question string,
	chunks []domain.Chunk,
	cfg domain.PipelineConfig,
) (string, error) {
	generator, err := e.generators.Generator(cfg.GenerationBackend)
	if err != nil {
		return "", err
	}

	var answer string
	err = e.withGenerationSlot(ctx, func(slotCtx context.Context) error {
		return e.exec.Execute(slotCtx, "llm:"+string(cfg.GenerationBackend), "sub_answer", func(callCtx context.Context) error {
			genCtx, cancel := context.WithTimeout(callCtx, cfg.GenerationTimeout)
			defer cancel()
			out, genErr := generator.Generate(genCtx, buildSubAnswerPrompt(question, chunks), domain.GenerationOptions{
				Temperature: cfg.Temperature,
				MaxTokens:   cfg.MaxTokens,
			})
			if genErr != nil {
				return genErr
			}
			answer = strings.TrimSpace(out)
			return nil
		}, resilience.DefaultClassifier)
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

func (e *ChainOfThought) withGenerationSlot(ctx context.Context, fn func(context.Context) error) error {
	if err := e.genSlots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.genSlots.Release(1)
	return fn(ctx)
}

func parseSubQuestions(raw string) ([]string, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in decomposition response")
	}

	var subs []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &subs); err != nil {
		return nil, fmt.Errorf("decode sub-questions: %w", err)
	}

	out := make([]string, 0, len(subs))
	seen := make(map[uint64]struct{}, len(subs))
	for _, sub := range subs {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			continue
		}
		hash := normalizedQuestionHash(sub)
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		out = append(out, sub)
	}
	return out, nil
}

func trimSubQuestions(subs []string, breadth int) []string {
	if breadth <= 0 || len(subs) <= breadth {
		return subs
	}
	return subs[:breadth]
}

func cloneHashSet(in map[uint64]struct{}) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(in)+1)
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func chunkIDs(chunks []domain.Chunk) []string {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, chunk.ID)
	}
	return out
}

func traceConfidence(chunks []domain.Chunk) float64 {
	if len(chunks) == 0 {
		return 0.1
	}
	return clamp01(chunks[0].Score)
}

// summarizeTrace renders completed nodes in level order, indented by depth,
// as the aggregated reasoning summary consumed by the synthesizer.
func summarizeTrace(trace []domain.ReasoningStep) string {
	if len(trace) == 0 {
		return ""
	}
	var b strings.Builder
	for _, step := range trace {
		indent := strings.Repeat("  ", step.Depth-1)
		fmt.Fprintf(&b, "%s- %s\n%s  %s\n", indent, step.SubQuestion, indent, step.SubAnswer)
	}
	return strings.TrimRight(b.String(), "\n")
}
