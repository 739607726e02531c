package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
)

// PipelineExecutor drives the fixed stage sequence over one SearchContext:
// Resolve → Enhance → Retrieve → Rerank → Reason → Generate. Transitions are
// strictly forward. Fatal stage errors short-circuit to Failed with the
// partial context preserved; non-fatal errors are recorded and the pipeline
// continues degraded.
type PipelineExecutor struct {
	resolver    *ConfigResolver
	enhancer    *Enhancer
	retriever   *Retriever
	reranker    *Reranker
	reasoner    *ChainOfThought
	synthesizer *Synthesizer
	events      ports.EventPublisher
	logger      *slog.Logger
}

func NewPipelineExecutor(
	resolver *ConfigResolver,
	enhancer *Enhancer,
	retriever *Retriever,
	reranker *Reranker,
	reasoner *ChainOfThought,
	synthesizer *Synthesizer,
	events ports.EventPublisher,
	logger *slog.Logger,
) *PipelineExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineExecutor{
		resolver:    resolver,
		enhancer:    enhancer,
		retriever:   retriever,
		reranker:    reranker,
		reasoner:    reasoner,
		synthesizer: synthesizer,
		events:      events,
		logger:      logger,
	}
}

func (e *PipelineExecutor) ExecuteQuery(ctx context.Context, req domain.QueryRequest) (*domain.SearchContext, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "execute query", fmt.Errorf("question is required"))
	}
	if strings.TrimSpace(req.CollectionID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "execute query", fmt.Errorf("collection_id is required"))
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "execute query", fmt.Errorf("user_id is required"))
	}

	sc := domain.NewSearchContext(uuid.NewString(), req)

	// Resolve. Fatal, no retry.
	start := time.Now()
	cfg, err := e.resolver.Resolve(ctx, req.UserID, req.CollectionID, req.Override)
	sc.StageTimings[domain.StageResolve] = time.Since(start)
	if err != nil {
		sc.RecordError(domain.StageResolve, domain.ErrConfiguration, err)
		return e.fail(ctx, sc, err)
	}
	sc.PipelineConfig = cfg

	runCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	// Enhance. Never fatal: fall back to the original question.
	sc.State = domain.StateEnhancing
	start = time.Now()
	enhanced, err := e.enhancer.Enhance(runCtx, sc.OriginalQuestion, cfg)
	sc.StageTimings[domain.StageEnhance] = time.Since(start)
	if err != nil {
		sc.RecordError(domain.StageEnhance, domain.ErrTemporary, err)
		enhanced = sc.OriginalQuestion
	}
	sc.Question = enhanced

	if e.deadlineHit(runCtx, sc) {
		return e.finalizePartial(ctx, sc)
	}

	// Retrieve. Fatal after retries and fallback backend are exhausted; a
	// lost keyword leg degrades to dense-only and is recorded non-fatal.
	sc.State = domain.StateRetrieving
	start = time.Now()
	retrieved, err := e.retriever.Retrieve(runCtx, sc.Question, sc.CollectionID, cfg)
	sc.StageTimings[domain.StageRetrieve] = time.Since(start)
	if err != nil {
		sc.RecordError(domain.StageRetrieve, domain.ErrRetrieval, err)
		return e.fail(ctx, sc, err)
	}
	for _, kwErr := range retrieved.KeywordErrs {
		sc.RecordError(domain.StageRetrieve, domain.ErrRetrieval, kwErr)
	}
	sc.RetrievedChunks = retrieved.Chunks

	if e.deadlineHit(runCtx, sc) {
		return e.finalizePartial(ctx, sc)
	}

	// Rerank. Never fatal: degrade to retrieval order.
	sc.State = domain.StateReranking
	start = time.Now()
	reranked, err := e.reranker.Rerank(runCtx, sc.RetrievedChunks, sc.Question, cfg)
	sc.StageTimings[domain.StageRerank] = time.Since(start)
	if err != nil {
		sc.RecordError(domain.StageRerank, domain.ErrRerank, err)
		reranked = sc.RetrievedChunks
	}
	sc.RetrievedChunks = reranked

	if e.deadlineHit(runCtx, sc) {
		return e.finalizePartial(ctx, sc)
	}

	// Reason. Skipped when disabled or the heuristic declines; branch
	// failures degrade, a root failure drops the trace entirely.
	reasoningSummary := ""
	if e.reasoner.ShouldReason(sc.Question, cfg) {
		sc.State = domain.StateReasoning
		start = time.Now()
		reasoning, err := e.reasoner.Reason(runCtx, sc.Question, sc.CollectionID, cfg)
		sc.StageTimings[domain.StageReason] = time.Since(start)
		if err != nil {
			sc.RecordError(domain.StageReason, domain.ErrReasoningBranch, err)
		} else {
			sc.ReasoningTrace = reasoning.Trace
			reasoningSummary = reasoning.Summary
			for _, branchErr := range reasoning.BranchErrors {
				sc.RecordError(domain.StageReason, domain.ErrReasoningBranch, branchErr)
			}
		}
	}

	if e.deadlineHit(runCtx, sc) {
		return e.finalizePartial(ctx, sc)
	}

	// Generate. Fatal after retries and one failover attempt.
	sc.State = domain.StateGenerating
	start = time.Now()
	answer, citations, err := e.synthesizer.Synthesize(runCtx, sc.Question, sc.RetrievedChunks, reasoningSummary, cfg)
	sc.StageTimings[domain.StageGenerate] = time.Since(start)
	if err != nil {
		sc.RecordError(domain.StageGenerate, domain.ErrGeneration, err)
		return e.fail(ctx, sc, err)
	}
	sc.Answer = answer
	sc.Citations = citations

	sc.State = domain.StateDone
	sc.FinishedAt = time.Now().UTC()
	e.publishCompleted(ctx, sc)
	return sc, nil
}

// deadlineHit reports whether the top-level deadline expired; the executor
// then stops issuing stage work and finalizes what exists.
func (e *PipelineExecutor) deadlineHit(ctx context.Context, sc *domain.SearchContext) bool {
	if ctx.Err() == nil {
		return false
	}
	sc.RecordError(sc.CurrentStage(), domain.ErrTemporary, ctx.Err())
	return true
}

func (e *PipelineExecutor) finalizePartial(ctx context.Context, sc *domain.SearchContext) (*domain.SearchContext, error) {
	sc.Partial = true
	sc.State = domain.StateDone
	sc.FinishedAt = time.Now().UTC()
	e.logger.Warn("pipeline_partial_finalization",
		"request_id", sc.RequestID,
		"collection_id", sc.CollectionID,
		"errors", len(sc.Errors),
	)
	e.publishCompleted(ctx, sc)
	return sc, nil
}

func (e *PipelineExecutor) fail(ctx context.Context, sc *domain.SearchContext, err error) (*domain.SearchContext, error) {
	sc.Partial = true
	sc.State = domain.StateFailed
	sc.FinishedAt = time.Now().UTC()
	e.logger.Error("pipeline_failed",
		"request_id", sc.RequestID,
		"collection_id", sc.CollectionID,
		"state", sc.State,
		"error", err,
	)
	e.publishCompleted(ctx, sc)
	return sc, err
}

// publishCompleted is best effort: event delivery never delays or fails the
// response, and runs detached from the (possibly expired) request context.
func (e *PipelineExecutor) publishCompleted(ctx context.Context, sc *domain.SearchContext) {
	if e.events == nil {
		return
	}
	eventCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	event := domain.QueryCompletedEvent{
		RequestID:    sc.RequestID,
		UserID:       sc.UserID,
		CollectionID: sc.CollectionID,
		Question:     sc.OriginalQuestion,
		AnswerChars:  len(sc.Answer),
		Partial:      sc.Partial,
		State:        sc.State,
		Duration:     sc.FinishedAt.Sub(sc.StartedAt),
		FinishedAt:   sc.FinishedAt,
	}
	if err := e.events.PublishQueryCompleted(eventCtx, event); err != nil {
		e.logger.Warn("query_completed_publish_failed", "request_id", sc.RequestID, "error", err)
	}
}
