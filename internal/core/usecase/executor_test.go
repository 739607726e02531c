package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
)

type pipelineFixture struct {
	executor  *PipelineExecutor
	generator *fakeGenerator
	store     *fakeVectorStore
	configs   *fakeConfigStore
	publisher *fakePublisher
}

func newTestPipeline(respond func(string) (string, error), stored *domain.PipelineConfig) *pipelineFixture {
	exec := newTestResilience(1)
	generator := &fakeGenerator{respond: respond}
	generators := generatorFactory{domain.GenerationBackendOllama: generator}
	store := &fakeVectorStore{chunks: testChunks()}
	retriever := NewRetriever(&fakeEmbedder{}, storeFactory{domain.VectorBackendQdrant: store}, exec)
	reranker := NewReranker(generators, exec)
	configs := &fakeConfigStore{exists: true, cfg: stored}
	publisher := &fakePublisher{}

	executor := NewPipelineExecutor(
		NewConfigResolver(configs, domain.DefaultPipelineConfig()),
		NewEnhancer(generators, exec),
		retriever,
		reranker,
		NewChainOfThought(retriever, reranker, generators, exec, 4),
		NewSynthesizer(generators, exec, nil),
		publisher,
		nil,
	)
	return &pipelineFixture{
		executor:  executor,
		generator: generator,
		store:     store,
		configs:   configs,
		publisher: publisher,
	}
}

// respondPipeline serves decomposition, sub-answer, and synthesis prompts for
// the compare-two-systems scenario.
func respondPipeline(prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "sub-questions"):
		if strings.Contains(prompt, "Compare Alpha and Beta") {
			return `["What is Alpha?", "What is Beta?"]`, nil
		}
		return `[]`, nil
	case strings.Contains(prompt, "Quote or restate"):
		return "Alpha systems use a columnar storage engine. Beta systems use a row oriented storage engine.", nil
	default:
		return "A concise sub-answer.", nil
	}
}

func testRequest() domain.QueryRequest {
	return domain.QueryRequest{
		Question:     "Compare Alpha and Beta",
		CollectionID: "col",
		UserID:       "u1",
	}
}

func TestExecuteQueryHappyPath(t *testing.T) {
	fixture := newTestPipeline(respondPipeline, nil)

	sc, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	if sc.State != domain.StateDone || sc.Partial {
		t.Fatalf("expected clean completion, got state=%s partial=%v", sc.State, sc.Partial)
	}
	if sc.Answer == "" {
		t.Fatalf("expected a synthesized answer")
	}
	if len(sc.RetrievedChunks) != 3 {
		t.Fatalf("expected 3 chunks above the similarity threshold, got %d", len(sc.RetrievedChunks))
	}
	if len(sc.Errors) != 0 {
		t.Fatalf("clean run must record no stage errors, got %v", sc.Errors)
	}
	for _, stage := range []domain.Stage{domain.StageResolve, domain.StageEnhance, domain.StageRetrieve, domain.StageRerank, domain.StageGenerate} {
		if _, ok := sc.StageTimings[stage]; !ok {
			t.Fatalf("missing timing for stage %s", stage)
		}
	}
	if fixture.publisher.count() != 1 {
		t.Fatalf("expected one completion event, got %d", fixture.publisher.count())
	}
}

func TestExecuteQueryIsDeterministic(t *testing.T) {
	fixture := newTestPipeline(respondPipeline, nil)

	first, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	second, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}

	if first.Answer != second.Answer {
		t.Fatalf("answer changed between identical runs")
	}
	if len(first.RetrievedChunks) != len(second.RetrievedChunks) {
		t.Fatalf("chunk count changed between identical runs")
	}
	for i := range first.RetrievedChunks {
		if first.RetrievedChunks[i].ID != second.RetrievedChunks[i].ID {
			t.Fatalf("chunk order changed between identical runs at %d", i)
		}
	}
	if len(first.Citations) != len(second.Citations) {
		t.Fatalf("citation count changed between identical runs")
	}
	for i := range first.Citations {
		if first.Citations[i] != second.Citations[i] {
			t.Fatalf("citations changed between identical runs at %d", i)
		}
	}
}

func TestExecuteQueryValidatesInput(t *testing.T) {
	fixture := newTestPipeline(respondPipeline, nil)

	cases := []domain.QueryRequest{
		{CollectionID: "col", UserID: "u1"},
		{Question: "q", UserID: "u1"},
		{Question: "q", CollectionID: "col"},
	}
	for _, req := range cases {
		sc, err := fixture.executor.ExecuteQuery(context.Background(), req)
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input error for %+v, got %v", req, err)
		}
		if sc != nil {
			t.Fatalf("invalid request must not produce a context")
		}
	}
}

func TestExecuteQueryUnknownCollectionFailsAtResolve(t *testing.T) {
	fixture := newTestPipeline(respondPipeline, nil)
	fixture.configs.exists = false

	sc, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error kind, got %v", err)
	}
	if sc.State != domain.StateFailed {
		t.Fatalf("expected failed state, got %s", sc.State)
	}
	if len(sc.Errors) != 1 || sc.Errors[0].Stage != domain.StageResolve {
		t.Fatalf("expected one resolve stage error, got %v", sc.Errors)
	}
	if fixture.publisher.count() != 1 {
		t.Fatalf("failed runs must still publish completion, got %d events", fixture.publisher.count())
	}
}

func TestExecuteQueryRetrieveFailureIsFatal(t *testing.T) {
	fixture := newTestPipeline(respondPipeline, nil)
	fixture.store.err = domain.WrapError(domain.ErrBackendUnavailable, "search", context.DeadlineExceeded)

	sc, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected retrieval error kind, got %v", err)
	}
	if sc.State != domain.StateFailed || !sc.Partial {
		t.Fatalf("expected failed partial context, got state=%s partial=%v", sc.State, sc.Partial)
	}
	if sc.Answer != "" {
		t.Fatalf("failed run must not carry an answer")
	}
}

func TestExecuteQueryKeywordFailureRecordedNonFatal(t *testing.T) {
	stored := domain.DefaultPipelineConfig()
	stored.HybridSearch = true
	fixture := newTestPipeline(respondPipeline, &stored)

	exec := newTestResilience(1)
	store := &fakeHybridStore{
		fakeVectorStore: fakeVectorStore{chunks: testChunks()},
		keywordErr:      domain.WrapError(domain.ErrBackendUnavailable, "keyword search", context.DeadlineExceeded),
	}
	fixture.executor.retriever = NewRetriever(&fakeEmbedder{}, storeFactory{domain.VectorBackendQdrant: store}, exec)

	sc, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("keyword failure must not fail the query, got %v", err)
	}
	if sc.State != domain.StateDone || sc.Partial {
		t.Fatalf("expected clean completion on dense results, got state=%s partial=%v", sc.State, sc.Partial)
	}
	if len(sc.RetrievedChunks) != 3 {
		t.Fatalf("expected dense-only chunks, got %d", len(sc.RetrievedChunks))
	}
	retrieveErrors := 0
	for _, stageErr := range sc.Errors {
		if stageErr.Stage == domain.StageRetrieve {
			retrieveErrors++
		}
	}
	if retrieveErrors != 1 {
		t.Fatalf("expected one non-fatal retrieve stage error, got %d (%v)", retrieveErrors, sc.Errors)
	}
}

func TestExecuteQueryRerankFailureDegradesToRetrievalOrder(t *testing.T) {
	respond := func(prompt string) (string, error) {
		if strings.Contains(prompt, "Score each passage") {
			return "cannot comply", nil
		}
		return respondPipeline(prompt)
	}
	stored := domain.DefaultPipelineConfig()
	stored.RerankerKind = domain.RerankerLLM
	fixture := newTestPipeline(respond, &stored)

	sc, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("rerank failure must not fail the query, got %v", err)
	}
	if sc.State != domain.StateDone {
		t.Fatalf("expected done state, got %s", sc.State)
	}

	rerankErrors := 0
	for _, stageErr := range sc.Errors {
		if stageErr.Stage == domain.StageRerank {
			rerankErrors++
		}
	}
	if rerankErrors != 1 {
		t.Fatalf("expected exactly one rerank stage error, got %d", rerankErrors)
	}
	// Degraded runs keep the retrieval order.
	if sc.RetrievedChunks[0].ID != "c1" || sc.RetrievedChunks[1].ID != "c2" || sc.RetrievedChunks[2].ID != "c3" {
		t.Fatalf("expected retrieval order preserved, got %s %s %s",
			sc.RetrievedChunks[0].ID, sc.RetrievedChunks[1].ID, sc.RetrievedChunks[2].ID)
	}
}

func TestExecuteQueryEnhanceFailureFallsBackToOriginal(t *testing.T) {
	respond := func(prompt string) (string, error) {
		if strings.Contains(prompt, "Rewrite the user question") {
			return "", context.DeadlineExceeded
		}
		return respondPipeline(prompt)
	}
	stored := domain.DefaultPipelineConfig()
	stored.EnhancerKind = domain.EnhancerLLM
	fixture := newTestPipeline(respond, &stored)

	sc, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("enhance failure must not fail the query, got %v", err)
	}
	if sc.Question != sc.OriginalQuestion {
		t.Fatalf("expected fallback to the original question, got %q", sc.Question)
	}
	enhanceErrors := 0
	for _, stageErr := range sc.Errors {
		if stageErr.Stage == domain.StageEnhance {
			enhanceErrors++
		}
	}
	if enhanceErrors != 1 {
		t.Fatalf("expected one enhance stage error, got %d", enhanceErrors)
	}
}

func TestExecuteQueryChainOfThoughtScenario(t *testing.T) {
	stored := domain.DefaultPipelineConfig()
	stored.EnableChainOfThought = true
	stored.MaxReasoningDepth = 2
	stored.MaxReasoningBreadth = 2
	fixture := newTestPipeline(respondPipeline, &stored)

	sc, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	if len(sc.ReasoningTrace) != 2 {
		t.Fatalf("expected 2 reasoning steps, got %d", len(sc.ReasoningTrace))
	}
	for _, step := range sc.ReasoningTrace {
		if step.Depth != 1 {
			t.Fatalf("unexpected step depth %d", step.Depth)
		}
		if len(step.SupportingChunkIDs) == 0 {
			t.Fatalf("step %q has no supporting chunks", step.SubQuestion)
		}
	}

	// The synthesis prompt must carry the sub-question findings.
	fixture.generator.mu.Lock()
	defer fixture.generator.mu.Unlock()
	found := false
	for _, prompt := range fixture.generator.prompts {
		if strings.Contains(prompt, "Findings from sub-questions:") && strings.Contains(prompt, "What is Alpha?") {
			found = true
		}
	}
	if !found {
		t.Fatalf("synthesis prompt did not include the reasoning summary")
	}
}

func TestExecuteQueryCitationsAreSubsetOfRetrieved(t *testing.T) {
	fixture := newTestPipeline(respondPipeline, nil)

	sc, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	retrieved := make(map[string]struct{}, len(sc.RetrievedChunks))
	for _, chunk := range sc.RetrievedChunks {
		retrieved[chunk.ID] = struct{}{}
	}
	if len(sc.Citations) == 0 {
		t.Fatalf("expected citations for an answer restating the context")
	}
	for _, ref := range sc.Citations {
		if _, ok := retrieved[ref.ChunkID]; !ok {
			t.Fatalf("citation %s does not reference a retrieved chunk", ref.ChunkID)
		}
	}
}

func TestExecuteQueryDeadlineFinalizesPartial(t *testing.T) {
	stored := domain.DefaultPipelineConfig()
	stored.RequestTimeout = time.Nanosecond
	fixture := newTestPipeline(respondPipeline, &stored)

	sc, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("deadline expiry must finalize, not fail: %v", err)
	}
	if !sc.Partial || sc.State != domain.StateDone {
		t.Fatalf("expected partial done context, got state=%s partial=%v", sc.State, sc.Partial)
	}
	if sc.Answer != "" {
		t.Fatalf("partial run cut before generation must not carry an answer")
	}
	if len(sc.Errors) == 0 {
		t.Fatalf("expected the deadline to be recorded as a stage error")
	}
	if fixture.publisher.count() != 1 {
		t.Fatalf("partial runs must still publish completion, got %d events", fixture.publisher.count())
	}
}

func TestExecuteQueryCompletionEventCarriesOutcome(t *testing.T) {
	fixture := newTestPipeline(respondPipeline, nil)

	sc, err := fixture.executor.ExecuteQuery(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}

	fixture.publisher.mu.Lock()
	defer fixture.publisher.mu.Unlock()
	if len(fixture.publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(fixture.publisher.events))
	}
	event := fixture.publisher.events[0]
	if event.RequestID != sc.RequestID || event.State != domain.StateDone || event.Partial {
		t.Fatalf("unexpected completion event: %+v", event)
	}
	if event.AnswerChars != len(sc.Answer) {
		t.Fatalf("event answer length mismatch: %d vs %d", event.AnswerChars, len(sc.Answer))
	}
}
