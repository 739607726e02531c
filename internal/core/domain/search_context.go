package domain

import "time"

// Stage identifies one step of the query pipeline.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageEnhance   Stage = "enhance"
	StageRetrieve  Stage = "retrieve"
	StageRerank    Stage = "rerank"
	StageReason    Stage = "reason"
	StageGenerate  Stage = "generate"
	StageFinalized Stage = "finalized"
)

// PipelineState is the executor's state machine position. Transitions are
// strictly forward; Failed and Done are terminal.
type PipelineState string

const (
	StateResolving  PipelineState = "resolving"
	StateEnhancing  PipelineState = "enhancing"
	StateRetrieving PipelineState = "retrieving"
	StateReranking  PipelineState = "reranking"
	StateReasoning  PipelineState = "reasoning"
	StateGenerating PipelineState = "generating"
	StateDone       PipelineState = "done"
	StateFailed     PipelineState = "failed"
)

type SearchFilter struct {
	CollectionID string `json:"collection_id"`
}

// Chunk is a unit of retrievable text with its similarity score. The
// embedding is opaque to the pipeline once retrieved.
type Chunk struct {
	ID               string            `json:"id"`
	Text             string            `json:"text"`
	Embedding        []float32         `json:"-"`
	SourceDocumentID string            `json:"source_document_id"`
	Score            float64           `json:"score"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// ChunkReference attributes part of an answer to a retrieved chunk.
type ChunkReference struct {
	ChunkID          string `json:"chunk_id"`
	SourceDocumentID string `json:"source_document_id"`
}

// ReasoningStep is one node of the chain-of-thought tree. The trace is
// append-only once a node completes.
type ReasoningStep struct {
	SubQuestion        string   `json:"sub_question"`
	SubAnswer          string   `json:"sub_answer"`
	SupportingChunkIDs []string `json:"supporting_chunk_ids,omitempty"`
	Depth              int      `json:"depth"`
	Confidence         float64  `json:"confidence"`
}

// StageError records a non-fatal (or, for the failing stage, fatal) error.
type StageError struct {
	Stage   Stage  `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// QueryRequest is the inbound shape accepted by the pipeline.
type QueryRequest struct {
	Question     string          `json:"question"`
	CollectionID string          `json:"collection_id"`
	UserID       string          `json:"user_id"`
	Override     *ConfigOverride `json:"override,omitempty"`
}

// SearchContext is created once per query, owned exclusively by the executor
// for the duration of the call, and returned to the caller when finished.
type SearchContext struct {
	RequestID        string         `json:"request_id"`
	Question         string         `json:"question"`
	OriginalQuestion string         `json:"original_question"`
	CollectionID     string         `json:"collection_id"`
	UserID           string         `json:"user_id"`
	PipelineConfig   PipelineConfig `json:"pipeline_config"`

	RetrievedChunks []Chunk         `json:"retrieved_chunks"`
	ReasoningTrace  []ReasoningStep `json:"reasoning_trace,omitempty"`

	Answer    string           `json:"answer"`
	Citations []ChunkReference `json:"citations"`

	StageTimings map[Stage]time.Duration `json:"stage_timings"`
	State        PipelineState           `json:"state"`
	Partial      bool                    `json:"partial"`
	Errors       []StageError            `json:"errors"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewSearchContext initializes the per-request context in its starting state.
func NewSearchContext(requestID string, req QueryRequest) *SearchContext {
	return &SearchContext{
		RequestID:        requestID,
		Question:         req.Question,
		OriginalQuestion: req.Question,
		CollectionID:     req.CollectionID,
		UserID:           req.UserID,
		StageTimings:     make(map[Stage]time.Duration, 6),
		State:            StateResolving,
		StartedAt:        time.Now().UTC(),
	}
}

// CurrentStage maps the executor state to the stage it was working on.
func (sc *SearchContext) CurrentStage() Stage {
	switch sc.State {
	case StateResolving:
		return StageResolve
	case StateEnhancing:
		return StageEnhance
	case StateRetrieving:
		return StageRetrieve
	case StateReranking:
		return StageRerank
	case StateReasoning:
		return StageReason
	case StateGenerating:
		return StageGenerate
	default:
		return StageFinalized
	}
}

// RecordError appends a stage error without interrupting the pipeline.
func (sc *SearchContext) RecordError(stage Stage, kind error, err error) {
	if err == nil {
		return
	}
	kindMsg := ""
	if kind != nil {
		kindMsg = kind.Error()
	}
	sc.Errors = append(sc.Errors, StageError{
		Stage:   stage,
		Kind:    kindMsg,
		Message: err.Error(),
	})
}

// QueryCompletedEvent is published after a pipeline run finishes, successful
// or not, so the conversation service can persist history.
type QueryCompletedEvent struct {
	RequestID    string        `json:"request_id"`
	UserID       string        `json:"user_id"`
	CollectionID string        `json:"collection_id"`
	Question     string        `json:"question"`
	AnswerChars  int           `json:"answer_chars"`
	Partial      bool          `json:"partial"`
	State        PipelineState `json:"state"`
	Duration     time.Duration `json:"duration"`
	FinishedAt   time.Time     `json:"finished_at"`
}
