package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
)

// Server exposes the query pipeline as an MCP tool over stdio so agent hosts
// can call it without going through HTTP.
type Server struct {
	pipeline ports.QueryPipeline
	logger   *slog.Logger
	mcp      *server.MCPServer
}

func NewServer(pipeline ports.QueryPipeline, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "0.0.0-dev"
	}

	s := &Server{
		pipeline: pipeline,
		logger:   logger,
		mcp: server.NewMCPServer(
			"rag-query-engine",
			version,
			server.WithToolCapabilities(false),
		),
	}

	tool := mcp.NewTool("rag_query",
		mcp.WithDescription("Answer a question against a document collection using the full RAG pipeline: retrieval, optional reranking and chain-of-thought reasoning, and cited generation."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer."),
		),
		mcp.WithString("collection_id",
			mcp.Required(),
			mcp.Description("Collection to search."),
		),
		mcp.WithString("user_id",
			mcp.Description("Caller identity used for per-user pipeline configuration. Defaults to 'mcp'."),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Override the number of chunks to retrieve."),
		),
		mcp.WithBoolean("enable_chain_of_thought",
			mcp.Description("Override chain-of-thought reasoning for this call."),
		),
	)
	s.mcp.AddTool(tool, s.handleRAGQuery)
	return s
}

// ServeStdio blocks until the host closes the transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// toolAnswer is the JSON payload returned to the MCP host. Chunk text stays
// out: hosts get citations and fetch sources through their own channels.
type toolAnswer struct {
	RequestID      string                  `json:"request_id"`
	Answer         string                  `json:"answer"`
	Citations      []domain.ChunkReference `json:"citations"`
	Partial        bool                    `json:"partial"`
	ReasoningSteps int                     `json:"reasoning_steps,omitempty"`
	StageErrors    []domain.StageError     `json:"stage_errors,omitempty"`
}

func (s *Server) handleRAGQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	collectionID, err := request.RequireString("collection_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID := request.GetString("user_id", "mcp")

	var override *domain.ConfigOverride
	args := request.GetArguments()
	if _, ok := args["top_k"]; ok {
		topK := request.GetInt("top_k", 0)
		if topK > 0 {
			override = ensureOverride(override)
			override.TopK = &topK
		}
	}
	if _, ok := args["enable_chain_of_thought"]; ok {
		enabled := request.GetBool("enable_chain_of_thought", false)
		override = ensureOverride(override)
		override.EnableChainOfThought = &enabled
	}

	sc, err := s.pipeline.ExecuteQuery(ctx, domain.QueryRequest{
		Question:     question,
		CollectionID: collectionID,
		UserID:       userID,
		Override:     override,
	})
	if err != nil {
		s.logger.Warn("mcp_rag_query_failed", "collection_id", collectionID, "error", err)
		msg := fmt.Sprintf("query failed: %v", err)
		if sc != nil {
			msg = fmt.Sprintf("query failed in state %s: %v", sc.State, err)
		}
		return mcp.NewToolResultError(msg), nil
	}

	payload, err := json.Marshal(toolAnswer{
		RequestID:      sc.RequestID,
		Answer:         sc.Answer,
		Citations:      sc.Citations,
		Partial:        sc.Partial,
		ReasoningSteps: len(sc.ReasoningTrace),
		StageErrors:    sc.Errors,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode answer: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func ensureOverride(o *domain.ConfigOverride) *domain.ConfigOverride {
	if o == nil {
		return &domain.ConfigOverride{}
	}
	return o
}
