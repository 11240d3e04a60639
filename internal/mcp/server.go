package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/groundedrag/internal/answer"
	"github.com/Aman-CERP/groundedrag/internal/embed"
	"github.com/Aman-CERP/groundedrag/internal/retrieval"
	"github.com/Aman-CERP/groundedrag/internal/telemetry"
	"github.com/Aman-CERP/groundedrag/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "groundedrag"

// Retriever returns the chunk texts for a request.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]string, error)
}

// Asker retrieves and answers in one call.
type Asker interface {
	Ask(ctx context.Context, query, docID string, summaryLength int) (answer.Response, error)
}

// Counter reports an index size.
type Counter interface {
	Count() int
}

// Options holds the optional collaborators reported by the status tool.
type Options struct {
	Embedder embed.Embedder
	Dense    Counter
	Lexical  Counter
	Reranker string
	Activity *telemetry.Activity
	Logger   *slog.Logger
}

// Server exposes retrieval and answering to MCP clients.
type Server struct {
	mcp       *mcp.Server
	retriever Retriever
	asker     Asker
	opts      Options
	logger    *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        ToolRetrieve,
		Description: "Retrieve the document chunks most relevant to a question using hybrid dense and keyword search with reranking. Pass doc_id to stay inside one document.",
	},
	{
		Name:        ToolAnswer,
		Description: "Answer a question strictly from the indexed documents. Returns a refusal when the documents hold no relevant information.",
	},
	{
		Name:        ToolStatus,
		Description: "Report the active embedder, index sizes, reranker and recent query activity.",
	},
}

// NewServer creates a new MCP server. asker may be nil, in which case the
// answer tool is not registered.
func NewServer(r Retriever, asker Asker, opts Options) (*Server, error) {
	if r == nil {
		return nil, errors.New("retriever is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		retriever: r,
		asker:     asker,
		opts:      opts,
		logger:    opts.Logger,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)
	s.registerTools()
	if opts.Activity != nil {
		s.registerActivityResource()
	}
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		if t.Name == ToolAnswer && s.asker == nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// CallTool invokes a tool by name with JSON-decoded arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolRetrieve:
		query, ok := args["query"].(string)
		if !ok {
			return nil, NewInvalidParamsError("query must be a string")
		}
		docID, _ := args["doc_id"].(string)
		return s.retrieve(ctx, RetrieveInput{
			Query:      query,
			DocID:      docID,
			TopK:       intArg(args, "top_k"),
			RerankTopK: intArg(args, "rerank_top_k"),
		})
	case ToolAnswer:
		if s.asker == nil {
			return nil, NewMethodNotFoundError(name)
		}
		query, ok := args["query"].(string)
		if !ok {
			return nil, NewInvalidParamsError("query must be a string")
		}
		docID, _ := args["doc_id"].(string)
		return s.answer(ctx, AnswerInput{Query: query, DocID: docID, SummaryLength: intArg(args, "summary_length")})
	case ToolStatus:
		return s.status(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// intArg reads a JSON number argument. Missing or non-numeric values are 0.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (s *Server) retrieve(ctx context.Context, in RetrieveInput) (RetrieveOutput, error) {
	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("mcp_retrieve_started",
		slog.String("request_id", requestID),
		slog.String("doc_id", in.DocID),
		slog.Int("top_k", in.TopK))

	chunks, err := s.retriever.Retrieve(ctx, retrieval.Request{
		Query:      in.Query,
		DocID:      in.DocID,
		TopK:       in.TopK,
		RerankTopK: in.RerankTopK,
	})
	if err != nil {
		s.logger.Error("mcp_retrieve_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return RetrieveOutput{}, MapError(err)
	}

	s.logger.Info("mcp_retrieve_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(chunks)))
	return RetrieveOutput{Chunks: chunks}, nil
}

func (s *Server) answer(ctx context.Context, in AnswerInput) (AnswerOutput, error) {
	start := time.Now()
	requestID := generateRequestID()
	resp, err := s.asker.Ask(ctx, in.Query, in.DocID, in.SummaryLength)
	if err != nil {
		s.logger.Error("mcp_answer_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return AnswerOutput{}, MapError(err)
	}

	s.logger.Info("mcp_answer_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("refused", resp.Refused()))
	return AnswerOutput{Summary: resp.Summary, Refused: resp.Refused()}, nil
}

func (s *Server) status() *StatusOutput {
	out := &StatusOutput{
		Version:  version.Version,
		Reranker: s.opts.Reranker,
		Indexes:  IndexStats{DenseChunks: -1, LexicalChunks: -1},
	}
	if out.Reranker == "" {
		out.Reranker = "noop"
	}

	if e := s.opts.Embedder; e != nil {
		out.Embedder = EmbedderInfo{
			Model:      e.ModelName(),
			Dimensions: e.Dimensions(),
			IsFallback: e.ModelName() == embed.ProviderStatic,
		}
	} else {
		out.Embedder = EmbedderInfo{Model: "none", IsFallback: true}
	}

	if s.opts.Dense != nil {
		out.Indexes.DenseChunks = s.opts.Dense.Count()
	}
	if s.opts.Lexical != nil {
		out.Indexes.LexicalEnabled = true
		out.Indexes.LexicalChunks = s.opts.Lexical.Count()
	}

	if s.opts.Activity != nil {
		snap := s.opts.Activity.Snapshot()
		out.Activity = &ActivityInfo{
			TotalQueries: snap.TotalQueries,
			EmptyResults: snap.EmptyResults,
			Errors:       snap.Errors,
		}
	}
	return out
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolRetrieve, Description: tools[0].Description}, s.mcpRetrieveHandler)
	count := 1
	if s.asker != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolAnswer, Description: tools[1].Description}, s.mcpAnswerHandler)
		count++
	}
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolStatus, Description: tools[2].Description}, s.mcpStatusHandler)
	count++

	s.logger.Info("mcp_tools_registered", slog.Int("count", count))
}

func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, in RetrieveInput) (*mcp.CallToolResult, RetrieveOutput, error) {
	out, err := s.retrieve(ctx, in)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) mcpAnswerHandler(ctx context.Context, _ *mcp.CallToolRequest, in AnswerInput) (*mcp.CallToolResult, AnswerOutput, error) {
	out, err := s.answer(ctx, in)
	if err != nil {
		return nil, AnswerOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) mcpStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusOutput, error) {
	return nil, s.status(), nil
}

// Serve runs the server on transport until ctx is cancelled. Only stdio
// is supported; HTTP is served by the api package.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
