package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Aman-CERP/groundedrag/internal/answer"
	"github.com/Aman-CERP/groundedrag/internal/retrieval"
	"github.com/Aman-CERP/groundedrag/pkg/version"
)

// RetrieveRequest is the body of POST /v1/retrieve.
type RetrieveRequest struct {
	Query      string `json:"query"`
	DocID      string `json:"doc_id,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
	RerankTopK int    `json:"rerank_top_k,omitempty"`
}

// RetrieveResponse is the body returned by POST /v1/retrieve.
type RetrieveResponse struct {
	Chunks []string `json:"chunks"`
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Query         string `json:"query"`
	DocID         string `json:"doc_id,omitempty"`
	SummaryLength int    `json:"summary_length,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	chunks, err := s.retriever.Retrieve(c.Request().Context(), retrieval.Request{
		Query:      req.Query,
		DocID:      req.DocID,
		TopK:       req.TopK,
		RerankTopK: req.RerankTopK,
	})
	if err != nil {
		return err
	}
	if chunks == nil {
		chunks = []string{}
	}
	return c.JSON(http.StatusOK, RetrieveResponse{Chunks: chunks})
}

// handleAnswer follows the answering-stage wire contract:
// {query, retrieved_chunks, summary_length} -> {summary}.
func (s *Server) handleAnswer(c echo.Context) error {
	var req answer.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	resp, err := s.answerer.Answer(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	resp, err := s.asker.Ask(c.Request().Context(), req.Query, req.DocID, req.SummaryLength)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
