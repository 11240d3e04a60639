package errors

import (
	stderrors "errors"
	"fmt"
)

// Collaborator names an external dependency of the retrieval pipeline.
type Collaborator string

const (
	CollaboratorEmbedder Collaborator = "embedder"
	CollaboratorDense    Collaborator = "dense_index"
	CollaboratorLexical  Collaborator = "lexical_index"
	CollaboratorReranker Collaborator = "reranker"
	CollaboratorLLM      Collaborator = "llm"
)

// Code returns the RAGError code associated with the collaborator.
func (c Collaborator) Code() string {
	switch c {
	case CollaboratorEmbedder:
		return ErrCodeEmbeddingFailed
	case CollaboratorDense:
		return ErrCodeDenseFailed
	case CollaboratorLexical:
		return ErrCodeLexicalFailed
	case CollaboratorReranker:
		return ErrCodeRerankFailed
	case CollaboratorLLM:
		return ErrCodeLLMFailed
	default:
		return ErrCodeInternal
	}
}

// CollaboratorFailure reports that a call into an external collaborator
// failed or timed out. The original error is kept unmodified in Err.
type CollaboratorFailure struct {
	Collaborator Collaborator
	// Op is the operation that failed (e.g., "embed", "query", "rerank").
	Op  string
	Err error
}

// NewCollaboratorFailure wraps err as a failure of the given collaborator.
// Returns nil when err is nil.
func NewCollaboratorFailure(c Collaborator, op string, err error) *CollaboratorFailure {
	if err == nil {
		return nil
	}
	return &CollaboratorFailure{Collaborator: c, Op: op, Err: err}
}

// Error implements the error interface.
func (f *CollaboratorFailure) Error() string {
	return fmt.Sprintf("%s %s failed: %v", f.Collaborator, f.Op, f.Err)
}

// Unwrap exposes the collaborator's own error.
func (f *CollaboratorFailure) Unwrap() error {
	return f.Err
}

// Is matches another CollaboratorFailure for the same collaborator.
// A target with an empty Collaborator matches any failure.
func (f *CollaboratorFailure) Is(target error) bool {
	t, ok := target.(*CollaboratorFailure)
	if !ok {
		return false
	}
	return t.Collaborator == "" || t.Collaborator == f.Collaborator
}

// Code returns the error code for the failed collaborator.
func (f *CollaboratorFailure) Code() string {
	return f.Collaborator.Code()
}

// AsCollaboratorFailure returns the first CollaboratorFailure in the chain.
func AsCollaboratorFailure(err error) (*CollaboratorFailure, bool) {
	var f *CollaboratorFailure
	if stderrors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsCollaboratorFailure reports whether err is or wraps a CollaboratorFailure.
func IsCollaboratorFailure(err error) bool {
	_, ok := AsCollaboratorFailure(err)
	return ok
}
