package mcp

// Tool names.
const (
	ToolRetrieve = "retrieve"
	ToolAnswer   = "answer"
	ToolStatus   = "status"
)

// RetrieveInput defines the input schema for the retrieve tool.
type RetrieveInput struct {
	Query      string `json:"query" jsonschema:"the question to retrieve evidence for"`
	DocID      string `json:"doc_id,omitempty" jsonschema:"restrict dense retrieval to one document"`
	TopK       int    `json:"top_k,omitempty" jsonschema:"candidate budget, default 10"`
	RerankTopK int    `json:"rerank_top_k,omitempty" jsonschema:"number of chunks returned after reranking, default 5"`
}

// RetrieveOutput defines the output schema for the retrieve tool.
type RetrieveOutput struct {
	Chunks []string `json:"chunks" jsonschema:"retrieved chunk texts, most relevant first"`
}

// AnswerInput defines the input schema for the answer tool.
type AnswerInput struct {
	Query         string `json:"query" jsonschema:"the question to answer"`
	DocID         string `json:"doc_id,omitempty" jsonschema:"restrict dense retrieval to one document"`
	SummaryLength int    `json:"summary_length,omitempty" jsonschema:"maximum answer length in words, default 200"`
}

// AnswerOutput defines the output schema for the answer tool.
type AnswerOutput struct {
	Summary string `json:"summary" jsonschema:"answer grounded in the retrieved chunks"`
	Refused bool   `json:"refused" jsonschema:"true when the documents held no relevant information"`
}

// StatusInput defines the input schema for the status tool (no parameters).
type StatusInput struct{}

// StatusOutput defines the output schema for the status tool.
type StatusOutput struct {
	Version  string        `json:"version"`
	Embedder EmbedderInfo  `json:"embedder"`
	Indexes  IndexStats    `json:"indexes"`
	Reranker string        `json:"reranker"`
	Activity *ActivityInfo `json:"activity,omitempty"`
}

// EmbedderInfo describes the active embedder.
type EmbedderInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	// IsFallback is true for the static hashing embedder.
	IsFallback bool `json:"is_fallback"`
}

// IndexStats contains chunk counts for the local indexes. A count of -1
// means the index is remote or not counted.
type IndexStats struct {
	DenseChunks    int  `json:"dense_chunks"`
	LexicalEnabled bool `json:"lexical_enabled"`
	LexicalChunks  int  `json:"lexical_chunks"`
}

// ActivityInfo summarizes recent retrieval calls.
type ActivityInfo struct {
	TotalQueries int64 `json:"total_queries"`
	EmptyResults int64 `json:"empty_results"`
	Errors       int64 `json:"errors"`
}
