// Package answer turns retrieved chunks into a grounded answer. It never
// answers from outside the chunks: when there is no usable evidence, or
// the model finds none, it returns RefusalMessage.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ragerrors "github.com/Aman-CERP/groundedrag/internal/errors"
	"github.com/Aman-CERP/groundedrag/internal/intent"
	"github.com/Aman-CERP/groundedrag/internal/telemetry"
)

// RefusalMessage is returned whenever the evidence does not answer the question.
const RefusalMessage = "No relevant information found in the provided documents."

// DefaultSummaryLength is the word limit used when a request sets none.
const DefaultSummaryLength = 200

// ErrNilDependency is returned when a required collaborator is nil.
var ErrNilDependency = errors.New("nil dependency")

// LLM generates a completion for a single prompt.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Request is the answering-stage input.
type Request struct {
	Query           string  `json:"query"`
	RetrievedChunks []Chunk `json:"retrieved_chunks"`
	SummaryLength   int     `json:"summary_length,omitempty"`
}

// Response is the answering-stage output.
type Response struct {
	Summary string `json:"summary"`
}

// Refused reports whether the response is the refusal literal.
func (r Response) Refused() bool {
	return r.Summary == RefusalMessage
}

func refusal() Response {
	return Response{Summary: RefusalMessage}
}

// Answerer builds the grounded prompt and calls the LLM.
type Answerer struct {
	llm           LLM
	classifier    intent.Classifier
	summaryLength int
	timeout       time.Duration
	metrics       *telemetry.Metrics
	logger        *slog.Logger
}

// Option configures an Answerer.
type Option func(*Answerer)

// WithSummaryLength sets the default word limit.
func WithSummaryLength(n int) Option {
	return func(a *Answerer) {
		if n > 0 {
			a.summaryLength = n
		}
	}
}

// WithTimeout bounds each LLM call. Zero means no extra deadline.
func WithTimeout(d time.Duration) Option {
	return func(a *Answerer) {
		a.timeout = d
	}
}

// WithMetrics counts answer outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Answerer) {
		a.metrics = m
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Answerer) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAnswerer creates an Answerer. A nil classifier uses the keyword rules.
func NewAnswerer(llm LLM, classifier intent.Classifier, opts ...Option) (*Answerer, error) {
	if llm == nil {
		return nil, fmt.Errorf("%w: llm is required", ErrNilDependency)
	}
	if classifier == nil {
		classifier = intent.KeywordClassifier{}
	}
	a := &Answerer{
		llm:           llm,
		classifier:    classifier,
		summaryLength: DefaultSummaryLength,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Answer answers req.Query from req.RetrievedChunks only. Blank or missing
// evidence is refused without calling the LLM. LLM errors are returned as
// *errors.CollaboratorFailure.
func (a *Answerer) Answer(ctx context.Context, req Request) (resp Response, err error) {
	if req.SummaryLength < 0 {
		return Response{}, ragerrors.ValidationError(
			fmt.Sprintf("summary_length must be positive, got %d", req.SummaryLength), nil)
	}
	length := req.SummaryLength
	if length == 0 {
		length = a.summaryLength
	}

	defer func() { a.record(resp, err) }()

	evidence := cleanChunks(req.RetrievedChunks)
	if len(evidence) == 0 {
		a.logger.Debug("answer_refused", slog.String("reason", "no evidence"))
		return refusal(), nil
	}

	in := a.classifier.Classify(ctx, req.Query)
	prompt := BuildPrompt(req.Query, strings.Join(evidence, "\n\n"), in.Instruction(), length)

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	ctx, span := telemetry.StartSpan(callCtx, "llm.generate")
	out, err := a.llm.Generate(ctx, prompt)
	telemetry.EndSpan(span, err)
	if err != nil {
		a.metrics.IncCollaboratorFailure(string(ragerrors.CollaboratorLLM))
		a.logger.Warn("collaborator_failed",
			slog.String("collaborator", string(ragerrors.CollaboratorLLM)),
			slog.String("error", err.Error()))
		return Response{}, ragerrors.NewCollaboratorFailure(ragerrors.CollaboratorLLM, "generate", err)
	}

	summary := strings.TrimSpace(out)
	if summary == "" || strings.Contains(strings.ToLower(summary), "no relevant information") {
		return refusal(), nil
	}

	a.logger.Debug("answer_generated",
		slog.String("intent", in.String()),
		slog.Int("chunks", len(evidence)),
		slog.Int("summary_length", length))
	return Response{Summary: summary}, nil
}

func (a *Answerer) record(resp Response, err error) {
	switch {
	case err != nil:
		a.metrics.IncAnswer(telemetry.OutcomeError)
	case resp.Refused():
		a.metrics.IncAnswer(telemetry.OutcomeRefused)
	default:
		a.metrics.IncAnswer(telemetry.OutcomeAnswered)
	}
}

// cleanChunks trims every chunk and drops the blank ones.
func cleanChunks(chunks []Chunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}
