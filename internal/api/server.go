// Package api serves retrieval and answering over HTTP with echo.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/time/rate"

	"github.com/Aman-CERP/groundedrag/internal/answer"
	"github.com/Aman-CERP/groundedrag/internal/retrieval"
)

// DefaultBodyLimit caps request bodies.
const DefaultBodyLimit = "2M"

// ShutdownTimeout bounds graceful shutdown in Serve.
const ShutdownTimeout = 10 * time.Second

// Retriever returns the chunk texts for a request.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]string, error)
}

// Answerer answers from caller-supplied chunks.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (answer.Response, error)
}

// Asker retrieves and answers in one call.
type Asker interface {
	Ask(ctx context.Context, query, docID string, summaryLength int) (answer.Response, error)
}

// Server is the HTTP surface.
type Server struct {
	echo      *echo.Echo
	retriever Retriever
	answerer  Answerer
	asker     Asker
	gatherer  prometheus.Gatherer
	rateLimit float64
	bodyLimit string
	tracing   bool
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAnswerer enables POST /v1/answer.
func WithAnswerer(a Answerer) Option {
	return func(s *Server) { s.answerer = a }
}

// WithAsker enables POST /v1/ask.
func WithAsker(a Asker) Option {
	return func(s *Server) { s.asker = a }
}

// WithGatherer serves g on GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithRateLimit limits each client IP to rps requests per second.
// Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(s *Server) { s.rateLimit = rps }
}

// WithTracing adds OpenTelemetry server spans to every request.
func WithTracing() Option {
	return func(s *Server) { s.tracing = true }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds the server and its routes.
func New(r Retriever, opts ...Option) (*Server, error) {
	if r == nil {
		return nil, errors.New("retriever is required")
	}
	s := &Server{
		retriever: r,
		bodyLimit: DefaultBodyLimit,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	if s.tracing {
		e.Use(otelecho.Middleware("groundedrag"))
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/healthz"
		},
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				s.logger.Warn("http_request_completed", append(attrs, "error", v.Error.Error())...)
				return nil
			}
			s.logger.Info("http_request_completed", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(s.bodyLimit))
	if s.rateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool {
				return c.Request().URL.Path == "/healthz"
			},
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:  rate.Limit(s.rateLimit),
				Burst: max(1, int(math.Ceil(s.rateLimit))),
			}),
		}))
	}

	e.GET("/healthz", s.handleHealth)
	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	v1 := e.Group("/v1")
	v1.POST("/retrieve", s.handleRetrieve)
	if s.answerer != nil {
		v1.POST("/answer", s.handleAnswer)
	}
	if s.asker != nil {
		v1.POST("/ask", s.handleAsk)
	}

	s.echo = e
	return s, nil
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_server_starting", slog.String("addr", addr))
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		s.logger.Info("http_server_stopped")
		return nil
	}
}
