// Package intake is the HTTP surface of the ledger. It authenticates the
// caller, deduplicates retries and turns requests into sequencer commands.
package intake

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"escrow_go/internal/domain"
	"escrow_go/internal/engine"
	"escrow_go/internal/event"
	"escrow_go/internal/infra"
	"escrow_go/internal/infra/idempotency"
	"escrow_go/internal/service"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CallerHeader carries the identity asserted by the upstream identity provider.
	CallerHeader = "X-Caller-Identity"
	// IdempotencyHeader deduplicates client retries of a mutating request.
	IdempotencyHeader = "Idempotency-Key"

	defaultSubmitTimeout = 5 * time.Second
	maxBodyBytes         = 1 << 16

	// The client went away before the outcome was known (nginx convention).
	statusClientClosedRequest = 499
)

var errDuplicateRequest = errors.New("duplicate request: idempotency key already used")

// Engine is the part of the sequencer the intake drives.
type Engine interface {
	Submit(ctx context.Context, ev event.Event) (engine.Receipt, error)
	GetListing(itemID string) (domain.Listing, error)
	GetOrder(itemID, caller string) (domain.Order, error)
	History(itemID, caller string) []domain.Order
	Balance(owner string) int64
}

// Catalog is the listing read model.
type Catalog interface {
	GetAll() []service.CatalogEntry
}

// Options wires the optional collaborators of a Server.
type Options struct {
	Catalog       Catalog
	Guard         idempotency.Guard // nil: no deduplication
	Feed          http.Handler      // Served at /v1/feed when set
	Metrics       *infra.Metrics
	SubmitTimeout time.Duration
	Tracer        trace.TracerProvider // nil: the global provider
}

// Server routes HTTP requests to the sequencer.
type Server struct {
	eng     Engine
	opts    Options
	tracer  trace.Tracer
	log     *slog.Logger
	handler http.Handler
}

// NewServer builds the router.
func NewServer(eng Engine, opts Options) *Server {
	if opts.Guard == nil {
		opts.Guard = idempotency.NopGuard{}
	}
	if opts.Metrics == nil {
		opts.Metrics = &infra.Metrics{}
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.GetTracerProvider()
	}

	s := &Server{
		eng:    eng,
		opts:   opts,
		tracer: opts.Tracer.Tracer("escrow_go/intake"),
		log:    slog.Default().With(slog.String("module", "intake")),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.traceMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	if s.opts.Feed != nil {
		r.Handle("/v1/feed", s.opts.Feed).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/items", s.handleCatalog).Methods(http.MethodGet)
	api.HandleFunc("/items/{item}", s.handleGetListing).Methods(http.MethodGet)
	api.Handle("/items/{item}/offer", s.withCaller(s.handleOffer)).Methods(http.MethodPost)
	api.Handle("/items/{item}/order", s.withCaller(s.handleOrder)).Methods(http.MethodPost)
	api.Handle("/items/{item}/complete", s.withCaller(s.handleComplete)).Methods(http.MethodPost)
	api.Handle("/items/{item}/complain", s.withCaller(s.handleComplain)).Methods(http.MethodPost)
	api.Handle("/items/{item}/order", s.withCaller(s.handleGetOrder)).Methods(http.MethodGet)
	api.Handle("/items/{item}/history", s.withCaller(s.handleHistory)).Methods(http.MethodGet)
	api.Handle("/accounts/me", s.withCaller(s.handleAccount)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	return r
}

// traceMiddleware opens one span per matched route.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				name = tpl
			}
		}

		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		if item := mux.Vars(r)["item"]; item != "" {
			span.SetAttributes(attribute.String("escrow.item_id", item))
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
			s.opts.Metrics.RecordError()
		}
	})
}

type callerHandler func(w http.ResponseWriter, r *http.Request, caller string)

// withCaller rejects requests without an asserted identity.
func (s *Server) withCaller(h callerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get(CallerHeader)
		if caller == "" {
			writeError(w, http.StatusUnauthorized, domain.ErrUnknownCaller.Error())
			return
		}
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("escrow.caller", caller))
		h(w, r, caller)
	})
}

// submit runs a command through the idempotency guard and the sequencer.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, caller string, ev event.Event) {
	ctx, span := s.tracer.Start(r.Context(), "sequencer.submit",
		trace.WithAttributes(attribute.String("escrow.tx_kind", ev.GetType().String())))
	defer span.End()

	key := r.Header.Get(IdempotencyHeader)
	if key != "" {
		key = caller + ":" + key
		ok, err := s.opts.Guard.Claim(ctx, key)
		if err != nil {
			span.RecordError(err)
			s.log.Warn("Idempotency claim failed", slog.Any("error", err))
			writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
			return
		}
		if !ok {
			writeError(w, http.StatusConflict, errDuplicateRequest.Error())
			return
		}
	}

	subCtx, cancel := context.WithTimeout(ctx, s.opts.SubmitTimeout)
	defer cancel()

	receipt, err := s.eng.Submit(subCtx, ev)
	if err != nil {
		span.RecordError(err)
		// After a timeout on a queued command it may still be applied, so the
		// key stays claimed.
		if key != "" && releasable(err) {
			if relErr := s.opts.Guard.Release(context.WithoutCancel(ctx), key); relErr != nil {
				s.log.Warn("Idempotency release failed", slog.Any("error", relErr))
			}
		}
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("Submit failed", slog.String("kind", ev.GetType().String()), slog.Any("error", err))
		}
		writeError(w, status, err.Error())
		return
	}

	span.SetAttributes(attribute.Int64("escrow.seq", int64(receipt.Seq)))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"seq":     receipt.Seq,
		"tx_id":   receipt.TxID,
	})
}

// releasable reports whether err proves the command left no trace: a ledger
// rejection, or a command the sequencer never ran.
func releasable(err error) bool {
	if errors.Is(err, engine.ErrNotAccepted) {
		return true
	}
	return !errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, engine.ErrStopped) &&
		!errors.Is(err, engine.ErrHalted)
}

// statusFor maps ledger and infra errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownCaller):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrOrderAlreadyPending),
		errors.Is(err, domain.ErrOrderNotEligibleForCompletion),
		errors.Is(err, domain.ErrOrderNotEligibleForComplaint),
		errors.Is(err, domain.ErrInsufficientAvailableAmount):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidListingParameters),
		errors.Is(err, domain.ErrInvalidOrderAmount),
		errors.Is(err, domain.ErrIncorrectPaymentValue),
		errors.Is(err, domain.ErrEmptyItemID),
		errors.Is(err, domain.ErrValueOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, engine.ErrStopped),
		errors.Is(err, engine.ErrHalted),
		errors.Is(err, context.DeadlineExceeded),
		domain.IsRetriable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer for the websocket feed.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
