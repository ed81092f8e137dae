// Package sse carries AG-UI runs over HTTP server-sent events. Handler serves
// runs: it accepts a JSON RunAgentInput and streams the events of the run as
// SSE frames whose event name is the AG-UI event type and whose data is the
// JSON event. Client is the matching runtime.Transport.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"golang.org/x/time/rate"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/agui"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/server"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/stream"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/telemetry"
)

// DefaultMaxBodyBytes bounds the size of run requests.
const DefaultMaxBodyBytes = 4 << 20

const limiterIdleTTL = 10 * time.Minute

type (
	// JournalFunc returns the journal sink of a thread. The handler closes the
	// sink when the run ends.
	JournalFunc func(ctx context.Context, threadID string) (stream.Sink, error)

	// Handler serves AG-UI runs over SSE.
	Handler struct {
		svc      *server.Service
		logger   telemetry.Logger
		journal  JournalFunc
		maxBody  int64
		limiters *threadLimiters
	}

	// HandlerOption configures a Handler.
	HandlerOption func(*Handler)

	threadLimiters struct {
		limit rate.Limit
		burst int

		mu      sync.Mutex
		entries map[string]*limiterEntry
		pruned  time.Time
		now     func() time.Time
	}

	limiterEntry struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	// responseSink writes events to an SSE response. The status line and
	// headers are written with the first event.
	responseSink struct {
		mu      sync.Mutex
		w       http.ResponseWriter
		rc      *http.ResponseController
		started bool
		closed  bool
	}
)

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithJournal copies the events of every run to the sink returned by j.
func WithJournal(j JournalFunc) HandlerOption {
	return func(h *Handler) { h.journal = j }
}

// WithRateLimit limits the number of runs started per thread. Requests over
// the limit get 429.
func WithRateLimit(limit rate.Limit, burst int) HandlerOption {
	return func(h *Handler) {
		h.limiters = &threadLimiters{
			limit:   limit,
			burst:   burst,
			entries: make(map[string]*limiterEntry),
			now:     time.Now,
		}
	}
}

// WithMaxBodyBytes bounds the size of run requests.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) { h.maxBody = n }
}

// NewHandler returns a handler streaming the runs of svc.
func NewHandler(svc *server.Service, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc, maxBody: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(h)
	}
	if h.logger == nil {
		h.logger = telemetry.NewNoopLogger()
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	var input agui.RunAgentInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(&input); err != nil {
		http.Error(w, fmt.Sprintf("decode run input: %v", err), http.StatusBadRequest)
		return
	}
	if err := input.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.limiters != nil {
		if ok, retry := h.limiters.allow(input.ThreadID); !ok {
			h.logger.Warn(ctx, "run rate limited", "thread_id", input.ThreadID)
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)+1))
			http.Error(w, "too many runs for thread", http.StatusTooManyRequests)
			return
		}
	}

	resp := &responseSink{w: w, rc: http.NewResponseController(w)}
	var journal stream.Sink
	if h.journal != nil {
		j, err := h.journal(ctx, input.ThreadID)
		if err != nil {
			h.logger.Error(ctx, "open journal", "thread_id", input.ThreadID, "err", err)
			http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
			return
		}
		journal = j
	}
	sink := stream.NewFanout(resp, journal)
	defer func() {
		if err := sink.Close(context.WithoutCancel(ctx)); err != nil {
			h.logger.Warn(ctx, "close run sinks", "thread_id", input.ThreadID, "err", err)
		}
	}()

	err := h.svc.Stream(ctx, input, sink)
	switch {
	case err == nil:
	case !resp.wasStarted() && errors.Is(err, agui.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case !resp.wasStarted():
		h.logger.Error(ctx, "run failed", "thread_id", input.ThreadID, "run_id", input.RunID, "err", err)
		http.Error(w, "run failed", http.StatusInternalServerError)
	case errors.Is(err, context.Canceled):
		h.logger.Debug(ctx, "client disconnected", "thread_id", input.ThreadID, "run_id", input.RunID)
	default:
		h.logger.Warn(ctx, "run stream interrupted", "thread_id", input.ThreadID, "run_id", input.RunID, "err", err)
	}
}

func (s *responseSink) Send(_ context.Context, evt agui.Event) error {
	frame, err := agui.Encode(evt)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stream.ErrClosed
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", sse.ContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := sse.Encode(s.w, sse.Event{Event: string(evt.Type()), Data: frame}); err != nil {
		return fmt.Errorf("write %s frame: %w", evt.Type(), err)
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush %s frame: %w", evt.Type(), err)
	}
	return nil
}

func (s *responseSink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *responseSink) wasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// allow reports whether a run may start on thread and, when it may not, how
// long until it may.
func (l *threadLimiters) allow(thread string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.pruned) > limiterIdleTTL {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.entries, k)
			}
		}
		l.pruned = now
	}
	e, ok := l.entries[thread]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[thread] = e
	}
	e.lastSeen = now
	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}
