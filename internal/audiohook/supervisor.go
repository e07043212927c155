package audiohook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"audiohook-server/internal/platform/logger"
	"audiohook-server/internal/platform/metrics"

	"github.com/gorilla/websocket"
)

// Connection headers set by the client on the upgrade request.
const (
	HeaderSessionID      = "Audiohook-Session-Id"
	HeaderOrganizationID = "Audiohook-Organization-Id"
	HeaderCorrelationID  = "Audiohook-Correlation-Id"
)

// DefaultWriteTimeout bounds a single outbound write.
const DefaultWriteTimeout = 5 * time.Second

// ErrDraining is returned by Serve once Shutdown has started.
var ErrDraining = errors.New("supervisor is shutting down")

// Transport is the subset of *websocket.Conn the supervisor uses.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Headers are the session headers of an accepted connection.
type Headers struct {
	SessionID      string
	OrganizationID string
	CorrelationID  string
}

// HeadersFrom reads the session headers from an upgrade request.
func HeadersFrom(h http.Header) Headers {
	return Headers{
		SessionID:      h.Get(HeaderSessionID),
		OrganizationID: h.Get(HeaderOrganizationID),
		CorrelationID:  h.Get(HeaderCorrelationID),
	}
}

// connWriter serializes writes to one transport; websocket connections allow
// a single concurrent writer.
type connWriter struct {
	mu      sync.Mutex
	t       Transport
	timeout time.Duration
	closed  bool
}

// WriteText implements MessageWriter.
func (w *connWriter) WriteText(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return websocket.ErrCloseSent
	}
	if w.timeout > 0 {
		_ = w.t.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	return w.t.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame and closes the transport. Later calls do nothing.
func (w *connWriter) close(code int, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	timeout := w.timeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	_ = w.t.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(timeout))
	_ = w.t.Close()
}

// SupervisorConfig tunes per-connection behaviour.
type SupervisorConfig struct {
	DefaultFormat string
	WriteTimeout  time.Duration
}

// Supervisor owns the live session registry and runs one engine per connection.
type Supervisor struct {
	registry  Registry
	capture   CaptureOpener
	finalizer *Finalizer
	cfg       SupervisorConfig
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	conns    map[*connWriter]struct{}
	draining bool
	wg       sync.WaitGroup
}

// NewSupervisor returns a Supervisor. log and m may be nil.
func NewSupervisor(registry Registry, capture CaptureOpener, finalizer *Finalizer, cfg SupervisorConfig, log *slog.Logger, m *metrics.Metrics) *Supervisor {
	if registry == nil {
		registry = NewInMemoryRegistry()
	}
	if log == nil {
		log = logger.Discard()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Supervisor{
		registry:  registry,
		capture:   capture,
		finalizer: finalizer,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		conns:     make(map[*connWriter]struct{}),
	}
}

// Registry returns the live session registry.
func (s *Supervisor) Registry() Registry {
	return s.registry
}

// Draining reports whether Shutdown has started.
func (s *Supervisor) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// Serve runs the read loop for one accepted connection until the transport
// closes or the session reaches a terminal state. Frames are applied in
// arrival order. The transport is always closed on return.
func (s *Supervisor) Serve(t Transport, hdr Headers) error {
	w := &connWriter{t: t, timeout: s.cfg.WriteTimeout}
	if !s.track(w) {
		w.close(websocket.CloseGoingAway, "server shutting down")
		return ErrDraining
	}
	defer s.untrack(w)

	sess := NewSession(SessionID(hdr.SessionID), hdr.OrganizationID, hdr.CorrelationID, time.Now())
	log := s.log.With(
		slog.String("session_id", hdr.SessionID),
		slog.String("correlation_id", hdr.CorrelationID))
	eng := NewEngine(EngineDeps{
		Session:       sess,
		Writer:        w,
		Capture:       s.capture,
		Finalizer:     s.finalizer,
		Registry:      s.registry,
		Log:           log,
		Metrics:       s.metrics,
		DefaultFormat: s.cfg.DefaultFormat,
	})
	defer func() {
		s.registry.Remove(sess.ID(), sess)
		s.metrics.SetActiveSessions(s.registry.Count())
	}()

	log.Debug("connection accepted")
	for {
		mt, data, err := t.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("transport closed", slog.String("error", err.Error()))
			} else {
				log.Info("transport read ended", slog.String("error", err.Error()))
			}
			eng.Disconnect()
			w.close(websocket.CloseNormalClosure, "")
			return nil
		}

		switch mt {
		case websocket.TextMessage:
			eng.HandleFrame(data, false)
		case websocket.BinaryMessage:
			eng.HandleFrame(data, true)
		default:
			continue
		}
		s.metrics.SetActiveSessions(s.registry.Count())

		if eng.Done() {
			log.Debug("session finished, closing transport", slog.String("state", string(eng.State())))
			w.close(websocket.CloseNormalClosure, "")
			return nil
		}
	}
}

// Shutdown stops accepting connections, closes every live transport and waits
// for their abnormal finalize to complete or ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	conns := make([]*connWriter, 0, len(s.conns))
	for w := range s.conns {
		conns = append(conns, w)
	}
	s.mu.Unlock()

	s.log.Info("draining sessions", slog.Int("connections", len(conns)))
	for _, w := range conns {
		w.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) track(w *connWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.conns[w] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Supervisor) untrack(w *connWriter) {
	s.mu.Lock()
	delete(s.conns, w)
	s.mu.Unlock()
	s.wg.Done()
}
