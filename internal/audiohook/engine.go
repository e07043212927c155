package audiohook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"audiohook-server/internal/platform/logger"
	"audiohook-server/internal/platform/metrics"

	"github.com/google/uuid"
)

// DefaultMediaFormat is the encoding preferred during media selection.
const DefaultMediaFormat = "PCMU"

const mediaTypeAudio = "audio"

// probeID is the all-zero sentinel a client uses for connectivity probes.
var probeID = uuid.Nil.String()

// MessageWriter sends one encoded control message to the peer.
type MessageWriter interface {
	WriteText(data []byte) error
}

// EngineDeps wires an Engine to its collaborators.
type EngineDeps struct {
	Session   *Session
	Writer    MessageWriter
	Capture   CaptureOpener
	Finalizer *Finalizer
	Registry  Registry
	Log       *slog.Logger
	Metrics   *metrics.Metrics

	// DefaultFormat is the preferred encoding; empty means DefaultMediaFormat.
	DefaultFormat string
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Engine is the per-connection protocol state machine. It is driven by a
// single goroutine: HandleFrame and Disconnect must not be called concurrently.
type Engine struct {
	sess      *Session
	life      *lifecycle
	out       MessageWriter
	capture   CaptureOpener
	finalizer *Finalizer
	registry  Registry
	log       *slog.Logger
	metrics   *metrics.Metrics

	defaultFormat string
	now           func() time.Time

	sink         CaptureSink
	finalizeOnce sync.Once
}

// NewEngine returns an engine for a session in the connecting state.
func NewEngine(d EngineDeps) *Engine {
	e := &Engine{
		sess:          d.Session,
		out:           d.Writer,
		capture:       d.Capture,
		finalizer:     d.Finalizer,
		registry:      d.Registry,
		log:           d.Log,
		metrics:       d.Metrics,
		defaultFormat: d.DefaultFormat,
		now:           d.Now,
	}
	if e.log == nil {
		e.log = logger.Discard()
	}
	if e.finalizer == nil {
		e.finalizer = NewFinalizer(nil, nil, nil, FinalizerConfig{}, e.log, e.metrics)
	}
	if e.registry == nil {
		e.registry = NewInMemoryRegistry()
	}
	if e.defaultFormat == "" {
		e.defaultFormat = DefaultMediaFormat
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.life = newLifecycle(e.onEnter)
	return e
}

// Session returns the engine's session.
func (e *Engine) Session() *Session {
	return e.sess
}

// State returns the current protocol state.
func (e *Engine) State() State {
	return e.life.current()
}

// Done reports whether the session reached a terminal state and the
// transport can be closed.
func (e *Engine) Done() bool {
	return e.life.current().Terminal()
}

// HandleFrame classifies one transport frame and applies it.
func (e *Engine) HandleFrame(data []byte, binary bool) {
	frame, err := Classify(data, binary)
	if err != nil {
		e.metrics.IncMalformedFrames()
		e.log.Warn("malformed frame dropped",
			slog.Bool("binary", binary),
			slog.Int("size", len(data)),
			slog.String("error", err.Error()))
		return
	}

	switch frame.Kind {
	case FrameControl:
		e.handleControl(frame.Control)
	case FrameMedia:
		e.handleMedia(frame.Media)
	default:
		e.log.Debug("unrecognized frame dropped", slog.Int("size", len(data)))
	}
}

// Disconnect handles a transport drop. An open session is finalized without
// an acknowledgement; a session that never opened is aborted. Calling it
// again, or after a clean close, does nothing.
func (e *Engine) Disconnect() {
	switch e.life.current() {
	case StateConnecting:
		e.log.Info("transport closed before open")
		e.fire(eventAbort)
	case StateOpen:
		e.log.Warn("transport dropped, finalizing session")
		e.markClosed()
		e.fire(eventClose)
		e.finalize(true)
		e.fire(eventFinalized)
	case StateClosing:
		e.finalize(true)
		e.fire(eventFinalized)
	}
}

func (e *Engine) handleControl(msg ControlMessage) {
	h := msg.Head()
	e.metrics.IncControlMessages(string(h.Type))
	e.trackClientSeq(h)
	msg.dispatch(e)
}

// trackClientSeq records the inbound sequence. Gaps and duplicates are
// logged; frames are never reordered.
func (e *Engine) trackClientSeq(h Header) {
	var last int64
	e.sess.update(func(s *Session) {
		last = s.lastClientSeq
		if h.Seq > s.lastClientSeq {
			s.lastClientSeq = h.Seq
		}
	})
	if last != 0 && h.Seq != last+1 {
		e.log.Warn("inbound sequence gap",
			slog.String("type", string(h.Type)),
			slog.Int64("seq", h.Seq),
			slog.Int64("expected", last+1))
	}
}

func (e *Engine) handleMedia(data []byte) {
	if reason := e.mediaGate(); reason != "" {
		e.metrics.IncMediaDropped()
		e.log.Debug("media frame dropped", slog.String("reason", reason), slog.Int("size", len(data)))
		return
	}
	if e.sink == nil {
		e.sess.update(func(s *Session) { s.captureErrors++ })
		e.metrics.IncCaptureErrors()
		e.log.Debug("media frame without capture artifact", slog.Int("size", len(data)))
		return
	}

	n, err := e.sink.Write(data)
	e.sess.update(func(s *Session) {
		s.bytesReceived += int64(n)
		if err != nil {
			s.captureErrors++
		}
	})
	e.metrics.AddMediaBytes(n)
	if err != nil {
		e.metrics.IncCaptureErrors()
		e.log.Warn("capture write failed", slog.Int("size", len(data)), slog.String("error", err.Error()))
	}
}

// mediaGate returns why media cannot be accepted right now, or "".
func (e *Engine) mediaGate() string {
	e.sess.mu.RLock()
	defer e.sess.mu.RUnlock()
	switch {
	case e.sess.state != StateOpen:
		return "state " + string(e.sess.state)
	case e.sess.ledger.PauseOpen():
		return "paused"
	case e.sess.probe:
		return "probe"
	}
	return ""
}

func (e *Engine) onOpen(m OpenMessage) {
	if st := e.life.current(); st != StateConnecting {
		e.sendError(m.Seq, http.StatusConflict, "open not allowed in state "+string(st))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("open negotiation failed", slog.String("panic", fmt.Sprint(r)))
			e.sendError(m.Seq, http.StatusInternalServerError, "internal error")
			e.abort()
		}
	}()

	if len(m.Params.Media) == 0 {
		e.log.Warn("open without media offer", slog.String("conversation_id", m.Params.ConversationID))
		e.send(TypeDisconnect, m.Seq, DisconnectParameters{Reason: "error", Info: "No media offered"})
		e.abort()
		return
	}

	selected := SelectMedia(m.Params.Media, e.defaultFormat)
	probe := IsProbe(m.Params)
	e.adoptSessionID(m.ID)

	if err := e.registry.Insert(e.sess); err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrSessionExists):
			code = http.StatusConflict
		case errors.Is(err, ErrEmptySessionID):
			code = http.StatusBadRequest
		}
		e.log.Warn("session rejected", slog.String("error", err.Error()))
		e.sendError(m.Seq, code, err.Error())
		e.abort()
		return
	}

	// The acknowledgement goes out before any local side effect.
	e.send(TypeOpened, m.Seq, OpenedParameters{StartPaused: false, Media: []MediaDescriptor{selected}})

	openedAt := e.now().UTC()
	e.sess.update(func(s *Session) {
		if s.organizationID == "" {
			s.organizationID = m.Params.OrganizationID
		}
		s.conversationID = m.Params.ConversationID
		s.participant = m.Params.Participant
		s.media = selected
		s.language = m.Params.Language
		s.customConfig = m.Params.CustomConfig
		s.probe = probe
		s.openedAt = openedAt
		if m.HasPosition {
			s.advanceLocked(m.Position)
		}
	})
	e.log = e.log.With(
		slog.String("session_id", string(e.sess.ID())),
		slog.String("conversation_id", m.Params.ConversationID))
	e.fire(eventOpen)

	if probe {
		e.metrics.IncProbes()
		e.log.Info("probe session opened")
		return
	}

	name := ArtifactName(openedAt, m.Params.ConversationID, m.Params.Participant.ID)
	sink, err := e.capture.OpenCapture(name)
	if err != nil {
		e.sess.update(func(s *Session) { s.captureErrors++ })
		e.metrics.IncCaptureErrors()
		e.log.Error("open capture failed", slog.String("error", err.Error()))
		return
	}
	e.sink = sink
	e.sess.update(func(s *Session) { s.artifact = sink.Path() })

	e.log.Info("session opened",
		slog.String("participant_id", m.Params.Participant.ID),
		slog.String("format", selected.Format),
		slog.Int("rate", selected.Rate),
		slog.Int("channels", len(selected.Channels)),
		slog.String("artifact", sink.Path()))
}

// adoptSessionID falls back to the open message id when the connection
// headers carried none.
func (e *Engine) adoptSessionID(msgID string) {
	var mismatch SessionID
	e.sess.update(func(s *Session) {
		switch {
		case s.id == "":
			s.id = SessionID(msgID)
		case msgID != "" && string(s.id) != msgID:
			mismatch = s.id
		}
	})
	if mismatch != "" {
		e.log.Warn("open message id differs from session header",
			slog.String("session_id", string(mismatch)),
			slog.String("message_id", msgID))
	}
}

func (e *Engine) onClose(m CloseMessage) {
	if st := e.life.current(); st != StateOpen {
		e.sendError(m.Seq, http.StatusConflict, "close not allowed in state "+string(st))
		return
	}
	e.advance(m.Header)
	e.markClosed()
	e.log.Info("session closing", slog.String("reason", m.Params.Reason))
	e.fire(eventClose)

	e.finalize(false)

	e.send(TypeClosed, m.Seq, emptyParameters{})
	e.fire(eventFinalized)
}

func (e *Engine) onPaused(m PausedMessage) {
	if !e.requireOpen(m.Header) {
		return
	}
	e.advance(m.Header)
	e.sess.update(func(s *Session) {
		s.ledger.BeginPause(s.position)
	})
	e.log.Info("session paused", slog.String("position", m.Position.String()))
}

func (e *Engine) onResumed(m ResumedMessage) {
	if !e.requireOpen(m.Header) {
		return
	}
	var (
		seg    Segment
		closed bool
	)
	e.advance(m.Header)
	e.sess.update(func(s *Session) {
		seg, closed = s.ledger.EndPause(m.Params.Discarded)
	})
	if !closed {
		e.log.Debug("resume without open pause")
		return
	}
	e.log.Info("session resumed",
		slog.String("pause_start", seg.Start.String()),
		slog.String("pause_duration", seg.Duration.String()),
		slog.String("resumed_at", seg.End().String()))
}

func (e *Engine) onDiscarded(m DiscardedMessage) {
	if !e.requireOpen(m.Header) {
		return
	}
	e.advance(m.Header)
	var seg Segment
	e.sess.update(func(s *Session) {
		seg = s.ledger.AddDiscarded(m.Params.Start, m.Params.Discarded)
	})
	e.log.Info("audio discarded",
		slog.String("start", seg.Start.String()),
		slog.String("duration", seg.Duration.String()),
		slog.String("end", seg.End().String()))
}

func (e *Engine) onUpdate(m UpdateMessage) {
	if !e.requireOpen(m.Header) {
		return
	}
	e.advance(m.Header)
	if m.Params.Language == "" {
		return
	}
	e.sess.update(func(s *Session) { s.language = m.Params.Language })
	e.log.Info("session updated", slog.String("language", m.Params.Language))
}

func (e *Engine) onPing(m PingMessage) {
	if e.life.current().Terminal() {
		return
	}
	e.advance(m.Header)
	e.send(TypePong, m.Seq, emptyParameters{})
}

func (e *Engine) onError(m ErrorMessage) {
	e.log.Warn("peer reported error",
		slog.Int("code", m.Params.Code),
		slog.String("message", m.Params.Message),
		slog.String("retry_after", m.Params.RetryAfter))
}

func (e *Engine) onUnknown(m UnknownMessage) {
	e.log.Info("unknown message type ignored", slog.String("type", string(m.Type)), slog.Int64("seq", m.Seq))
}

// requireOpen logs and rejects messages that are only meaningful while open.
func (e *Engine) requireOpen(h Header) bool {
	if st := e.life.current(); st != StateOpen {
		e.log.Warn("message ignored outside open state",
			slog.String("type", string(h.Type)),
			slog.String("state", string(st)))
		return false
	}
	return true
}

// advance applies the message position, ignoring regressions.
func (e *Engine) advance(h Header) {
	if !h.HasPosition {
		return
	}
	var (
		ok  bool
		cur Position
	)
	e.sess.update(func(s *Session) {
		ok = s.advanceLocked(h.Position)
		cur = s.position
	})
	if !ok {
		e.log.Warn("position regression ignored",
			slog.String("type", string(h.Type)),
			slog.String("position", h.Position.String()),
			slog.String("current", cur.String()))
	}
}

func (e *Engine) markClosed() {
	now := e.now().UTC()
	e.sess.update(func(s *Session) { s.closedAt = now })
}

// finalize runs the pipeline at most once per session.
func (e *Engine) finalize(abnormal bool) {
	e.finalizeOnce.Do(func() {
		report := e.finalizer.Run(context.Background(), e.sess.Snapshot(), e.sink, abnormal)
		e.sink = nil
		e.sess.update(func(s *Session) { s.report = &report })
	})
}

// abort ends the session on a local fault. An open capture is finalized first
// so the artifact is never left unclosed.
func (e *Engine) abort() {
	if e.life.current() == StateOpen {
		e.markClosed()
		e.finalize(true)
	}
	if e.sink != nil {
		_ = e.sink.Close()
		e.sink = nil
	}
	e.fire(eventAbort)
}

func (e *Engine) fire(event string) {
	if !e.life.can(event) {
		e.log.Debug("lifecycle event not allowed",
			slog.String("event", event),
			slog.String("state", string(e.life.current())))
		return
	}
	if err := e.life.fire(event); err != nil {
		e.log.Debug("lifecycle event rejected", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// onEnter mirrors lifecycle transitions onto the session. It runs inside the
// fsm callback, so it must not fire events.
func (e *Engine) onEnter(from, to State) {
	e.sess.update(func(s *Session) { s.state = to })
	switch to {
	case StateOpen:
		e.metrics.IncSessionsOpened()
	case StateClosed:
		e.metrics.IncSessionsClosed()
	case StateAborted:
		e.metrics.IncSessionsAborted()
	}
	e.log.Debug("session state changed", slog.String("from", string(from)), slog.String("to", string(to)))
}

// send encodes and writes one outbound message with the next server sequence.
// Write failures are logged; the transport drop that follows is handled by
// the read loop.
func (e *Engine) send(typ MessageType, clientSeq int64, params any) {
	var (
		seq int64
		id  SessionID
	)
	e.sess.update(func(s *Session) {
		seq = s.nextServerSeqLocked()
		id = s.id
	})

	data, err := json.Marshal(OutboundMessage{
		Version:    ProtocolVersion,
		ID:         string(id),
		Type:       typ,
		Seq:        seq,
		ClientSeq:  clientSeq,
		Parameters: params,
	})
	if err != nil {
		e.log.Error("encode outbound message failed", slog.String("type", string(typ)), slog.String("error", err.Error()))
		return
	}
	if err := e.out.WriteText(data); err != nil {
		e.log.Warn("send failed", slog.String("type", string(typ)), slog.Int64("seq", seq), slog.String("error", err.Error()))
		return
	}
	e.log.Debug("message sent", slog.String("type", string(typ)), slog.Int64("seq", seq), slog.Int64("clientseq", clientSeq))
}

func (e *Engine) sendError(clientSeq int64, code int, message string) {
	e.send(TypeError, clientSeq, ErrorParameters{Code: code, Message: message})
}

// SelectMedia picks the negotiated format: an audio offer in defaultFormat
// with exactly two channels if present, otherwise the first offer.
// offers must not be empty.
func SelectMedia(offers []MediaDescriptor, defaultFormat string) MediaDescriptor {
	for _, m := range offers {
		if strings.EqualFold(m.Type, mediaTypeAudio) &&
			strings.EqualFold(m.Format, defaultFormat) &&
			len(m.Channels) == 2 {
			return cloneMedia(m)
		}
	}
	return cloneMedia(offers[0])
}

func cloneMedia(m MediaDescriptor) MediaDescriptor {
	m.Channels = append([]string(nil), m.Channels...)
	return m
}

// IsProbe reports whether an open message is a connectivity probe.
func IsProbe(p OpenParameters) bool {
	return strings.EqualFold(p.ConversationID, probeID) || strings.EqualFold(p.Participant.ID, probeID)
}
