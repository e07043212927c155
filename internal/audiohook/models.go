package audiohook

import (
	"encoding/json"
	"sync"
	"time"
)

// SessionID identifies one AudioHook connection. It is chosen by the client.
type SessionID string

// State is the protocol state of a session.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateAborted    State = "aborted"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateAborted
}

// Participant describes the call party whose audio is streamed.
type Participant struct {
	ID      string `json:"id"`
	ANI     string `json:"ani,omitempty"`
	ANIName string `json:"aniName,omitempty"`
	DNIS    string `json:"dnis,omitempty"`
}

// MediaDescriptor is one media offer, and after negotiation the selected format.
// Channels holds one role label per channel, e.g. ["external", "internal"].
type MediaDescriptor struct {
	Type     string   `json:"type"`
	Format   string   `json:"format"`
	Channels []string `json:"channels"`
	Rate     int      `json:"rate"`
}

// Session is the server-side record of one connection. The connection's
// engine is the only writer; readers such as the stats endpoint go through
// Snapshot.
type Session struct {
	mu sync.RWMutex

	id             SessionID
	organizationID string
	correlationID  string
	conversationID string
	participant    Participant
	media          MediaDescriptor
	language       string
	customConfig   json.RawMessage
	probe          bool

	state         State
	position      Position
	bytesReceived int64
	captureErrors int
	artifact      string
	ledger        SegmentLedger

	serverSeq     int64
	lastClientSeq int64

	createdAt time.Time
	openedAt  time.Time
	closedAt  time.Time

	report *FinalizeReport
}

// NewSession returns a session in the connecting state for a newly accepted
// connection. id may be empty, in which case the open message supplies it.
func NewSession(id SessionID, organizationID, correlationID string, now time.Time) *Session {
	return &Session{
		id:             id,
		organizationID: organizationID,
		correlationID:  correlationID,
		state:          StateConnecting,
		createdAt:      now.UTC(),
	}
}

// ID returns the session id.
func (s *Session) ID() SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// State returns the current protocol state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// update runs fn with the write lock held.
func (s *Session) update(fn func(s *Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// advanceLocked moves the position forward. Positions that would move the
// timeline backwards are ignored and reported false. Caller must hold s.mu.
func (s *Session) advanceLocked(pos Position) bool {
	if pos < s.position {
		return false
	}
	s.position = pos
	return true
}

// nextServerSeqLocked returns the next outbound sequence number. Caller must hold s.mu.
func (s *Session) nextServerSeqLocked() int64 {
	s.serverSeq++
	return s.serverSeq
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID                SessionID       `json:"id"`
	OrganizationID    string          `json:"organization_id,omitempty"`
	CorrelationID     string          `json:"correlation_id,omitempty"`
	ConversationID    string          `json:"conversation_id"`
	Participant       Participant     `json:"participant"`
	Media             MediaDescriptor `json:"media"`
	Language          string          `json:"language,omitempty"`
	CustomConfig      json.RawMessage `json:"custom_config,omitempty"`
	Probe             bool            `json:"probe"`
	State             State           `json:"state"`
	Paused            bool            `json:"paused"`
	Position          Position        `json:"position"`
	BytesReceived     int64           `json:"bytes_received"`
	CaptureErrors     int             `json:"capture_errors"`
	Artifact          string          `json:"artifact,omitempty"`
	PauseSegments     []Segment       `json:"pause_segments"`
	DiscardedSegments []Segment       `json:"discarded_segments"`
	PausedTotal       Position        `json:"paused_total"`
	DiscardedTotal    Position        `json:"discarded_total"`
	ServerSeq         int64           `json:"server_seq"`
	LastClientSeq     int64           `json:"last_client_seq"`
	CreatedAt         time.Time       `json:"created_at"`
	OpenedAt          time.Time       `json:"opened_at"`
	ClosedAt          time.Time       `json:"closed_at"`
	Report            *FinalizeReport `json:"finalize,omitempty"`
}

// Snapshot copies the session under its read lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:                s.id,
		OrganizationID:    s.organizationID,
		CorrelationID:     s.correlationID,
		ConversationID:    s.conversationID,
		Participant:       s.participant,
		Media:             s.media,
		Language:          s.language,
		CustomConfig:      s.customConfig,
		Probe:             s.probe,
		State:             s.state,
		Paused:            s.ledger.PauseOpen(),
		Position:          s.position,
		BytesReceived:     s.bytesReceived,
		CaptureErrors:     s.captureErrors,
		Artifact:          s.artifact,
		PauseSegments:     s.ledger.PauseSegments(),
		DiscardedSegments: s.ledger.DiscardedSegments(),
		PausedTotal:       s.ledger.Total(SegmentPause),
		DiscardedTotal:    s.ledger.Total(SegmentDiscarded),
		ServerSeq:         s.serverSeq,
		LastClientSeq:     s.lastClientSeq,
		CreatedAt:         s.createdAt,
		OpenedAt:          s.openedAt,
		ClosedAt:          s.closedAt,
	}
	snap.Media.Channels = append([]string(nil), s.media.Channels...)
	if s.report != nil {
		r := *s.report
		snap.Report = &r
	}
	return snap
}

// Duration is the wall-clock time between open and close, or zero if the
// session never opened.
func (s Snapshot) Duration() time.Duration {
	if s.OpenedAt.IsZero() {
		return 0
	}
	end := s.ClosedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.OpenedAt)
}

// Summary is the per-session view served by the stats endpoint.
type Summary struct {
	ID             SessionID `json:"id"`
	ConversationID string    `json:"conversation_id"`
	StartTime      time.Time `json:"start_time"`
	BytesReceived  int64     `json:"bytes_received"`
	State          State     `json:"state"`
	Paused         bool      `json:"paused"`
	Language       string    `json:"language,omitempty"`
	Probe          bool      `json:"probe"`
	Position       Position  `json:"position"`
}

// Summary returns the stats view of the session.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := s.openedAt
	if start.IsZero() {
		start = s.createdAt
	}
	return Summary{
		ID:             s.id,
		ConversationID: s.conversationID,
		StartTime:      start,
		BytesReceived:  s.bytesReceived,
		State:          s.state,
		Paused:         s.ledger.PauseOpen(),
		Language:       s.language,
		Probe:          s.probe,
		Position:       s.position,
	}
}
