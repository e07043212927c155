package audiohook

import "encoding/json"

// ProtocolVersion is the AudioHook protocol version this server speaks.
const ProtocolVersion = "2"

// MessageType is the "type" field of a control message.
type MessageType string

// Client-originated message types.
const (
	TypeOpen      MessageType = "open"
	TypeClose     MessageType = "close"
	TypePaused    MessageType = "paused"
	TypeResumed   MessageType = "resumed"
	TypeDiscarded MessageType = "discarded"
	TypeUpdate    MessageType = "update"
	TypePing      MessageType = "ping"
	TypeError     MessageType = "error"
)

// Server-originated message types.
const (
	TypeOpened     MessageType = "opened"
	TypeClosed     MessageType = "closed"
	TypePong       MessageType = "pong"
	TypeDisconnect MessageType = "disconnect"
)

// Header carries the fields every inbound control message shares.
type Header struct {
	Version     string
	ID          string
	Type        MessageType
	Seq         int64
	ServerSeq   int64
	Position    Position
	HasPosition bool
}

// Head returns the shared header. Every message variant embeds Header, so this
// method is promoted onto all of them.
func (h Header) Head() Header { return h }

// ControlMessage is the closed set of decoded inbound control messages.
type ControlMessage interface {
	Head() Header
	dispatch(h controlHandler)
}

// controlHandler has one method per message variant. A new variant cannot be
// dispatched without a matching method, so unhandled types fail to compile.
type controlHandler interface {
	onOpen(OpenMessage)
	onClose(CloseMessage)
	onPaused(PausedMessage)
	onResumed(ResumedMessage)
	onDiscarded(DiscardedMessage)
	onUpdate(UpdateMessage)
	onPing(PingMessage)
	onError(ErrorMessage)
	onUnknown(UnknownMessage)
}

// OpenParameters is the payload of an open message.
type OpenParameters struct {
	OrganizationID string            `json:"organizationId"`
	ConversationID string            `json:"conversationId"`
	Participant    Participant       `json:"participant"`
	Media          []MediaDescriptor `json:"media"`
	Language       string            `json:"language,omitempty"`
	CustomConfig   json.RawMessage   `json:"customConfig,omitempty"`
}

type OpenMessage struct {
	Header
	Params OpenParameters
}

type CloseParameters struct {
	Reason string `json:"reason,omitempty"`
}

type CloseMessage struct {
	Header
	Params CloseParameters
}

type PausedMessage struct {
	Header
}

// GapParameters is shared by resumed and discarded: the start of the gap and
// how much audio it covers.
type GapParameters struct {
	Start     Position `json:"start"`
	Discarded Position `json:"discarded"`
}

type ResumedMessage struct {
	Header
	Params GapParameters
}

type DiscardedMessage struct {
	Header
	Params GapParameters
}

type UpdateParameters struct {
	Language string `json:"language,omitempty"`
}

type UpdateMessage struct {
	Header
	Params UpdateParameters
}

type PingParameters struct {
	RTT *Position `json:"rtt,omitempty"`
}

type PingMessage struct {
	Header
	Params PingParameters
}

type ErrorMessageParameters struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	RetryAfter string `json:"retryAfter,omitempty"`
}

type ErrorMessage struct {
	Header
	Params ErrorMessageParameters
}

// UnknownMessage is a well-formed control message of a type this server does
// not know. It is logged and ignored.
type UnknownMessage struct {
	Header
	Raw json.RawMessage
}

func (m OpenMessage) dispatch(h controlHandler)      { h.onOpen(m) }
func (m CloseMessage) dispatch(h controlHandler)     { h.onClose(m) }
func (m PausedMessage) dispatch(h controlHandler)    { h.onPaused(m) }
func (m ResumedMessage) dispatch(h controlHandler)   { h.onResumed(m) }
func (m DiscardedMessage) dispatch(h controlHandler) { h.onDiscarded(m) }
func (m UpdateMessage) dispatch(h controlHandler)    { h.onUpdate(m) }
func (m PingMessage) dispatch(h controlHandler)      { h.onPing(m) }
func (m ErrorMessage) dispatch(h controlHandler)     { h.onError(m) }
func (m UnknownMessage) dispatch(h controlHandler)   { h.onUnknown(m) }

// OutboundMessage is a server-originated control message.
type OutboundMessage struct {
	Version    string      `json:"version"`
	ID         string      `json:"id"`
	Type       MessageType `json:"type"`
	Seq        int64       `json:"seq"`
	ClientSeq  int64       `json:"clientseq"`
	Parameters any         `json:"parameters"`
}

type OpenedParameters struct {
	StartPaused bool              `json:"startPaused"`
	Media       []MediaDescriptor `json:"media"`
}

type DisconnectParameters struct {
	Reason string `json:"reason"`
	Info   string `json:"info,omitempty"`
}

type ErrorParameters struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// emptyParameters encodes as {}.
type emptyParameters struct{}
