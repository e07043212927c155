package audiohook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedFrame is wrapped by every codec error.
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeError describes why a frame could not be decoded.
type DecodeError struct {
	Type    MessageType
	Param   string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Type != "" {
		msg = string(e.Type) + ": " + msg
	}
	if e.Param != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Param)
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return ErrMalformedFrame }

// FrameKind classifies an inbound frame.
type FrameKind int

const (
	FrameUnrecognized FrameKind = iota
	FrameControl
	FrameMedia
)

// Frame is the result of classifying one transport frame.
type Frame struct {
	Kind    FrameKind
	Control ControlMessage
	Media   []byte
}

type envelope struct {
	Version    string          `json:"version"`
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Seq        int64           `json:"seq"`
	ServerSeq  int64           `json:"serverseq"`
	Position   string          `json:"position"`
	Parameters json.RawMessage `json:"parameters"`
}

// Classify decides whether data is a control message or audio. Control
// messages are recognized by content, not by framing: clients may send them
// in binary frames. Once a message type can be read the frame is control, and
// a bad envelope is a decode error rather than audio. A binary frame without a
// readable type is media; a text frame that is not JSON is an error.
func Classify(data []byte, binary bool) (Frame, error) {
	typ, ok, err := peekType(data)
	if !ok {
		if binary {
			return Frame{Kind: FrameMedia, Media: data}, nil
		}
		return Frame{}, &DecodeError{Message: "invalid json frame: " + errString(err)}
	}
	if typ == "" {
		if binary {
			return Frame{Kind: FrameMedia, Media: data}, nil
		}
		return Frame{Kind: FrameUnrecognized}, nil
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return Frame{}, &DecodeError{Type: MessageType(typ), Message: "invalid envelope: " + err.Error()}
	}
	msg, err := decodeControl(env)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: FrameControl, Control: msg}, nil
}

// peekType reports ok=false when data is not a JSON object with a string (or
// absent) type field. Binary audio almost never starts with '{', so media
// frames skip the JSON decoder.
func peekType(data []byte) (string, bool, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false, errors.New("not a json object")
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return "", false, err
	}
	return strings.TrimSpace(head.Type), true, nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

func decodeControl(env envelope) (ControlMessage, error) {
	typ := MessageType(strings.TrimSpace(env.Type))
	h := Header{
		Version:   env.Version,
		ID:        env.ID,
		Type:      typ,
		Seq:       env.Seq,
		ServerSeq: env.ServerSeq,
	}
	if env.Position != "" {
		pos, err := ParsePosition(env.Position)
		if err != nil {
			return nil, &DecodeError{Type: typ, Param: "position", Message: err.Error()}
		}
		h.Position = pos
		h.HasPosition = true
	}

	switch typ {
	case TypeOpen:
		var p OpenParameters
		if err := decodeParams(env, &p); err != nil {
			return nil, err
		}
		return OpenMessage{Header: h, Params: p}, nil
	case TypeClose:
		var p CloseParameters
		if err := decodeParams(env, &p); err != nil {
			return nil, err
		}
		return CloseMessage{Header: h, Params: p}, nil
	case TypePaused:
		return PausedMessage{Header: h}, nil
	case TypeResumed:
		var p GapParameters
		if err := decodeParams(env, &p); err != nil {
			return nil, err
		}
		return ResumedMessage{Header: h, Params: p}, nil
	case TypeDiscarded:
		var p GapParameters
		if err := decodeParams(env, &p); err != nil {
			return nil, err
		}
		return DiscardedMessage{Header: h, Params: p}, nil
	case TypeUpdate:
		var p UpdateParameters
		if err := decodeParams(env, &p); err != nil {
			return nil, err
		}
		return UpdateMessage{Header: h, Params: p}, nil
	case TypePing:
		var p PingParameters
		if err := decodeParams(env, &p); err != nil {
			return nil, err
		}
		return PingMessage{Header: h, Params: p}, nil
	case TypeError:
		var p ErrorMessageParameters
		if err := decodeParams(env, &p); err != nil {
			return nil, err
		}
		return ErrorMessage{Header: h, Params: p}, nil
	default:
		return UnknownMessage{Header: h, Raw: env.Parameters}, nil
	}
}

func decodeParams(env envelope, dst any) error {
	raw := bytes.TrimSpace(env.Parameters)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &DecodeError{Type: MessageType(env.Type), Param: "parameters", Message: err.Error()}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
