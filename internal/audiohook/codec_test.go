package audiohook

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openFrame = `{
	"version": "2",
	"id": "e160e428-53e2-487c-977d-96989bf5c99d",
	"type": "open",
	"seq": 1,
	"serverseq": 0,
	"position": "PT0S",
	"parameters": {
		"organizationId": "d7934305-0972-4844-938e-9060eef73d05",
		"conversationId": "090eaa2f-72fa-480a-83e0-8667ff89c0ec",
		"participant": {"id": "883efee8-3d6c-4537-b500-6d7ca4b92fa0", "ani": "+1-555-555-1234", "aniName": "John Doe", "dnis": "+1-800-555-6789"},
		"media": [
			{"type": "audio", "format": "PCMU", "channels": ["external", "internal"], "rate": 8000},
			{"type": "audio", "format": "PCMU", "channels": ["external"], "rate": 8000}
		],
		"language": "en-US"
	}
}`

func TestClassify_open(t *testing.T) {
	t.Parallel()

	frame, err := Classify([]byte(openFrame), false)
	require.NoError(t, err)
	require.Equal(t, FrameControl, frame.Kind)

	open, ok := frame.Control.(OpenMessage)
	require.True(t, ok, "got %T", frame.Control)
	assert.Equal(t, TypeOpen, open.Type)
	assert.Equal(t, int64(1), open.Seq)
	assert.True(t, open.HasPosition)
	assert.Equal(t, "090eaa2f-72fa-480a-83e0-8667ff89c0ec", open.Params.ConversationID)
	assert.Equal(t, "John Doe", open.Params.Participant.ANIName)
	assert.Equal(t, "+1-800-555-6789", open.Params.Participant.DNIS)
	require.Len(t, open.Params.Media, 2)
	assert.Equal(t, []string{"external", "internal"}, open.Params.Media[0].Channels)
	assert.Equal(t, 8000, open.Params.Media[0].Rate)
	assert.Equal(t, "en-US", open.Params.Language)
}

func TestClassify_control_in_binary_frame(t *testing.T) {
	t.Parallel()

	frame, err := Classify([]byte(`{"version":"2","id":"s","type":"ping","seq":4,"position":"PT3S"}`), true)
	require.NoError(t, err)
	require.Equal(t, FrameControl, frame.Kind)
	ping, ok := frame.Control.(PingMessage)
	require.True(t, ok)
	assert.Equal(t, int64(4), ping.Seq)
	assert.Equal(t, 3*time.Second, ping.Position.Duration())
}

func TestClassify_binary_control_with_bad_envelope(t *testing.T) {
	t.Parallel()

	for name, data := range map[string]string{
		"numeric position": `{"version":"2","type":"ping","seq":3,"position":5}`,
		"string seq":       `{"version":"2","type":"paused","seq":"3"}`,
		"array parameters": `{"version":"2","type":"close","seq":3,"parameters":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			frame, err := Classify([]byte(data), true)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedFrame)
			assert.Nil(t, frame.Media)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.NotEmpty(t, de.Type)
		})
	}
}

func TestClassify_media(t *testing.T) {
	t.Parallel()

	t.Run("raw audio", func(t *testing.T) {
		t.Parallel()
		data := []byte{0xff, 0x7f, 0x00, 0x7e}
		frame, err := Classify(data, true)
		require.NoError(t, err)
		assert.Equal(t, FrameMedia, frame.Kind)
		assert.Equal(t, data, frame.Media)
	})

	t.Run("brace prefixed audio", func(t *testing.T) {
		t.Parallel()
		frame, err := Classify([]byte{'{', 0xff, 0xfe}, true)
		require.NoError(t, err)
		assert.Equal(t, FrameMedia, frame.Kind)
	})

	t.Run("json without type", func(t *testing.T) {
		t.Parallel()
		frame, err := Classify([]byte(`{"type":""}`), true)
		require.NoError(t, err)
		assert.Equal(t, FrameMedia, frame.Kind)
	})
}

func TestClassify_text_errors(t *testing.T) {
	t.Parallel()

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()
		_, err := Classify([]byte(`{"type": "open",`), false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("not an object", func(t *testing.T) {
		t.Parallel()
		_, err := Classify([]byte(`hello`), false)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("bad position", func(t *testing.T) {
		t.Parallel()
		_, err := Classify([]byte(`{"type":"paused","seq":2,"position":"2 seconds"}`), false)
		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "position", de.Param)
		assert.Equal(t, TypePaused, de.Type)
	})

	t.Run("bad parameters", func(t *testing.T) {
		t.Parallel()
		_, err := Classify([]byte(`{"type":"resumed","seq":3,"parameters":{"discarded":"abc"}}`), false)
		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "parameters", de.Param)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestClassify_unrecognized_text(t *testing.T) {
	t.Parallel()

	frame, err := Classify([]byte(`{"seq":1}`), false)
	require.NoError(t, err)
	assert.Equal(t, FrameUnrecognized, frame.Kind)
}

func TestClassify_unknown_type(t *testing.T) {
	t.Parallel()

	frame, err := Classify([]byte(`{"type":"reconnect","seq":9,"parameters":{"x":1}}`), false)
	require.NoError(t, err)
	require.Equal(t, FrameControl, frame.Kind)
	u, ok := frame.Control.(UnknownMessage)
	require.True(t, ok)
	assert.Equal(t, MessageType("reconnect"), u.Type)
	assert.JSONEq(t, `{"x":1}`, string(u.Raw))
}

func TestClassify_gap_parameters(t *testing.T) {
	t.Parallel()

	frame, err := Classify([]byte(`{"type":"discarded","seq":5,"position":"PT9S","parameters":{"start":"PT7S","discarded":"PT2S"}}`), false)
	require.NoError(t, err)
	d, ok := frame.Control.(DiscardedMessage)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d.Params.Start.Duration())
	assert.Equal(t, 2*time.Second, d.Params.Discarded.Duration())
}
