package media

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertArgs(t *testing.T) {
	t.Parallel()

	t.Run("stereo mulaw", func(t *testing.T) {
		t.Parallel()
		args, err := ConvertArgs(ConvertRequest{
			RawPath:       "/rec/a.raw",
			OutPath:       "/rec/a.wav",
			Format:        "PCMU",
			Channels:      2,
			SampleRate:    8000,
			ChannelLabels: []string{"external", "internal"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"-hide_banner", "-loglevel", "error", "-y",
			"-f", "mulaw", "-ar", "8000", "-ac", "2",
			"-i", "/rec/a.raw",
			"-c:a", "pcm_s16le",
			"-metadata", "comment=channels:external,internal",
			"/rec/a.wav",
		}, args)
	})

	t.Run("format is case insensitive", func(t *testing.T) {
		t.Parallel()
		args, err := ConvertArgs(ConvertRequest{RawPath: "in", OutPath: "out", Format: "pcma", Channels: 1, SampleRate: 8000})
		require.NoError(t, err)
		assert.Contains(t, args, "alaw")
		assert.NotContains(t, args, "-metadata")
	})

	t.Run("unsupported format", func(t *testing.T) {
		t.Parallel()
		_, err := ConvertArgs(ConvertRequest{RawPath: "in", OutPath: "out", Format: "OPUS", Channels: 1, SampleRate: 48000})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("missing channels", func(t *testing.T) {
		t.Parallel()
		_, err := ConvertArgs(ConvertRequest{RawPath: "in", OutPath: "out", Format: "PCMU", SampleRate: 8000})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestParseProbeOutput(t *testing.T) {
	t.Parallel()

	t.Run("full output", func(t *testing.T) {
		t.Parallel()
		stats, err := ParseProbeOutput([]byte(`{
			"programs": [],
			"streams": [{"codec_name": "pcm_s16le", "sample_rate": "8000", "channels": 2}],
			"format": {"duration": "3.500000", "size": "112044", "bit_rate": "256100"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, 3500*time.Millisecond, stats.Duration)
		assert.Equal(t, "pcm_s16le", stats.Codec)
		assert.Equal(t, 8000, stats.SampleRate)
		assert.Equal(t, 2, stats.Channels)
		assert.Equal(t, int64(112044), stats.Size)
		assert.Equal(t, int64(256100), stats.BitRate)
	})

	t.Run("missing duration", func(t *testing.T) {
		t.Parallel()
		_, err := ParseProbeOutput([]byte(`{"format": {}}`))
		assert.Error(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		t.Parallel()
		_, err := ParseProbeOutput([]byte("Invalid data found when processing input"))
		assert.Error(t, err)
	})
}

func TestFFmpeg_Convert_missing_binary(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := NewFFmpeg(filepath.Join(dir, "no-ffmpeg"), filepath.Join(dir, "no-ffprobe"))

	err := f.Convert(context.Background(), ConvertRequest{
		RawPath: filepath.Join(dir, "a.raw"), OutPath: filepath.Join(dir, "a.wav"),
		Format: "PCMU", Channels: 1, SampleRate: 8000,
	})
	assert.Error(t, err)

	_, err = f.Probe(context.Background(), filepath.Join(dir, "a.wav"))
	assert.Error(t, err)
}
