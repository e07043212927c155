// Package media converts raw call captures into playable containers and reads
// their statistics by shelling out to ffmpeg and ffprobe.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnsupportedFormat is returned for raw encodings ffmpeg cannot be told how to read.
	ErrUnsupportedFormat = errors.New("unsupported raw audio format")

	// ErrInvalidRequest is returned when a ConvertRequest is missing required fields.
	ErrInvalidRequest = errors.New("invalid convert request")
)

// ConvertRequest describes one raw capture to convert.
type ConvertRequest struct {
	RawPath       string
	OutPath       string
	Format        string
	Channels      int
	SampleRate    int
	ChannelLabels []string
}

// Stats is the subset of ffprobe output the server reports.
type Stats struct {
	Duration   time.Duration `json:"duration"`
	Codec      string        `json:"codec,omitempty"`
	SampleRate int           `json:"sample_rate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
	Size       int64         `json:"size,omitempty"`
	BitRate    int64         `json:"bit_rate,omitempty"`
}

// rawInputFormats maps negotiated wire formats to ffmpeg demuxer names.
var rawInputFormats = map[string]string{
	"PCMU": "mulaw",
	"PCMA": "alaw",
	"L16":  "s16be",
}

// FFmpeg runs the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg returns an FFmpeg using the given binaries; empty paths resolve
// "ffmpeg" and "ffprobe" from PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Convert writes req.OutPath as a 16-bit PCM WAV file decoded from req.RawPath.
func (f *FFmpeg) Convert(ctx context.Context, req ConvertRequest) error {
	args, err := ConvertArgs(req)
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg convert %s: %w: %s", req.RawPath, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Probe returns duration and stream details for path.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Stats, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.ffprobePath, ProbeArgs(path)...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return Stats{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return ParseProbeOutput(out)
}

// ConvertArgs builds the ffmpeg argument list for req.
func ConvertArgs(req ConvertRequest) ([]string, error) {
	if req.RawPath == "" || req.OutPath == "" {
		return nil, fmt.Errorf("%w: raw and output paths are required", ErrInvalidRequest)
	}
	if req.Channels <= 0 || req.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: channels=%d sample_rate=%d", ErrInvalidRequest, req.Channels, req.SampleRate)
	}
	inFormat, ok := rawInputFormats[strings.ToUpper(req.Format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", inFormat,
		"-ar", strconv.Itoa(req.SampleRate),
		"-ac", strconv.Itoa(req.Channels),
		"-i", req.RawPath,
		"-c:a", "pcm_s16le",
	}
	if len(req.ChannelLabels) > 0 {
		args = append(args, "-metadata", "comment=channels:"+strings.Join(req.ChannelLabels, ","))
	}
	return append(args, req.OutPath), nil
}

// ProbeArgs builds the ffprobe argument list for path.
func ProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration,size,bit_rate:stream=codec_name,sample_rate,channels",
		"-of", "json",
		path,
	}
}

type probeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// ParseProbeOutput decodes ffprobe's JSON writer output.
func ParseProbeOutput(data []byte) (Stats, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Stats{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if out.Format.Duration == "" {
		return Stats{}, errors.New("ffprobe output has no duration")
	}
	secs, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return Stats{}, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
	}

	stats := Stats{Duration: time.Duration(secs * float64(time.Second))}
	stats.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	stats.BitRate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	if len(out.Streams) > 0 {
		s := out.Streams[0]
		stats.Codec = s.CodecName
		stats.Channels = s.Channels
		stats.SampleRate, _ = strconv.Atoi(s.SampleRate)
	}
	return stats, nil
}
