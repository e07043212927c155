package audiohook

import (
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	rawExt       = ".raw"
	convertedExt = ".wav"

	// objectAudioSegment is the fixed sub-path every uploaded artifact lives under.
	objectAudioSegment = "audio"

	artifactTimeLayout = "20060102T150405Z"
)

// ArtifactName builds the raw capture file name for a session:
// "<UTC timestamp>_<conversation id>_<participant id>.raw".
func ArtifactName(openedAt time.Time, conversationID, participantID string) string {
	var b strings.Builder
	b.WriteString(openedAt.UTC().Format(artifactTimeLayout))
	b.WriteString("_")
	b.WriteString(sanitizeNamePart(conversationID))
	b.WriteString("_")
	b.WriteString(sanitizeNamePart(participantID))
	b.WriteString(rawExt)
	return b.String()
}

// ConvertedPath returns the playable container path next to a raw capture.
func ConvertedPath(rawPath string) string {
	return strings.TrimSuffix(rawPath, filepath.Ext(rawPath)) + convertedExt
}

// ObjectKey derives the object-store key for a local artifact:
// "<prefix>/<base name without extension>/audio/<file name>".
func ObjectKey(prefix, artifactPath string) string {
	base := filepath.Base(artifactPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return path.Join(strings.Trim(prefix, "/"), stem, objectAudioSegment, base)
}

// ContentType returns the MIME type for an artifact. Raw captures are typed by
// their negotiated format.
func ContentType(artifactPath, format string) string {
	if strings.EqualFold(filepath.Ext(artifactPath), convertedExt) {
		return "audio/wav"
	}
	switch strings.ToUpper(format) {
	case "PCMU":
		return "audio/basic"
	case "PCMA":
		return "audio/x-alaw-basic"
	case "L16":
		return "audio/L16"
	default:
		return "application/octet-stream"
	}
}

// ArtifactMetadata builds the object metadata attached to every uploaded artifact.
// duration is the converted audio length when known, otherwise the session's
// wall-clock length.
func ArtifactMetadata(snap Snapshot, duration time.Duration) map[string]string {
	md := map[string]string{
		"session-id":      string(snap.ID),
		"conversation-id": snap.ConversationID,
		"participant-id":  snap.Participant.ID,
		"format":          snap.Media.Format,
		"sample-rate":     strconv.Itoa(snap.Media.Rate),
		"channels":        strings.Join(snap.Media.Channels, ","),
		"duration":        strconv.FormatFloat(duration.Seconds(), 'f', 3, 64),
		"bytes":           strconv.FormatInt(snap.BytesReceived, 10),
	}
	optional := map[string]string{
		"organization-id": snap.OrganizationID,
		"ani":             snap.Participant.ANI,
		"dnis":            snap.Participant.DNIS,
		"language":        snap.Language,
	}
	for k, v := range optional {
		if v != "" {
			md[k] = v
		}
	}
	if snap.PausedTotal > 0 {
		md["paused-seconds"] = strconv.FormatFloat(snap.PausedTotal.Duration().Seconds(), 'f', 3, 64)
	}
	if snap.DiscardedTotal > 0 {
		md["discarded-seconds"] = strconv.FormatFloat(snap.DiscardedTotal.Duration().Seconds(), 'f', 3, 64)
	}
	if !snap.OpenedAt.IsZero() {
		md["start-time"] = snap.OpenedAt.UTC().Format(time.RFC3339)
	}
	return md
}

// sanitizeNamePart keeps ids safe for file names and object keys.
func sanitizeNamePart(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
