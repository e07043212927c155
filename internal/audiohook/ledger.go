package audiohook

// SegmentKind distinguishes paused audio from audio the client discarded.
type SegmentKind string

const (
	SegmentPause     SegmentKind = "pause"
	SegmentDiscarded SegmentKind = "discarded"
)

// Segment is a closed interval of audio time that is missing from the capture.
// Segments are values; once appended to a ledger they never change.
type Segment struct {
	Kind     SegmentKind `json:"kind"`
	Start    Position    `json:"start"`
	Duration Position    `json:"duration"`
}

// End returns the position just past the segment.
func (s Segment) End() Position {
	return s.Start + s.Duration
}

// SegmentLedger records pause and discard intervals for one session in arrival order.
// The zero value is ready to use. It is not safe for concurrent use; Session
// guards it with its own lock.
type SegmentLedger struct {
	paused    []Segment
	discarded []Segment

	pauseOpen  bool
	pauseStart Position
}

// BeginPause opens a pause interval at pos. It reports false, keeping the
// original start, if a pause is already open.
func (l *SegmentLedger) BeginPause(pos Position) bool {
	if l.pauseOpen {
		return false
	}
	l.pauseOpen = true
	l.pauseStart = pos
	return true
}

// EndPause closes the open pause interval into a segment of the given duration.
// It reports false and appends nothing when no pause is open.
func (l *SegmentLedger) EndPause(duration Position) (Segment, bool) {
	if !l.pauseOpen {
		return Segment{}, false
	}
	seg := Segment{Kind: SegmentPause, Start: l.pauseStart, Duration: duration}
	l.paused = append(l.paused, seg)
	l.pauseOpen = false
	l.pauseStart = 0
	return seg, true
}

// AddDiscarded appends a discarded interval.
func (l *SegmentLedger) AddDiscarded(start, duration Position) Segment {
	seg := Segment{Kind: SegmentDiscarded, Start: start, Duration: duration}
	l.discarded = append(l.discarded, seg)
	return seg
}

// PauseOpen reports whether a pause interval is waiting for its resume.
func (l *SegmentLedger) PauseOpen() bool {
	return l.pauseOpen
}

// PauseSegments returns a copy of the closed pause segments.
func (l *SegmentLedger) PauseSegments() []Segment {
	return append([]Segment(nil), l.paused...)
}

// DiscardedSegments returns a copy of the discarded segments.
func (l *SegmentLedger) DiscardedSegments() []Segment {
	return append([]Segment(nil), l.discarded...)
}

// Total sums the durations of all segments of kind.
func (l *SegmentLedger) Total(kind SegmentKind) Position {
	segs := l.discarded
	if kind == SegmentPause {
		segs = l.paused
	}
	var total Position
	for _, s := range segs {
		total += s.Duration
	}
	return total
}
