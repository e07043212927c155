package audiohook

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPosition is returned when a position is not an ISO 8601 time duration.
var ErrInvalidPosition = errors.New("invalid position")

// Position is an elapsed-time marker on a session's audio timeline. On the
// wire it is an ISO 8601 duration restricted to the time part, e.g. "PT12.5S".
type Position time.Duration

// ParsePosition parses "PT[nH][nM][n[.f]S]". Fractions are kept to nanosecond
// precision so that ParsePosition(p.String()) == p.
func ParsePosition(s string) (Position, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "PT")
	if !ok || rest == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, s)
	}

	var total time.Duration
	last := -1
	for rest != "" {
		i := strings.IndexAny(rest, "HMS")
		if i <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, s)
		}
		num, unit := rest[:i], rest[i]
		rest = rest[i+1:]

		order := strings.IndexByte("HMS", unit)
		if order <= last {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, s)
		}
		last = order

		scale := [...]time.Duration{time.Hour, time.Minute, time.Second}[order]
		d, err := scaleDecimal(num, scale)
		if err != nil || d > math.MaxInt64-total {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, s)
		}
		total += d
	}
	return Position(total), nil
}

// scaleDecimal multiplies an unsigned decimal string by scale without going
// through float64.
func scaleDecimal(num string, scale time.Duration) (time.Duration, error) {
	whole, frac, _ := strings.Cut(num, ".")
	if whole == "" || !isDigits(whole) || !isDigits(frac) {
		return 0, errors.New("not a decimal")
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	var f int64
	if frac != "" {
		f, _ = strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
	}
	if w > math.MaxInt64/int64(scale) {
		return 0, errors.New("out of range")
	}
	d := time.Duration(w) * scale
	fd := time.Duration(f) * (scale / time.Second)
	if fd > math.MaxInt64-d {
		return 0, errors.New("out of range")
	}
	return d + fd, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// String formats p in seconds, e.g. "PT0S", "PT2.5S", "PT3600.02S".
func (p Position) String() string {
	d := time.Duration(p)
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	frac := int64(d % time.Second)
	if frac == 0 {
		return "PT" + strconv.FormatInt(secs, 10) + "S"
	}
	f := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return "PT" + strconv.FormatInt(secs, 10) + "." + f + "S"
}

// Duration returns p as a time.Duration.
func (p Position) Duration() time.Duration {
	return time.Duration(p)
}

// MarshalJSON encodes p in its wire form.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes the wire form.
func (p *Position) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPosition, data)
	}
	v, err := ParsePosition(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
