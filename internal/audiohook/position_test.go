package audiohook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePosition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Duration
	}{
		{"PT0S", 0},
		{"PT2.5S", 2500 * time.Millisecond},
		{"PT10M", 10 * time.Minute},
		{"PT1H2M3.25S", time.Hour + 2*time.Minute + 3250*time.Millisecond},
		{"PT0.000000001S", time.Nanosecond},
		{"PT3600.02S", time.Hour + 20*time.Millisecond},
		{" PT1S ", time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePosition(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Duration())
		})
	}
}

func TestParsePosition_invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "PT", "2.5", "P1D", "PTS", "PT-1S", "PT1S2M", "PT1.5.5S", "PT1X",
		"PT3000000H", "PT9223372037S", "PT2562047H47M16.854775808S", "PT99999999999999999999S"} {
		t.Run(in, func(t *testing.T) {
			t.Parallel()
			_, err := ParsePosition(in)
			assert.ErrorIs(t, err, ErrInvalidPosition)
		})
	}
}

func TestPosition_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "PT0S", Position(0).String())
	assert.Equal(t, "PT2.5S", Position(2500*time.Millisecond).String())
	assert.Equal(t, "PT3600.02S", Position(time.Hour+20*time.Millisecond).String())
	assert.Equal(t, "PT0.000000001S", Position(time.Nanosecond).String())
}

func TestPosition_String_parses_back(t *testing.T) {
	t.Parallel()

	for _, d := range []time.Duration{0, time.Nanosecond, 2500 * time.Millisecond, 90*time.Minute + 123456789} {
		p := Position(d)
		got, err := ParsePosition(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestPosition_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		P Position `json:"p"`
	}{Position(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":"PT1.5S"}`, string(b))

	var p Position
	require.NoError(t, json.Unmarshal([]byte(`"PT4S"`), &p))
	assert.Equal(t, 4*time.Second, p.Duration())

	assert.ErrorIs(t, json.Unmarshal([]byte(`5`), &p), ErrInvalidPosition)
	assert.ErrorIs(t, json.Unmarshal([]byte(`"five"`), &p), ErrInvalidPosition)
}
