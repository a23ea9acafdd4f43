package toolchain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolchain_RoundTrip(t *testing.T) {
	date := NewDate(2024, time.February, 1)

	for _, channel := range Channels {
		for _, archive := range []*Date{nil, &date} {
			tc := New(channel, archive)

			t.Run(tc.String(), func(t *testing.T) {
				parsed, err := Parse(tc.String())
				require.NoError(t, err)
				assert.Equal(t, tc, parsed)
			})
		}
	}
}

func TestToolchain_String(t *testing.T) {
	date := NewDate(2016, time.March, 5)

	assert.Equal(t, "stable", New(Stable, nil).String())
	assert.Equal(t, "nightly-2016-03-05", New(Nightly, &date).String())
	assert.Equal(t, "beta-2016-03-05", New(Beta, &date).String())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "unknown channel", input: "aurora"},
		{name: "unknown channel with date", input: "aurora-2024-01-01"},
		{name: "bad date", input: "nightly-2024-13-01"},
		{name: "trailing dash", input: "beta-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestDate_Compare(t *testing.T) {
	a := NewDate(2024, time.January, 31)
	b := NewDate(2024, time.February, 1)
	c := NewDate(2025, time.January, 1)

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, c.After(b))
	assert.False(t, a.After(b))
}

func TestDate_JSON(t *testing.T) {
	date := NewDate(2024, time.March, 1)

	data, err := json.Marshal(struct {
		D Date      `json:"d"`
		T Toolchain `json:"t"`
	}{D: date, T: New(Nightly, &date)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-03-01","t":"nightly-2024-03-01"}`, string(data))

	var decoded struct {
		D Date      `json:"d"`
		T Toolchain `json:"t"`
	}

	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, date, decoded.D)
	assert.Equal(t, New(Nightly, &date), decoded.T)
}
