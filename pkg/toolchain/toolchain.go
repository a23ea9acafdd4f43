package toolchain

import (
	"fmt"
	"strings"
	"time"
)

// Channel is a Rust release track.
type Channel string

// Supported release channels.
const (
	Stable  Channel = "stable"
	Beta    Channel = "beta"
	Nightly Channel = "nightly"
)

// Channels lists every channel in promotion order.
var Channels = []Channel{Stable, Beta, Nightly}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case Stable, Beta, Nightly:
		return true
	default:
		return false
	}
}

// ParseChannel validates and returns a channel name.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}

	return c, nil
}

const dateLayout = "2006-01-02"

// Date is a calendar date without time or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate returns the date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf returns the UTC calendar date of t.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()

	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: %w", s, err)
	}

	return DateOf(t), nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to
// or after o.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	default:
		return cmpInt(d.Day, o.Day)
	}
}

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.Compare(o) > 0 }

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Toolchain identifies a channel, optionally pinned to a dated archive.
type Toolchain struct {
	Channel     Channel
	ArchiveDate *Date
}

// New returns a toolchain for the channel, pinned to date when non-nil.
func New(channel Channel, date *Date) Toolchain {
	return Toolchain{Channel: channel, ArchiveDate: date}
}

// String returns the canonical encoding used as a storage key, e.g.
// "nightly-2024-02-01" or "stable".
func (t Toolchain) String() string {
	if t.ArchiveDate == nil {
		return string(t.Channel)
	}

	return string(t.Channel) + "-" + t.ArchiveDate.String()
}

// Parse decodes the canonical encoding produced by String.
func Parse(s string) (Toolchain, error) {
	name, rest, hasDate := strings.Cut(s, "-")

	channel, err := ParseChannel(name)
	if err != nil {
		return Toolchain{}, fmt.Errorf("parsing toolchain %q: %w", s, err)
	}

	if !hasDate {
		return Toolchain{Channel: channel}, nil
	}

	date, err := ParseDate(rest)
	if err != nil {
		return Toolchain{}, fmt.Errorf("parsing toolchain %q: %w", s, err)
	}

	return Toolchain{Channel: channel, ArchiveDate: &date}, nil
}

// MarshalText implements encoding.TextMarshaler using the canonical form.
func (t Toolchain) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Toolchain) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}
