package options

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"optiontrader/internal/markethours"
)

var (
	ErrBadExpiry     = errors.New("options: unrecognised expiry format")
	ErrUnknownExpiry = errors.New("options: expiry not listed for underlying")
	ErrNoExpiry      = errors.New("options: no upcoming expiry")
)

// expiryLayouts are the accepted spellings of an expiry date. Month names are
// matched case-insensitively.
var expiryLayouts = []string{
	"02Jan2006",   // 27MAR2025 (instrument master)
	"02Jan06",     // 27MAR25 (trading symbols)
	"2006-01-02",  // 2025-03-27
	"02-01-2006",  // 27-03-2025
	"02-Jan-2006", // 27-Mar-2025 (NSE)
}

// ParseExpiry parses an expiry date in any accepted layout. The result is
// midnight IST of that date.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, s, markethours.IST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadExpiry, s)
}

// FormatExpiry renders t the way the instrument master spells expiries.
func FormatExpiry(t time.Time) string {
	return strings.ToUpper(t.In(markethours.IST).Format("02Jan2006"))
}

func sameDay(a, b time.Time) bool {
	a, b = a.In(markethours.IST), b.In(markethours.IST)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// ResolveExpiry picks the expiry to trade. A non-empty want must name one of
// the available expiries. An empty want selects the nearest expiry on or after
// now's trading date.
func ResolveExpiry(want string, available []time.Time, now time.Time) (time.Time, error) {
	if strings.TrimSpace(want) != "" {
		t, err := ParseExpiry(want)
		if err != nil {
			return time.Time{}, err
		}
		for _, a := range available {
			if sameDay(a, t) {
				return a, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownExpiry, FormatExpiry(t))
	}

	n := now.In(markethours.IST)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, markethours.IST)
	var best time.Time
	for _, a := range available {
		if a.Before(today) && !sameDay(a, today) {
			continue
		}
		if best.IsZero() || a.Before(best) {
			best = a
		}
	}
	if best.IsZero() {
		return time.Time{}, ErrNoExpiry
	}
	return best, nil
}
