package markethours

import (
	"fmt"
	"strings"
	"time"
)

// nseHolidays lists exchange holidays known at build time. Extra dates can
// be supplied at runtime through ParseHolidays.
var nseHolidays = []string{
	"2026-01-26", // Republic Day
	"2026-03-03", // Holi
	"2026-03-26", // Ram Navami
	"2026-03-31", // Mahavir Jayanti
	"2026-04-03", // Good Friday
	"2026-04-14", // Ambedkar Jayanti
	"2026-05-01", // Maharashtra Day
	"2026-05-28", // Bakri Id
	"2026-06-26", // Muharram
	"2026-09-14", // Ganesh Chaturthi
	"2026-10-02", // Gandhi Jayanti
	"2026-10-20", // Dussehra
	"2026-11-10", // Diwali Balipratipada
	"2026-11-24", // Guru Nanak Jayanti
	"2026-12-25", // Christmas
}

// ParseHolidays parses a comma-separated list of YYYY-MM-DD dates.
func ParseHolidays(s string) ([]time.Time, error) {
	var out []time.Time
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseInLocation("2006-01-02", part, IST)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", part, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func dateKey(t time.Time) string {
	return t.In(IST).Format("2006-01-02")
}
