// Package markethours answers whether the NSE F&O session is open.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session bounds in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// Calendar is the trading calendar: weekdays minus holidays, 09:15 to 15:30 IST.
type Calendar struct {
	holidays map[string]bool
}

// NewCalendar returns a calendar with the built-in holidays plus extra.
func NewCalendar(extra ...time.Time) *Calendar {
	c := &Calendar{holidays: make(map[string]bool, len(nseHolidays)+len(extra))}
	for _, d := range nseHolidays {
		t, _ := time.ParseInLocation("2006-01-02", d, IST)
		c.holidays[dateKey(t)] = true
	}
	for _, t := range extra {
		c.holidays[dateKey(t)] = true
	}
	return c
}

// Default is the calendar with only the built-in holidays.
var Default = NewCalendar()

// IsHoliday reports whether t's IST date is an exchange holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[dateKey(t)]
}

// IsTradingDay reports whether t's IST date is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd != time.Saturday && wd != time.Sunday && !c.IsHoliday(t)
}

// IsOpen reports whether t falls inside the session on a trading day.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	ist := t.In(IST)
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// NextOpen returns the next session open at or after t. If the session is
// currently open, it returns the next day's open.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	todayOpen := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	if !ist.After(todayOpen) && c.IsTradingDay(ist) {
		return todayOpen
	}

	d := todayOpen.AddDate(0, 0, 1)
	for i := 0; i < 30; i++ {
		if c.IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// Close returns the session close on t's IST date.
func (c *Calendar) Close(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}

// UntilOpen returns how long until the next open, or 0 while open.
func (c *Calendar) UntilOpen(t time.Time) time.Duration {
	if c.IsOpen(t) {
		return 0
	}
	return c.NextOpen(t).Sub(t)
}

// Status returns a human-readable market status.
func (c *Calendar) Status(t time.Time) string {
	if c.IsOpen(t) {
		return fmt.Sprintf("open, closes in %s", fmtDur(c.Close(t).Sub(t)))
	}
	next := c.NextOpen(t).In(IST)
	return fmt.Sprintf("closed, opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

// IsMarketOpen reports whether the session is open on the default calendar.
func IsMarketOpen(t time.Time) bool { return Default.IsOpen(t) }

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
