package dates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day, in minutes since midnight.
type Clock int

// ParseClock parses "HH:MM" (hours 0-23, minutes 0-59). Either field
// may be a single digit: "9:30" and "14:5" are 09:30 and 14:05.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	h, m, ok := strings.Cut(s, ":")
	if !ok || !isClockField(h) || !isClockField(m) {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock(hour*60 + minute), nil
}

func isClockField(s string) bool {
	if len(s) == 0 || len(s) > 2 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String renders the clock as zero-padded HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant at clock c on day's calendar date, in loc.
func (c Clock) On(day time.Time, loc *time.Location) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, int(c)/60, int(c)%60, 0, 0, loc)
}

// Window is a reporting interval with a human label.
type Window struct {
	Start time.Time // inclusive
	End   time.Time // inclusive, last nanosecond of the final day
	Label string
}

var monthNames = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

// MonthName returns the Portuguese name of m.
func MonthName(m time.Month) string { return monthNames[m-1] }

// ReportWindow maps the loose period vocabulary of financial reports to
// an interval: "semana" is the last seven days, "mês passado/anterior"
// the previous full month, "mês" the current month to date, "dia/hoje"
// today. Anything else is the current month to date.
func (r *Resolver) ReportWindow(text string) Window {
	p := Normalize(text)
	now := r.Now()
	today := Midnight(now)
	endOfToday := today.AddDate(0, 0, 1).Add(-time.Nanosecond)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, r.loc)

	switch {
	case containsAny(p, "semana", "week"):
		return Window{Start: today.AddDate(0, 0, -7), End: endOfToday, Label: "última semana"}
	case containsAny(p, "mes", "month"):
		if containsAny(p, "passado", "anterior") {
			prev := monthStart.AddDate(0, -1, 0)
			return Window{
				Start: prev,
				End:   monthStart.Add(-time.Nanosecond),
				Label: fmt.Sprintf("mês de %s/%d", MonthName(prev.Month()), prev.Year()),
			}
		}
		return Window{Start: monthStart, End: endOfToday, Label: "mês atual"}
	case containsAny(p, "dia", "day", "hoje"):
		return Window{Start: today, End: endOfToday, Label: "hoje"}
	default:
		return Window{Start: monthStart, End: endOfToday, Label: "mês atual"}
	}
}
