// Package dates turns Portuguese relative date expressions ("amanhã",
// "quarta que vem", "próximos 15 dias") into calendar dates anchored to
// a fixed timezone.
//
// A [Resolver] is pure given its clock: tests inject a fixed now.
// Every date it returns is midnight in the resolver's location.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DateLayout is the display layout used in every user-facing message.
const DateLayout = "02/01/2006"

// Range is an inclusive span of calendar days.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether day falls inside the range.
func (r Range) Contains(day time.Time) bool {
	return !day.Before(r.Start) && !day.After(r.End)
}

// Resolver resolves relative expressions against "today" in loc.
type Resolver struct {
	loc *time.Location
	now func() time.Time
}

// NewResolver creates a resolver. A nil now uses time.Now; a nil loc
// uses time.Local.
func NewResolver(loc *time.Location, now func() time.Time) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{loc: loc, now: now}
}

// Location returns the resolver's timezone.
func (r *Resolver) Location() *time.Location { return r.loc }

// Now returns the current instant in the resolver's timezone.
func (r *Resolver) Now() time.Time { return r.now().In(r.loc) }

// Today returns midnight of the current local day.
func (r *Resolver) Today() time.Time { return Midnight(r.Now()) }

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

var daqui = regexp.MustCompile(`^daqui\s+(\d+)\s+dias?\b`)

// weekdays is ordered so that the first match wins deterministically.
var weekdays = []struct {
	name string
	day  time.Weekday
}{
	{"segunda", time.Monday},
	{"terca", time.Tuesday},
	{"quarta", time.Wednesday},
	{"quinta", time.Thursday},
	{"sexta", time.Friday},
	{"sabado", time.Saturday},
	{"domingo", time.Sunday},
}

// ResolvePeriod converts text into a date range. It returns false for
// anything it does not recognise; callers choose their own default.
func (r *Resolver) ResolvePeriod(text string) (Range, bool) {
	p := Normalize(text)
	if p == "" {
		return Range{}, false
	}
	today := r.Today()
	day := func(n int) Range {
		d := today.AddDate(0, 0, n)
		return Range{Start: d, End: d}
	}
	window := func(n int) Range {
		return Range{Start: today, End: today.AddDate(0, 0, n)}
	}

	switch p {
	case "hoje", "today":
		return day(0), true
	case "amanha", "tomorrow":
		return day(1), true
	case "ontem", "yesterday":
		return day(-1), true
	}

	if m := daqui.FindStringSubmatch(p); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return day(n), true
		}
	}

	switch {
	case containsAny(p, "proxima semana", "proximo semana", "proximos 7 dias"):
		return window(7), true
	case containsAny(p, "esta semana", "essa semana"):
		return window((7 - int(today.Weekday())) % 7), true
	case containsAny(p, "proximo mes", "mes que vem", "proximos 30 dias"):
		return window(30), true
	case containsAny(p, "15 dias", "quinze dias"):
		return window(15), true
	}

	qualified := containsAny(p, "que vem", "proxima", "proximo")
	for _, wd := range weekdays {
		if (strings.Contains(p, wd.name) && qualified) || p == wd.name || p == wd.name+"-feira" {
			ahead := (int(wd.day) - int(today.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			return day(ahead), true
		}
	}

	return Range{}, false
}

// ResolveDate resolves text to a single day: the start of ResolvePeriod.
func (r *Resolver) ResolveDate(text string) (time.Time, bool) {
	rng, ok := r.ResolvePeriod(text)
	if !ok {
		return time.Time{}, false
	}
	return rng.Start, true
}

// ParseLiteralDate accepts DD/MM/YYYY or YYYY-MM-DD.
func (r *Resolver) ParseLiteralDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, r.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDate tries the relative vocabulary first, then literal formats.
func (r *Resolver) ParseDate(s string) (time.Time, bool) {
	if d, ok := r.ResolveDate(s); ok {
		return d, true
	}
	return r.ParseLiteralDate(s)
}

// Normalize lowercases s, strips diacritics and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = strings.TrimRight(strings.TrimSpace(folded), ".!?,;")
	return strings.Join(strings.Fields(folded), " ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// FormatDate renders t as DD/MM/YYYY.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }
