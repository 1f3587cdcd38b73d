// Package intent pulls origin, destination, date and time out of a free-text
// rail question with a few heuristics. It never fails; anything it cannot
// find is left empty.
package intent

import (
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Type string

const (
	Departures Type = "departures"
	Arrivals   Type = "arrivals"
	Routes     Type = "routes"
	Summary    Type = "summary"
)

// Intent is the structured form of a question. Date is YYYY-MM-DD and Time
// is HH:MM:SS; both are empty when absent.
type Intent struct {
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	Type        Type   `json:"type"`
	Raw         string `json:"raw"`
}

// Station names run until a time or date cue, punctuation or the end
var stopsPattern = regexp.MustCompile(
	`from\s+([a-zåäöøéü0-9 \-]+?)\s+to\s+([a-zåäöøéü0-9 \-]+?)` +
		`(?:\s+(?:after|at|by|around|tomorrow|today|tonight|this|on)\b|[?.!,]|$)`)

// Checked in order; the first whole-word match sets the time
var timeKeywords = []struct {
	pattern *regexp.Regexp
	at      string
}{
	{regexp.MustCompile(`\bmorning\b`), "06:00:00"},
	{regexp.MustCompile(`\bnoon\b`), "12:00:00"},
	{regexp.MustCompile(`\bafternoon\b`), "14:00:00"},
	{regexp.MustCompile(`\bevening\b`), "18:00:00"},
	{regexp.MustCompile(`\b(?:to)?night\b`), "21:00:00"},
}

type Extractor struct {
	// Now returns the reference time for relative expressions
	Now      func() time.Time
	Location *time.Location
	parser   *when.Parser
}

// NewExtractor resolves relative dates in loc
func NewExtractor(loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.Local
	}
	w := when.New(&rules.Options{
		Distance:     10,
		MatchByOrder: true,
	})
	w.Add(en.All...)
	w.Add(common.All...)

	return &Extractor{
		Now:      time.Now,
		Location: loc,
		parser:   w,
	}
}

// Parse extracts an Intent from message
func (e *Extractor) Parse(message string) Intent {
	lowered := strings.ToLower(message)
	origin, destination := extractStops(lowered)
	date, clock := e.extractDateTime(lowered)

	return Intent{
		Origin:      origin,
		Destination: destination,
		Date:        date,
		Time:        clock,
		Type:        detectType(lowered),
		Raw:         message,
	}
}

func extractStops(text string) (string, string) {
	m := stopsPattern.FindStringSubmatch(text)
	if m == nil {
		return "", ""
	}
	return titleCase(m[1]), titleCase(m[2])
}

func titleCase(s string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(s))
}

func detectType(text string) Type {
	switch {
	case strings.Contains(text, "arriv"):
		return Arrivals
	case strings.Contains(text, "route"), strings.Contains(text, "how to get"):
		return Routes
	case strings.Contains(text, "summary"), strings.Contains(text, "freq"):
		return Summary
	default:
		return Departures
	}
}

func (e *Extractor) extractDateTime(text string) (string, string) {
	now := e.Now().In(e.Location).Truncate(time.Minute)
	var date, clock string

	if r, err := e.parser.Parse(text, now); err == nil && r != nil {
		date = r.Time.Format("2006-01-02")
		clock = r.Time.Format("15:04:05")
	}

	// today and tonight are checked last so they win over tomorrow
	if strings.Contains(text, "tomorrow") {
		date = now.AddDate(0, 0, 1).Format("2006-01-02")
	}
	if strings.Contains(text, "today") || strings.Contains(text, "tonight") {
		date = now.Format("2006-01-02")
	}

	for _, kw := range timeKeywords {
		if kw.pattern.MatchString(text) {
			clock = kw.at
			break
		}
	}

	return date, clock
}
