package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/railquery-data/internal/common/logger"
	"github.com/railquery-data/internal/testutil"
	"github.com/railquery-data/pkg/gtfs/models"
)

func TestNormalizeTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"08:05:00", "08:05:00", true},
		{"8:05:00", "08:05:00", true},
		{" 7:00:30 ", "07:00:30", true},
		{"24:30:00", "24:30:00", true},
		{"25:10:00", "25:10:00", true},
		{"", "", false},
		{"08:05", "", false},
		{"08:60:00", "", false},
		{"08:5:00", "", false},
		{"bogus", "", false},
		{"-1:00:00", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeTime(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeTime(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

type collected struct {
	stops     []*models.Stop
	routes    []*models.Route
	stopTimes []*models.StopTime
	calendars []*models.Calendar
	dates     []*models.CalendarDate
	files     []string
	dropped   map[string]int
}

func collect(c *collected) ParseCallbacks {
	c.dropped = make(map[string]int)
	return ParseCallbacks{
		OnStop:         func(s *models.Stop) error { c.stops = append(c.stops, s); return nil },
		OnRoute:        func(r *models.Route) error { c.routes = append(c.routes, r); return nil },
		OnStopTime:     func(st *models.StopTime) error { c.stopTimes = append(c.stopTimes, st); return nil },
		OnCalendar:     func(cal *models.Calendar) error { c.calendars = append(c.calendars, cal); return nil },
		OnCalendarDate: func(cd *models.CalendarDate) error { c.dates = append(c.dates, cd); return nil },
		OnFileComplete: func(name string, parsed, dropped int) error {
			c.files = append(c.files, name)
			c.dropped[name] = dropped
			return nil
		},
	}
}

func TestParseDirCoercesValues(t *testing.T) {
	dir := testutil.WriteFeed(t, testutil.SampleFeed())

	var c collected
	if err := New(logger.Nop()).ParsePath(context.Background(), dir, collect(&c)); err != nil {
		t.Fatalf("ParsePath failed: %v", err)
	}

	if len(c.stops) != 8 || c.dropped["stops.txt"] != 1 {
		t.Errorf("expected 8 stops and 1 dropped, got %d and %d", len(c.stops), c.dropped["stops.txt"])
	}
	for _, s := range c.stops {
		if s.StopID == "740000008" && (s.StopLat != nil || s.StopLon != nil) {
			t.Errorf("invalid coordinates should be nil, got %v %v", s.StopLat, s.StopLon)
		}
		if s.StopID == "740000001" && (s.StopLat == nil || *s.StopLat != 59.3303) {
			t.Errorf("unexpected latitude for Stockholm C: %v", s.StopLat)
		}
	}

	if len(c.routes) != 4 || c.dropped["routes.txt"] != 1 {
		t.Errorf("expected 4 routes and 1 dropped, got %d and %d", len(c.routes), c.dropped["routes.txt"])
	}

	if c.dropped["stop_times.txt"] != 1 {
		t.Errorf("expected keyless stop time dropped, got %d", c.dropped["stop_times.txt"])
	}
	first := c.stopTimes[0]
	if first.ArrivalTime != "06:05:00" || first.DepartureTime != "06:10:00" {
		t.Errorf("times not normalized: %q %q", first.ArrivalTime, first.DepartureTime)
	}
	for _, st := range c.stopTimes {
		if st.TripID == "T200" && st.StopSequence == 1 {
			if st.ArrivalTime != "" {
				t.Errorf("unparseable arrival should be empty, got %q", st.ArrivalTime)
			}
			if st.DepartureTime != "07:00:00" {
				t.Errorf("departure should survive, got %q", st.DepartureTime)
			}
		}
	}

	if len(c.calendars) != 3 {
		t.Fatalf("expected 3 calendars, got %d", len(c.calendars))
	}
	weekday := c.calendars[0]
	if !weekday.Monday || !weekday.Friday || weekday.Saturday {
		t.Errorf("weekday flags wrong: %+v", weekday)
	}
	if weekday.StartDate.Format("2006-01-02") != "2025-01-01" {
		t.Errorf("unexpected start date %v", weekday.StartDate)
	}

	if len(c.dates) != 5 {
		t.Errorf("expected 5 calendar dates, got %d", len(c.dates))
	}
}

func TestParseFollowsReferenceOrder(t *testing.T) {
	dir := testutil.WriteFeed(t, testutil.SampleFeed())

	var c collected
	if err := New(logger.Nop()).ParseDir(context.Background(), dir, collect(&c)); err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}

	index := make(map[string]int)
	for i, f := range c.files {
		index[f] = i
	}
	if index["trips.txt"] > index["stop_times.txt"] || index["stops.txt"] > index["trips.txt"] {
		t.Errorf("unexpected file order %v", c.files)
	}
	if len(c.files) != len(parseOrder) {
		t.Errorf("expected every file completed, got %v", c.files)
	}
}

func TestParseZipWithTopLevelFolder(t *testing.T) {
	path := testutil.WriteFeedZip(t, "sweden/", testutil.SampleFeed())

	var c collected
	if err := New(logger.Nop()).ParsePath(context.Background(), path, collect(&c)); err != nil {
		t.Fatalf("ParsePath failed: %v", err)
	}
	if len(c.stops) != 8 {
		t.Errorf("expected 8 stops from zip, got %d", len(c.stops))
	}
}

func TestParseMissingRequiredFile(t *testing.T) {
	files := testutil.SampleFeed()
	delete(files, "stop_times.txt")
	dir := testutil.WriteFeed(t, files)

	err := New(logger.Nop()).ParseDir(context.Background(), dir, ParseCallbacks{})
	if !errors.Is(err, ErrMissingRequiredFile) {
		t.Fatalf("expected ErrMissingRequiredFile, got %v", err)
	}
}

func TestParseSkipsMissingOptionalFiles(t *testing.T) {
	files := testutil.SampleFeed()
	delete(files, "shapes.txt")
	delete(files, "transfers.txt")
	delete(files, "areas.txt")
	delete(files, "stop_areas.txt")
	dir := testutil.WriteFeed(t, files)

	var c collected
	if err := New(logger.Nop()).ParseDir(context.Background(), dir, collect(&c)); err != nil {
		t.Fatalf("expected soft skip, got %v", err)
	}
	for _, f := range c.files {
		if f == "shapes.txt" {
			t.Error("shapes.txt should not be reported")
		}
	}
}

func TestParseStripsByteOrderMark(t *testing.T) {
	files := testutil.SampleFeed()
	files["stops.txt"] = "\ufeffstop_id,stop_name\nS1,Malmö C\n"
	dir := testutil.WriteFeed(t, files)

	var c collected
	if err := New(logger.Nop()).ParseDir(context.Background(), dir, collect(&c)); err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}
	if len(c.stops) != 1 || c.stops[0].StopID != "S1" {
		t.Errorf("expected stop S1, got %+v", c.stops)
	}
}

func TestParseRejectsUnknownExceptionType(t *testing.T) {
	files := testutil.SampleFeed()
	files["calendar_dates.txt"] = "service_id,date,exception_type\nX,20250101,3\nX,2025-01-01,1\nX,20250102,1\n"
	dir := testutil.WriteFeed(t, files)

	var c collected
	if err := New(logger.Nop()).ParseDir(context.Background(), dir, collect(&c)); err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}
	if len(c.dates) != 1 || c.dropped["calendar_dates.txt"] != 2 {
		t.Errorf("expected 1 kept and 2 dropped, got %d and %d", len(c.dates), c.dropped["calendar_dates.txt"])
	}
}

func TestParseCallbackErrorStops(t *testing.T) {
	dir := testutil.WriteFeed(t, testutil.SampleFeed())
	boom := errors.New("boom")

	err := New(logger.Nop()).ParseDir(context.Background(), dir, ParseCallbacks{
		OnRoute: func(*models.Route) error { return boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestParseHonoursCancellation(t *testing.T) {
	dir := testutil.WriteFeed(t, testutil.SampleFeed())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := New(logger.Nop()).ParseDir(ctx, dir, ParseCallbacks{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
