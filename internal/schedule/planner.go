package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
	"github.com/railquery-data/internal/common/maintenance"
	"github.com/railquery-data/pkg/gtfs/models"
)

// Options bound the size of planner results
type Options struct {
	CandidateLimit  int
	DepartureLimit  int
	StationLimit    int
	StopSearchLimit int
	MaxLimit        int
}

func DefaultOptions() Options {
	return Options{
		CandidateLimit:  3,
		DepartureLimit:  50,
		StationLimit:    20,
		StopSearchLimit: 10,
		MaxLimit:        200,
	}
}

// DepartureQuery asks for direct trips from Origin to Destination. Date is
// YYYY-MM-DD and After is HH:MM or HH:MM:SS; either may be empty.
type DepartureQuery struct {
	Origin      string
	Destination string
	Date        string
	After       string
	Limit       int
}

// StationQuery asks for departures from a single station
type StationQuery struct {
	Station string
	Date    string
	After   string
	Limit   int
}

// Planner answers departure queries against the active rail snapshot
type Planner struct {
	db       *db.DB
	registry *db.SnapshotRegistry
	window   *maintenance.Window
	logger   logger.Logger
	opts     Options
}

// NewPlanner creates a planner. window may be nil when no import runs in
// this process.
func NewPlanner(database *db.DB, window *maintenance.Window, opts Options) *Planner {
	defaults := DefaultOptions()
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = defaults.CandidateLimit
	}
	if opts.DepartureLimit <= 0 {
		opts.DepartureLimit = defaults.DepartureLimit
	}
	if opts.StationLimit <= 0 {
		opts.StationLimit = defaults.StationLimit
	}
	if opts.StopSearchLimit <= 0 {
		opts.StopSearchLimit = defaults.StopSearchLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = defaults.MaxLimit
	}
	return &Planner{
		db:       database,
		registry: db.NewSnapshotRegistry(database),
		window:   window,
		logger:   database.Logger().With("component", "planner"),
		opts:     opts,
	}
}

// bind pins the call to the active snapshot. The returned func releases the
// maintenance window and must be called.
func (p *Planner) bind(ctx context.Context) (*models.SnapshotInfo, func(), error) {
	release := func() {}
	if p.window != nil {
		var err error
		if release, err = p.window.AcquireShared(ctx); err != nil {
			return nil, nil, fmt.Errorf("waiting for snapshot swap: %w", err)
		}
	}
	snap, err := p.registry.GetActiveSnapshot(ctx)
	if err != nil {
		release()
		return nil, nil, err
	}
	return snap, release, nil
}

func (p *Planner) limit(requested, fallback int) int {
	if requested <= 0 {
		return fallback
	}
	if requested > p.opts.MaxLimit {
		return p.opts.MaxLimit
	}
	return requested
}

// ParseDate accepts YYYY-MM-DD
func ParseDate(value string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	return t, err == nil
}

// ParseTime accepts a 24-hour HH:MM or HH:MM:SS and returns it as HH:MM:SS
func ParseTime(value string) (string, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("15:04:05"), true
		}
	}
	return "", false
}

// filters carries the validated date and time restrictions of a query
type filters struct {
	date     time.Time
	hasDate  bool
	after    string
	services []string
}

// prepare validates date and time. A non-nil Result means the query ends here.
func prepare(result *Result, date, after string) (*filters, *Result) {
	f := &filters{}
	if strings.TrimSpace(date) != "" {
		d, ok := ParseDate(date)
		if !ok {
			return nil, result.withReason(ReasonInvalidDate, "Invalid date format: %s", date)
		}
		f.date, f.hasDate = d, true
	}
	if strings.TrimSpace(after) != "" {
		t, ok := ParseTime(after)
		if !ok {
			return nil, result.withReason(ReasonInvalidTime, "Invalid time format: %s", after)
		}
		f.after = t
	}
	return f, nil
}

// where renders the service and time restrictions for a stop_times alias
func (f *filters) where(dialect db.Dialect, stopTimes string) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.hasDate {
		clause, serviceArgs := dialect.AnyOf("t.service_id", f.services)
		clauses = append(clauses, clause)
		args = append(args, serviceArgs...)
	}
	if f.after != "" {
		clauses = append(clauses, stopTimes+".departure_time >= ?")
		args = append(args, f.after)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "AND " + strings.Join(clauses, " AND "), args
}

// FindDepartures lists direct trips calling at an origin candidate and later
// at a destination candidate, earliest departure first.
func (p *Planner) FindDepartures(ctx context.Context, req DepartureQuery) (*Result, error) {
	result := newResult("Departures", departureColumns)

	f, done := prepare(result, req.Date, req.After)
	if done != nil {
		return done, nil
	}

	snap, release, err := p.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	origins, err := SearchStops(ctx, p.db, snap.SnapshotID, req.Origin, p.opts.CandidateLimit)
	if err != nil {
		return nil, err
	}
	if len(origins) == 0 {
		return result.withReason(ReasonNotFound, "Station '%s' not found", req.Origin), nil
	}
	destinations, err := SearchStops(ctx, p.db, snap.SnapshotID, req.Destination, p.opts.CandidateLimit)
	if err != nil {
		return nil, err
	}
	if len(destinations) == 0 {
		return result.withReason(ReasonNotFound, "Station '%s' not found", req.Destination), nil
	}

	if f.hasDate {
		f.services, err = ActiveServices(ctx, p.db, snap.SnapshotID, f.date)
		if err != nil {
			return nil, err
		}
		if len(f.services) == 0 {
			return result.withReason(ReasonNoService, "No services available on %s", req.Date), nil
		}
	}

	dialect := p.db.Dialect()
	originClause, originArgs := dialect.AnyOf("st_origin.stop_id", stopIDs(origins))
	destClause, destArgs := dialect.AnyOf("st_dest.stop_id", stopIDs(destinations))
	filterClause, filterArgs := f.where(dialect, "st_origin")

	query := fmt.Sprintf(`
		SELECT
			st_origin.departure_time AS departure,
			st_dest.arrival_time AS arrival,
			s_origin.stop_name AS origin_name,
			s_dest.stop_name AS destination_name,
			t.route_id,
			t.trip_id
		FROM %[1]s st_origin
		JOIN %[1]s st_dest
			ON st_dest.trip_id = st_origin.trip_id
		   AND st_origin.stop_sequence < st_dest.stop_sequence
		JOIN %[2]s t ON t.trip_id = st_origin.trip_id
		JOIN %[3]s s_origin ON s_origin.stop_id = st_origin.stop_id
		JOIN %[3]s s_dest ON s_dest.stop_id = st_dest.stop_id
		WHERE %[4]s
		  AND %[5]s
		  AND st_origin.departure_time IS NOT NULL
		  %[6]s
		ORDER BY st_origin.departure_time, t.trip_id, st_origin.stop_sequence, st_dest.stop_sequence
		LIMIT ?`,
		db.RailTable(snap.SnapshotID, db.RailStopTimes),
		db.RailTable(snap.SnapshotID, db.RailTrips),
		db.RailTable(snap.SnapshotID, db.RailStops),
		originClause,
		destClause,
		filterClause,
	)

	args := append(originArgs, destArgs...)
	args = append(args, filterArgs...)
	args = append(args, p.limit(req.Limit, p.opts.DepartureLimit))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying departures: %w", err)
	}
	if err := result.scanInto(rows); err != nil {
		return nil, fmt.Errorf("reading departures: %w", err)
	}

	p.logger.Debug("Departure search",
		"snapshot_id", snap.SnapshotID,
		"origin_candidates", len(origins),
		"destination_candidates", len(destinations),
		"rows", len(result.Rows))

	if result.Empty() {
		return result.withReason(ReasonNoDepartures, "No departures found for the specified route"), nil
	}
	return result, nil
}

// NextDepartures lists departures from any stop matching the station name
func (p *Planner) NextDepartures(ctx context.Context, req StationQuery) (*Result, error) {
	result := newResult("Next departures", stationDepartureColumns)

	f, done := prepare(result, req.Date, req.After)
	if done != nil {
		return done, nil
	}

	snap, release, err := p.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	stations, err := SearchStops(ctx, p.db, snap.SnapshotID, req.Station, p.opts.CandidateLimit)
	if err != nil {
		return nil, err
	}
	if len(stations) == 0 {
		return result.withReason(ReasonNotFound, "Station '%s' not found", req.Station), nil
	}
	result.Title = "Departures from " + stations[0].StopName

	if f.hasDate {
		f.services, err = ActiveServices(ctx, p.db, snap.SnapshotID, f.date)
		if err != nil {
			return nil, err
		}
		if len(f.services) == 0 {
			return result.withReason(ReasonNoService, "No services available on %s", req.Date), nil
		}
	}

	dialect := p.db.Dialect()
	stationClause, stationArgs := dialect.AnyOf("st.stop_id", stopIDs(stations))
	filterClause, filterArgs := f.where(dialect, "st")

	query := fmt.Sprintf(`
		SELECT
			st.departure_time AS departure,
			s.stop_name AS station_name,
			r.agency_name,
			r.route_short_name,
			t.trip_id,
			t.route_id,
			t.trip_headsign
		FROM %s st
		JOIN %s t ON t.trip_id = st.trip_id
		JOIN %s r ON r.route_id = t.route_id
		JOIN %s s ON s.stop_id = st.stop_id
		WHERE %s
		  AND st.departure_time IS NOT NULL
		  %s
		ORDER BY st.departure_time, t.trip_id, st.stop_sequence
		LIMIT ?`,
		db.RailTable(snap.SnapshotID, db.RailStopTimes),
		db.RailTable(snap.SnapshotID, db.RailTrips),
		db.RailTable(snap.SnapshotID, db.RailRoutesWithAgency),
		db.RailTable(snap.SnapshotID, db.RailStops),
		stationClause,
		filterClause,
	)

	args := append(stationArgs, filterArgs...)
	args = append(args, p.limit(req.Limit, p.opts.StationLimit))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying station departures: %w", err)
	}
	if err := result.scanInto(rows); err != nil {
		return nil, fmt.Errorf("reading station departures: %w", err)
	}

	if result.Empty() {
		return result.withReason(ReasonNoDepartures, "No departures found from %s", req.Station), nil
	}
	return result, nil
}

// RouteStops lists the calls of one trip in stop sequence order
func (p *Planner) RouteStops(ctx context.Context, tripID string) (*Result, error) {
	tripID = strings.TrimSpace(tripID)
	result := newResult("Stops for trip "+tripID, routeStopColumns)
	if tripID == "" {
		return result.withReason(ReasonNotFound, "Trip '' not found"), nil
	}

	snap, release, err := p.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := fmt.Sprintf(`
		SELECT st.stop_sequence, s.stop_name, st.arrival_time, st.departure_time, st.stop_id
		FROM %s st
		JOIN %s s ON s.stop_id = st.stop_id
		WHERE st.trip_id = ?
		ORDER BY st.stop_sequence`,
		db.RailTable(snap.SnapshotID, db.RailStopTimes),
		db.RailTable(snap.SnapshotID, db.RailStops),
	)

	rows, err := p.db.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, fmt.Errorf("querying trip stops: %w", err)
	}
	if err := result.scanInto(rows); err != nil {
		return nil, fmt.Errorf("reading trip stops: %w", err)
	}

	if result.Empty() {
		return result.withReason(ReasonNotFound, "Trip '%s' not found", tripID), nil
	}
	return result, nil
}

// StationSearch lists rail stations whose name contains query
func (p *Planner) StationSearch(ctx context.Context, query string, limit int) (*Result, error) {
	result := newResult("Stations", stationColumns)
	if strings.TrimSpace(query) == "" {
		return result, nil
	}

	snap, release, err := p.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	stops, err := SearchStops(ctx, p.db, snap.SnapshotID, query, p.limit(limit, p.opts.StopSearchLimit))
	if err != nil {
		return nil, err
	}
	for _, s := range stops {
		row := map[string]interface{}{
			"stop_id":   s.StopID,
			"stop_name": s.StopName,
			"stop_lat":  nil,
			"stop_lon":  nil,
		}
		if s.StopLat != nil {
			row["stop_lat"] = *s.StopLat
		}
		if s.StopLon != nil {
			row["stop_lon"] = *s.StopLon
		}
		result.Rows = append(result.Rows, row)
	}

	if result.Empty() {
		return result.withReason(ReasonNotFound, "Station '%s' not found", query), nil
	}
	return result, nil
}

// ServicesOn lists the service ids active on date (YYYY-MM-DD)
func (p *Planner) ServicesOn(ctx context.Context, date string) (*Result, error) {
	result := newResult("Active services on "+date, serviceColumns)
	d, ok := ParseDate(date)
	if !ok {
		return result.withReason(ReasonInvalidDate, "Invalid date format: %s", date), nil
	}

	snap, release, err := p.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	services, err := ActiveServices(ctx, p.db, snap.SnapshotID, d)
	if err != nil {
		return nil, err
	}
	for _, id := range services {
		result.Rows = append(result.Rows, map[string]interface{}{"service_id": id})
	}

	if result.Empty() {
		return result.withReason(ReasonNoService, "No services available on %s", date), nil
	}
	return result, nil
}

// ActiveSnapshot reports the snapshot queries currently bind to
func (p *Planner) ActiveSnapshot(ctx context.Context) (*models.SnapshotInfo, error) {
	return p.registry.GetActiveSnapshot(ctx)
}
