package parser

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/railquery-data/internal/common/logger"
	"github.com/railquery-data/pkg/gtfs/models"
)

// ErrMissingRequiredFile is returned when the feed lacks a required table
var ErrMissingRequiredFile = errors.New("missing required GTFS file")

// RequiredFiles must be present in every feed
var RequiredFiles = []string{
	"agency.txt",
	"stops.txt",
	"routes.txt",
	"trips.txt",
	"stop_times.txt",
}

// parseOrder keeps referenced tables ahead of the tables referencing them
var parseOrder = []string{
	"agency.txt",
	"stops.txt",
	"routes.txt",
	"calendar.txt",
	"calendar_dates.txt",
	"shapes.txt",
	"trips.txt",
	"stop_times.txt",
	"areas.txt",
	"stop_areas.txt",
	"transfers.txt",
}

type Parser struct {
	logger logger.Logger
}

func New(logger logger.Logger) *Parser {
	return &Parser{logger: logger}
}

type ParseCallbacks struct {
	OnAgency       func(agency *models.Agency) error
	OnStop         func(stop *models.Stop) error
	OnRoute        func(route *models.Route) error
	OnTrip         func(trip *models.Trip) error
	OnStopTime     func(stopTime *models.StopTime) error
	OnCalendar     func(calendar *models.Calendar) error
	OnCalendarDate func(calendarDate *models.CalendarDate) error
	OnShape        func(shape *models.Shape) error
	OnArea         func(area *models.Area) error
	OnStopArea     func(stopArea *models.StopArea) error
	OnTransfer     func(transfer *models.Transfer) error
	// OnFileComplete receives the number of rows handed to callbacks and
	// the number dropped for missing or malformed keys
	OnFileComplete func(fileName string, parsed, dropped int) error
}

// ParsePath parses a feed directory or a .zip archive
func (p *Parser) ParsePath(ctx context.Context, path string, callbacks ParseCallbacks) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("opening feed: %w", err)
	}
	if info.IsDir() {
		return p.ParseDir(ctx, path, callbacks)
	}
	return p.ParseZip(ctx, path, callbacks)
}

func (p *Parser) ParseDir(ctx context.Context, dir string, callbacks ParseCallbacks) error {
	p.logger.Info("Parsing GTFS directory", "path", dir)
	return p.ParseFS(ctx, os.DirFS(dir), callbacks)
}

func (p *Parser) ParseZip(ctx context.Context, zipPath string, callbacks ParseCallbacks) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening zip file: %w", err)
	}
	defer reader.Close()

	p.logger.Info("Parsing GTFS zip file", "path", zipPath, "files", len(reader.File))
	return p.ParseFS(ctx, &reader.Reader, callbacks)
}

// ParseFS parses the GTFS tables found at the root of fsys, or inside its
// single top-level directory when the archive was packed with one.
func (p *Parser) ParseFS(ctx context.Context, fsys fs.FS, callbacks ParseCallbacks) error {
	root, err := feedRoot(fsys)
	if err != nil {
		return err
	}

	for _, name := range RequiredFiles {
		if _, err := fs.Stat(root, name); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingRequiredFile, name)
		}
	}

	for _, fileName := range parseOrder {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, err := root.Open(fileName)
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Info("Optional file not in feed, skipping", "file", fileName)
			continue
		}
		if err != nil {
			return fmt.Errorf("opening %s: %w", fileName, err)
		}

		err = p.parseFile(fileName, f, callbacks)
		f.Close()
		if err != nil {
			return fmt.Errorf("parsing %s: %w", fileName, err)
		}
	}

	p.logger.Info("GTFS parsing completed successfully")
	return nil
}

func feedRoot(fsys fs.FS) (fs.FS, error) {
	if _, err := fs.Stat(fsys, "agency.txt"); err == nil {
		return fsys, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading feed root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := fs.Stat(fsys, entry.Name()+"/agency.txt"); err == nil {
			return fs.Sub(fsys, entry.Name())
		}
	}
	return fsys, nil
}

// record pairs one CSV row with its header index
type record struct {
	fields []string
	header map[string]int
}

func (r record) str(field string) string {
	if idx, ok := r.header[field]; ok && idx < len(r.fields) {
		return strings.TrimSpace(r.fields[idx])
	}
	return ""
}

// optInt returns nil for empty or unparseable values
func (r record) optInt(field string) *int {
	v, err := strconv.Atoi(r.str(field))
	if err != nil {
		return nil
	}
	return &v
}

func (r record) optFloat(field string) *float64 {
	v, err := strconv.ParseFloat(r.str(field), 64)
	if err != nil {
		return nil
	}
	return &v
}

func (r record) flag(field string) bool {
	return r.str(field) == "1"
}

func (p *Parser) parseFile(fileName string, src io.Reader, callbacks ParseCallbacks) error {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1 // Variable number of fields
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		p.logger.Warn("Empty GTFS file", "file", fileName)
		return p.complete(fileName, 0, 0, callbacks)
	}
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	headerMap := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		headerMap[strings.TrimSpace(h)] = i
	}

	parsed, dropped := 0, 0
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading record %d: %w", parsed+dropped+1, err)
		}

		ok, err := p.dispatch(fileName, record{fields: fields, header: headerMap}, callbacks)
		if err != nil {
			return err
		}
		if ok {
			parsed++
		} else {
			dropped++
		}

		if (parsed+dropped)%100000 == 0 {
			p.logger.Debug("Progress", "file", fileName, "records", parsed+dropped)
		}
	}

	if dropped > 0 {
		p.logger.Warn("Dropped rows with missing or malformed keys",
			"file", fileName,
			"dropped", dropped)
	}
	p.logger.Info("File parsed", "name", fileName, "records", parsed)

	return p.complete(fileName, parsed, dropped, callbacks)
}

func (p *Parser) complete(fileName string, parsed, dropped int, callbacks ParseCallbacks) error {
	if callbacks.OnFileComplete != nil {
		if err := callbacks.OnFileComplete(fileName, parsed, dropped); err != nil {
			return fmt.Errorf("file complete callback: %w", err)
		}
	}
	return nil
}

// dispatch converts one row and hands it to its callback. It reports false
// when the row was dropped.
func (p *Parser) dispatch(fileName string, r record, cb ParseCallbacks) (bool, error) {
	switch fileName {
	case "agency.txt":
		return emit(parseAgency(r), cb.OnAgency)
	case "stops.txt":
		return emit(parseStop(r), cb.OnStop)
	case "routes.txt":
		return emit(parseRoute(r), cb.OnRoute)
	case "trips.txt":
		return emit(parseTrip(r), cb.OnTrip)
	case "stop_times.txt":
		return emit(parseStopTime(r), cb.OnStopTime)
	case "calendar.txt":
		return emit(parseCalendar(r), cb.OnCalendar)
	case "calendar_dates.txt":
		return emit(parseCalendarDate(r), cb.OnCalendarDate)
	case "shapes.txt":
		return emit(parseShape(r), cb.OnShape)
	case "areas.txt":
		return emit(parseArea(r), cb.OnArea)
	case "stop_areas.txt":
		return emit(parseStopArea(r), cb.OnStopArea)
	case "transfers.txt":
		return emit(parseTransfer(r), cb.OnTransfer)
	}
	return true, nil
}

func emit[T any](row *T, fn func(*T) error) (bool, error) {
	if row == nil {
		return false, nil
	}
	if fn != nil {
		if err := fn(row); err != nil {
			return true, err
		}
	}
	return true, nil
}

// NormalizeTime pads a GTFS time of day to HH:MM:SS. Hours may exceed 23
// for trips running past midnight. It reports false for malformed input.
func NormalizeTime(value string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return "", false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || len(parts[0]) > 3 {
		return "", false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return "", false
	}
	s, err := strconv.Atoi(parts[2])
	if err != nil || s < 0 || s > 59 || len(parts[2]) != 2 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s), true
}

func parseDate(value string) (time.Time, bool) {
	t, err := time.Parse("20060102", strings.TrimSpace(value))
	return t, err == nil
}

func normalizedTime(r record, field string) string {
	t, _ := NormalizeTime(r.str(field))
	return t
}

func parseAgency(r record) *models.Agency {
	return &models.Agency{
		AgencyID:       r.str("agency_id"),
		AgencyName:     r.str("agency_name"),
		AgencyURL:      r.str("agency_url"),
		AgencyTimezone: r.str("agency_timezone"),
		AgencyLang:     r.str("agency_lang"),
		AgencyPhone:    r.str("agency_phone"),
		AgencyFareURL:  r.str("agency_fare_url"),
	}
}

func parseStop(r record) *models.Stop {
	stop := &models.Stop{
		StopID:             r.str("stop_id"),
		StopCode:           r.str("stop_code"),
		StopName:           r.str("stop_name"),
		StopDesc:           r.str("stop_desc"),
		StopLat:            r.optFloat("stop_lat"),
		StopLon:            r.optFloat("stop_lon"),
		LocationType:       r.optInt("location_type"),
		ParentStation:      r.str("parent_station"),
		ZoneID:             r.str("zone_id"),
		PlatformCode:       r.str("platform_code"),
		WheelchairBoarding: r.optInt("wheelchair_boarding"),
	}
	if stop.StopID == "" {
		return nil
	}
	return stop
}

func parseRoute(r record) *models.Route {
	routeType, err := strconv.Atoi(r.str("route_type"))
	if err != nil || r.str("route_id") == "" {
		return nil
	}
	return &models.Route{
		RouteID:        r.str("route_id"),
		AgencyID:       r.str("agency_id"),
		RouteShortName: r.str("route_short_name"),
		RouteLongName:  r.str("route_long_name"),
		RouteDesc:      r.str("route_desc"),
		RouteType:      routeType,
		RouteURL:       r.str("route_url"),
		RouteColor:     r.str("route_color"),
		RouteTextColor: r.str("route_text_color"),
	}
}

func parseTrip(r record) *models.Trip {
	trip := &models.Trip{
		TripID:               r.str("trip_id"),
		RouteID:              r.str("route_id"),
		ServiceID:            r.str("service_id"),
		TripHeadsign:         r.str("trip_headsign"),
		TripShortName:        r.str("trip_short_name"),
		DirectionID:          r.optInt("direction_id"),
		BlockID:              r.str("block_id"),
		ShapeID:              r.str("shape_id"),
		WheelchairAccessible: r.optInt("wheelchair_accessible"),
		BikesAllowed:         r.optInt("bikes_allowed"),
	}
	if trip.TripID == "" || trip.RouteID == "" || trip.ServiceID == "" {
		return nil
	}
	return trip
}

func parseStopTime(r record) *models.StopTime {
	seq, err := strconv.Atoi(r.str("stop_sequence"))
	if err != nil || r.str("trip_id") == "" || r.str("stop_id") == "" {
		return nil
	}
	return &models.StopTime{
		TripID:            r.str("trip_id"),
		StopSequence:      seq,
		StopID:            r.str("stop_id"),
		ArrivalTime:       normalizedTime(r, "arrival_time"),
		DepartureTime:     normalizedTime(r, "departure_time"),
		StopHeadsign:      r.str("stop_headsign"),
		PickupType:        r.optInt("pickup_type"),
		DropOffType:       r.optInt("drop_off_type"),
		Timepoint:         r.optInt("timepoint"),
		ShapeDistTraveled: r.optFloat("shape_dist_traveled"),
	}
}

func parseCalendar(r record) *models.Calendar {
	start, okStart := parseDate(r.str("start_date"))
	end, okEnd := parseDate(r.str("end_date"))
	if !okStart || !okEnd || r.str("service_id") == "" {
		return nil
	}
	return &models.Calendar{
		ServiceID: r.str("service_id"),
		Monday:    r.flag("monday"),
		Tuesday:   r.flag("tuesday"),
		Wednesday: r.flag("wednesday"),
		Thursday:  r.flag("thursday"),
		Friday:    r.flag("friday"),
		Saturday:  r.flag("saturday"),
		Sunday:    r.flag("sunday"),
		StartDate: start,
		EndDate:   end,
	}
}

func parseCalendarDate(r record) *models.CalendarDate {
	date, ok := parseDate(r.str("date"))
	exception := r.optInt("exception_type")
	if !ok || r.str("service_id") == "" || exception == nil {
		return nil
	}
	if *exception != models.ExceptionAdded && *exception != models.ExceptionRemoved {
		return nil
	}
	return &models.CalendarDate{
		ServiceID:     r.str("service_id"),
		Date:          date,
		ExceptionType: *exception,
	}
}

func parseShape(r record) *models.Shape {
	lat := r.optFloat("shape_pt_lat")
	lon := r.optFloat("shape_pt_lon")
	seq := r.optInt("shape_pt_sequence")
	if lat == nil || lon == nil || seq == nil || r.str("shape_id") == "" {
		return nil
	}
	return &models.Shape{
		ShapeID:           r.str("shape_id"),
		ShapePtLat:        *lat,
		ShapePtLon:        *lon,
		ShapePtSequence:   *seq,
		ShapeDistTraveled: r.optFloat("shape_dist_traveled"),
	}
}

func parseArea(r record) *models.Area {
	if r.str("area_id") == "" {
		return nil
	}
	return &models.Area{
		AreaID:   r.str("area_id"),
		AreaName: r.str("area_name"),
	}
}

func parseStopArea(r record) *models.StopArea {
	if r.str("area_id") == "" || r.str("stop_id") == "" {
		return nil
	}
	return &models.StopArea{
		AreaID: r.str("area_id"),
		StopID: r.str("stop_id"),
	}
}

func parseTransfer(r record) *models.Transfer {
	if r.str("from_stop_id") == "" || r.str("to_stop_id") == "" {
		return nil
	}
	return &models.Transfer{
		FromStopID:      r.str("from_stop_id"),
		ToStopID:        r.str("to_stop_id"),
		FromRouteID:     r.str("from_route_id"),
		ToRouteID:       r.str("to_route_id"),
		FromTripID:      r.str("from_trip_id"),
		ToTripID:        r.str("to_trip_id"),
		TransferType:    r.optInt("transfer_type"),
		MinTransferTime: r.optInt("min_transfer_time"),
	}
}
