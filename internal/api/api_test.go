package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
	"github.com/railquery-data/internal/common/maintenance"
	"github.com/railquery-data/internal/gtfs-static/importer"
	"github.com/railquery-data/internal/intent"
	"github.com/railquery-data/internal/rail"
	"github.com/railquery-data/internal/schedule"
	"github.com/railquery-data/internal/testutil"
)

func newServer(t *testing.T, materialize bool) *httptest.Server {
	t.Helper()
	database := testutil.OpenSQLite(t)
	ctx := context.Background()

	if _, err := importer.NewImporter(database, 100, 10).Import(ctx, testutil.WriteFeed(t, testutil.SampleFeed())); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if materialize {
		if _, err := rail.NewMaterializer(database).Materialize(ctx); err != nil {
			t.Fatalf("materialize failed: %v", err)
		}
	}

	extractor := intent.NewExtractor(time.UTC)
	extractor.Now = func() time.Time {
		return time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC)
	}

	planner := schedule.NewPlanner(database, nil, schedule.DefaultOptions())
	h := NewHandler(planner, database, extractor, 200, logger.Nop())
	router := NewRouter(h, RouterConfig{
		AllowedOrigins: []string{"http://localhost:5173"},
		RequestTimeout: 10 * time.Second,
	}, logger.Nop())

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, rawURL string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, rawURL, body string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(rawURL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	server := newServer(t, true)

	var body healthResponse
	if status := getJSON(t, server.URL+"/health", &body); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body.Status != "ok" || body.Snapshot == nil || body.Snapshot.SnapshotID != 1 {
		t.Errorf("unexpected health body %+v", body)
	}
}

func TestHealthWithoutSnapshot(t *testing.T) {
	server := newServer(t, false)

	var body healthResponse
	if status := getJSON(t, server.URL+"/health", &body); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if body.Status != "no-snapshot" {
		t.Errorf("expected no-snapshot status, got %s", body.Status)
	}
}

func TestDepartures(t *testing.T) {
	server := newServer(t, true)

	params := url.Values{}
	params.Set("from", "Stockholm")
	params.Set("to", "Göteborg")
	params.Set("date", "2025-06-18")
	params.Set("time", "07:00")

	var result schedule.Result
	if status := getJSON(t, server.URL+"/departures?"+params.Encode(), &result); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(result.Rows) != 1 || result.Rows[0]["trip_id"] != "T101" {
		t.Fatalf("expected T101, got %+v", result.Rows)
	}
	if len(result.Columns) != 6 || result.Columns[0].ID != "departure" {
		t.Errorf("unexpected columns %+v", result.Columns)
	}
}

func TestDeparturesReasonsAreOK(t *testing.T) {
	server := newServer(t, true)

	tests := []struct {
		query  string
		reason schedule.Reason
	}{
		{"from=Stockholm&to=Uppsala&date=2025-13-01", schedule.ReasonInvalidDate},
		{"from=Stockholm&to=Uppsala&time=25:00", schedule.ReasonInvalidTime},
		{"from=Kiruna&to=Uppsala", schedule.ReasonNotFound},
		{"from=Stockholm&to=Uppsala&date=2026-06-17", schedule.ReasonNoService},
	}
	for _, tt := range tests {
		var result schedule.Result
		if status := getJSON(t, server.URL+"/departures?"+tt.query, &result); status != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.query, status)
			continue
		}
		if result.Reason != tt.reason {
			t.Errorf("%s: expected reason %s, got %s", tt.query, tt.reason, result.Reason)
		}
		if len(result.Rows) != 0 {
			t.Errorf("%s: expected no rows", tt.query)
		}
	}
}

func TestDeparturesValidation(t *testing.T) {
	server := newServer(t, true)

	tests := []struct {
		query string
		field string
	}{
		{"from=Stockholm", "To"},
		{"to=Uppsala", "From"},
		{"from=Stockholm&to=Uppsala&limit=abc", "Limit"},
		{"from=Stockholm&to=Uppsala&limit=500", "Limit"},
		{"from=Stockholm&to=Uppsala&limit=-1", "Limit"},
	}
	for _, tt := range tests {
		var body ErrorResponse
		if status := getJSON(t, server.URL+"/departures?"+tt.query, &body); status != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.query, status)
			continue
		}
		if _, ok := body.Details[tt.field]; !ok {
			t.Errorf("%s: expected detail for %s, got %v", tt.query, tt.field, body.Details)
		}
	}
}

func TestDeparturesWithoutSnapshot(t *testing.T) {
	server := newServer(t, false)

	var body ErrorResponse
	status := getJSON(t, server.URL+"/departures?from=Stockholm&to=Uppsala", &body)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if body.Error != "No active rail snapshot" {
		t.Errorf("unexpected error %q", body.Error)
	}
}

func TestStationDepartures(t *testing.T) {
	server := newServer(t, true)

	var result schedule.Result
	if status := getJSON(t, server.URL+"/stations/Stockholm/departures?limit=2", &result); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if result.Title != "Departures from Stockholm Centralstation" {
		t.Errorf("unexpected title %q", result.Title)
	}
	if len(result.Rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(result.Rows))
	}
}

func TestTripStops(t *testing.T) {
	server := newServer(t, true)

	var result schedule.Result
	if status := getJSON(t, server.URL+"/trips/T100/stops", &result); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(result.Rows) == 0 {
		t.Fatal("expected stops for T100")
	}
	if result.Rows[0]["stop_name"] != "Stockholm Centralstation" {
		t.Errorf("expected trip to start in Stockholm, got %v", result.Rows[0]["stop_name"])
	}

	var missing schedule.Result
	getJSON(t, server.URL+"/trips/NOPE/stops", &missing)
	if missing.Reason != schedule.ReasonNotFound {
		t.Errorf("expected not-found, got %s", missing.Reason)
	}
}

func TestServices(t *testing.T) {
	server := newServer(t, true)

	var result schedule.Result
	if status := getJSON(t, server.URL+"/calendar/2025-06-18/services", &result); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var ids []string
	for _, row := range result.Rows {
		ids = append(ids, row["service_id"].(string))
	}
	if strings.Join(ids, ",") != "EXTRA,WEEKDAY" {
		t.Errorf("expected EXTRA,WEEKDAY, got %v", ids)
	}
}

func TestSearchStops(t *testing.T) {
	server := newServer(t, true)

	var result schedule.Result
	if status := getJSON(t, server.URL+"/stops?q=centralstation&limit=3", &result); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(result.Rows) != 3 {
		t.Errorf("expected 3 stations, got %d", len(result.Rows))
	}

	var body ErrorResponse
	if status := getJSON(t, server.URL+"/stops", &body); status != http.StatusBadRequest {
		t.Errorf("expected 400 without q, got %d", status)
	}
}

func TestQuery(t *testing.T) {
	server := newServer(t, true)

	var resp QueryResponse
	status := postJSON(t, server.URL+"/query",
		`{"message": "Trains from Stockholm to Göteborg tomorrow after 10:00"}`, &resp)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.Intent.Origin != "Stockholm" || resp.Intent.Destination != "Göteborg" {
		t.Errorf("unexpected intent %+v", resp.Intent)
	}
	if resp.Intent.Date != "2025-06-18" {
		t.Errorf("expected tomorrow, got %s", resp.Intent.Date)
	}
	if len(resp.Tables) != 1 || len(resp.Tables[0].Rows) != 1 {
		t.Fatalf("expected one table with one departure, got %+v", resp.Tables)
	}
	if resp.Tables[0].Rows[0]["trip_id"] != "T101" {
		t.Errorf("expected T101, got %v", resp.Tables[0].Rows[0]["trip_id"])
	}
	if !strings.HasPrefix(resp.Summary, "Departures from Stockholm to Göteborg on 2025-06-18") {
		t.Errorf("unexpected summary %q", resp.Summary)
	}
}

func TestQueryMissingStops(t *testing.T) {
	server := newServer(t, true)

	var resp QueryResponse
	if status := postJSON(t, server.URL+"/query", `{"message": "Show me departures"}`, &resp); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(resp.Tables) != 0 || len(resp.Warnings) != 1 {
		t.Errorf("expected a warning and no tables, got %+v", resp)
	}
}

func TestQueryNoResults(t *testing.T) {
	server := newServer(t, true)

	var resp QueryResponse
	postJSON(t, server.URL+"/query", `{"message": "from Kiruna to Abisko"}`, &resp)
	if len(resp.Tables) != 1 || resp.Tables[0].Reason != schedule.ReasonNotFound {
		t.Fatalf("expected a not-found table, got %+v", resp.Tables)
	}
	if len(resp.Warnings) != 1 || !strings.Contains(resp.Warnings[0], "Kiruna") {
		t.Errorf("expected station warning, got %v", resp.Warnings)
	}
}

func TestQueryRejectsBadBodies(t *testing.T) {
	server := newServer(t, true)

	for _, body := range []string{`{"message": "   "}`, `{}`, `not json`} {
		if status := postJSON(t, server.URL+"/query", body, nil); status != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, status)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newServer(t, true)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/departures", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
}

func TestWriteInternalErrorMapsNoSnapshot(t *testing.T) {
	h := &Handler{logger: logger.Nop()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/departures", nil)

	h.writeInternalError(rec, req, db.ErrNoSnapshot)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No active rail snapshot") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestRequestTimeoutDuringSnapshotSwap(t *testing.T) {
	database := testutil.OpenSQLite(t)
	window := maintenance.NewWindow(logger.Nop())
	planner := schedule.NewPlanner(database, window, schedule.DefaultOptions())
	h := NewHandler(planner, database, intent.NewExtractor(time.UTC), 200, logger.Nop())
	router := NewRouter(h, RouterConfig{RequestTimeout: 100 * time.Millisecond}, logger.Nop())

	if err := window.LockForImport(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer window.UnlockAfterImport()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/departures?from=Stockholm&to=Uppsala", nil)

	start := time.Now()
	router.ServeHTTP(rec, req)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request returned after %s", elapsed)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "deadline exceeded") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
