// Package testutil holds fixtures shared by package tests: an embedded
// SQLite store and a small multi-modal GTFS feed.
package testutil

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
)

// OpenSQLite opens a fresh file-backed SQLite store removed after the test
func OpenSQLite(t testing.TB) *db.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "railquery.db")
	database, err := db.New("sqlite", path, logger.Nop())
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// WriteFeed writes files into a new directory and returns its path
func WriteFeed(t testing.TB, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return dir
}

// WriteFeedZip packs files into a zip archive under prefix and returns its path
func WriteFeedZip(t testing.TB, prefix string, files map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "feed.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(prefix + name)
		if err != nil {
			t.Fatalf("adding %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return path
}

// SampleFeed returns a copy of the fixture feed so callers may edit it.
//
// Rail: R1 (type 2) Stockholm - Göteborg, R2 (type 101) Stockholm - Uppsala,
// T1 (type 900) tram without trips. Bus: B1 (type 3) to Arlanda.
// Services: WEEKDAY Mon-Fri and WEEKEND Sat-Sun through 2025, EXTRA only by
// exception. 2025-06-18 (Wed) adds EXTRA; 2025-06-25 (Wed) both adds and
// removes EXTRA; 2025-12-25 (Thu) removes WEEKDAY and adds WEEKEND.
func SampleFeed() map[string]string {
	out := make(map[string]string, len(sampleFeed))
	for k, v := range sampleFeed {
		out[k] = v
	}
	return out
}

var sampleFeed = map[string]string{
	"agency.txt": `agency_id,agency_name,agency_url,agency_timezone,agency_lang
SJ,SJ,https://www.sj.se,Europe/Stockholm,sv
SL,SL,https://sl.se,Europe/Stockholm,sv
`,
	"stops.txt": `stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station,platform_code
740000001,Stockholm Centralstation,59.3303,18.0588,1,,
740000002,Göteborg Centralstation,57.7089,11.9732,1,,
740000003,Uppsala Centralstation,59.8586,17.6465,1,,
740000004,Södertälje Syd,59.1628,17.6454,1,,
740000005,Linköping Centralstation,58.4166,15.6255,1,,
740000006,Stockholm Cityterminalen,59.3317,18.0564,0,,
740000007,Arlanda Flygplats,59.6498,17.9301,0,,
740000008,Unused Halt,north,east,0,,
,Nameless,59.0,18.0,0,,
`,
	"routes.txt": `route_id,agency_id,route_short_name,route_long_name,route_type
R1,SJ,X2000,Stockholm - Göteborg,2
R2,SJ,RE,Stockholm - Uppsala,101
T1,SL,7,Spårväg City,900
B1,SL,583,Flygbussarna,3
R9,SJ,?,Broken,rail
`,
	"trips.txt": `route_id,service_id,trip_id,trip_headsign,direction_id,shape_id
R1,WEEKDAY,T100,Göteborg C,0,SH1
R1,WEEKDAY,T101,Göteborg C,0,SH1
R1,WEEKEND,T102,Göteborg C,0,SH1
R1,WEEKDAY,T103,Stockholm C,1,SH1
R2,WEEKDAY,T200,Uppsala C,0,
R2,EXTRA,T201,Uppsala C,0,
B1,WEEKDAY,B100,Arlanda,0,SH2
`,
	"stop_times.txt": `trip_id,arrival_time,departure_time,stop_id,stop_sequence
T100,6:05:00,6:10:00,740000001,1
T100,06:30:00,06:32:00,740000004,2
T100,08:00:00,08:03:00,740000005,3
T100,09:15:00,09:15:00,740000002,4
T101,10:05:00,10:10:00,740000001,1
T101,10:30:00,10:32:00,740000004,2
T101,13:15:00,13:15:00,740000002,3
T101,13:30:00,13:30:00,740099999,4
T102,08:05:00,08:10:00,740000001,1
T102,11:15:00,11:15:00,740000002,2
T103,07:00:00,07:00:00,740000002,1
T103,08:10:00,08:12:00,740000005,2
T103,10:05:00,10:05:00,740000001,3
T200,bogus,07:00:00,740000001,1
T200,07:40:00,07:40:00,740000003,2
T201,23:45:00,23:50:00,740000001,1
T201,24:30:00,24:30:00,740000003,2
B100,06:00:00,06:00:00,740000006,1
B100,06:45:00,06:45:00,740000007,2
,07:00:00,07:00:00,740000001,1
`,
	"calendar.txt": `service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date
WEEKDAY,1,1,1,1,1,0,0,20250101,20251231
WEEKEND,0,0,0,0,0,1,1,20250101,20251231
EXTRA,0,0,0,0,0,0,0,20250101,20251231
`,
	"calendar_dates.txt": `service_id,date,exception_type
EXTRA,20250618,1
EXTRA,20250625,1
EXTRA,20250625,2
WEEKDAY,20251225,2
WEEKEND,20251225,1
`,
	"shapes.txt": `shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence
SH1,59.3303,18.0588,1
SH1,58.4166,15.6255,2
SH1,57.7089,11.9732,3
SH2,59.3317,18.0564,1
SH2,59.6498,17.9301,2
`,
	"areas.txt": `area_id,area_name
A1,Stockholm
`,
	"stop_areas.txt": `area_id,stop_id
A1,740000001
A1,740000001
A1,740000006
`,
	"transfers.txt": `from_stop_id,to_stop_id,transfer_type,min_transfer_time
740000004,740000005,2,180
740000001,740000006,2,300
`,
}
