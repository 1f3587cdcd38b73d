package schedule

import (
	"database/sql"
	"fmt"
)

// Reason explains why a result is empty
type Reason string

const (
	ReasonInvalidDate  Reason = "invalid-date"
	ReasonInvalidTime  Reason = "invalid-time"
	ReasonNotFound     Reason = "not-found"
	ReasonNoService    Reason = "no-service"
	ReasonNoDepartures Reason = "no-departures"
)

type Column struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Result is a titled table. Rows are keyed by column id; NULL values are nil.
type Result struct {
	Title   string                   `json:"title"`
	Columns []Column                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
	Reason  Reason                   `json:"reason,omitempty"`
	Message string                   `json:"message,omitempty"`
}

func (r *Result) Empty() bool {
	return len(r.Rows) == 0
}

func newResult(title string, columns []Column) *Result {
	return &Result{
		Title:   title,
		Columns: columns,
		Rows:    []map[string]interface{}{},
	}
}

func (r *Result) withReason(reason Reason, format string, args ...interface{}) *Result {
	r.Reason = reason
	r.Message = fmt.Sprintf(format, args...)
	return r
}

// scanInto appends every row, mapping select-list positions onto column ids
func (r *Result) scanInto(rows *sql.Rows) error {
	defer rows.Close()

	for rows.Next() {
		values := make([]interface{}, len(r.Columns))
		ptrs := make([]interface{}, len(r.Columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}

		row := make(map[string]interface{}, len(r.Columns))
		for i, col := range r.Columns {
			if b, ok := values[i].([]byte); ok {
				row[col.ID] = string(b)
			} else {
				row[col.ID] = values[i]
			}
		}
		r.Rows = append(r.Rows, row)
	}
	return rows.Err()
}

var (
	departureColumns = []Column{
		{ID: "departure", Label: "Departure"},
		{ID: "arrival", Label: "Arrival"},
		{ID: "origin_name", Label: "Origin"},
		{ID: "destination_name", Label: "Destination"},
		{ID: "route_id", Label: "Route"},
		{ID: "trip_id", Label: "Trip"},
	}
	stationDepartureColumns = []Column{
		{ID: "departure", Label: "Departure"},
		{ID: "station_name", Label: "Station"},
		{ID: "agency_name", Label: "Operator"},
		{ID: "route_short_name", Label: "Line"},
		{ID: "trip_id", Label: "Trip"},
		{ID: "route_id", Label: "Route"},
		{ID: "trip_headsign", Label: "Headsign"},
	}
	routeStopColumns = []Column{
		{ID: "stop_sequence", Label: "#"},
		{ID: "stop_name", Label: "Stop"},
		{ID: "arrival_time", Label: "Arrival"},
		{ID: "departure_time", Label: "Departure"},
		{ID: "stop_id", Label: "Stop ID"},
	}
	stationColumns = []Column{
		{ID: "stop_id", Label: "Stop ID"},
		{ID: "stop_name", Label: "Station"},
		{ID: "stop_lat", Label: "Latitude"},
		{ID: "stop_lon", Label: "Longitude"},
	}
	serviceColumns = []Column{
		{ID: "service_id", Label: "Service"},
	}
)
