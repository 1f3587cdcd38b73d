package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/railquery-data/internal/schedule"
)

func TestPrintResult(t *testing.T) {
	result := &schedule.Result{
		Title: "Departures",
		Columns: []schedule.Column{
			{ID: "departure", Label: "Departure"},
			{ID: "trip_id", Label: "Trip"},
		},
		Rows: []map[string]interface{}{
			{"departure": "10:10:00", "trip_id": "T101"},
			{"departure": "11:00:00", "trip_id": nil},
		},
	}

	var buf bytes.Buffer
	if err := printResult(&buf, result); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected title, header and 2 rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "Departure") || !strings.Contains(lines[1], "Trip") {
		t.Errorf("unexpected header %q", lines[1])
	}
	if !strings.Contains(lines[2], "T101") {
		t.Errorf("unexpected row %q", lines[2])
	}
	if strings.Contains(lines[3], "nil") {
		t.Errorf("NULL cell should print empty, got %q", lines[3])
	}
}

func TestPrintEmptyResult(t *testing.T) {
	result := &schedule.Result{
		Title:   "Departures",
		Reason:  schedule.ReasonNotFound,
		Message: "Station 'Kiruna' not found",
	}

	var buf bytes.Buffer
	if err := printResult(&buf, result); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Station 'Kiruna' not found (not-found)") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
