package db

import (
	"testing"

	"github.com/lib/pq"
)

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"postgres", Postgres, false},
		{"PostgreSQL", Postgres, false},
		{"sqlite", SQLite, false},
		{" sqlite3 ", SQLite, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDialect(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseDialect(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestRebind(t *testing.T) {
	query := "SELECT * FROM stops WHERE stop_id = ? AND stop_name = ?"
	if got := SQLite.Rebind(query); got != query {
		t.Errorf("sqlite should keep ? placeholders, got %s", got)
	}
	want := "SELECT * FROM stops WHERE stop_id = $1 AND stop_name = $2"
	if got := Postgres.Rebind(query); got != want {
		t.Errorf("Rebind() = %s, want %s", got, want)
	}
}

func TestAnyOf(t *testing.T) {
	clause, args := SQLite.AnyOf("t.service_id", []string{"A", "B", "C"})
	if clause != "t.service_id IN (?, ?, ?)" || len(args) != 3 {
		t.Errorf("unexpected sqlite clause %q with %d args", clause, len(args))
	}

	clause, args = Postgres.AnyOf("t.service_id", []string{"A", "B"})
	if clause != "t.service_id = ANY(?)" || len(args) != 1 {
		t.Fatalf("unexpected postgres clause %q with %d args", clause, len(args))
	}
	if _, ok := args[0].(*pq.StringArray); !ok {
		t.Errorf("expected pq.StringArray, got %T", args[0])
	}
}

func TestContainsFold(t *testing.T) {
	if got := Postgres.ContainsFold("s.stop_name"); got != `s.stop_name ILIKE ? ESCAPE '\'` {
		t.Errorf("unexpected postgres predicate %s", got)
	}
	if got := SQLite.ContainsFold("s.stop_name"); got != `casefold(s.stop_name) LIKE casefold(?) ESCAPE '\'` {
		t.Errorf("unexpected sqlite predicate %s", got)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"Stockholm": "Stockholm",
		"50%":       `50\%`,
		"a_b":       `a\_b`,
		`c:\x`:      `c:\\x`,
	}
	for in, want := range tests {
		if got := EscapeLike(in); got != want {
			t.Errorf("EscapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	if got := Placeholders(0); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
	if got := Placeholders(3); got != "?, ?, ?" {
		t.Errorf("unexpected %q", got)
	}
}
