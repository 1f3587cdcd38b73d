package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Dialect captures the SQL differences between the supported stores.
// Statements are written with ? placeholders and rebound per dialect.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// DriverName is the database/sql driver registered for the dialect
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// Rebind converts ? placeholders to $n for Postgres
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// ContainsFold returns a case-insensitive LIKE predicate on column taking one
// pattern argument escaped with EscapeLike.
func (d Dialect) ContainsFold(column string) string {
	if d == Postgres {
		return column + ` ILIKE ? ESCAPE '\'`
	}
	return `casefold(` + column + `) LIKE casefold(?) ESCAPE '\'`
}

// AnyOf returns a membership predicate for column over values and its args.
// values must not be empty.
func (d Dialect) AnyOf(column string, values []string) (string, []interface{}) {
	if d == Postgres {
		return column + " = ANY(?)", []interface{}{pq.Array(values)}
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return column + " IN (" + Placeholders(len(values)) + ")", args
}

// Placeholders returns n comma separated ? markers
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// EscapeLike escapes LIKE wildcards so the value matches literally
func EscapeLike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}
