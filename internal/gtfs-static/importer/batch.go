package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/railquery-data/internal/common/db"
)

// batchInserter buffers rows and writes them as one multi-row INSERT
type batchInserter struct {
	tableName  string
	columns    []string
	values     []interface{}
	valueCount int
	batchSize  int
	loaded     int64
	tx         *db.Tx
}

func newBatchInserter(tableName string, columns []string, batchSize int) *batchInserter {
	return &batchInserter{
		tableName: tableName,
		columns:   columns,
		values:    make([]interface{}, 0, batchSize*len(columns)),
		batchSize: batchSize,
	}
}

func (b *batchInserter) Add(ctx context.Context, values ...interface{}) error {
	if len(values) != len(b.columns) {
		return fmt.Errorf("%s: got %d values for %d columns", b.tableName, len(values), len(b.columns))
	}
	b.values = append(b.values, values...)
	b.valueCount++

	if b.valueCount >= b.batchSize {
		return b.Flush(ctx)
	}

	return nil
}

func (b *batchInserter) Flush(ctx context.Context) error {
	if b.valueCount == 0 {
		return nil
	}

	result, err := b.tx.ExecContext(ctx, b.buildInsertQuery(), b.values...)
	if err != nil {
		return fmt.Errorf("executing batch insert: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		b.loaded += n
	}

	// Reset
	b.values = b.values[:0]
	b.valueCount = 0

	return nil
}

// buildInsertQuery skips rows that repeat a primary key already loaded
func (b *batchInserter) buildInsertQuery() string {
	row := "(" + db.Placeholders(len(b.columns)) + ")"

	var sb strings.Builder
	sb.Grow(len(row)*b.valueCount + 64)
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", b.tableName, strings.Join(b.columns, ", "))

	for i := 0; i < b.valueCount; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(row)
	}

	sb.WriteString(" ON CONFLICT DO NOTHING")

	return sb.String()
}
