// Package repository holds all SQL access. Writes go through a shared
// chunked-upsert helper so every dataset gets the same idempotency and
// bind-parameter guarantees; reads are plain per-repository queries.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/errkind"
)

const (
	// defaultChunkRows bounds one multi-row INSERT.
	defaultChunkRows = 3000

	// maxBindParams stays under SQLite's 32767 variable limit with headroom.
	maxBindParams = 32000
)

// ChunkError reports which chunk of a batched write failed. Chunks before
// Index are committed; chunks from Index on were not attempted.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// upsertSpec describes one table's idempotent write.
type upsertSpec struct {
	table    string
	columns  []string
	conflict []string // empty means plain INSERT
	update   []string // empty with conflict set means DO NOTHING
}

// sql builds the statement for n rows.
func (s upsertSpec) sql(n int) string {
	placeholderRow := "(" + strings.Repeat("?,", len(s.columns)-1) + "?)"
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.table)
	b.WriteString(" (")
	b.WriteString(strings.Join(s.columns, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(placeholderRow)
	}
	if len(s.conflict) > 0 {
		b.WriteString(" ON CONFLICT(")
		b.WriteString(strings.Join(s.conflict, ", "))
		b.WriteString(")")
		if len(s.update) == 0 {
			b.WriteString(" DO NOTHING")
		} else {
			b.WriteString(" DO UPDATE SET ")
			for i, col := range s.update {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(col)
				b.WriteString(" = excluded.")
				b.WriteString(col)
			}
		}
	}
	return b.String()
}

// chunkSize returns the row count per statement for this spec.
func (s upsertSpec) chunkSize() int {
	size := maxBindParams / len(s.columns)
	if size > defaultChunkRows {
		size = defaultChunkRows
	}
	if size < 1 {
		size = 1
	}
	return size
}

// upsertChunked writes rows in chunks, one transaction per chunk. Re-running
// the same batch is a no-op row-wise. Returns the number of rows written
// before any failure.
func upsertChunked(ctx context.Context, db *database.DB, spec upsertSpec, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	size := spec.chunkSize()
	written := 0
	for chunkIdx := 0; written < len(rows); chunkIdx++ {
		end := written + size
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[written:end]

		err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			args := make([]any, 0, len(chunk)*len(spec.columns))
			for _, row := range chunk {
				if len(row) != len(spec.columns) {
					return errkind.Newf(errkind.ValidationRejected,
						"row has %d values for %d columns in %s", len(row), len(spec.columns), spec.table)
				}
				args = append(args, row...)
			}
			_, err := tx.ExecContext(ctx, spec.sql(len(chunk)), args...)
			return err
		})
		if err != nil {
			return written, &ChunkError{Index: chunkIdx, Err: wrapWriteErr(err, spec.table)}
		}
		written = end

		// Cancellation is honored between chunks, never inside one.
		if err := ctx.Err(); err != nil && written < len(rows) {
			return written, &ChunkError{Index: chunkIdx + 1, Err: errkind.Wrap(err, errkind.KindOf(err), "batch interrupted")}
		}
	}
	return written, nil
}

func wrapWriteErr(err error, table string) error {
	if errkind.KindOf(err) != errkind.Unknown {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed") {
		return errkind.Wrap(err, errkind.WriteConflict, "write to "+table)
	}
	return errkind.Wrap(err, errkind.Unknown, "write to "+table)
}

const (
	dateLayout = "2006-01-02"
	tsLayout   = "2006-01-02 15:04:05"
)

func dateStr(t time.Time) string { return t.Format(dateLayout) }

func optDateStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func optTimeStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(tsLayout)
}

func parseDate(s string) (time.Time, error) {
	if len(s) > len(dateLayout) {
		return time.Parse(tsLayout, s)
	}
	return time.Parse(dateLayout, s)
}
