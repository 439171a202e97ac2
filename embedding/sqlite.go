package embedding

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"time"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LoadSQLite loads a model from table, which must have the columns
// word TEXT and embedding BLOB. Rows are read in rowid order, which defines
// the vocabulary order. Blobs hold little-endian float32 values.
//
// The caller registers the driver, e.g. with a blank import of
// modernc.org/sqlite.
func LoadSQLite(ctx context.Context, db *sql.DB, table string, optFns ...func(*Options)) (*Memory, error) {
	opts := applyOptions(optFns)
	start := time.Now()

	if db == nil {
		return nil, fmt.Errorf("embedding: db is nil")
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("embedding: invalid table name %q", table)
	}

	query := fmt.Sprintf(`SELECT word, embedding FROM %s ORDER BY rowid`, table)
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding: query %s: %w", table, err)
	}
	defer rows.Close()

	b := newMemoryBuilder(0, 0, opts.Float16)
	var vec []float32
	for rows.Next() {
		var (
			word string
			blob []byte
		)
		if err := rows.Scan(&word, &blob); err != nil {
			return nil, fmt.Errorf("embedding: scan %s: %w", table, err)
		}
		vec, err = decodeVector(blob, vec[:0])
		if err != nil {
			return nil, fmt.Errorf("embedding: word %q: %w", word, err)
		}
		if err := b.add(word, vec); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("embedding: read %s: %w", table, err)
	}

	m := b.build()
	if opts.Logger != nil {
		opts.Logger.Info("model loaded",
			"table", table,
			"words", m.Len(),
			"dimension", m.Dimension(),
			"float16", m.HalfPrecision(),
			"duration", time.Since(start),
		)
	}
	return m, nil
}

// StoreSQLite creates table (if missing) and inserts words with their
// vectors in order, in a single transaction.
func StoreSQLite(ctx context.Context, db *sql.DB, table string, words []string, vectors [][]float32) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("embedding: invalid table name %q", table)
	}
	if len(words) != len(vectors) {
		return fmt.Errorf("%w: %d words but %d vectors", ErrMalformed, len(words), len(vectors))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (word TEXT NOT NULL UNIQUE, embedding BLOB NOT NULL)`, table)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s(word, embedding) VALUES(?, ?)`, table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, w := range words {
		if _, err := stmt.ExecContext(ctx, w, encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("embedding: insert %q: %w", w, err)
		}
	}
	return tx.Commit()
}

func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte, dst []float32) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: blob length %d is not a multiple of 4", ErrMalformed, len(b))
	}
	for i := 0; i < len(b); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(b[i:])))
	}
	return dst, nil
}
