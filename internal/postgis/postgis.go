// Package postgis bulk-loads layers into PostGIS tables over the COPY
// protocol.
package postgis

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/layer"
)

const (
	defaultBatchSize = 5000
	geomColumn       = "geom"
)

// Pool is the subset of pgxpool.Pool used here; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Connect opens a pgx pool and pings it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, eris.New("postgis: database url is empty")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgis: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgis: ping")
	}
	return pool, nil
}

// Target names the destination table.
type Target struct {
	Schema    string
	Table     string
	BatchSize int
	// Replace drops an existing table first.
	Replace bool
}

// ParseTarget splits "schema.table"; a bare name uses defaultSchema.
func ParseTarget(name, defaultSchema string) (Target, error) {
	schema, table, ok := strings.Cut(name, ".")
	if !ok {
		schema, table = defaultSchema, name
	}
	if schema == "" || table == "" || strings.Contains(table, ".") {
		return Target{}, eris.Errorf("postgis: invalid table name %q", name)
	}
	return Target{Schema: schema, Table: table}, nil
}

func (t Target) ident() pgx.Identifier { return pgx.Identifier{t.Schema, t.Table} }

// Columns returns the table's attribute columns for l: field names lower
// cased, in field order, followed by the geometry column.
func Columns(l *layer.Layer) []string {
	cols := make([]string, 0, len(l.Fields)+1)
	for _, f := range l.Fields {
		cols = append(cols, strings.ToLower(f))
	}
	return append(cols, geomColumn)
}

// CreateTableSQL returns the DDL for l's table. Attributes are text; the
// geometry column is constrained to the layer's SRID when known.
func CreateTableSQL(t Target, l *layer.Layer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (gid serial PRIMARY KEY", t.ident().Sanitize())
	for _, col := range Columns(l)[:len(l.Fields)] {
		fmt.Fprintf(&b, ", %s text", pgx.Identifier{col}.Sanitize())
	}
	srid := 0
	if l.CRS != nil {
		srid = l.CRS.Code
	}
	fmt.Fprintf(&b, ", %s geometry(Geometry, %d))", geomColumn, srid)
	return b.String()
}

// CopyLayer creates the target table and COPYs every record into it in
// batches, then indexes the geometry. Returns rows written.
func CopyLayer(ctx context.Context, pool Pool, l *layer.Layer, t Target) (int64, error) {
	if l == nil {
		return 0, eris.New("postgis: nil layer")
	}
	batchSize := t.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	log := zap.L().With(
		zap.String("component", "postgis.copy"),
		zap.String("table", t.Schema+"."+t.Table),
		zap.Int("records", l.Len()),
	)

	if t.Replace {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+t.ident().Sanitize()); err != nil {
			return 0, eris.Wrapf(err, "postgis: drop %s.%s", t.Schema, t.Table)
		}
	}
	if _, err := pool.Exec(ctx, CreateTableSQL(t, l)); err != nil {
		return 0, eris.Wrapf(err, "postgis: create %s.%s", t.Schema, t.Table)
	}

	rows, err := Rows(l)
	if err != nil {
		return 0, err
	}
	columns := Columns(l)

	var total int64
	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))
		n, err := pool.CopyFrom(ctx, t.ident(), columns, pgx.CopyFromRows(rows[i:end]))
		if err != nil {
			return total, eris.Wrapf(err, "postgis: COPY into %s.%s (batch %d-%d)", t.Schema, t.Table, i, end)
		}
		total += n
		log.Debug("batch loaded", zap.Int("batch_start", i), zap.Int("batch_end", end), zap.Int64("batch_rows", n))
	}

	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)",
		pgx.Identifier{t.Table + "_geom_idx"}.Sanitize(), t.ident().Sanitize(), geomColumn)
	if _, err := pool.Exec(ctx, index); err != nil {
		return total, eris.Wrapf(err, "postgis: index %s.%s", t.Schema, t.Table)
	}

	log.Info("layer loaded", zap.Int64("rows", total))
	return total, nil
}

// Rows converts records to COPY rows: attribute strings then EWKB.
func Rows(l *layer.Layer) ([][]any, error) {
	rows := make([][]any, 0, l.Len())
	for i, rec := range l.Records {
		wkb, err := EncodeEWKB(rec.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "postgis: record %d", i)
		}
		row := make([]any, 0, len(l.Fields)+1)
		for _, f := range l.Fields {
			row = append(row, rec.Attrs[f])
		}
		rows = append(rows, append(row, wkb))
	}
	return rows, nil
}

// EncodeEWKB encodes g as little-endian EWKB carrying its SRID. A nil
// geometry encodes to nil, loaded as NULL.
func EncodeEWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgis: encode ewkb")
	}
	return data, nil
}
