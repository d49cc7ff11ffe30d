package postgis

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/layer"
	"github.com/sells-group/geo-report/internal/layer/layertest"
)

func loadPumps(t *testing.T) *layer.Layer {
	t.Helper()
	ds, err := layer.Open(layertest.WriteSnow(t, t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	pumps, err := ds.Layer("Pumps")
	require.NoError(t, err)
	return pumps
}

func TestCopyLayer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pumps := loadPumps(t)
	target := Target{Schema: "snow", Table: "pumps", Replace: true}

	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "snow"."pumps"`)).
		WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "snow"."pumps" (gid serial PRIMARY KEY, "id" text, geom geometry(Geometry, 27700))`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"snow", "pumps"}, []string{"id", "geom"}).
		WillReturnResult(3)
	mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS "pumps_geom_idx" ON "snow"."pumps" USING GIST (geom)`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	n, err := CopyLayer(context.Background(), mock, pumps, target)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyLayer_Batches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pumps := loadPumps(t)

	mock.ExpectExec("CREATE TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"public", "pumps"}, []string{"id", "geom"}).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"public", "pumps"}, []string{"id", "geom"}).WillReturnResult(1)
	mock.ExpectExec("CREATE INDEX").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	n, err := CopyLayer(context.Background(), mock, pumps, Target{Schema: "public", Table: "pumps", BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyLayer_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"public", "pumps"}, []string{"id", "geom"}).
		WillReturnError(errors.New("permission denied"))

	_, err = CopyLayer(context.Background(), mock, loadPumps(t), Target{Schema: "public", Table: "pumps"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyLayer_CreateError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("no postgis"))

	_, err = CopyLayer(context.Background(), mock, loadPumps(t), Target{Schema: "public", Table: "pumps"})
	assert.ErrorContains(t, err, "no postgis")
}

func TestRows(t *testing.T) {
	pumps := loadPumps(t)
	rows, err := Rows(pumps)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "0", rows[0][0])

	g, err := ewkb.Unmarshal(rows[0][1].([]byte))
	require.NoError(t, err)
	assert.Equal(t, crs.EPSGBritishGrid, g.SRID())
	pt, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.InDelta(t, layertest.SnowPumps[0][0], pt.X(), 1e-9)
}

func TestEncodeEWKB_Nil(t *testing.T) {
	data, err := EncodeEWKB(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestParseTarget(t *testing.T) {
	tgt, err := ParseTarget("snow.deaths", "public")
	require.NoError(t, err)
	assert.Equal(t, Target{Schema: "snow", Table: "deaths"}, tgt)

	tgt, err = ParseTarget("deaths", "public")
	require.NoError(t, err)
	assert.Equal(t, "public", tgt.Schema)

	for _, bad := range []string{"", ".deaths", "a.b.c", "snow."} {
		_, err := ParseTarget(bad, "public")
		assert.Error(t, err, bad)
	}
}

func TestCreateTableSQL_NoCRS(t *testing.T) {
	l := &layer.Layer{Name: "x", Fields: []string{"Name", "GEOID"}}
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "public"."x" (gid serial PRIMARY KEY, "name" text, "geoid" text, geom geometry(Geometry, 0))`,
		CreateTableSQL(Target{Schema: "public", Table: "x"}, l))
}
