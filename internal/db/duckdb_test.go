package db

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/kickbox/internal/kberr"
)

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "", Config{}.Path())
	assert.Equal(t, filepath.Join("data", "duckdb", "kickbox.duckdb"), Config{DataDir: "data"}.Path())
	assert.Equal(t, filepath.Join("data", "duckdb", "taxi.duckdb"), Config{DataDir: "data", DBName: "taxi"}.Path())
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"nyctaxi"`, Ident("nyctaxi"))
	assert.Equal(t, `"ki_home.taxi-3f"`, Ident("ki_home.taxi-3f"))
	assert.Equal(t, `"a""b"`, Ident(`a"b`))
	assert.Equal(t, `'it''s'`, Literal("it's"))
}

func TestLoadSQL(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"trips.parquet", `CREATE OR REPLACE TABLE "taxi" AS SELECT * FROM read_parquet('trips.parquet')`},
		{"trips.CSV", `CREATE OR REPLACE TABLE "taxi" AS SELECT * FROM read_csv_auto('trips.CSV')`},
		{"trips.ndjson", `CREATE OR REPLACE TABLE "taxi" AS SELECT * FROM read_json_auto('trips.ndjson')`},
		{"zones.geojson", `CREATE OR REPLACE TABLE "taxi" AS SELECT * REPLACE (ST_AsText(geom) AS geom) FROM ST_Read('zones.geojson')`},
	}
	for _, tt := range tests {
		got, err := LoadSQL("taxi", tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got)
	}

	_, err := LoadSQL("taxi", "trips.xlsx")
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))
}

func TestSetupToleratesMissingExtensions(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSTALL spatial; LOAD spatial;")).WillReturnError(errors.New("offline"))
	mock.ExpectExec(regexp.QuoteMeta("INSTALL parquet; LOAD parquet;")).WillReturnResult(sqlmock.NewResult(0, 0))
	for _, m := range Macros {
		mock.ExpectExec(regexp.QuoteMeta(m)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, Setup(context.Background(), conn, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetupFailsOnMacro(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("INSTALL spatial").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSTALL parquet").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("STXY_INTERSECTS").WillReturnError(errors.New("no ST_Intersects"))

	assert.Error(t, Setup(context.Background(), conn, nil))
}

func TestLoadAndTables(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE OR REPLACE TABLE "taxi" AS SELECT * FROM read_parquet('trips.parquet')`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SHOW TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("taxi").AddRow("zones"))

	ctx := context.Background()
	require.NoError(t, Load(ctx, conn, "taxi", "trips.parquet"))
	tables, err := Tables(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"taxi", "zones"}, tables)
	require.NoError(t, mock.ExpectationsWereMet())
}
