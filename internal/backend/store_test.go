package backend

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/query"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn, nil), mock
}

func taxiRows(pickup time.Time) *sqlmock.Rows {
	return sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("vendor").OfType("VARCHAR", ""),
		sqlmock.NewColumn("pickup_time").OfType("TIMESTAMP", time.Time{}),
		sqlmock.NewColumn("fare").OfType("DOUBLE", 0.0),
	).AddRow(int64(1), "CMT", pickup, 12.5)
}

func expectCount(mock sqlmock.Sqlmock, table string, n int64) {
	mock.ExpectQuery(regexp.QuoteMeta(CountSQL(table))).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func TestStoreGetRecords(t *testing.T) {
	s, mock := newMockStore(t)
	pickup := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	expectCount(mock, "taxi-v1", 12)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "taxi-v1" LIMIT 10 OFFSET 0`)).WillReturnRows(taxiRows(pickup))

	data, err := s.GetRecords(context.Background(), query.Records("taxi-v1", 0))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, int64(12), data.TotalNumberOfRecords)
	assert.True(t, data.HasMoreRecords)
	assert.JSONEq(t, `{"type":"record","name":"type_name","fields":[
		{"name":"id","type":["long","null"]},
		{"name":"vendor","type":["string","null"]},
		{"name":"pickup_time","type":["long","null"]},
		{"name":"fare","type":["double","null"]}]}`, data.TypeSchema)
	require.Len(t, data.RecordsJSON, 1)
	assert.JSONEq(t, `{"id":1,"vendor":"CMT","pickup_time":1709303400000,"fare":12.5}`, data.RecordsJSON[0])
}

func TestStoreGetRecordsFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("Catalog Error: Table with name nope does not exist"))

	_, err := s.GetRecords(context.Background(), query.Records("nope", 0))
	assert.True(t, errors.Is(err, kberr.ErrBackend))
	assert.Contains(t, err.Error(), "does not exist")
}

func TestStoreFilterByRadius(t *testing.T) {
	s, mock := newMockStore(t)
	req := query.RadiusRequest{TableName: "taxi", ViewName: "taxi-v1", XCenter: 1, YCenter: 2, Radius: 100, XColumnName: "x", YColumnName: "y"}
	stmt, err := RadiusSQL(req)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	expectCount(mock, "taxi-v1", 3)

	data, err := s.FilterByRadius(context.Background(), query.EndpointFilterByRadius, req)
	require.NoError(t, err)
	assert.Equal(t, int64(3), data.Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFilterValidatesBeforeQuerying(t *testing.T) {
	s, mock := newMockStore(t)
	_, err := s.Filter(context.Background(), query.FilterRequest{TableName: "t", ViewName: "v"})
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGroupBy(t *testing.T) {
	s, mock := newMockStore(t)
	req := query.ClusterGroupBy("taxi", query.Coordinates{XAttr: "x", YAttr: "y"}, "geohash", 2, nil, "")
	gb, err := GroupBySQL(req)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(gb.SQL)).WillReturnRows(
		sqlmock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("geohash_prefix").OfType("VARCHAR", ""),
			sqlmock.NewColumn("clusterTotalSum").OfType("BIGINT", int64(0)),
			sqlmock.NewColumn("x").OfType("DOUBLE", 0.0),
			sqlmock.NewColumn("y").OfType("DOUBLE", 0.0),
		).
			AddRow("dr", int64(7), -73.9, 40.7).
			AddRow("9q", int64(2), -122.4, 37.7))

	data, err := s.GroupBy(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(2), data.TotalNumberOfRecords)
	assert.JSONEq(t, `{
		"column_1": ["dr", "9q"],
		"column_2": [7, 2],
		"column_3": [-73.9, -122.4],
		"column_4": [40.7, 37.7],
		"column_headers": ["geohash_prefix", "clusterTotalSum", "x", "y"],
		"column_datatypes": ["string", "long", "double", "double"]
	}`, data.JSONEncodedResponse)
}

func TestStoreGroupByEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	req := query.GroupByRequest{TableName: "taxi", ColumnNames: []string{"vendor", "COUNT(*) as n"}, Limit: -9999}
	gb, err := GroupBySQL(req)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta(gb.SQL)).WillReturnRows(sqlmock.NewRows([]string{"vendor", "n"}))

	data, err := s.GroupBy(context.Background(), req)
	require.NoError(t, err)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(data.JSONEncodedResponse), &out))
	assert.JSONEq(t, `[]`, string(out["column_1"]))
	assert.JSONEq(t, `["vendor","n"]`, string(out["column_headers"]))
}

func TestStoreMinMax(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MIN("lon"), MAX("lon") FROM "taxi"`)).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(-74.2, -73.7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MIN("lat"), MAX("lat") FROM "empty"`)).
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(nil, nil))

	ctx := context.Background()
	data, err := s.MinMax(ctx, query.MinMaxRequest{TableName: "taxi", ColumnName: "lon"})
	require.NoError(t, err)
	assert.Equal(t, -74.2, data.Min)
	assert.Equal(t, -73.7, data.Max)

	_, err = s.MinMax(ctx, query.MinMaxRequest{TableName: "empty", ColumnName: "lat"})
	assert.True(t, errors.Is(err, kberr.ErrBackend))
}

func TestStoreMinMaxGeometry(t *testing.T) {
	s, mock := newMockStore(t)
	req := query.MinMaxRequest{TableName: "zones", ColumnName: "geom"}
	stmt, err := MinMaxGeometrySQL(req)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta(stmt)).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d"}).AddRow(-74.3, 40.5, -73.7, 40.9))

	data, err := s.MinMaxGeometry(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MinMaxGeometryData{MinX: -74.3, MinY: 40.5, MaxX: -73.7, MaxY: 40.9, Info: map[string]string{}}, data)
}

func TestJSONValue(t *testing.T) {
	assert.Equal(t, 1, jsonValue(true))
	assert.Equal(t, "abc", jsonValue([]byte("abc")))
	assert.Equal(t, int64(86400000), jsonValue(time.Unix(86400, 0)))
	assert.Nil(t, jsonValue(nil))
}

func TestAvroType(t *testing.T) {
	for in, want := range map[string]string{
		"BIGINT":                   "long",
		"TIMESTAMP WITH TIME ZONE": "long",
		"INTEGER":                  "int",
		"DECIMAL(18,3)":            "double",
		"REAL":                     "float",
		"VARCHAR":                  "string",
		"":                         "string",
	} {
		assert.Equal(t, want, avroType(in), in)
	}
}
