package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/logging"
	"github.com/joeblew999/kickbox/internal/query"
)

// RecordsData is the get/records response.
type RecordsData struct {
	TableName            string            `json:"table_name"`
	TypeName             string            `json:"type_name"`
	TypeSchema           string            `json:"type_schema"`
	RecordsJSON          []string          `json:"records_json"`
	TotalNumberOfRecords int64             `json:"total_number_of_records"`
	HasMoreRecords       bool              `json:"has_more_records"`
	Info                 map[string]string `json:"info"`
}

// CountData answers the filter endpoints.
type CountData struct {
	Count int64             `json:"count"`
	Info  map[string]string `json:"info"`
}

// GroupByData is the aggregate/groupby response. JSONEncodedResponse is a
// column-oriented object: column_1..column_n plus column_headers and
// column_datatypes.
type GroupByData struct {
	ResponseSchemaStr    string            `json:"response_schema_str"`
	JSONEncodedResponse  string            `json:"json_encoded_response"`
	TotalNumberOfRecords int64             `json:"total_number_of_records"`
	HasMoreRecords       bool              `json:"has_more_records"`
	Info                 map[string]string `json:"info"`
}

// MinMaxData is the aggregate/minmax response.
type MinMaxData struct {
	Min  float64           `json:"min"`
	Max  float64           `json:"max"`
	Info map[string]string `json:"info"`
}

// MinMaxGeometryData is the aggregate/minmax/geometry response.
type MinMaxGeometryData struct {
	MinX float64           `json:"min_x"`
	MaxX float64           `json:"max_x"`
	MinY float64           `json:"min_y"`
	MaxY float64           `json:"max_y"`
	Info map[string]string `json:"info"`
}

// Store answers backend requests from a SQL database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore wraps conn.
func NewStore(conn *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: conn, logger: logging.OrNop(logger)}
}

// GetRecords returns one page of req.TableName.
func (s *Store) GetRecords(ctx context.Context, req query.RecordsRequest) (RecordsData, error) {
	total, err := s.count(ctx, req.TableName)
	if err != nil {
		return RecordsData{}, kberr.Backend(query.EndpointGetRecords, "%v", err)
	}

	rows, err := s.db.QueryContext(ctx, RecordsSQL(req))
	if err != nil {
		return RecordsData{}, kberr.Backend(query.EndpointGetRecords, "%v", err)
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return RecordsData{}, kberr.Backend(query.EndpointGetRecords, "%v", err)
	}
	fields := make([]schemaField, len(cols))
	for i, c := range cols {
		fields[i] = schemaField{Name: c.Name(), Type: []string{avroType(c.DatabaseTypeName()), "null"}}
	}
	schema, _ := json.Marshal(recordSchema{Type: "record", Name: "type_name", Fields: fields})

	records := []string{}
	for rows.Next() {
		values, err := scanRow(rows, len(cols))
		if err != nil {
			return RecordsData{}, kberr.Backend(query.EndpointGetRecords, "%v", err)
		}
		rec := make(map[string]any, len(cols))
		for i, c := range cols {
			rec[c.Name()] = jsonValue(values[i])
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return RecordsData{}, kberr.Backend(query.EndpointGetRecords, "%v", err)
		}
		records = append(records, string(raw))
	}
	if err := rows.Err(); err != nil {
		return RecordsData{}, kberr.Backend(query.EndpointGetRecords, "%v", err)
	}

	return RecordsData{
		TableName:            req.TableName,
		TypeName:             "type_name",
		TypeSchema:           string(schema),
		RecordsJSON:          records,
		TotalNumberOfRecords: total,
		HasMoreRecords:       int64(req.Offset+len(records)) < total,
		Info:                 map[string]string{},
	}, nil
}

// FilterByRadius materializes the radius view and counts its rows.
func (s *Store) FilterByRadius(ctx context.Context, endpoint string, req query.RadiusRequest) (CountData, error) {
	stmt, err := RadiusSQL(req)
	if err != nil {
		return CountData{}, err
	}
	return s.materialize(ctx, endpoint, stmt, req.ViewName)
}

// Filter materializes the expression view and counts its rows.
func (s *Store) Filter(ctx context.Context, req query.FilterRequest) (CountData, error) {
	stmt, err := FilterSQL(req)
	if err != nil {
		return CountData{}, err
	}
	return s.materialize(ctx, query.EndpointFilter, stmt, req.ViewName)
}

func (s *Store) materialize(ctx context.Context, endpoint, stmt, view string) (CountData, error) {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return CountData{}, kberr.Backend(endpoint, "%v", err)
	}
	n, err := s.count(ctx, view)
	if err != nil {
		return CountData{}, kberr.Backend(endpoint, "%v", err)
	}
	s.logger.Debug("view materialized", zap.String("endpoint", endpoint), zap.String("view", view), zap.Int64("count", n))
	return CountData{Count: n, Info: map[string]string{}}, nil
}

// GroupBy runs a grouped aggregate and encodes the result by column.
func (s *Store) GroupBy(ctx context.Context, req query.GroupByRequest) (GroupByData, error) {
	gb, err := GroupBySQL(req)
	if err != nil {
		return GroupByData{}, err
	}
	rows, err := s.db.QueryContext(ctx, gb.SQL)
	if err != nil {
		return GroupByData{}, kberr.Backend(query.EndpointAggregateGroupBy, "%v", err)
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return GroupByData{}, kberr.Backend(query.EndpointAggregateGroupBy, "%v", err)
	}
	if len(cols) != len(gb.Headers) {
		return GroupByData{}, kberr.Backend(query.EndpointAggregateGroupBy, "expected %d columns, got %d", len(gb.Headers), len(cols))
	}

	columns := make([][]any, len(cols))
	for i := range columns {
		columns[i] = []any{}
	}
	var n int64
	for rows.Next() {
		values, err := scanRow(rows, len(cols))
		if err != nil {
			return GroupByData{}, kberr.Backend(query.EndpointAggregateGroupBy, "%v", err)
		}
		for i, v := range values {
			columns[i] = append(columns[i], jsonValue(v))
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return GroupByData{}, kberr.Backend(query.EndpointAggregateGroupBy, "%v", err)
	}

	out := make(map[string]any, len(cols)+2)
	types := make([]string, len(cols))
	for i, c := range cols {
		out[fmt.Sprintf("column_%d", i+1)] = columns[i]
		types[i] = avroType(c.DatabaseTypeName())
	}
	out["column_headers"] = gb.Headers
	out["column_datatypes"] = types
	encoded, err := json.Marshal(out)
	if err != nil {
		return GroupByData{}, kberr.Backend(query.EndpointAggregateGroupBy, "%v", err)
	}

	return GroupByData{
		JSONEncodedResponse:  string(encoded),
		TotalNumberOfRecords: n,
		Info:                 map[string]string{},
	}, nil
}

// MinMax returns the extent of a numeric column.
func (s *Store) MinMax(ctx context.Context, req query.MinMaxRequest) (MinMaxData, error) {
	stmt, err := MinMaxSQL(req)
	if err != nil {
		return MinMaxData{}, err
	}
	var lo, hi sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, stmt).Scan(&lo, &hi); err != nil {
		return MinMaxData{}, kberr.Backend(query.EndpointAggregateMinMax, "%v", err)
	}
	if !lo.Valid || !hi.Valid {
		return MinMaxData{}, kberr.Backend(query.EndpointAggregateMinMax, "table %s has no values in %s", req.TableName, req.ColumnName)
	}
	return MinMaxData{Min: lo.Float64, Max: hi.Float64, Info: map[string]string{}}, nil
}

// MinMaxGeometry returns the bounding box of a geometry column.
func (s *Store) MinMaxGeometry(ctx context.Context, req query.MinMaxRequest) (MinMaxGeometryData, error) {
	stmt, err := MinMaxGeometrySQL(req)
	if err != nil {
		return MinMaxGeometryData{}, err
	}
	var minX, minY, maxX, maxY sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, stmt).Scan(&minX, &minY, &maxX, &maxY); err != nil {
		return MinMaxGeometryData{}, kberr.Backend(query.EndpointAggregateMinMaxGeom, "%v", err)
	}
	if !minX.Valid || !minY.Valid || !maxX.Valid || !maxY.Valid {
		return MinMaxGeometryData{}, kberr.Backend(query.EndpointAggregateMinMaxGeom, "table %s has no geometries in %s", req.TableName, req.ColumnName)
	}
	return MinMaxGeometryData{
		MinX: minX.Float64, MinY: minY.Float64,
		MaxX: maxX.Float64, MaxY: maxY.Float64,
		Info: map[string]string{},
	}, nil
}

func (s *Store) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, CountSQL(table)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type schemaField struct {
	Name string   `json:"name"`
	Type []string `json:"type"`
}

type recordSchema struct {
	Type   string        `json:"type"`
	Name   string        `json:"name"`
	Fields []schemaField `json:"fields"`
}

// avroType maps a DuckDB column type to the record schema type. Timestamps
// travel as epoch milliseconds.
func avroType(dbType string) string {
	t := strings.ToUpper(dbType)
	switch {
	case t == "BIGINT" || t == "HUGEINT" || t == "UBIGINT" || t == "UHUGEINT" || strings.HasPrefix(t, "TIMESTAMP") || t == "DATE":
		return "long"
	case t == "INTEGER" || t == "SMALLINT" || t == "TINYINT" || t == "UINTEGER" || t == "USMALLINT" || t == "UTINYINT" || t == "BOOLEAN":
		return "int"
	case t == "FLOAT" || t == "REAL":
		return "float"
	case t == "DOUBLE" || strings.HasPrefix(t, "DECIMAL"):
		return "double"
	case t == "BLOB":
		return "bytes"
	default:
		return "string"
	}
}

func scanRow(rows *sql.Rows, n int) ([]any, error) {
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

// jsonValue converts driver values into plain JSON values.
func jsonValue(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, int32, float32, int, int16, int8, uint8, uint16, uint32, uint64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case []byte:
		return string(x)
	case time.Time:
		return x.UnixMilli()
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case interface{ Float64() float64 }:
		return x.Float64()
	case fmt.Stringer:
		s := x.String()
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	default:
		return fmt.Sprint(x)
	}
}

// status maps an error to the HTTP status the backend answers with.
func status(err error) int {
	if errors.Is(err, kberr.ErrInvalidConfiguration) {
		return 400
	}
	return 500
}
