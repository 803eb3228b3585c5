package kinetica

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/query"
)

// Record is one decoded row. Integral numbers decode as int64, others as
// float64.
type Record map[string]any

// Column is one schema field.
type Column struct {
	Name string
	Type string
}

// Schema lists the columns of a record page in declaration order.
type Schema []Column

// Type returns the declared type of name, or "".
func (s Schema) Type(name string) string {
	for _, c := range s {
		if c.Name == name {
			return c.Type
		}
	}
	return ""
}

// Page is one page of records plus the total row count of the view.
type Page struct {
	Records     []Record `json:"records"`
	Schema      Schema   `json:"-"`
	RecordCount int      `json:"recordCount"`
}

// Transformation rewrites a record for every column whose name and type
// satisfy Condition.
type Transformation struct {
	Condition func(name, typ string) bool
	Fn        func(name, typ string, rec Record) Record
}

// DateLayout formats epoch-millisecond timestamp columns.
const DateLayout = "1/2/2006, 3:04:05 PM"

var timeColumn = regexp.MustCompile(`(?i)time|date`)

type recordsData struct {
	TypeSchema           string            `json:"type_schema"`
	RecordsJSON          []string          `json:"records_json"`
	TotalNumberOfRecords json.Number       `json:"total_number_of_records"`
	HasMoreRecords       bool              `json:"has_more_records"`
	Info                 map[string]string `json:"info"`
}

type typeSchema struct {
	Fields []struct {
		Name string          `json:"name"`
		Type json.RawMessage `json:"type"`
	} `json:"fields"`
}

// GetRecords fetches one page of view starting at offset and applies the
// timestamp formatting and transformations.
func (c *Client) GetRecords(ctx context.Context, view string, offset int, transformations []Transformation) (Page, error) {
	var data recordsData
	if err := c.post(ctx, query.EndpointGetRecords, query.Records(view, offset), &data); err != nil {
		return Page{}, err
	}

	schema, err := parseSchema(data.TypeSchema)
	if err != nil {
		return Page{}, kberr.Backend(query.EndpointGetRecords, "type_schema: %v", err)
	}

	records := make([]Record, 0, len(data.RecordsJSON))
	for _, raw := range data.RecordsJSON {
		rec, err := decodeRecord(raw)
		if err != nil {
			return Page{}, kberr.Backend(query.EndpointGetRecords, "records_json: %v", err)
		}
		records = append(records, rec)
	}

	total, err := data.TotalNumberOfRecords.Int64()
	if err != nil && data.TotalNumberOfRecords != "" {
		return Page{}, kberr.Backend(query.EndpointGetRecords, "total_number_of_records: %v", err)
	}

	return Page{
		Records:     TransformResults(records, schema, transformations, c.loc),
		Schema:      schema,
		RecordCount: int(total),
	}, nil
}

// TransformResults formats long-typed time/date columns as local time strings
// and applies every matching transformation in registration order, once per
// matching column per record. Each transformation sees the record produced by
// the previous one.
func TransformResults(records []Record, schema Schema, custom []Transformation, loc *time.Location) []Record {
	if loc == nil {
		loc = time.Local
	}

	var steps []func(Record) Record
	for _, col := range schema {
		name, typ := col.Name, col.Type
		if timeColumn.MatchString(name) && typ == "long" {
			steps = append(steps, func(rec Record) Record {
				if ms, ok := toInt64(rec[name]); ok {
					rec[name] = time.UnixMilli(ms).In(loc).Format(DateLayout)
				}
				return rec
			})
		}
		for _, t := range custom {
			if t.Condition == nil || t.Fn == nil || !t.Condition(name, typ) {
				continue
			}
			fn := t.Fn
			steps = append(steps, func(rec Record) Record {
				return fn(name, typ, rec)
			})
		}
	}

	out := make([]Record, len(records))
	for i, rec := range records {
		for _, step := range steps {
			rec = step(rec)
		}
		out[i] = rec
	}
	return out
}

// parseSchema reads an Avro-style record schema. Nullable columns declare
// their type as ["long","null"]; the first non-null member is used.
func parseSchema(raw string) (Schema, error) {
	if raw == "" {
		return Schema{}, nil
	}
	var ts typeSchema
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		return nil, err
	}
	schema := make(Schema, 0, len(ts.Fields))
	for _, f := range ts.Fields {
		schema = append(schema, Column{Name: f.Name, Type: fieldType(f.Type)})
	}
	return schema, nil
}

func fieldType(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var union []string
	if err := json.Unmarshal(raw, &union); err == nil {
		for _, t := range union {
			if t != "null" {
				return t
			}
		}
	}
	return ""
}

func decodeRecord(raw string) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	for k, v := range rec {
		rec[k] = normalize(v)
	}
	return rec, nil
}

// normalize converts json.Number into int64 or float64.
func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// ToFloat converts decoded numeric values to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
