package backend

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/joeblew999/kickbox/internal/db"
	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/query"
)

var (
	aggregateCall = regexp.MustCompile(`(?i)^\s*(count|count_distinct|approx_count_distinct|sum|avg|mean|min|max|stddev|stddev_pop|stddev_samp|var|var_pop|var_samp|arg_min|arg_max)\s*\(`)
	columnAlias   = regexp.MustCompile(`(?i)^(.*?)\s+as\s+("?[A-Za-z_][A-Za-z0-9_]*"?)\s*$`)
)

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// limitClause pages a query. Negative limits (clients send -9999) select every
// row.
func limitClause(offset, limit int) string {
	if limit < 0 {
		if offset > 0 {
			return fmt.Sprintf(" OFFSET %d", offset)
		}
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

// RecordsSQL selects one page of table.
func RecordsSQL(req query.RecordsRequest) string {
	return "SELECT * FROM " + db.Ident(req.TableName) + limitClause(req.Offset, req.Limit)
}

// CountSQL counts the rows of table.
func CountSQL(table string) string {
	return "SELECT COUNT(*) FROM " + db.Ident(table)
}

// haversine is the great-circle distance in meters between (x, y) and
// (lon, lat), on the same sphere the client uses to build its circles.
func haversine(x, y string, lon, lat float64) string {
	return fmt.Sprintf(
		"2 * %s * ASIN(SQRT(POWER(SIN(RADIANS(%s - %s) / 2), 2) + COS(RADIANS(%s)) * COS(RADIANS(%s)) * POWER(SIN(RADIANS(%s - %s) / 2), 2)))",
		num(orb.EarthRadius), y, num(lat), num(lat), y, x, num(lon))
}

func viewSQL(view, table, where string) string {
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s WHERE %s", db.Ident(view), db.Ident(table), where)
}

// RadiusSQL materializes req.ViewName with the rows of req.TableName whose
// x/y columns (or, for a geometry column, whose centroid) lie within
// req.Radius meters of the center.
func RadiusSQL(req query.RadiusRequest) (string, error) {
	if req.ViewName == "" || req.TableName == "" {
		return "", kberr.InvalidConfiguration("filter by radius", "table_name and view_name are required")
	}
	if req.ViewName == req.TableName {
		return "", kberr.InvalidConfiguration("filter by radius", "view_name must differ from table_name")
	}
	if req.Radius <= 0 {
		return "", kberr.InvalidConfiguration("filter by radius", "radius must be positive")
	}

	var x, y string
	switch {
	case req.ColumnName != "":
		centroid := "ST_Centroid(ST_GeomFromText(" + db.Ident(req.ColumnName) + "))"
		x, y = "ST_X("+centroid+")", "ST_Y("+centroid+")"
	case req.XColumnName != "" && req.YColumnName != "":
		x, y = db.Ident(req.XColumnName), db.Ident(req.YColumnName)
	default:
		return "", kberr.InvalidConfiguration("filter by radius", "no coordinate columns")
	}
	where := haversine(x, y, req.XCenter, req.YCenter) + " <= " + num(req.Radius)
	return viewSQL(req.ViewName, req.TableName, where), nil
}

// FilterSQL materializes req.ViewName with the rows matching req.Expression.
// The expression is passed through, so the analytics database's XY functions
// must be available as macros.
func FilterSQL(req query.FilterRequest) (string, error) {
	if req.ViewName == "" || req.TableName == "" {
		return "", kberr.InvalidConfiguration("filter", "table_name and view_name are required")
	}
	if req.ViewName == req.TableName {
		return "", kberr.InvalidConfiguration("filter", "view_name must differ from table_name")
	}
	if strings.TrimSpace(req.Expression) == "" {
		return "", kberr.InvalidConfiguration("filter", "empty expression")
	}
	return viewSQL(req.ViewName, req.TableName, "("+req.Expression+")"), nil
}

// GroupBy is a parsed aggregate/groupby request.
type GroupBy struct {
	SQL     string
	Headers []string
}

// splitAlias separates "expr as name" into its parts. Columns without an
// alias are named by their expression.
func splitAlias(col string) (expr, name string) {
	col = strings.TrimSpace(col)
	if m := columnAlias.FindStringSubmatch(col); m != nil {
		return strings.TrimSpace(m[1]), strings.Trim(m[2], `"`)
	}
	return col, col
}

// GroupBySQL groups req.TableName by every non-aggregate column. Sorting by
// "value" orders by the first aggregate column, anything else by the keys.
func GroupBySQL(req query.GroupByRequest) (GroupBy, error) {
	if req.TableName == "" || len(req.ColumnNames) == 0 {
		return GroupBy{}, kberr.InvalidConfiguration("aggregate groupby", "table_name and column_names are required")
	}

	var (
		selects []string
		headers []string
		keys    []string
		firstAg = -1
	)
	for i, col := range req.ColumnNames {
		expr, name := splitAlias(col)
		if expr == "" {
			return GroupBy{}, kberr.InvalidConfiguration("aggregate groupby", "empty column %d", i+1)
		}
		selects = append(selects, expr+" AS "+db.Ident(name))
		headers = append(headers, name)
		if aggregateCall.MatchString(expr) {
			if firstAg < 0 {
				firstAg = i + 1
			}
			continue
		}
		keys = append(keys, expr)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString(" FROM ")
	b.WriteString(db.Ident(req.TableName))
	if expr := strings.TrimSpace(req.Options["expression"]); expr != "" {
		b.WriteString(" WHERE (" + expr + ")")
	}
	if len(keys) > 0 {
		b.WriteString(" GROUP BY " + strings.Join(keys, ", "))
	}

	dir := "ASC"
	if strings.EqualFold(req.Options["sort_order"], "descending") {
		dir = "DESC"
	}
	switch {
	case strings.EqualFold(req.Options["sort_by"], "value") && firstAg > 0:
		fmt.Fprintf(&b, " ORDER BY %d %s", firstAg, dir)
	case len(keys) > 0:
		order := make([]string, len(keys))
		for i, k := range keys {
			order[i] = k + " " + dir
		}
		b.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	b.WriteString(limitClause(req.Offset, req.Limit))

	return GroupBy{SQL: b.String(), Headers: headers}, nil
}

// MinMaxSQL selects the extent of one numeric column.
func MinMaxSQL(req query.MinMaxRequest) (string, error) {
	if req.TableName == "" || req.ColumnName == "" {
		return "", kberr.InvalidConfiguration("aggregate minmax", "table_name and column_name are required")
	}
	col := db.Ident(req.ColumnName)
	return fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", col, col, db.Ident(req.TableName)), nil
}

// MinMaxGeometrySQL selects the bounding box of a WKT column.
func MinMaxGeometrySQL(req query.MinMaxRequest) (string, error) {
	if req.TableName == "" || req.ColumnName == "" {
		return "", kberr.InvalidConfiguration("aggregate minmax geometry", "table_name and column_name are required")
	}
	g := "ST_GeomFromText(" + db.Ident(req.ColumnName) + ")"
	return fmt.Sprintf("SELECT MIN(ST_XMin(%s)), MIN(ST_YMin(%s)), MAX(ST_XMax(%s)), MAX(ST_YMax(%s)) FROM %s",
		g, g, g, g, db.Ident(req.TableName)), nil
}
