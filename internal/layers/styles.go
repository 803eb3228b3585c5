package layers

import (
	"net/url"
	"strings"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/query"
)

// WMS style types.
const (
	StyleRaster   = "raster"
	StyleHeatmap  = "heatmap"
	StyleContour  = "contour"
	StyleCbRaster = "cb_raster"
	StyleLabels   = "labels"
)

// Styles lists the supported style types.
var Styles = []string{StyleRaster, StyleHeatmap, StyleContour, StyleCbRaster, StyleLabels}

type param struct {
	key   string
	value any
}

// BaseParams are sent with every GetMap request.
func BaseParams() *Options {
	return paramsOf([]param{
		{"format", "image/png"},
		{"service", "WMS"},
		{"version", "1.1.1"},
		{"request", "GetMap"},
		{"srs", "EPSG:3857"},
	})
}

var styleDefaults = map[string][]param{
	StyleRaster: {
		{"STYLES", "raster"},
		{"USE_POINT_RENDERER", true},
		{"DOPOINTS", true},
		{"DOSHAPES", true},
		{"DOSYMBOLOGY", false},
		{"DOTRACKS", true},
		{"HASHLINEANGLES", 0},
		{"HASHLINECOLORS", "FFFF00"},
		{"HASHLINEINTERVALS", 20},
		{"HASHLINELENS", 1},
		{"HASHLINEWIDTHS", 3},
		{"ORDER_LAYERS", ""},
		{"POINTCOLORS", "FF0000"},
		{"SHAPELINECOLORS", "FFFF00"},
		{"POINTOFFSET_X", 0},
		{"POINTOFFSET_Y", 0},
		{"POINTSHAPES", "circle"},
		{"POINTSIZES", 3},
		{"SHAPEFILLCOLORS", -1},
		{"SHAPELINEPATTERNLENS", 1},
		{"SHAPELINEPATTERNS", 0},
		{"SHAPELINEWIDTHS", 3},
		{"SYMBOLROTATIONS", ""},
		{"TRACKHEADCOLORS", "FFFFFF"},
		{"TRACKHEADSHAPES", "circle"},
		{"TRACKHEADSIZES", 10},
		{"TRACKLINECOLORS", "00FF00"},
		{"TRACKLINEWIDTHS", 3},
		{"TRACKMARKERCOLORS", "0000FF"},
		{"TRACKMARKERSHAPES", "none"},
		{"TRACKMARKERSIZES", 2},
	},
	StyleHeatmap: {
		{"STYLES", "heatmap"},
		{"BLUR_RADIUS", 5},
		{"COLORMAP", "jet"},
		{"GRADIENT_START_COLOR", "000000"},
		{"GRADIENT_END_COLOR", "000000"},
		{"VAL_ATTR", ""},
	},
	StyleContour: {
		{"STYLES", "contour"},
		{"COLORMAP", "jet"},
		{"MIN_LEVEL", 1},
		{"MAX_LEVEL", 1},
		{"VAL_ATTR", "z"},
		{"SEARCH_RADIUS", 1},
		{"GRIDDING_METHOD", "INV_DST_POW"},
		{"RENDER_OUTPUT_GRID", 0},
		{"GRID_ROWS", 100},
		{"GRID_COLUMNS", -1},
	},
	StyleCbRaster: {
		{"STYLES", "cb_raster"},
		{"CB_ATTR", ""},
		{"CB_VALS", ""},
		{"ORDER_CLASSES", true},
		{"USE_POINT_RENDERER", true},
		{"POINTCOLORS", "FF0000"},
		{"POINTSIZES", "3"},
		{"POINTSHAPES", "circle"},
	},
	StyleLabels: {
		{"STYLES", "labels"},
		{"LABEL_TEXT_STRING", ""},
		{"LABEL_FONT", ""},
		{"LABEL_TEXT_COLOR", "FF000000"},
		{"LABEL_TEXT_SCALE", 1},
		{"LABEL_TEXT_ANGLE", 0},
		{"LABEL_DRAW_BOX", 0},
		{"LABEL_DRAW_LEADER", 0},
		{"LABEL_LINE_WIDTH", 1},
		{"LABEL_LINE_COLOR", "FF000000"},
		{"LABEL_FILL_COLOR", "FF000000"},
		{"LABEL_LEADER_X_ATTR", ""},
		{"LABEL_LEADER_Y_ATTR", ""},
		{"LABEL_FILTER", ""},
	},
}

func paramsOf(ps []param) *Options {
	o := &Options{}
	for _, p := range ps {
		o.Set(p.key, p.value)
	}
	return o
}

// Defaults returns a fresh copy of the default parameters for style.
func Defaults(style string) (*Options, error) {
	ps, ok := styleDefaults[style]
	if !ok {
		return nil, kberr.InvalidConfiguration("layer defaults", "layer type %q not recognized", style)
	}
	return paramsOf(ps), nil
}

// Spec is what a WMS layer is built from.
type Spec struct {
	TableName   string
	Style       string
	Coordinates query.Coordinates
	// LabelXAttr and LabelYAttr override the label anchor columns.
	LabelXAttr string
	LabelYAttr string
	// RenderingOptions override style defaults by case-insensitive key and
	// are passed through to the WMS request.
	RenderingOptions map[string]any
}

// BuildParams returns the GetMap parameters for s minus the viewport ones
// (bbox, width, height). For class-break rasters the returned validation
// lists every problem with the class-break parameters; other styles always
// validate.
func BuildParams(s Spec) (*Options, kberr.Validation, error) {
	valid := kberr.NewValidation()
	opts := NewOptions(s.RenderingOptions)

	style := s.Style
	if v := opts.String("STYLES"); v != "" {
		style = v
	}
	defaults, err := Defaults(style)
	if err != nil {
		return nil, valid, err
	}
	if s.TableName == "" {
		return nil, valid, kberr.InvalidConfiguration("build params", "tableName is required")
	}

	p := BaseParams()
	p.Set("STYLES", style)
	if style == StyleLabels {
		x, y := s.LabelXAttr, s.LabelYAttr
		if x == "" {
			x = s.Coordinates.XAttr
		}
		if y == "" {
			y = s.Coordinates.YAttr
		}
		if x == "" || y == "" {
			return nil, valid, kberr.InvalidConfiguration("build params", "labels need x and y columns")
		}
		p.Set("LABEL_LAYER", s.TableName)
		p.Set("LABEL_X_ATTR", x)
		p.Set("LABEL_Y_ATTR", y)
	} else {
		coords, err := s.Coordinates.Normalize()
		if err != nil {
			return nil, valid, err
		}
		p.Set("layers", s.TableName)
		setCoordinates(p, coords)
	}

	for _, k := range defaults.Keys() {
		def, _ := defaults.Get(k)
		p.Set(k, opts.GetOr(k, def))
	}
	p.Merge(opts)

	if style == StyleCbRaster {
		valid = ValidateClassBreaks(p)
	}
	return p, valid, nil
}

func setCoordinates(p *Options, c query.Coordinates) {
	if c.XAttr != "" && c.YAttr != "" {
		p.Set("X_ATTR", c.XAttr)
		p.Set("Y_ATTR", c.YAttr)
		p.Delete("GEO_ATTR")
		return
	}
	if c.GeoAttr != "" {
		p.Set("GEO_ATTR", c.GeoAttr)
		p.Delete("X_ATTR")
		p.Delete("Y_ATTR")
	}
}

// ValidateClassBreaks checks that a class-break raster has every required
// parameter, that the per-class lists all have as many entries as CB_VALS and
// that no break has equal bounds.
func ValidateClassBreaks(p *Options) kberr.Validation {
	v := kberr.NewValidation()

	required := []string{"CB_ATTR", "CB_VALS", "POINTCOLORS", "POINTSIZES", "POINTSHAPES"}
	for _, k := range required {
		if p.String(k) == "" {
			v.Add("No %s provided for CB_RASTER WMS layer!", k)
		}
	}

	lists := required[1:]
	missing := false
	for _, k := range lists {
		if p.String(k) == "" {
			missing = true
		}
	}
	if missing {
		v.Add("Missing required parameters.")
	} else {
		want := len(strings.Split(p.String("CB_VALS"), ","))
		var bad []string
		for _, k := range lists[1:] {
			if len(strings.Split(p.String(k), ",")) != want {
				bad = append(bad, k)
			}
		}
		if len(bad) > 0 {
			v.Add("The following parameters do not match the length of CB_VALS (%d): %s", want, strings.Join(bad, ", "))
		}
	}

	vals := p.String("CB_VALS")
	if vals == "" {
		v.Add("Missing required parameters.")
		return v
	}
	for _, b := range strings.Split(vals, ",") {
		lo, hi, ok := strings.Cut(b, ":")
		if ok && lo == hi {
			v.Add("Break is not formatted correctly. Values should not be the same for: %s", b)
		}
	}
	return v
}

// BuildURL appends p to base as a query string in insertion order.
func BuildURL(base string, p *Options) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteByte('?')
	for i, k := range p.Keys() {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.String(k)))
	}
	return b.String()
}

// SplitURL separates a URL built by BuildURL into its base and parameters.
// Empty pairs are skipped; values stay strings.
func SplitURL(raw string) (string, *Options) {
	base, rawQuery, _ := strings.Cut(raw, "?")
	p := &Options{}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		if uk, err := url.QueryUnescape(k); err == nil {
			k = uk
		}
		if uv, err := url.QueryUnescape(v); err == nil {
			v = uv
		}
		p.Set(k, v)
	}
	return base, p
}

// CoordinateParams extracts the coordinate columns from p: the X_ATTR/Y_ATTR
// pair when both are present, otherwise GEO_ATTR.
func CoordinateParams(p *Options) query.Coordinates {
	x, y := p.String("X_ATTR"), p.String("Y_ATTR")
	if x != "" && y != "" {
		return query.Coordinates{XAttr: x, YAttr: y}
	}
	return query.Coordinates{GeoAttr: p.String("GEO_ATTR")}
}
