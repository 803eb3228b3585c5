package layers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/kickbox/internal/kberr"
	"github.com/joeblew999/kickbox/internal/query"
)

func TestDefaultsAreCopies(t *testing.T) {
	for _, style := range Styles {
		d, err := Defaults(style)
		require.NoError(t, err, style)
		assert.Equal(t, style, d.String("STYLES"))
	}

	d, _ := Defaults(StyleHeatmap)
	d.Set("COLORMAP", "viridis")
	again, _ := Defaults(StyleHeatmap)
	assert.Equal(t, "jet", again.String("COLORMAP"))

	_, err := Defaults("hexbin")
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))
}

func TestBuildParamsHeatmap(t *testing.T) {
	p, valid, err := BuildParams(Spec{
		TableName:   "nyctaxi",
		Style:       StyleHeatmap,
		Coordinates: query.Coordinates{XAttr: "x", YAttr: "y", GeoAttr: "geom"},
		RenderingOptions: map[string]any{
			"blur_radius": 10,
			"Extra":       "yes",
		},
	})
	require.NoError(t, err)
	assert.True(t, valid.IsValid)

	assert.Equal(t, "image/png", p.String("format"))
	assert.Equal(t, "EPSG:3857", p.String("srs"))
	assert.Equal(t, "heatmap", p.String("STYLES"))
	assert.Equal(t, "nyctaxi", p.String("layers"))
	assert.Equal(t, "x", p.String("X_ATTR"))
	assert.Equal(t, "y", p.String("Y_ATTR"))
	_, hasGeo := p.Get("GEO_ATTR")
	assert.False(t, hasGeo)

	assert.Equal(t, "10", p.String("BLUR_RADIUS"))
	assert.Contains(t, p.Keys(), "BLUR_RADIUS")
	assert.NotContains(t, p.Keys(), "blur_radius")
	assert.Equal(t, "jet", p.String("COLORMAP"))
	assert.Equal(t, "yes", p.String("extra"))
}

func TestBuildParamsGeometryColumn(t *testing.T) {
	p, _, err := BuildParams(Spec{TableName: "zones", Style: StyleRaster, Coordinates: query.Coordinates{GeoAttr: "geom"}})
	require.NoError(t, err)
	assert.Equal(t, "geom", p.String("GEO_ATTR"))
	_, hasX := p.Get("X_ATTR")
	assert.False(t, hasX)
	assert.Equal(t, "true", p.String("DOPOINTS"))
	assert.Equal(t, "-1", p.String("SHAPEFILLCOLORS"))
}

func TestBuildParamsStyleFromRenderingOptions(t *testing.T) {
	p, _, err := BuildParams(Spec{
		TableName:        "nyctaxi",
		Style:            StyleRaster,
		Coordinates:      query.Coordinates{XAttr: "x", YAttr: "y"},
		RenderingOptions: map[string]any{"styles": "contour"},
	})
	require.NoError(t, err)
	assert.Equal(t, "contour", p.String("STYLES"))
	assert.Equal(t, "INV_DST_POW", p.String("GRIDDING_METHOD"))
}

func TestBuildParamsLabels(t *testing.T) {
	p, _, err := BuildParams(Spec{
		TableName:   "cities",
		Style:       StyleLabels,
		Coordinates: query.Coordinates{XAttr: "lon", YAttr: "lat"},
		LabelYAttr:  "label_lat",
	})
	require.NoError(t, err)
	assert.Equal(t, "cities", p.String("LABEL_LAYER"))
	assert.Equal(t, "lon", p.String("LABEL_X_ATTR"))
	assert.Equal(t, "label_lat", p.String("LABEL_Y_ATTR"))
	_, hasLayers := p.Get("layers")
	assert.False(t, hasLayers)
	assert.Equal(t, "FF000000", p.String("LABEL_TEXT_COLOR"))

	_, _, err = BuildParams(Spec{TableName: "cities", Style: StyleLabels, Coordinates: query.Coordinates{GeoAttr: "g"}})
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))
}

func TestBuildParamsRejectsBadConfig(t *testing.T) {
	_, _, err := BuildParams(Spec{TableName: "t", Style: StyleRaster})
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))

	_, _, err = BuildParams(Spec{TableName: "t", Style: "hexbin", Coordinates: query.Coordinates{GeoAttr: "g"}})
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))

	_, _, err = BuildParams(Spec{Style: StyleRaster, Coordinates: query.Coordinates{GeoAttr: "g"}})
	assert.True(t, errors.Is(err, kberr.ErrInvalidConfiguration))
}

func cbSpec(opts map[string]any) Spec {
	return Spec{
		TableName:        "nyctaxi",
		Style:            StyleCbRaster,
		Coordinates:      query.Coordinates{XAttr: "x", YAttr: "y"},
		RenderingOptions: opts,
	}
}

func TestClassBreakValidation(t *testing.T) {
	tests := []struct {
		name string
		opts map[string]any
		errs []string
	}{
		{
			name: "valid",
			opts: map[string]any{
				"cb_attr":     "fare",
				"cb_vals":     "0:10,10:20",
				"pointcolors": "FF0000,00FF00",
				"pointsizes":  "3,3",
				"pointshapes": "circle,square",
			},
		},
		{
			name: "defaults only",
			opts: nil,
			errs: []string{
				"No CB_ATTR provided for CB_RASTER WMS layer!",
				"No CB_VALS provided for CB_RASTER WMS layer!",
				"Missing required parameters.",
				"Missing required parameters.",
			},
		},
		{
			name: "length mismatch",
			opts: map[string]any{
				"CB_ATTR":     "fare",
				"CB_VALS":     "0:10,10:20,20:30",
				"POINTCOLORS": "FF0000",
				"POINTSIZES":  "3,3,3",
			},
			errs: []string{
				"The following parameters do not match the length of CB_VALS (3): POINTCOLORS, POINTSHAPES",
			},
		},
		{
			name: "equal bounds",
			opts: map[string]any{
				"CB_ATTR":     "fare",
				"CB_VALS":     "0:10,5:5",
				"POINTCOLORS": "FF0000,00FF00",
				"POINTSIZES":  "3,3",
				"POINTSHAPES": "circle,circle",
			},
			errs: []string{
				"Break is not formatted correctly. Values should not be the same for: 5:5",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, valid, err := BuildParams(cbSpec(tt.opts))
			require.NoError(t, err)
			if len(tt.errs) == 0 {
				assert.True(t, valid.IsValid)
				assert.Empty(t, valid.Errs)
				return
			}
			assert.False(t, valid.IsValid)
			assert.Equal(t, tt.errs, valid.Errs)
		})
	}
}

func TestBuildAndSplitURL(t *testing.T) {
	p := BaseParams()
	assert.Equal(t,
		"http://wms.example/wms?format=image%2Fpng&service=WMS&version=1.1.1&request=GetMap&srs=EPSG%3A3857",
		BuildURL("http://wms.example/wms", p))

	p.Set("bbox", "-1,-2,3,4")
	p.Set("CB_VALS", "0:10,10:20")
	base, parsed := SplitURL(BuildURL("http://wms.example/wms", p))
	assert.Equal(t, "http://wms.example/wms", base)
	assert.Equal(t, p.Keys(), parsed.Keys())
	assert.Equal(t, "-1,-2,3,4", parsed.String("BBOX"))
	assert.Equal(t, "0:10,10:20", parsed.String("cb_vals"))

	base, parsed = SplitURL("http://wms.example/wms?&a=1&&b=")
	assert.Equal(t, "http://wms.example/wms", base)
	assert.Equal(t, []string{"a", "b"}, parsed.Keys())
}

func TestCoordinateParams(t *testing.T) {
	p := NewOptions(map[string]any{"X_ATTR": "x", "Y_ATTR": "y", "GEO_ATTR": "g"})
	assert.Equal(t, query.Coordinates{XAttr: "x", YAttr: "y"}, CoordinateParams(p))

	p.Delete("Y_ATTR")
	assert.Equal(t, query.Coordinates{GeoAttr: "g"}, CoordinateParams(p))
}
