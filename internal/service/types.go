// Package service holds the persisted layer descriptors and the catalogue of
// source files the development backend can load.
package service

import (
	"github.com/joeblew999/kickbox/internal/layers"
	"github.com/joeblew999/kickbox/internal/query"
)

// LayerDescriptor is a saved WMS visualization. Huma reads the tags for the
// OpenAPI document and request validation.
type LayerDescriptor struct {
	ID        string `json:"id,omitempty" doc:"Unique layer identifier" example:"taxi_heatmap"`
	Name      string `json:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Taxi heatmap"`
	TableName string `json:"tableName" required:"true" minLength:"1" doc:"Backend table" example:"nyctaxi"`
	Style     string `json:"layerType" required:"true" enum:"raster,heatmap,contour,cb_raster,labels" doc:"WMS style type" example:"heatmap"`
	query.Coordinates
	LabelXAttr       string         `json:"labelXAttr,omitempty" doc:"Label anchor longitude column"`
	LabelYAttr       string         `json:"labelYAttr,omitempty" doc:"Label anchor latitude column"`
	Opacity          float64        `json:"opacity,omitempty" minimum:"0" maximum:"1" doc:"Raster opacity (0-1)" example:"0.8"`
	Before           string         `json:"before,omitempty" doc:"Draw below this layer id"`
	RenderingOptions map[string]any `json:"renderingOptions,omitempty" doc:"WMS parameters; keys are case-insensitive"`
	Legend           *LegendSpec    `json:"legend,omitempty" doc:"Class-break legend shown with the layer"`
}

// LegendSpec describes a class-break legend.
type LegendSpec struct {
	Title    string   `json:"title" doc:"Legend title" example:"Fare"`
	Position string   `json:"position,omitempty" enum:"top-left,top-right,bottom-left,bottom-right" doc:"Map corner"`
	Breaks   []string `json:"breaks" doc:"Break labels" example:"[\"0-10\",\"10-20\"]"`
	Colors   []string `json:"colors" doc:"Hex colors, one per break" example:"[\"FF0000\",\"00FF00\"]"`
}

// Spec is the WMS parameter spec of d.
func (d LayerDescriptor) Spec() layers.Spec {
	return layers.Spec{
		TableName:        d.TableName,
		Style:            d.Style,
		Coordinates:      d.Coordinates,
		LabelXAttr:       d.LabelXAttr,
		LabelYAttr:       d.LabelYAttr,
		RenderingOptions: d.RenderingOptions,
	}
}

// Config is the layer manager configuration of d against wmsURL.
func (d LayerDescriptor) Config(wmsURL string) layers.Config {
	return layers.Config{
		LayerID:          d.ID,
		WMSURL:           wmsURL,
		TableName:        d.TableName,
		Style:            d.Style,
		Coordinates:      d.Coordinates,
		LabelXAttr:       d.LabelXAttr,
		LabelYAttr:       d.LabelYAttr,
		Before:           d.Before,
		RenderingOptions: d.RenderingOptions,
	}
}

// SourceFile is a data file the development backend can load as a table.
type SourceFile struct {
	Name      string `json:"name" doc:"File name" example:"nyctaxi.parquet"`
	TableName string `json:"tableName" doc:"Table the file loads into" example:"nyctaxi"`
	Size      string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType  string `json:"fileType" doc:"File format" example:"GeoParquet"`
}
