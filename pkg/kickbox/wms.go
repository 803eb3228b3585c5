package kickbox

import "time"

// AddWmsLayer draws a WMS layer and keeps it in sync with the viewport.
// Class-break problems are reported in the result's validation.
func (k *Kickbox) AddWmsLayer(cfg WmsLayerConfig) (WmsResult, error) {
	return k.wms.AddWmsLayer(cfg)
}

// UpdateWmsLayer merges new parameters into an existing layer.
func (k *Kickbox) UpdateWmsLayer(u WmsLayerUpdate) (WmsResult, error) {
	return k.wms.UpdateWmsLayer(u)
}

// UpdateWmsLayerType switches an existing layer to another style.
func (k *Kickbox) UpdateWmsLayerType(layerID, style string) (WmsResult, error) {
	return k.wms.UpdateWmsLayerType(layerID, style, 0)
}

// UpdateWmsLayerTypeDebounced is UpdateWmsLayerType with its own redraw
// debounce window.
func (k *Kickbox) UpdateWmsLayerTypeDebounced(layerID, style string, debounce time.Duration) (WmsResult, error) {
	return k.wms.UpdateWmsLayerType(layerID, style, debounce)
}

// RemoveWmsLayer removes a WMS layer, its source and its subscriptions.
func (k *Kickbox) RemoveWmsLayer(layerID string) { k.wms.RemoveWmsLayer(layerID) }

// RemoveLayer removes only the rendered layer of layerID.
func (k *Kickbox) RemoveLayer(layerID string) { k.wms.RemoveLayer(layerID) }

// RemoveSource removes only the image source of layerID.
func (k *Kickbox) RemoveSource(layerID string) { k.wms.RemoveSource(layerID) }

// SetLayerOpacity sets a WMS layer's opacity in [0,1].
func (k *Kickbox) SetLayerOpacity(layerID string, opacity float64) error {
	return k.wms.SetLayerOpacity(layerID, opacity)
}

// AddCbLegend adds a class-break legend control.
func (k *Kickbox) AddCbLegend(title, position string, breaks, colors []string) (*Legend, error) {
	return k.wms.AddCbLegend(title, position, breaks, colors)
}

// RemoveCbLegend takes a legend off the map.
func (k *Kickbox) RemoveCbLegend(l *Legend) { k.wms.RemoveCbLegend(l) }

// WmsLayers lists the managed WMS layer ids.
func (k *Kickbox) WmsLayers() []string { return k.wms.Layers() }
