package kickbox

import (
	"go.uber.org/zap"

	"github.com/joeblew999/kickbox/internal/identify"
	"github.com/joeblew999/kickbox/internal/kberr"
)

// IdentifyOptions selects what an identify mode queries.
type IdentifyOptions struct {
	LayerID         string
	TableName       string
	Coordinates     Coordinates
	Collection      string
	Transformations []Transformation
}

func (k *Kickbox) enable(o IdentifyOptions, radius float64) (*IdentifyMode, error) {
	draw := k.widgets.NewDrawControl("draw-" + o.LayerID)
	mode, err := identify.New(identify.Config{
		LayerID:         o.LayerID,
		TableName:       o.TableName,
		Coordinates:     o.Coordinates,
		Collection:      o.Collection,
		Transformations: o.Transformations,
		Radius:          radius,
	}, k.client, draw, k.widgets.NewPopupView(),
		identify.WithLogger(k.logger),
		identify.WithMetrics(k.metrics),
		identify.WithRenderer(k.renderer),
	)
	if err != nil {
		k.logger.Error("enable identify mode", zap.String("layer", o.LayerID), zap.Error(err))
		return nil, err
	}
	k.identify.Enable(k.m, o.LayerID, mode, draw)
	return mode, nil
}

// EnableIdentifyByRadiusMode disables any enabled identify mode and starts a
// fresh draw-a-circle mode for o.LayerID: click to anchor, move to size,
// click to query, click to clear.
func (k *Kickbox) EnableIdentifyByRadiusMode(o IdentifyOptions) (*IdentifyMode, error) {
	return k.enable(o, 0)
}

// EnableIdentifyByPointMode disables any enabled identify mode and starts a
// fresh mode that queries a fixed buffer of radius meters around each click.
func (k *Kickbox) EnableIdentifyByPointMode(o IdentifyOptions, radius float64) (*IdentifyMode, error) {
	if radius <= 0 {
		return nil, kberr.InvalidConfiguration("enable identify by point", "radius must be positive, got %v", radius)
	}
	return k.enable(o, radius)
}

// DisableIdentifyByRadiusMode tears down layerID's identify mode and removes
// its draw control.
func (k *Kickbox) DisableIdentifyByRadiusMode(layerID string) {
	k.identify.Disable(k.m, layerID)
}

// DisableIdentifyByPointMode tears down layerID's identify mode. Both modes
// share one registry, so it matches DisableIdentifyByRadiusMode.
func (k *Kickbox) DisableIdentifyByPointMode(layerID string) {
	k.DisableIdentifyByRadiusMode(layerID)
}

// DisableIdentifyMode tears down every identify mode on the map.
func (k *Kickbox) DisableIdentifyMode() {
	k.identify.DisableAll(k.m)
}

// ActiveIdentifyLayer returns the layer whose identify mode is enabled.
func (k *Kickbox) ActiveIdentifyLayer() (string, bool) {
	return k.identify.Active()
}
