package kickbox

import (
	"context"

	"github.com/joeblew999/kickbox/internal/cluster"
)

// AddClusterLayer loads the grouped aggregate for opts, builds the cluster
// index and adds the cluster and label layers to the map. An existing
// cluster layer with the same id is removed first. The returned layer exposes
// the index, the loaded features and Update to recompute on demand.
func (k *Kickbox) AddClusterLayer(ctx context.Context, opts ClusterOptions) (*ClusterLayer, error) {
	if opts.Debounce == 0 {
		opts.Debounce = k.debounce
	}
	k.RemoveClusterLayer(opts.LayerID)

	l, err := cluster.Add(ctx, cluster.Deps{
		Map:      k.m,
		Loader:   k.client,
		Bus:      k.bus,
		Renderer: k.renderer,
		Logger:   k.logger,
		Metrics:  k.metrics,
	}, opts)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.clusters[opts.LayerID] = l
	k.mu.Unlock()
	return l, nil
}

// RemoveClusterLayer removes a cluster layer and its subscriptions. Unknown
// ids only clear leftover map resources.
func (k *Kickbox) RemoveClusterLayer(layerID string) {
	k.mu.Lock()
	l, ok := k.clusters[layerID]
	delete(k.clusters, layerID)
	k.mu.Unlock()

	if ok {
		l.Remove()
		return
	}
	cluster.RemoveFromMap(k.m, layerID)
}

// ClusterLayer returns the live cluster layer for layerID.
func (k *Kickbox) ClusterLayer(layerID string) (*ClusterLayer, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.clusters[layerID]
	return l, ok
}
