// Package hintwatcher is the Hint Watcher (spec §4.7, component C7): a
// long-lived subscriber to placement-service label rules that preloads
// regions the rules mark as always-cached.
//
// Grounded on notifications/listener.go's subscription loop: a
// goroutine that range-loops over a channel for the lifetime of the
// process, logging and continuing past per-message errors rather than
// aborting the subscription.
package hintwatcher

import (
	"context"
	"encoding/hex"

	"github.com/golang/glog"

	"github.com/NVIDIA/rangecache/placement"
	"github.com/NVIDIA/rangecache/region"
)

const cacheLabelValue = "always"

// loadRegionFunc is how the watcher asks the background control plane
// to preload a resolved region (spec §4.7 "invoke load_region").
type loadRegionFunc func(id region.ID, epoch uint64, rng region.KeyRange)

// Watcher runs Watch in its own goroutine for the process lifetime.
type Watcher struct {
	placement  placement.Service
	regionInfo placement.RegionInfoProvider
	loadRegion loadRegionFunc
}

func New(svc placement.Service, regionInfo placement.RegionInfoProvider, loadRegion loadRegionFunc) *Watcher {
	return &Watcher{placement: svc, regionInfo: regionInfo, loadRegion: loadRegion}
}

// Watch subscribes to label rules until ctx is canceled (spec §4.7).
// Decode and lookup errors are logged and do not end the subscription;
// only the upstream channel closing does.
func (w *Watcher) Watch(ctx context.Context) {
	rules, errs := w.placement.WatchRegionLabels(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil {
				glog.Warningf("hintwatcher: subscription error: %v", err)
			}
		case rule, ok := <-rules:
			if !ok {
				return
			}
			w.handleRule(ctx, rule)
		}
	}
}

func (w *Watcher) handleRule(ctx context.Context, rule placement.LabelRule) {
	value, tagged := cacheLabelOf(rule)
	if !tagged || value != cacheLabelValue {
		return
	}
	for _, data := range rule.Data {
		w.loadHexRange(ctx, data)
	}
}

// cacheLabelOf reports the value of the rule's "cache" label, if any
// (spec §4.7 "retain only rules tagged cache"; "for each accepted rule
// with value always").
func cacheLabelOf(rule placement.LabelRule) (value string, ok bool) {
	for _, l := range rule.Labels {
		if l.Key == "cache" {
			return l.Value, true
		}
	}
	return "", false
}

func (w *Watcher) loadHexRange(ctx context.Context, data placement.HexRange) {
	start, err := hex.DecodeString(data.StartHex)
	if err != nil {
		glog.Warningf("hintwatcher: bad start_hex %q: %v", data.StartHex, err)
		return
	}
	end, err := hex.DecodeString(data.EndHex)
	if err != nil {
		glog.Warningf("hintwatcher: bad end_hex %q: %v", data.EndHex, err)
		return
	}

	regions, err := w.regionInfo.GetRegionsInRange(ctx, start, end)
	if err != nil {
		glog.Warningf("hintwatcher: region-info lookup failed for [%x,%x): %v", start, end, err)
		return
	}
	for _, r := range regions {
		w.loadRegion(region.ID(r.ID), 0, region.KeyRange{Start: r.Start, End: r.End})
	}
}
