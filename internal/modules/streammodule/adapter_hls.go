package streammodule

import (
	"context"
	"sync"
)

// segmentedHTTPAdapter plays segmented-http streams. The master manifest is
// fetched once per Load to enumerate renditions; quality switches re-point
// the sink at the selected rendition's playlist, and "auto" returns control
// to the sink's own rendition selection on the master locator.
type segmentedHTTPAdapter struct {
	baseAdapter
	manifests ManifestLoader

	stateMu    sync.Mutex
	master     string
	renditions []Rendition
	variants   []QualityVariant
	autoMode   bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newSegmentedHTTPAdapter(deps AdapterDeps) *segmentedHTTPAdapter {
	loader := deps.Manifests
	if loader == nil {
		loader = NewHTTPManifestLoader(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &segmentedHTTPAdapter{
		baseAdapter: newBaseAdapter(StreamTypeSegmentedHTTP, deps.Logger.Named("segmented-http-adapter"), deps.Emit),
		manifests:   loader,
		autoMode:    true,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (a *segmentedHTTPAdapter) Load(sink MediaSink, locator string) bool {
	if !a.attach(sink, locator) {
		return false
	}
	a.stateMu.Lock()
	a.master = locator
	a.autoMode = true
	a.stateMu.Unlock()

	go a.fetchManifest(locator)
	return true
}

// fetchManifest enumerates renditions and seeds the bandwidth and latency
// estimates from the transfer measurements
func (a *segmentedHTTPAdapter) fetchManifest(locator string) {
	manifest, err := a.manifests.LoadMaster(a.ctx, locator)
	if err != nil {
		if a.ctx.Err() != nil {
			return
		}
		a.logger.Error("master playlist fetch failed", "locator", locator, "error", err)
		a.emit(Event{Kind: EventError, Reason: normalizeError(err, ErrorReasonNetwork), Err: err})
		return
	}

	a.stateMu.Lock()
	a.renditions = manifest.Renditions
	a.variants = renditionVariants(manifest.Renditions)
	a.stateMu.Unlock()
	a.setEstimates(manifest.ThroughputBps, float64(manifest.FetchLatency.Milliseconds()))

	if a.isDestroyed() {
		return
	}
	a.emit(Event{Kind: EventQualityChange, Quality: QualityLabelAuto})
}

// SetQuality switches the sink to a specific rendition playlist, or back to
// the master locator for "auto"
func (a *segmentedHTTPAdapter) SetQuality(label string) error {
	sink := a.currentSink()
	if sink == nil {
		return nil
	}

	if label == QualityLabelAuto {
		a.stateMu.Lock()
		master := a.master
		already := a.autoMode
		a.autoMode = true
		a.stateMu.Unlock()
		if already {
			return nil
		}
		if err := sink.Attach(master); err != nil {
			a.emit(Event{Kind: EventError, Reason: normalizeError(err, ErrorReasonNetwork), Err: err})
		}
		return nil
	}

	a.stateMu.Lock()
	var locator string
	for _, v := range a.variants {
		if v.Label == label {
			locator = v.Locator
			break
		}
	}
	if locator == "" {
		a.stateMu.Unlock()
		return ErrInvalidQuality
	}
	a.autoMode = false
	a.stateMu.Unlock()

	if err := sink.Attach(locator); err != nil {
		a.emit(Event{Kind: EventError, Reason: normalizeError(err, ErrorReasonNetwork), Err: err})
	}
	return nil
}

func (a *segmentedHTTPAdapter) Variants() []QualityVariant {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	out := make([]QualityVariant, len(a.variants))
	copy(out, a.variants)
	return out
}

func (a *segmentedHTTPAdapter) Destroy() {
	a.cancel()
	if a.releaseSink() {
		a.logger.Debug("segmented-http adapter destroyed")
	}
}
