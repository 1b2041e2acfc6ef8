package streammodule

import (
	"context"
	"sync"
)

// dynamicAdaptiveAdapter plays dynamic-adaptive streams. Representation
// enumeration comes from the manifest; switching works the same way as the
// segmented-http variant but against representation base URLs.
type dynamicAdaptiveAdapter struct {
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

func newDynamicAdaptiveAdapter(deps AdapterDeps) *dynamicAdaptiveAdapter {
	loader := deps.Manifests
	if loader == nil {
		loader = NewHTTPManifestLoader(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &dynamicAdaptiveAdapter{
		baseAdapter: newBaseAdapter(StreamTypeDynamicAdaptive, deps.Logger.Named("dynamic-adaptive-adapter"), deps.Emit),
		manifests:   loader,
		autoMode:    true,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (a *dynamicAdaptiveAdapter) Load(sink MediaSink, locator string) bool {
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

func (a *dynamicAdaptiveAdapter) fetchManifest(locator string) {
	manifest, err := a.manifests.LoadMPD(a.ctx, locator)
	if err != nil {
		if a.ctx.Err() != nil {
			return
		}
		a.logger.Error("manifest fetch failed", "locator", locator, "error", err)
		a.emit(Event{Kind: EventError, Reason: normalizeError(err, ErrorReasonNetwork), Err: err})
		return
	}
	if len(manifest.Renditions) == 0 {
		a.logger.Warn("manifest contains no video representations", "locator", locator)
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

func (a *dynamicAdaptiveAdapter) SetQuality(label string) error {
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

func (a *dynamicAdaptiveAdapter) Variants() []QualityVariant {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	out := make([]QualityVariant, len(a.variants))
	copy(out, a.variants)
	return out
}

func (a *dynamicAdaptiveAdapter) Destroy() {
	a.cancel()
	if a.releaseSink() {
		a.logger.Debug("dynamic-adaptive adapter destroyed")
	}
}
