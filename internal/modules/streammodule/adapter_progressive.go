package streammodule

import "sort"

// progressiveAdapter plays a single-file rendition straight through the sink.
// There is only ever one rendition per locator, so a manual quality switch is
// a full reload with the selected variant's locator.
type progressiveAdapter struct {
	baseAdapter
	sources []QualityVariant
}

func newProgressiveAdapter(deps AdapterDeps) *progressiveAdapter {
	sources := make([]QualityVariant, len(deps.AlternateSources))
	copy(sources, deps.AlternateSources)
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].BandwidthBps > sources[j].BandwidthBps
	})
	return &progressiveAdapter{
		baseAdapter: newBaseAdapter(StreamTypeProgressive, deps.Logger.Named("progressive-adapter"), deps.Emit),
		sources:     sources,
	}
}

func (a *progressiveAdapter) Load(sink MediaSink, locator string) bool {
	return a.attach(sink, locator)
}

// SetQuality reloads the sink with the selected variant's locator. "auto"
// keeps the current source.
func (a *progressiveAdapter) SetQuality(label string) error {
	if label == QualityLabelAuto {
		return nil
	}
	for _, v := range a.sources {
		if v.Label == label {
			if v.Locator == "" {
				return ErrInvalidQuality
			}
			sink := a.currentSink()
			if sink == nil {
				return nil
			}
			if err := sink.Attach(v.Locator); err != nil {
				a.emit(Event{Kind: EventError, Reason: normalizeError(err, ErrorReasonNetwork), Err: err})
				return nil
			}
			a.mu.Lock()
			a.locator = v.Locator
			a.mu.Unlock()
			return nil
		}
	}
	return ErrInvalidQuality
}

func (a *progressiveAdapter) Variants() []QualityVariant {
	out := make([]QualityVariant, len(a.sources))
	copy(out, a.sources)
	return out
}

func (a *progressiveAdapter) Destroy() {
	if a.releaseSink() {
		a.logger.Debug("progressive adapter destroyed")
	}
}
