package streammodule

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// autoVariant is the synthetic entry always present at the head of a catalog
func autoVariant() QualityVariant {
	return QualityVariant{Label: QualityLabelAuto, BandwidthBps: 0}
}

// QualityCatalog holds the quality variants available to one session.
// Labels are unique and exactly one variant is current at any time.
type QualityCatalog struct {
	mu       sync.RWMutex
	logger   hclog.Logger
	variants []QualityVariant
	current  string
	onChange func(QualityVariant)
}

// NewQualityCatalog creates an empty catalog containing only the "auto" entry
func NewQualityCatalog(logger hclog.Logger) *QualityCatalog {
	return &QualityCatalog{
		logger:   logger.Named("quality-catalog"),
		variants: []QualityVariant{autoVariant()},
		current:  QualityLabelAuto,
	}
}

// OnChange registers a callback invoked after every successful selection.
// The StreamingSession uses this to forward a quality-changed event.
func (c *QualityCatalog) OnChange(fn func(QualityVariant)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Populate replaces the catalog contents, always prepending the synthetic
// "auto" entry. An empty list yields a catalog containing only "auto"; it is
// not an error. Duplicate labels after the first are dropped.
func (c *QualityCatalog) Populate(variants []QualityVariant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make([]QualityVariant, 0, len(variants)+1)
	next = append(next, autoVariant())
	seen := map[string]bool{QualityLabelAuto: true}
	for _, v := range variants {
		if v.Label == "" || seen[v.Label] {
			c.logger.Warn("dropping quality variant with empty or duplicate label", "label", v.Label)
			continue
		}
		seen[v.Label] = true
		next = append(next, v)
	}
	c.variants = next

	// Prior selection survives only if its label is still present
	if !seen[c.current] {
		c.current = QualityLabelAuto
	}
}

// Select makes the variant with the given label current. An unknown label
// returns ErrInvalidQuality and leaves the prior selection unchanged.
func (c *QualityCatalog) Select(label string) error {
	c.mu.Lock()
	var selected *QualityVariant
	for i := range c.variants {
		if c.variants[i].Label == label {
			selected = &c.variants[i]
			break
		}
	}
	if selected == nil {
		c.mu.Unlock()
		c.logger.Warn("quality selection rejected", "label", label)
		return ErrInvalidQuality
	}
	c.current = selected.Label
	variant := *selected
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(variant)
	}
	return nil
}

// setCurrent syncs the selection to a backend-initiated switch without
// firing the change callback. Unknown labels are ignored.
func (c *QualityCatalog) setCurrent(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.variants {
		if v.Label == label {
			c.current = label
			return
		}
	}
}

// Current returns the current variant, or "auto" if never selected
func (c *QualityCatalog) Current() QualityVariant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.variants {
		if v.Label == c.current {
			return v
		}
	}
	return autoVariant()
}

// Variants returns a copy of the catalog contents in display order
func (c *QualityCatalog) Variants() []QualityVariant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]QualityVariant, len(c.variants))
	copy(out, c.variants)
	return out
}
