package catalog

// Filters narrows GetAvailableModels. Dimensions are ANDed; a zero-valued
// dimension matches everything.
type Filters struct {
	Providers        []Provider
	Capabilities     map[Capability]bool
	MaxPrice         *float64 // ceiling on input price per 1K tokens; unpriced models never match
	MinContextWindow int
	Tiers            []Tier
	Speeds           []Speed
	Qualities        []Quality
}

// GetAvailableModels returns the models matching filters in table order
func GetAvailableModels(filters *Filters) []ModelConfig {
	if filters == nil {
		return All()
	}

	out := make([]ModelConfig, 0, len(models))
	for _, m := range models {
		if filters.matches(m) {
			out = append(out, m)
		}
	}
	return out
}

func (f *Filters) matches(m ModelConfig) bool {
	if len(f.Providers) > 0 && !contains(f.Providers, m.Provider) && !contains(f.Providers, m.ResolvedProvider()) {
		return false
	}
	for capability, want := range f.Capabilities {
		if m.Capabilities.Has(capability) != want {
			return false
		}
	}
	if f.MaxPrice != nil && (m.Pricing == nil || m.Pricing.Input > *f.MaxPrice) {
		return false
	}
	if f.MinContextWindow > 0 && m.ContextWindow < f.MinContextWindow {
		return false
	}
	if len(f.Tiers) > 0 && !contains(f.Tiers, m.Tier) {
		return false
	}
	if len(f.Speeds) > 0 && !contains(f.Speeds, m.Performance.Speed) {
		return false
	}
	if len(f.Qualities) > 0 && !contains(f.Qualities, m.Performance.Quality) {
		return false
	}
	return true
}

// GroupByTier buckets models by tier, preserving table order within each tier
func GroupByTier(list []ModelConfig) map[Tier][]ModelConfig {
	out := make(map[Tier][]ModelConfig)
	for _, m := range list {
		out[m.Tier] = append(out[m.Tier], m)
	}
	return out
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
