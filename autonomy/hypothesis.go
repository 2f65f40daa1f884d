package autonomy

import (
	"fmt"
	"sort"
)

// HypothesisType classifies proposed maintenance work.
type HypothesisType uint8

const (
	// HypothesisIndexOptimization proposes a spatial index rebuild for a
	// crowded region.
	HypothesisIndexOptimization HypothesisType = iota + 1
	// HypothesisCacheWarming proposes pre-touching a hot region.
	HypothesisCacheWarming
	// HypothesisPruneLowImportance proposes garbage collection when
	// reclaimable atoms pile up.
	HypothesisPruneLowImportance
	// HypothesisConceptDiscovery proposes promoting a dense, active
	// region to a named concept.
	HypothesisConceptDiscovery
	// HypothesisQuotaAdjustment proposes tightening ingestion quotas
	// when the whole space is crowded.
	HypothesisQuotaAdjustment
)

// String implements fmt.Stringer.
func (t HypothesisType) String() string {
	switch t {
	case HypothesisIndexOptimization:
		return "index_optimization"
	case HypothesisCacheWarming:
		return "cache_warming"
	case HypothesisPruneLowImportance:
		return "prune_low_importance"
	case HypothesisConceptDiscovery:
		return "concept_discovery"
	case HypothesisQuotaAdjustment:
		return "quota_adjustment"
	default:
		return fmt.Sprintf("hypothesis(%d)", uint8(t))
	}
}

// Hypothesis is one proposed action with a scheduling priority.
type Hypothesis struct {
	Type     HypothesisType
	Region   Region
	Priority float64
	Detail   string
}

// Thresholds tune hypothesis generation.
type Thresholds struct {
	// PressureHigh is the region atom count that counts as crowded.
	PressureHigh int

	// VelocityHigh is the per-cycle access count that counts as hot.
	VelocityHigh uint64

	// TombstoneHigh is the store-wide tombstone count that triggers
	// pruning.
	TombstoneHigh uint64

	// GlobalPressureHigh is the total indexed atom count that triggers
	// quota tightening.
	GlobalPressureHigh int
}

// DefaultThresholds returns the stock tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PressureHigh:       256,
		VelocityHigh:       64,
		TombstoneHigh:      1024,
		GlobalPressureHigh: 1 << 20,
	}
}

// Hypothesizer turns observations into prioritized hypotheses. Outcome
// feedback dampens the priority of hypothesis types that keep failing.
type Hypothesizer struct {
	thresholds Thresholds
}

// NewHypothesizer creates a hypothesizer with the given thresholds.
func NewHypothesizer(thresholds Thresholds) *Hypothesizer {
	if thresholds.PressureHigh <= 0 {
		thresholds = DefaultThresholds()
	}
	return &Hypothesizer{thresholds: thresholds}
}

// Hypothesize derives hypotheses from one observation. Results are
// ordered by descending priority.
func (h *Hypothesizer) Hypothesize(obs Observation, feedback *Feedback) []Hypothesis {
	var out []Hypothesis

	for _, m := range obs.Regions {
		crowded := m.Pressure >= h.thresholds.PressureHigh
		hot := m.Velocity >= h.thresholds.VelocityHigh

		if crowded {
			out = append(out, Hypothesis{
				Type:     HypothesisIndexOptimization,
				Region:   m.Region,
				Priority: float64(m.Pressure),
				Detail:   fmt.Sprintf("region %s holds %d atoms", m.Region, m.Pressure),
			})
		}
		if hot {
			out = append(out, Hypothesis{
				Type:     HypothesisCacheWarming,
				Region:   m.Region,
				Priority: float64(m.Velocity),
				Detail:   fmt.Sprintf("region %s saw %d accesses", m.Region, m.Velocity),
			})
		}
		if crowded && hot {
			out = append(out, Hypothesis{
				Type:     HypothesisConceptDiscovery,
				Region:   m.Region,
				Priority: float64(m.Pressure) * 0.5,
				Detail:   fmt.Sprintf("region %s is dense and active", m.Region),
			})
		}
	}

	total := 0
	for _, m := range obs.Regions {
		total += m.Pressure
	}
	if h.thresholds.GlobalPressureHigh > 0 && total >= h.thresholds.GlobalPressureHigh {
		out = append(out, Hypothesis{
			Type:     HypothesisQuotaAdjustment,
			Region:   Region{},
			Priority: float64(total),
			Detail:   fmt.Sprintf("%d atoms indexed, tightening ingestion quotas", total),
		})
	}

	if obs.Tombstones >= h.thresholds.TombstoneHigh {
		out = append(out, Hypothesis{
			Type:     HypothesisPruneLowImportance,
			Region:   Region{},
			Priority: float64(obs.Tombstones),
			Detail:   fmt.Sprintf("%d tombstoned atoms await reclaim", obs.Tombstones),
		})
	}

	if feedback != nil {
		for i := range out {
			out[i].Priority *= feedback.SuccessRate(out[i].Type)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Region.Prefix < b.Region.Prefix
	})
	return out
}
