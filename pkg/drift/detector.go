// Package drift flags customers moving into worse behavioral segments over
// time, based on their segment membership history.
package drift

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"customerintel/pkg/types"
)

type transition struct {
	from, to string
}

// criticalTransitions are the strictly-worse moves checked first.
var criticalTransitions = map[transition]struct{}{
	{"Champions", "At Risk"}:         {},
	{"Champions", "Can't Lose Them"}: {},
	{"Loyal Customers", "At Risk"}:   {},
	{"Can't Lose Them", "Lost"}:      {},
	{"At Risk", "Lost"}:              {},
}

// downwardTransitions are the broader set of declines.
var downwardTransitions = map[transition]struct{}{
	{"Champions", "Loyal Customers"}:          {},
	{"Champions", "Need Attention"}:           {},
	{"Champions", "At Risk"}:                  {},
	{"Champions", "Can't Lose Them"}:          {},
	{"Loyal Customers", "Need Attention"}:     {},
	{"Loyal Customers", "At Risk"}:            {},
	{"Loyal Customers", "Hibernating"}:        {},
	{"Potential Loyalists", "Need Attention"}: {},
	{"Potential Loyalists", "At Risk"}:        {},
	{"Potential Loyalists", "About to Sleep"}: {},
	{"Need Attention", "At Risk"}:             {},
	{"Need Attention", "Hibernating"}:         {},
	{"At Risk", "Lost"}:                       {},
	{"At Risk", "Hibernating"}:                {},
	{"Can't Lose Them", "Lost"}:               {},
}

// Detector classifies segment transitions in membership histories.
type Detector struct {
	now func() time.Time
	log zerolog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides the detection timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithLogger sets the detector's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Detector) { d.log = log.With().Str("component", "drift").Logger() }
}

// NewDetector creates a Detector.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns one event per downward or critical transition between
// consecutive history entries. Histories with fewer than 2 entries produce
// no events; consecutive entries with the same segment name are skipped.
func (d *Detector) Detect(history []types.SegmentMembershipRecord) []types.DriftEvent {
	if len(history) < 2 {
		return nil
	}

	sorted := make([]types.SegmentMembershipRecord, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AssignedAt.Before(sorted[j].AssignedAt) })

	var events []types.DriftEvent
	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1], sorted[i]
		if prev.SegmentName == curr.SegmentName {
			continue
		}
		direction := classifyTransition(prev.SegmentName, curr.SegmentName)
		if direction == types.DriftNeutralOrUpward {
			continue
		}
		events = append(events, types.DriftEvent{
			EventID:           uuid.New().String(),
			CustomerID:        curr.CustomerID,
			FromSegment:       prev.SegmentName,
			ToSegment:         curr.SegmentName,
			Direction:         direction,
			HealthScoreBefore: prev.HealthScore,
			HealthScoreAfter:  curr.HealthScore,
			DetectedAt:        d.now(),
		})
	}
	return events
}

// BatchDetect applies Detect per customer and concatenates the results.
func (d *Detector) BatchDetect(histories map[string][]types.SegmentMembershipRecord) []types.DriftEvent {
	customerIDs := make([]string, 0, len(histories))
	for cid := range histories {
		customerIDs = append(customerIDs, cid)
	}
	sort.Strings(customerIDs)

	var all []types.DriftEvent
	for _, cid := range customerIDs {
		all = append(all, d.Detect(histories[cid])...)
	}
	d.log.Info().Int("customers", len(histories)).Int("drift_events", len(all)).Msg("drift detection complete")
	return all
}

// classifyTransition checks the critical set first, then the downward set.
func classifyTransition(from, to string) types.DriftDirection {
	t := transition{from, to}
	if _, ok := criticalTransitions[t]; ok {
		return types.DriftCritical
	}
	if _, ok := downwardTransitions[t]; ok {
		return types.DriftDownward
	}
	return types.DriftNeutralOrUpward
}
