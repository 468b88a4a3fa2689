package pipeline

import (
	"context"
	"time"

	"customerintel/pkg/types"
)

// OrderStore supplies order history for an organization. Implementations
// live outside the core; transport errors propagate to the caller.
type OrderStore interface {
	OrdersByOrganization(ctx context.Context, orgID string, from, to time.Time) ([]types.Order, error)
}

// EventStore supplies interaction events for an organization.
type EventStore interface {
	EventsByOrganization(ctx context.Context, orgID string, from, to time.Time) ([]types.InteractionEvent, error)
}

// ModelRegistry persists trained encoder artifacts and scalar metrics.
type ModelRegistry interface {
	SaveArtifact(version string, data []byte) error
	LoadArtifact(version string) ([]byte, error)
	LogMetric(name string, value float64, step int) error
}

// SegmentStore holds the latest segment set per organization; each run's
// set replaces the prior one.
type SegmentStore interface {
	ReplaceSegments(ctx context.Context, orgID string, segments []types.Segment) error
}

// MembershipStore accumulates the per-customer segment membership history
// consumed by the drift detector.
type MembershipStore interface {
	AppendMemberships(ctx context.Context, orgID string, records []types.SegmentMembershipRecord) error
	Histories(ctx context.Context, orgID string) (map[string][]types.SegmentMembershipRecord, error)
}
