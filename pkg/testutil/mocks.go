package testutil

import (
	"context"
	"sync"
	"time"

	"customerintel/pkg/types"
)

// MockOrderStore is a mock implementation of OrderStore for testing
type MockOrderStore struct {
	OrdersFunc func(ctx context.Context, orgID string, from, to time.Time) ([]types.Order, error)

	mu        sync.Mutex
	CallCount int
	LastOrgID string
}

func (m *MockOrderStore) OrdersByOrganization(ctx context.Context, orgID string, from, to time.Time) ([]types.Order, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastOrgID = orgID
	m.mu.Unlock()

	if m.OrdersFunc != nil {
		return m.OrdersFunc(ctx, orgID, from, to)
	}
	return nil, nil
}

// MockEventStore is a mock implementation of EventStore for testing
type MockEventStore struct {
	EventsFunc func(ctx context.Context, orgID string, from, to time.Time) ([]types.InteractionEvent, error)

	mu        sync.Mutex
	CallCount int
}

func (m *MockEventStore) EventsByOrganization(ctx context.Context, orgID string, from, to time.Time) ([]types.InteractionEvent, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.EventsFunc != nil {
		return m.EventsFunc(ctx, orgID, from, to)
	}
	return nil, nil
}

// MockModelRegistry is an in-memory ModelRegistry for testing
type MockModelRegistry struct {
	SaveArtifactFunc func(version string, data []byte) error
	LoadArtifactFunc func(version string) ([]byte, error)

	mu        sync.Mutex
	Artifacts map[string][]byte
	Metrics   []MetricCall
}

// MetricCall records one LogMetric invocation.
type MetricCall struct {
	Name  string
	Value float64
	Step  int
}

func NewMockModelRegistry() *MockModelRegistry {
	return &MockModelRegistry{Artifacts: make(map[string][]byte)}
}

func (m *MockModelRegistry) SaveArtifact(version string, data []byte) error {
	m.mu.Lock()
	m.Artifacts[version] = data
	m.mu.Unlock()

	if m.SaveArtifactFunc != nil {
		return m.SaveArtifactFunc(version, data)
	}
	return nil
}

func (m *MockModelRegistry) LoadArtifact(version string) ([]byte, error) {
	if m.LoadArtifactFunc != nil {
		return m.LoadArtifactFunc(version)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Artifacts[version], nil
}

func (m *MockModelRegistry) LogMetric(name string, value float64, step int) error {
	m.mu.Lock()
	m.Metrics = append(m.Metrics, MetricCall{Name: name, Value: value, Step: step})
	m.mu.Unlock()
	return nil
}

// MockSegmentStore is a mock implementation of SegmentStore for testing
type MockSegmentStore struct {
	ReplaceFunc func(ctx context.Context, orgID string, segments []types.Segment) error

	mu           sync.Mutex
	ReplaceCount int
	LastSegments []types.Segment
}

func (m *MockSegmentStore) ReplaceSegments(ctx context.Context, orgID string, segments []types.Segment) error {
	m.mu.Lock()
	m.ReplaceCount++
	m.LastSegments = segments
	m.mu.Unlock()

	if m.ReplaceFunc != nil {
		return m.ReplaceFunc(ctx, orgID, segments)
	}
	return nil
}

// MockMembershipStore is an in-memory MembershipStore for testing
type MockMembershipStore struct {
	AppendFunc    func(ctx context.Context, orgID string, records []types.SegmentMembershipRecord) error
	HistoriesFunc func(ctx context.Context, orgID string) (map[string][]types.SegmentMembershipRecord, error)

	mu      sync.Mutex
	Records map[string][]types.SegmentMembershipRecord
}

func NewMockMembershipStore() *MockMembershipStore {
	return &MockMembershipStore{Records: make(map[string][]types.SegmentMembershipRecord)}
}

func (m *MockMembershipStore) AppendMemberships(ctx context.Context, orgID string, records []types.SegmentMembershipRecord) error {
	m.mu.Lock()
	for _, rec := range records {
		m.Records[rec.CustomerID] = append(m.Records[rec.CustomerID], rec)
	}
	m.mu.Unlock()

	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, orgID, records)
	}
	return nil
}

func (m *MockMembershipStore) Histories(ctx context.Context, orgID string) (map[string][]types.SegmentMembershipRecord, error) {
	if m.HistoriesFunc != nil {
		return m.HistoriesFunc(ctx, orgID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]types.SegmentMembershipRecord, len(m.Records))
	for k, v := range m.Records {
		out[k] = append([]types.SegmentMembershipRecord(nil), v...)
	}
	return out, nil
}
