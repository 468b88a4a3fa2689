package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"customerintel/pkg/clustering"
	"customerintel/pkg/encoder"
	"customerintel/pkg/features"
	"customerintel/pkg/pipeline"
	"customerintel/pkg/sequence"
	"customerintel/pkg/testutil"
	"customerintel/pkg/types"
)

var ref = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

// fixtureData builds order and event history for n customers, two orders
// and two interaction events each.
func fixtureData(n int) ([]types.Order, []types.InteractionEvent) {
	var orders []types.Order
	var events []types.InteractionEvent
	for i := 0; i < n; i++ {
		cid := fmt.Sprintf("cust-%02d", i)
		orders = append(orders,
			types.Order{
				OrderID:    cid + "-o1",
				CustomerID: cid,
				Total:      100 + float64(i)*10,
				OrderedAt:  ref.AddDate(0, 0, -60+i),
				Items:      []types.LineItem{{ProductID: "p1", Category: "shoes", Quantity: 1, UnitPrice: 100}},
			},
			types.Order{
				OrderID:    cid + "-o2",
				CustomerID: cid,
				Total:      50,
				OrderedAt:  ref.AddDate(0, 0, -10),
			},
		)
		events = append(events,
			types.InteractionEvent{CustomerID: cid, EventType: "email_sent", OccurredAt: ref.AddDate(0, 0, -30)},
			types.InteractionEvent{CustomerID: cid, EventType: "email_opened", OccurredAt: ref.AddDate(0, 0, -29)},
		)
	}
	return orders, events
}

func fixtureStores(n int) (*testutil.MockOrderStore, *testutil.MockEventStore) {
	orders, events := fixtureData(n)
	orderStore := &testutil.MockOrderStore{
		OrdersFunc: func(ctx context.Context, orgID string, from, to time.Time) ([]types.Order, error) {
			return orders, nil
		},
	}
	eventStore := &testutil.MockEventStore{
		EventsFunc: func(ctx context.Context, orgID string, from, to time.Time) ([]types.InteractionEvent, error) {
			return events, nil
		},
	}
	return orderStore, eventStore
}

func newPipeline(t *testing.T, orders pipeline.OrderStore, events pipeline.EventStore,
	reg pipeline.ModelRegistry, segs pipeline.SegmentStore, members pipeline.MembershipStore) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.Config{
		Orders:      orders,
		Events:      events,
		Registry:    reg,
		Segments:    segs,
		Memberships: members,
		Features:    features.Config{ReferenceTime: ref},
		Sequences:   sequence.Config{},
		Encoder: encoder.Config{
			DModel:       16,
			NHeads:       2,
			NLayers:      1,
			DFF:          32,
			MaxSeqLen:    8,
			OutputDim:    8,
			BatchSize:    8,
			Epochs:       2,
			LearningRate: 1e-3,
		},
		Clustering: clustering.Config{NComponents: 2, MinClusterSize: 3, MinSamples: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := pipeline.New(pipeline.Config{})
	if err == nil {
		t.Fatal("expected error for missing stores")
	}
}

func TestComputeFeatures(t *testing.T) {
	orderStore, eventStore := fixtureStores(6)
	p := newPipeline(t, orderStore, eventStore, testutil.NewMockModelRegistry(),
		&testutil.MockSegmentStore{}, testutil.NewMockMembershipStore())

	vectors, report, err := p.ComputeFeatures(context.Background(), "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 6 {
		t.Fatalf("got %d vectors, want 6", len(vectors))
	}
	if report.CustomersWithFeatures != 6 || report.OrdersFetched != 12 {
		t.Errorf("report = %+v", report)
	}
	for i := 1; i < len(vectors); i++ {
		if vectors[i].CustomerID <= vectors[i-1].CustomerID {
			t.Fatal("vectors not sorted by customer id")
		}
	}
	if orderStore.CallCount != 1 || eventStore.CallCount != 1 {
		t.Errorf("store calls = %d/%d, want 1/1", orderStore.CallCount, eventStore.CallCount)
	}
}

func TestComputeFeatures_PropagatesStoreErrors(t *testing.T) {
	orderStore := &testutil.MockOrderStore{
		OrdersFunc: func(ctx context.Context, orgID string, from, to time.Time) ([]types.Order, error) {
			return nil, errors.New("connection refused")
		},
	}
	_, eventStore := fixtureStores(2)
	p := newPipeline(t, orderStore, eventStore, testutil.NewMockModelRegistry(),
		&testutil.MockSegmentStore{}, testutil.NewMockMembershipStore())

	_, _, err := p.ComputeFeatures(context.Background(), "org-1")
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
	// The retry wrapper makes several attempts before giving up.
	if orderStore.CallCount < 2 {
		t.Errorf("order store called %d times, want retries", orderStore.CallCount)
	}
}

func TestTrainEncoder_SavesArtifactAndMetrics(t *testing.T) {
	orderStore, eventStore := fixtureStores(6)
	reg := testutil.NewMockModelRegistry()
	p := newPipeline(t, orderStore, eventStore, reg,
		&testutil.MockSegmentStore{}, testutil.NewMockMembershipStore())

	version, report, err := p.TrainEncoder(context.Background(), "org-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if version == "" {
		t.Fatal("expected a model version")
	}
	if len(reg.Artifacts[version]) == 0 {
		t.Error("artifact not saved to registry")
	}
	if len(reg.Metrics) != 2 {
		t.Errorf("got %d metric calls, want 2", len(reg.Metrics))
	}
	if report.SequencesBuilt != 6 || report.TrainingEpochs != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestTrainEncoder_InsufficientData(t *testing.T) {
	orderStore, eventStore := fixtureStores(0)
	p := newPipeline(t, orderStore, eventStore, testutil.NewMockModelRegistry(),
		&testutil.MockSegmentStore{}, testutil.NewMockMembershipStore())

	_, _, err := p.TrainEncoder(context.Background(), "org-1", nil)
	if !errors.Is(err, types.ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestBuildFingerprints(t *testing.T) {
	orderStore, eventStore := fixtureStores(6)
	reg := testutil.NewMockModelRegistry()
	p := newPipeline(t, orderStore, eventStore, reg,
		&testutil.MockSegmentStore{}, testutil.NewMockMembershipStore())

	version, _, err := p.TrainEncoder(context.Background(), "org-1", nil)
	if err != nil {
		t.Fatal(err)
	}

	fingerprints, report, err := p.BuildFingerprints(context.Background(), "org-1", version)
	if err != nil {
		t.Fatal(err)
	}
	if len(fingerprints) != 6 {
		t.Fatalf("got %d fingerprints, want 6", len(fingerprints))
	}
	if report.FingerprintsComputed != 6 {
		t.Errorf("report = %+v", report)
	}
	for _, fp := range fingerprints {
		if fp.ModelVersion != version {
			t.Errorf("fingerprint version = %q, want %q", fp.ModelVersion, version)
		}
		if len(fp.Vector) != 8 {
			t.Errorf("fingerprint dim = %d, want 8", len(fp.Vector))
		}
	}
}

func TestCluster_StoresSegmentsAndMemberships(t *testing.T) {
	orderStore, eventStore := fixtureStores(12)
	segStore := &testutil.MockSegmentStore{}
	memberStore := testutil.NewMockMembershipStore()
	p := newPipeline(t, orderStore, eventStore, testutil.NewMockModelRegistry(), segStore, memberStore)

	// Fingerprints in two separated groups.
	var fingerprints []types.Fingerprint
	var vectors []types.CustomerFeatureVector
	for i := 0; i < 12; i++ {
		cid := fmt.Sprintf("cust-%02d", i)
		base := 0.0
		if i >= 6 {
			base = 10.0
		}
		fingerprints = append(fingerprints, types.Fingerprint{
			CustomerID:   cid,
			ModelVersion: "v1",
			Vector:       []float64{base + float64(i%6)*0.1, base, base + 0.05, base},
		})
		vectors = append(vectors, types.CustomerFeatureVector{
			CustomerID:          cid,
			CustomerHealthScore: float64(40 + i),
		})
	}

	segments, report, err := p.Cluster(context.Background(), "org-1", fingerprints, vectors)
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) < 2 {
		t.Fatalf("got %d segments, want at least 2", len(segments))
	}
	if segStore.ReplaceCount != 1 {
		t.Errorf("ReplaceSegments called %d times, want 1", segStore.ReplaceCount)
	}
	if report.ClustersFound != len(segments) {
		t.Errorf("report clusters = %d, segments = %d", report.ClustersFound, len(segments))
	}

	// Every assigned customer got a membership record carrying their
	// health score.
	assigned := 0
	for _, seg := range segments {
		assigned += seg.Size
	}
	total := 0
	for cid, recs := range memberStore.Records {
		total += len(recs)
		for _, rec := range recs {
			if rec.CustomerID != cid {
				t.Errorf("record for %s filed under %s", rec.CustomerID, cid)
			}
			if rec.HealthScore == 0 {
				t.Errorf("record for %s missing health score", cid)
			}
			if rec.AssignedAt.IsZero() {
				t.Errorf("record for %s missing timestamp", cid)
			}
		}
	}
	if total != assigned {
		t.Errorf("membership records = %d, assigned customers = %d", total, assigned)
	}
}

func TestCluster_NoFingerprints(t *testing.T) {
	orderStore, eventStore := fixtureStores(2)
	p := newPipeline(t, orderStore, eventStore, testutil.NewMockModelRegistry(),
		&testutil.MockSegmentStore{}, testutil.NewMockMembershipStore())

	_, _, err := p.Cluster(context.Background(), "org-1", nil, nil)
	if !errors.Is(err, types.ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestDetectDrift(t *testing.T) {
	orderStore, eventStore := fixtureStores(2)
	memberStore := testutil.NewMockMembershipStore()
	p := newPipeline(t, orderStore, eventStore, testutil.NewMockModelRegistry(),
		&testutil.MockSegmentStore{}, memberStore)

	records := []types.SegmentMembershipRecord{
		{CustomerID: "a", SegmentName: "Champions", HealthScore: 90, AssignedAt: ref.AddDate(0, -2, 0)},
		{CustomerID: "a", SegmentName: "At Risk", HealthScore: 40, AssignedAt: ref},
		{CustomerID: "b", SegmentName: "New Customers", HealthScore: 55, AssignedAt: ref},
	}
	if err := memberStore.AppendMemberships(context.Background(), "org-1", records); err != nil {
		t.Fatal(err)
	}

	events, report, err := p.DetectDrift(context.Background(), "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d drift events, want 1", len(events))
	}
	if events[0].Direction != types.DriftCritical {
		t.Errorf("direction = %s, want critical", events[0].Direction)
	}
	if report.DriftEventsDetected != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestRun_EndToEnd(t *testing.T) {
	orderStore, eventStore := fixtureStores(8)
	reg := testutil.NewMockModelRegistry()
	segStore := &testutil.MockSegmentStore{}
	memberStore := testutil.NewMockMembershipStore()
	p := newPipeline(t, orderStore, eventStore, reg, segStore, memberStore)

	report, err := p.Run(context.Background(), "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.CustomersWithFeatures != 8 {
		t.Errorf("CustomersWithFeatures = %d, want 8", report.CustomersWithFeatures)
	}
	if report.SequencesBuilt != 8 || report.FingerprintsComputed != 8 {
		t.Errorf("report = %+v", report)
	}
	if report.ClustersFound < 1 {
		t.Errorf("ClustersFound = %d, want at least 1", report.ClustersFound)
	}
	if segStore.ReplaceCount != 1 {
		t.Errorf("ReplaceSegments called %d times, want 1", segStore.ReplaceCount)
	}
	if len(reg.Artifacts) != 1 {
		t.Errorf("got %d artifacts, want 1", len(reg.Artifacts))
	}
}
