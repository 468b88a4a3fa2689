package drift_test

import (
	"testing"
	"time"

	"customerintel/pkg/drift"
	"customerintel/pkg/types"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func record(segment string, health float64, monthsLater int) types.SegmentMembershipRecord {
	return types.SegmentMembershipRecord{
		CustomerID:  "cust-1",
		SegmentName: segment,
		HealthScore: health,
		AssignedAt:  t0.AddDate(0, monthsLater, 0),
	}
}

func TestDetect_SingleEntryProducesNothing(t *testing.T) {
	d := drift.NewDetector()
	if events := d.Detect([]types.SegmentMembershipRecord{record("Champions", 90, 0)}); len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
	if events := d.Detect(nil); len(events) != 0 {
		t.Errorf("got %d events for nil history, want 0", len(events))
	}
}

func TestDetect_SameSegmentProducesNothing(t *testing.T) {
	history := []types.SegmentMembershipRecord{
		record("Champions", 90, 0),
		record("Champions", 88, 1),
		record("Champions", 85, 2),
	}
	if events := drift.NewDetector().Detect(history); len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

// Champions to At Risk is in both transition sets; critical wins.
func TestDetect_CriticalBeforeDownward(t *testing.T) {
	clock := func() time.Time { return t0.AddDate(0, 6, 0) }
	d := drift.NewDetector(drift.WithClock(clock))

	history := []types.SegmentMembershipRecord{
		record("Champions", 90, 0),
		record("At Risk", 40, 3),
	}
	events := d.Detect(history)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Direction != types.DriftCritical {
		t.Errorf("direction = %s, want critical", ev.Direction)
	}
	if ev.FromSegment != "Champions" || ev.ToSegment != "At Risk" {
		t.Errorf("transition = %s -> %s", ev.FromSegment, ev.ToSegment)
	}
	if ev.HealthScoreBefore != 90 || ev.HealthScoreAfter != 40 {
		t.Errorf("health scores = %v -> %v, want 90 -> 40", ev.HealthScoreBefore, ev.HealthScoreAfter)
	}
	if !ev.DetectedAt.Equal(clock()) {
		t.Errorf("DetectedAt = %v, want %v", ev.DetectedAt, clock())
	}
	if ev.EventID == "" {
		t.Error("expected a generated event id")
	}
}

func TestDetect_DownwardTransition(t *testing.T) {
	history := []types.SegmentMembershipRecord{
		record("Champions", 90, 0),
		record("Loyal Customers", 70, 2),
	}
	events := drift.NewDetector().Detect(history)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Direction != types.DriftDownward {
		t.Errorf("direction = %s, want downward", events[0].Direction)
	}
}

func TestDetect_UpwardTransitionIgnored(t *testing.T) {
	history := []types.SegmentMembershipRecord{
		record("At Risk", 30, 0),
		record("Loyal Customers", 70, 2),
	}
	if events := drift.NewDetector().Detect(history); len(events) != 0 {
		t.Errorf("got %d events for an upward move, want 0", len(events))
	}
}

// Detection must be order-independent: records arrive unsorted.
func TestDetect_SortsByAssignedAt(t *testing.T) {
	history := []types.SegmentMembershipRecord{
		record("At Risk", 40, 3),
		record("Champions", 90, 0),
	}
	events := drift.NewDetector().Detect(history)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].FromSegment != "Champions" {
		t.Errorf("FromSegment = %q, want Champions", events[0].FromSegment)
	}
}

func TestDetect_MultipleTransitions(t *testing.T) {
	history := []types.SegmentMembershipRecord{
		record("Champions", 90, 0),
		record("Need Attention", 50, 2),
		record("At Risk", 35, 4),
		record("Lost", 10, 6),
	}
	events := drift.NewDetector().Detect(history)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	wantDirections := []types.DriftDirection{types.DriftDownward, types.DriftDownward, types.DriftCritical}
	for i, want := range wantDirections {
		if events[i].Direction != want {
			t.Errorf("event %d direction = %s, want %s", i, events[i].Direction, want)
		}
	}
}

func TestBatchDetect(t *testing.T) {
	histories := map[string][]types.SegmentMembershipRecord{
		"a": {
			{CustomerID: "a", SegmentName: "Champions", HealthScore: 90, AssignedAt: t0},
			{CustomerID: "a", SegmentName: "At Risk", HealthScore: 40, AssignedAt: t0.AddDate(0, 2, 0)},
		},
		"b": {
			{CustomerID: "b", SegmentName: "New Customers", HealthScore: 60, AssignedAt: t0},
			{CustomerID: "b", SegmentName: "Loyal Customers", HealthScore: 80, AssignedAt: t0.AddDate(0, 2, 0)},
		},
		"c": {
			{CustomerID: "c", SegmentName: "Hibernating", HealthScore: 15, AssignedAt: t0},
		},
	}
	events := drift.NewDetector().BatchDetect(histories)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].CustomerID != "a" {
		t.Errorf("CustomerID = %q, want a", events[0].CustomerID)
	}
}
