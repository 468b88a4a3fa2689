package sequence_test

import (
	"testing"
	"time"

	"customerintel/pkg/sequence"
	"customerintel/pkg/types"
)

var base = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func TestEventTypeID(t *testing.T) {
	if got := sequence.EventTypeID("purchase"); got != 1 {
		t.Errorf("purchase = %d, want 1", got)
	}
	if got := sequence.EventTypeID("support_ticket"); got != 15 {
		t.Errorf("support_ticket = %d, want 15", got)
	}
	if got := sequence.EventTypeID("no_such_event"); got != sequence.UnknownTypeID {
		t.Errorf("unknown type = %d, want %d", got, sequence.UnknownTypeID)
	}
}

func TestBuild_MergesAndSortsByTime(t *testing.T) {
	orders := []types.Order{
		{OrderID: "o1", CustomerID: "a", Total: 500, OrderedAt: base.Add(2 * time.Hour),
			Items: []types.LineItem{{ProductID: "p1", Quantity: 3, Discount: 10}}},
	}
	events := []types.InteractionEvent{
		{CustomerID: "a", EventType: "email_opened", OccurredAt: base.Add(3 * time.Hour)},
		{CustomerID: "a", EventType: "session_started", OccurredAt: base.Add(1 * time.Hour)},
	}

	seqs := sequence.NewBuilder(sequence.Config{}).Build(orders, events)
	if len(seqs) != 1 {
		t.Fatalf("got %d sequences, want 1", len(seqs))
	}
	seq := seqs[0]
	want := []int{6, 1, 3} // session_started, purchase, email_opened
	if seq.Len() != 3 {
		t.Fatalf("sequence length = %d, want 3", seq.Len())
	}
	for i, id := range want {
		if seq.EventTypes[i] != id {
			t.Errorf("EventTypes[%d] = %d, want %d", i, seq.EventTypes[i], id)
		}
	}

	// Purchase numeric context: total/1000, items/10, discount/100.
	purchase := seq.Numerical[1]
	if purchase[0] != 0.5 || purchase[1] != 0.3 || purchase[2] != 0.1 {
		t.Errorf("purchase numeric = %v, want [0.5 0.3 0.1 ...]", purchase)
	}
	// Interaction events carry a zero numeric context.
	for _, v := range seq.Numerical[0] {
		if v != 0 {
			t.Errorf("interaction numeric = %v, want all zeros", seq.Numerical[0])
			break
		}
	}
	if len(purchase) != 8 {
		t.Errorf("numeric width = %d, want 8", len(purchase))
	}
}

// Histories with fewer than two events carry no cadence signal and are dropped.
func TestBuild_DropsShortHistories(t *testing.T) {
	orders := []types.Order{
		{OrderID: "o1", CustomerID: "solo", Total: 10, OrderedAt: base},
		{OrderID: "o2", CustomerID: "pair", Total: 10, OrderedAt: base},
		{OrderID: "o3", CustomerID: "pair", Total: 10, OrderedAt: base.Add(time.Hour)},
	}
	seqs := sequence.NewBuilder(sequence.Config{}).Build(orders, nil)
	if len(seqs) != 1 {
		t.Fatalf("got %d sequences, want 1", len(seqs))
	}
	if seqs[0].CustomerID != "pair" {
		t.Errorf("kept customer %q, want pair", seqs[0].CustomerID)
	}
}

// Truncation keeps the most recent MaxLen events.
func TestBuild_TruncatesToMostRecent(t *testing.T) {
	var events []types.InteractionEvent
	for i := 0; i < 10; i++ {
		events = append(events, types.InteractionEvent{
			CustomerID: "a",
			EventType:  "page_viewed",
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	events = append(events, types.InteractionEvent{
		CustomerID: "a", EventType: "purchase", OccurredAt: base.Add(20 * time.Hour),
	})

	seqs := sequence.NewBuilder(sequence.Config{MaxLen: 4}).Build(nil, events)
	if len(seqs) != 1 {
		t.Fatalf("got %d sequences, want 1", len(seqs))
	}
	seq := seqs[0]
	if seq.Len() != 4 {
		t.Fatalf("sequence length = %d, want 4", seq.Len())
	}
	// The newest event must survive truncation.
	if seq.EventTypes[3] != 1 {
		t.Errorf("last event type = %d, want 1 (purchase)", seq.EventTypes[3])
	}
	if !seq.Timestamps[3].Equal(base.Add(20 * time.Hour)) {
		t.Errorf("last timestamp = %v, want %v", seq.Timestamps[3], base.Add(20*time.Hour))
	}
}

func TestComputeStats(t *testing.T) {
	mk := func(n int) sequence.Sequence {
		s := sequence.Sequence{CustomerID: "x", EventTypes: make([]int, n)}
		return s
	}
	stats := sequence.ComputeStats([]sequence.Sequence{mk(2), mk(4), mk(6)})
	if stats.NSequences != 3 {
		t.Errorf("NSequences = %d, want 3", stats.NSequences)
	}
	if stats.AvgSeqLen != 4 {
		t.Errorf("AvgSeqLen = %v, want 4", stats.AvgSeqLen)
	}
	if stats.MinSeqLen != 2 || stats.MaxSeqLen != 6 {
		t.Errorf("range = [%d, %d], want [2, 6]", stats.MinSeqLen, stats.MaxSeqLen)
	}
	if stats.MedianSeqLen != 4 {
		t.Errorf("MedianSeqLen = %v, want 4", stats.MedianSeqLen)
	}

	empty := sequence.ComputeStats(nil)
	if empty.NSequences != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}
