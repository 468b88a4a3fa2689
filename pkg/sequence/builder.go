// Package sequence converts raw order and interaction history into the
// time-ordered event sequences consumed by the behavioral encoder.
package sequence

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"customerintel/pkg/types"
)

// Event-type vocabulary. Index 0 is reserved for padding; unknown event
// types map to UnknownTypeID.
const (
	PadTypeID     = 0
	UnknownTypeID = 63
)

var eventTypeVocab = map[string]int{
	"purchase":         1,
	"email_sent":       2,
	"email_opened":     3,
	"email_clicked":    4,
	"email_bounced":    5,
	"session_started":  6,
	"page_viewed":      7,
	"cart_added":       8,
	"cart_abandoned":   9,
	"checkout_started": 10,
	"search":           11,
	"product_viewed":   12,
	"review_left":      13,
	"refund_requested": 14,
	"support_ticket":   15,
}

// EventTypeID resolves an event-type name to its vocabulary id.
func EventTypeID(name string) int {
	if id, ok := eventTypeVocab[name]; ok {
		return id
	}
	return UnknownTypeID
}

// Sequence is one customer's event history, oldest first, truncated to the
// builder's maximum length. It is owned by the pipeline run that built it
// and discarded after fingerprint computation.
type Sequence struct {
	CustomerID string
	EventTypes []int
	Numerical  [][]float64
	Timestamps []time.Time
}

// Len returns the number of events in the sequence.
func (s *Sequence) Len() int { return len(s.EventTypes) }

// Stats summarizes a built dataset.
type Stats struct {
	NSequences   int
	AvgSeqLen    float64
	MaxSeqLen    int
	MinSeqLen    int
	MedianSeqLen float64
}

// Config holds tunables for the sequence builder.
type Config struct {
	// MaxLen caps each sequence at its most recent MaxLen events.
	MaxLen int
	// NumericWidth is the width of each event's numeric context.
	NumericWidth int
	Logger       zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxLen == 0 {
		c.MaxLen = 256
	}
	if c.NumericWidth == 0 {
		c.NumericWidth = 8
	}
}

// Builder merges purchase and interaction events into per-customer sequences.
type Builder struct {
	cfg Config
	log zerolog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config) *Builder {
	cfg.applyDefaults()
	return &Builder{cfg: cfg, log: cfg.Logger.With().Str("component", "sequence").Logger()}
}

// Build produces one sequence per customer with at least two events.
// Shorter histories are dropped silently.
func (b *Builder) Build(orders []types.Order, events []types.InteractionEvent) []Sequence {
	type rawEvent struct {
		typeID  int
		numeric []float64
		at      time.Time
	}
	byCustomer := make(map[string][]rawEvent)
	var customerIDs []string

	add := func(cid string, ev rawEvent) {
		if _, seen := byCustomer[cid]; !seen {
			customerIDs = append(customerIDs, cid)
		}
		byCustomer[cid] = append(byCustomer[cid], ev)
	}

	for _, o := range orders {
		items := 0
		discount := 0.0
		for _, it := range o.Items {
			qty := it.Quantity
			if qty < 1 {
				qty = 1
			}
			items += qty
			discount += it.Discount
		}
		if items == 0 {
			items = 1
		}
		numeric := make([]float64, b.cfg.NumericWidth)
		numeric[0] = o.Total / 1000.0
		if b.cfg.NumericWidth > 1 {
			numeric[1] = float64(items) / 10.0
		}
		if b.cfg.NumericWidth > 2 {
			numeric[2] = discount / 100.0
		}
		add(o.CustomerID, rawEvent{typeID: EventTypeID("purchase"), numeric: numeric, at: o.OrderedAt})
	}

	for _, ev := range events {
		add(ev.CustomerID, rawEvent{
			typeID:  EventTypeID(ev.EventType),
			numeric: make([]float64, b.cfg.NumericWidth),
			at:      ev.OccurredAt,
		})
	}

	sequences := make([]Sequence, 0, len(customerIDs))
	for _, cid := range customerIDs {
		raw := byCustomer[cid]
		sort.SliceStable(raw, func(i, j int) bool { return raw[i].at.Before(raw[j].at) })
		if len(raw) > b.cfg.MaxLen {
			raw = raw[len(raw)-b.cfg.MaxLen:]
		}
		if len(raw) < 2 {
			continue
		}
		seq := Sequence{
			CustomerID: cid,
			EventTypes: make([]int, len(raw)),
			Numerical:  make([][]float64, len(raw)),
			Timestamps: make([]time.Time, len(raw)),
		}
		for i, ev := range raw {
			seq.EventTypes[i] = ev.typeID
			seq.Numerical[i] = ev.numeric
			seq.Timestamps[i] = ev.at
		}
		sequences = append(sequences, seq)
	}

	b.log.Info().Int("customers", len(customerIDs)).Int("sequences", len(sequences)).Msg("sequences built")
	return sequences
}

// ComputeStats summarizes sequence lengths across a dataset.
func ComputeStats(sequences []Sequence) Stats {
	if len(sequences) == 0 {
		return Stats{}
	}
	lens := make([]int, len(sequences))
	sum := 0
	for i, s := range sequences {
		lens[i] = s.Len()
		sum += s.Len()
	}
	sort.Ints(lens)
	median := float64(lens[len(lens)/2])
	if len(lens)%2 == 0 {
		median = float64(lens[len(lens)/2-1]+lens[len(lens)/2]) / 2
	}
	return Stats{
		NSequences:   len(sequences),
		AvgSeqLen:    float64(sum) / float64(len(sequences)),
		MaxSeqLen:    lens[len(lens)-1],
		MinSeqLen:    lens[0],
		MedianSeqLen: median,
	}
}
