// Package features derives per-customer behavioral feature vectors from raw
// order and interaction history.
package features

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"customerintel/pkg/types"
)

// Interaction event types recognized by the engagement feature group.
const (
	EventEmailSent      = "email_sent"
	EventEmailOpened    = "email_opened"
	EventEmailClicked   = "email_clicked"
	EventEmailConverted = "email_converted"
	EventCartAdded      = "cart_added"
	EventCartAbandoned  = "cart_abandoned"
	EventPageViewed     = "page_viewed"
	EventSessionStarted = "session_started"
)

// HealthWeights are the composite health score weights, out of 100. The
// defaults are hand-tuned and should be calibrated against real cohort data.
type HealthWeights struct {
	Recency    float64
	Engagement float64
	SpendTrend float64
	Frequency  float64
}

// Config holds tunables for the feature engineer.
type Config struct {
	// ReferenceTime anchors all recency computations for the run. Zero
	// value means time.Now in UTC, fixed at construction.
	ReferenceTime time.Time

	Weights HealthWeights

	// RecencyTrendWindow is the lookback used for the recent-order share.
	RecencyTrendWindow time.Duration

	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.ReferenceTime.IsZero() {
		c.ReferenceTime = time.Now().UTC()
	}
	if c.Weights == (HealthWeights{}) {
		c.Weights = HealthWeights{Recency: 30, Engagement: 25, SpendTrend: 25, Frequency: 20}
	}
	if c.RecencyTrendWindow == 0 {
		c.RecencyTrendWindow = 90 * 24 * time.Hour
	}
}

// Engineer computes CustomerFeatureVectors against a fixed reference time
// shared by the whole run.
type Engineer struct {
	orgID string
	ref   time.Time
	cfg   Config
	log   zerolog.Logger
}

// NewEngineer creates an Engineer for one organization and one run.
func NewEngineer(orgID string, cfg Config) *Engineer {
	cfg.applyDefaults()
	return &Engineer{
		orgID: orgID,
		ref:   cfg.ReferenceTime,
		cfg:   cfg,
		log:   cfg.Logger.With().Str("org_id", orgID).Str("component", "features").Logger(),
	}
}

// ReferenceTime returns the fixed reference timestamp for this run.
func (e *Engineer) ReferenceTime() time.Time { return e.ref }

// ComputeBatch groups orders and events by customer and computes one vector
// per customer with at least one order. Customers without orders are skipped.
func (e *Engineer) ComputeBatch(orders []types.Order, events []types.InteractionEvent) []types.CustomerFeatureVector {
	ordersByCustomer := make(map[string][]types.Order)
	var customerIDs []string
	for _, o := range orders {
		if _, seen := ordersByCustomer[o.CustomerID]; !seen {
			customerIDs = append(customerIDs, o.CustomerID)
		}
		ordersByCustomer[o.CustomerID] = append(ordersByCustomer[o.CustomerID], o)
	}
	eventsByCustomer := make(map[string][]types.InteractionEvent)
	for _, ev := range events {
		eventsByCustomer[ev.CustomerID] = append(eventsByCustomer[ev.CustomerID], ev)
	}

	vectors := make([]types.CustomerFeatureVector, 0, len(customerIDs))
	for _, cid := range customerIDs {
		fv, ok := e.Compute(cid, ordersByCustomer[cid], eventsByCustomer[cid])
		if ok {
			vectors = append(vectors, fv)
		}
	}
	e.log.Info().Int("customers", len(vectors)).Msg("features computed")
	return vectors
}

// Compute builds the feature vector for one customer. ok is false when the
// customer has no orders.
func (e *Engineer) Compute(customerID string, orders []types.Order, events []types.InteractionEvent) (types.CustomerFeatureVector, bool) {
	fv := types.CustomerFeatureVector{
		CustomerID:         customerID,
		ComputedAt:         e.ref,
		PreferredDayOfWeek: -1,
		PreferredHourOfDay: -1,
	}
	if len(orders) == 0 {
		return fv, false
	}

	sorted := make([]types.Order, len(orders))
	copy(sorted, orders)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrderedAt.Before(sorted[j].OrderedAt) })

	e.computeRFM(&fv, sorted)
	e.computeOrderStats(&fv, sorted)
	e.computeProductFeatures(&fv, sorted)
	e.computeTemporalFeatures(&fv, sorted)
	if len(events) > 0 {
		e.computeEngagementFeatures(&fv, events)
	}
	e.computeHealthScore(&fv)

	return fv, true
}

func (e *Engineer) computeRFM(fv *types.CustomerFeatureVector, orders []types.Order) {
	first := orders[0].OrderedAt
	last := orders[len(orders)-1].OrderedAt

	fv.RecencyDays = daysBetween(last, e.ref)
	fv.Frequency = len(orders)
	for _, o := range orders {
		fv.MonetaryValue += o.Total
	}
	fv.PurchaseTenureDays = daysBetween(first, last)

	if len(orders) < 2 {
		return
	}
	gaps := make([]float64, 0, len(orders)-1)
	for i := 1; i < len(orders); i++ {
		gaps = append(gaps, float64(daysBetween(orders[i-1].OrderedAt, orders[i].OrderedAt)))
	}
	fv.AvgDaysBetweenPurchase = stat.Mean(gaps, nil)

	// With enough gaps, compare the early and late halves of the cadence.
	// Positive acceleration means the customer is buying faster.
	if len(gaps) >= 4 {
		half := len(gaps) / 2
		firstHalf := stat.Mean(gaps[:half], nil)
		secondHalf := stat.Mean(gaps[half:], nil)
		if firstHalf > 0 {
			fv.PurchaseAcceleration = (firstHalf - secondHalf) / firstHalf
		}
	}
}

func (e *Engineer) computeOrderStats(fv *types.CustomerFeatureVector, orders []types.Order) {
	totals := make([]float64, len(orders))
	for i, o := range orders {
		totals[i] = o.Total
	}
	fv.AvgOrderValue = stat.Mean(totals, nil)
	fv.MaxOrderValue = totals[0]
	fv.MinOrderValue = totals[0]
	for _, t := range totals[1:] {
		fv.MaxOrderValue = math.Max(fv.MaxOrderValue, t)
		fv.MinOrderValue = math.Min(fv.MinOrderValue, t)
	}
	if len(totals) > 1 {
		fv.OrderValueStd = math.Sqrt(stat.PopVariance(totals, nil))
	}
}

func (e *Engineer) computeProductFeatures(fv *types.CustomerFeatureVector, orders []types.Order) {
	products := make(map[string]struct{})
	categoryCounts := make(map[string]int)
	var categoryOrder []string
	totalCategoryItems := 0
	discounted := 0

	for _, o := range orders {
		items := 0
		for _, it := range o.Items {
			qty := it.Quantity
			if qty < 1 {
				qty = 1
			}
			items += qty
			if it.ProductID != "" {
				products[it.ProductID] = struct{}{}
			}
			if it.Category != "" {
				if categoryCounts[it.Category] == 0 {
					categoryOrder = append(categoryOrder, it.Category)
				}
				categoryCounts[it.Category]++
				totalCategoryItems++
			}
			if it.Discount > 0 {
				discounted++
			}
		}
		fv.TotalItemsPurchased += items
	}
	if len(orders) > 0 {
		fv.AvgItemsPerOrder = float64(fv.TotalItemsPurchased) / float64(len(orders))
	}
	fv.UniqueProductsCount = len(products)
	fv.UniqueCategoriesCount = len(categoryCounts)

	denom := fv.TotalItemsPurchased
	if denom < 1 {
		denom = 1
	}
	fv.PriceSensitivityScore = round4(float64(discounted) / float64(denom))

	if totalCategoryItems > 0 {
		best := categoryOrder[0]
		for _, c := range categoryOrder {
			if categoryCounts[c] > categoryCounts[best] {
				best = c
			}
		}
		fv.TopCategory = best
		fv.CategoryDiversityScore = round4(float64(len(categoryCounts)) / float64(totalCategoryItems))
	}
}

func (e *Engineer) computeTemporalFeatures(fv *types.CustomerFeatureVector, orders []types.Order) {
	var dayCounts [7]int
	var hourCounts [24]int
	var quarterCounts [4]int
	recent := 0
	cutoff := e.ref.Add(-e.cfg.RecencyTrendWindow)

	for _, o := range orders {
		t := o.OrderedAt.UTC()
		dayCounts[mondayIndexed(t.Weekday())]++
		hourCounts[t.Hour()]++
		quarterCounts[(int(t.Month())-1)/3]++
		if !t.Before(cutoff) {
			recent++
		}
	}

	fv.PreferredDayOfWeek = argmax(dayCounts[:])
	fv.PreferredHourOfDay = argmax(hourCounts[:])

	total := float64(len(orders))
	fv.Q1PurchaseShare = float64(quarterCounts[0]) / total
	fv.Q2PurchaseShare = float64(quarterCounts[1]) / total
	fv.Q3PurchaseShare = float64(quarterCounts[2]) / total
	fv.Q4PurchaseShare = float64(quarterCounts[3]) / total

	if recent > 0 {
		fv.RecencyTrend90d = float64(recent) / math.Max(float64(fv.Frequency), 1)
	}
}

func (e *Engineer) computeEngagementFeatures(fv *types.CustomerFeatureVector, events []types.InteractionEvent) {
	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.EventType]++
	}

	if sends := counts[EventEmailSent]; sends > 0 {
		fv.EmailOpenRate = round4(float64(counts[EventEmailOpened]) / float64(sends))
		fv.EmailClickRate = round4(float64(counts[EventEmailClicked]) / float64(sends))
		fv.EmailConversionRate = round4(float64(counts[EventEmailConverted]) / float64(sends))
	}
	if adds := counts[EventCartAdded]; adds > 0 {
		fv.CartAbandonmentRate = round4(float64(counts[EventCartAbandoned]) / float64(adds))
	}
	if sessions := counts[EventSessionStarted]; sessions > 0 {
		fv.WebsiteVisitFrequency = float64(sessions)
	}
}

func (e *Engineer) computeHealthScore(fv *types.CustomerFeatureVector) {
	w := e.cfg.Weights
	score := 0.0

	var recencyScore float64
	switch {
	case fv.RecencyDays <= 30:
		recencyScore = 100
	case fv.RecencyDays <= 60:
		recencyScore = 75
	case fv.RecencyDays <= 90:
		recencyScore = 50
	case fv.RecencyDays <= 180:
		recencyScore = 25
	}
	score += recencyScore / 100 * w.Recency

	openRateScore := math.Min(fv.EmailOpenRate*4, 1.0) * 100
	score += openRateScore / 100 * w.Engagement

	if fv.RecencyTrend90d > 0 {
		score += w.SpendTrend
	}

	freqScore := math.Min(float64(fv.Frequency)/10, 1.0) * 100
	score += freqScore / 100 * w.Frequency

	fv.CustomerHealthScore = math.Round(score*100) / 100
}

func daysBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// mondayIndexed maps time.Weekday to the Monday=0 convention used by the
// rest of the pipeline.
func mondayIndexed(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

func argmax(counts []int) int {
	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	return best
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
