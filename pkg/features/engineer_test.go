package features_test

import (
	"math"
	"testing"
	"time"

	"customerintel/pkg/features"
	"customerintel/pkg/types"
)

var ref = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newEngineer() *features.Engineer {
	return features.NewEngineer("org-1", features.Config{ReferenceTime: ref})
}

func order(id string, daysAgo int, total float64, items ...types.LineItem) types.Order {
	return types.Order{
		OrderID:    id,
		CustomerID: "cust-1",
		Total:      total,
		OrderedAt:  ref.AddDate(0, 0, -daysAgo),
		Items:      items,
	}
}

func TestCompute_NoOrders(t *testing.T) {
	_, ok := newEngineer().Compute("cust-1", nil, nil)
	if ok {
		t.Fatal("expected ok=false for a customer with no orders")
	}
}

// A single order must produce zero variance and zero acceleration, not NaN.
func TestCompute_SingleOrder(t *testing.T) {
	fv, ok := newEngineer().Compute("cust-1", []types.Order{order("o1", 10, 50.0)}, nil)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if fv.OrderValueStd != 0 {
		t.Errorf("OrderValueStd = %v, want 0", fv.OrderValueStd)
	}
	if fv.PurchaseAcceleration != 0 {
		t.Errorf("PurchaseAcceleration = %v, want 0", fv.PurchaseAcceleration)
	}
	if fv.AvgDaysBetweenPurchase != 0 {
		t.Errorf("AvgDaysBetweenPurchase = %v, want 0", fv.AvgDaysBetweenPurchase)
	}
	if fv.RecencyDays != 10 {
		t.Errorf("RecencyDays = %d, want 10", fv.RecencyDays)
	}
	if fv.Frequency != 1 {
		t.Errorf("Frequency = %d, want 1", fv.Frequency)
	}
	if fv.MonetaryValue != 50.0 {
		t.Errorf("MonetaryValue = %v, want 50", fv.MonetaryValue)
	}
}

func TestCompute_RFM(t *testing.T) {
	orders := []types.Order{
		order("o3", 5, 30),
		order("o1", 65, 10),
		order("o2", 35, 20),
	}
	fv, _ := newEngineer().Compute("cust-1", orders, nil)

	if fv.RecencyDays != 5 {
		t.Errorf("RecencyDays = %d, want 5", fv.RecencyDays)
	}
	if fv.Frequency != 3 {
		t.Errorf("Frequency = %d, want 3", fv.Frequency)
	}
	if fv.MonetaryValue != 60 {
		t.Errorf("MonetaryValue = %v, want 60", fv.MonetaryValue)
	}
	if fv.PurchaseTenureDays != 60 {
		t.Errorf("PurchaseTenureDays = %d, want 60", fv.PurchaseTenureDays)
	}
	if fv.AvgDaysBetweenPurchase != 30 {
		t.Errorf("AvgDaysBetweenPurchase = %v, want 30", fv.AvgDaysBetweenPurchase)
	}
	if fv.MaxOrderValue != 30 || fv.MinOrderValue != 10 {
		t.Errorf("order value range = [%v, %v], want [10, 30]", fv.MinOrderValue, fv.MaxOrderValue)
	}
}

func TestCompute_PurchaseAcceleration(t *testing.T) {
	// Gaps of 40, 40, 10, 10 days: the customer sped up, so acceleration
	// must be positive.
	orders := []types.Order{
		order("o1", 100, 10),
		order("o2", 60, 10),
		order("o3", 20, 10),
		order("o4", 10, 10),
		order("o5", 0, 10),
	}
	fv, _ := newEngineer().Compute("cust-1", orders, nil)
	if fv.PurchaseAcceleration <= 0 {
		t.Errorf("PurchaseAcceleration = %v, want > 0", fv.PurchaseAcceleration)
	}
}

func TestCompute_QuarterlySharesSumToOne(t *testing.T) {
	orders := []types.Order{
		{OrderID: "a", CustomerID: "cust-1", Total: 10, OrderedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{OrderID: "b", CustomerID: "cust-1", Total: 10, OrderedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{OrderID: "c", CustomerID: "cust-1", Total: 10, OrderedAt: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
		{OrderID: "d", CustomerID: "cust-1", Total: 10, OrderedAt: time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)},
		{OrderID: "e", CustomerID: "cust-1", Total: 10, OrderedAt: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)},
	}
	fv, _ := newEngineer().Compute("cust-1", orders, nil)

	sum := fv.Q1PurchaseShare + fv.Q2PurchaseShare + fv.Q3PurchaseShare + fv.Q4PurchaseShare
	if math.Abs(sum-1.0) > 0.01 {
		t.Errorf("quarterly shares sum = %v, want 1.0 +/- 0.01", sum)
	}
	if fv.Q4PurchaseShare != 0.4 {
		t.Errorf("Q4PurchaseShare = %v, want 0.4", fv.Q4PurchaseShare)
	}
}

func TestCompute_ProductFeatures(t *testing.T) {
	orders := []types.Order{
		order("o1", 10, 100,
			types.LineItem{ProductID: "p1", Category: "shoes", Quantity: 2, UnitPrice: 25},
			types.LineItem{ProductID: "p2", Category: "shoes", Quantity: 1, UnitPrice: 50, Discount: 5},
		),
		order("o2", 5, 40,
			types.LineItem{ProductID: "p3", Category: "socks", Quantity: 1, UnitPrice: 40},
		),
	}
	fv, _ := newEngineer().Compute("cust-1", orders, nil)

	if fv.TopCategory != "shoes" {
		t.Errorf("TopCategory = %q, want shoes", fv.TopCategory)
	}
	if fv.UniqueProductsCount != 3 {
		t.Errorf("UniqueProductsCount = %d, want 3", fv.UniqueProductsCount)
	}
	if fv.UniqueCategoriesCount != 2 {
		t.Errorf("UniqueCategoriesCount = %d, want 2", fv.UniqueCategoriesCount)
	}
	if fv.TotalItemsPurchased != 4 {
		t.Errorf("TotalItemsPurchased = %d, want 4", fv.TotalItemsPurchased)
	}
	if fv.PriceSensitivityScore != 0.25 {
		t.Errorf("PriceSensitivityScore = %v, want 0.25", fv.PriceSensitivityScore)
	}
}

func TestCompute_EngagementRates(t *testing.T) {
	events := []types.InteractionEvent{
		{CustomerID: "cust-1", EventType: features.EventEmailSent},
		{CustomerID: "cust-1", EventType: features.EventEmailSent},
		{CustomerID: "cust-1", EventType: features.EventEmailSent},
		{CustomerID: "cust-1", EventType: features.EventEmailSent},
		{CustomerID: "cust-1", EventType: features.EventEmailOpened},
		{CustomerID: "cust-1", EventType: features.EventEmailClicked},
		{CustomerID: "cust-1", EventType: features.EventCartAdded},
		{CustomerID: "cust-1", EventType: features.EventCartAdded},
		{CustomerID: "cust-1", EventType: features.EventCartAbandoned},
	}
	fv, _ := newEngineer().Compute("cust-1", []types.Order{order("o1", 1, 10)}, events)

	if fv.EmailOpenRate != 0.25 {
		t.Errorf("EmailOpenRate = %v, want 0.25", fv.EmailOpenRate)
	}
	if fv.EmailClickRate != 0.25 {
		t.Errorf("EmailClickRate = %v, want 0.25", fv.EmailClickRate)
	}
	if fv.CartAbandonmentRate != 0.5 {
		t.Errorf("CartAbandonmentRate = %v, want 0.5", fv.CartAbandonmentRate)
	}
}

// The health score must stay in [0, 100] across the recency boundaries.
func TestCompute_HealthScoreBounds(t *testing.T) {
	for _, daysAgo := range []int{0, 30, 60, 90, 180, 10000} {
		fv, _ := newEngineer().Compute("cust-1", []types.Order{order("o1", daysAgo, 100)}, nil)
		if fv.CustomerHealthScore < 0 || fv.CustomerHealthScore > 100 {
			t.Errorf("recency %d days: health score %v out of [0, 100]", daysAgo, fv.CustomerHealthScore)
		}
	}
}

func TestCompute_HealthScoreComponents(t *testing.T) {
	// Recency 10 days: full 30 recency points. One recent order: full 25
	// spend-trend points. One order: 10% of the 20 frequency points. No
	// events: zero engagement points.
	fv, _ := newEngineer().Compute("cust-1", []types.Order{order("o1", 10, 100)}, nil)
	if fv.CustomerHealthScore != 57 {
		t.Errorf("CustomerHealthScore = %v, want 57", fv.CustomerHealthScore)
	}

	// 250 days ago: zero recency, zero spend trend, 2 frequency points.
	fv, _ = newEngineer().Compute("cust-1", []types.Order{order("o1", 250, 100)}, nil)
	if fv.CustomerHealthScore != 2 {
		t.Errorf("CustomerHealthScore = %v, want 2", fv.CustomerHealthScore)
	}
}

func TestComputeBatch_SkipsCustomersWithoutOrders(t *testing.T) {
	orders := []types.Order{
		{OrderID: "o1", CustomerID: "a", Total: 10, OrderedAt: ref.AddDate(0, 0, -3)},
		{OrderID: "o2", CustomerID: "b", Total: 20, OrderedAt: ref.AddDate(0, 0, -5)},
	}
	events := []types.InteractionEvent{
		{CustomerID: "c", EventType: features.EventEmailSent, OccurredAt: ref},
	}
	vectors := newEngineer().ComputeBatch(orders, events)
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	for _, fv := range vectors {
		if fv.CustomerID == "c" {
			t.Error("customer with only events must not get a vector")
		}
	}
}
