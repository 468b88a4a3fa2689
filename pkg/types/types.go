package types

import "time"

// LineItem is a single product line within an order.
type LineItem struct {
	ProductID string
	Category  string
	Quantity  int
	UnitPrice float64
	Discount  float64
}

// Order is one purchase made by a customer.
type Order struct {
	OrderID    string
	CustomerID string
	Total      float64
	Currency   string
	OrderedAt  time.Time
	Items      []LineItem
}

// InteractionEvent is a non-purchase touchpoint (email, session, cart, ...).
type InteractionEvent struct {
	CustomerID string
	EventType  string
	OccurredAt time.Time
	Revenue    float64
	Metadata   map[string]string
}

// CustomerFeatureVector holds the behavioral features computed for one
// customer on one pipeline run. A new vector is produced on every run;
// prior versions are retained by the caller for trend analysis.
type CustomerFeatureVector struct {
	CustomerID string
	ComputedAt time.Time

	// RFM and purchase cadence
	RecencyDays            int
	Frequency              int
	MonetaryValue          float64
	AvgOrderValue          float64
	MaxOrderValue          float64
	MinOrderValue          float64
	OrderValueStd          float64
	TotalItemsPurchased    int
	AvgItemsPerOrder       float64
	UniqueProductsCount    int
	UniqueCategoriesCount  int
	PurchaseTenureDays     int
	AvgDaysBetweenPurchase float64
	PurchaseAcceleration   float64

	// Product affinity
	TopCategory            string
	CategoryDiversityScore float64
	PriceSensitivityScore  float64

	// Engagement (zero unless interaction events were supplied)
	EmailOpenRate         float64
	EmailClickRate        float64
	EmailConversionRate   float64
	CartAbandonmentRate   float64
	WebsiteVisitFrequency float64

	// Temporal preferences
	PreferredDayOfWeek int
	PreferredHourOfDay int
	Q1PurchaseShare    float64
	Q2PurchaseShare    float64
	Q3PurchaseShare    float64
	Q4PurchaseShare    float64
	RecencyTrend90d    float64

	// Composite
	CustomerHealthScore float64
}

// Fingerprint is the fixed-width dense summary of one customer's event
// sequence. Fingerprints are comparable only within the same model version.
type Fingerprint struct {
	CustomerID   string
	ModelVersion string
	Vector       []float64
}

// Segment is one cluster discovered in a single clustering run. Cluster ids
// are run-local; identity across runs is established by name only.
type Segment struct {
	ClusterID           int
	Name                string
	Description         string
	Size                int
	AvgHealthScore      float64
	AvgMonetaryValue    float64
	AvgRecencyDays      float64
	AvgFrequency        float64
	AvgEmailOpenRate    float64
	RecommendedStrategy string
	CustomerIDs         []string
}

// SegmentMembershipRecord is one entry in a customer's segment history.
type SegmentMembershipRecord struct {
	CustomerID  string
	SegmentName string
	HealthScore float64
	AssignedAt  time.Time
}

// DriftDirection classifies a segment transition.
type DriftDirection string

const (
	DriftCritical        DriftDirection = "critical"
	DriftDownward        DriftDirection = "downward"
	DriftNeutralOrUpward DriftDirection = "neutral_or_upward"
)

// DriftEvent records a customer moving into a worse segment.
type DriftEvent struct {
	EventID           string
	CustomerID        string
	FromSegment       string
	ToSegment         string
	Direction         DriftDirection
	HealthScoreBefore float64
	HealthScoreAfter  float64
	DetectedAt        time.Time
}
