package clustering

import (
	"fmt"

	"gopkg.in/yaml.v2"

	"customerintel/pkg/types"
)

// Stat names usable in rule conditions.
const (
	StatRecencyDays   = "avg_recency_days"
	StatFrequency     = "avg_frequency"
	StatMonetaryValue = "avg_monetary_value"
	StatHealthScore   = "avg_health_score"
	StatEmailOpenRate = "avg_email_open_rate"
)

// Condition is one threshold comparison against a cluster's aggregate stats.
type Condition struct {
	Stat  string  `yaml:"stat"`
	Op    string  `yaml:"op"` // lt, le, gt, ge, eq
	Value float64 `yaml:"value"`
}

// Rule names a segment when all of its conditions hold. Rules are evaluated
// in list order and the first match wins.
type Rule struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Strategy    string      `yaml:"strategy"`
	Conditions  []Condition `yaml:"conditions"`
}

// ClusterStats are the aggregate stats a rule is evaluated against.
type ClusterStats struct {
	ClusterID        int
	Size             int
	AvgRecencyDays   float64
	AvgFrequency     float64
	AvgMonetaryValue float64
	AvgHealthScore   float64
	AvgEmailOpenRate float64
}

func (s ClusterStats) stat(name string) (float64, error) {
	switch name {
	case StatRecencyDays:
		return s.AvgRecencyDays, nil
	case StatFrequency:
		return s.AvgFrequency, nil
	case StatMonetaryValue:
		return s.AvgMonetaryValue, nil
	case StatHealthScore:
		return s.AvgHealthScore, nil
	case StatEmailOpenRate:
		return s.AvgEmailOpenRate, nil
	}
	return 0, &types.ConfigurationError{Item: "rule condition", Reason: "unknown stat " + name}
}

// evaluate reports whether all conditions hold. A malformed condition makes
// the rule a non-match rather than a failure.
func (r Rule) evaluate(stats ClusterStats) bool {
	for _, c := range r.Conditions {
		v, err := stats.stat(c.Stat)
		if err != nil {
			return false
		}
		var ok bool
		switch c.Op {
		case "lt":
			ok = v < c.Value
		case "le":
			ok = v <= c.Value
		case "gt":
			ok = v > c.Value
		case "ge":
			ok = v >= c.Value
		case "eq":
			ok = v == c.Value
		default:
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// NameSegment returns the name, description and strategy of the first rule
// matching the stats, or the generic fallback when none match.
func NameSegment(rules []Rule, stats ClusterStats) (string, string, string) {
	for _, r := range rules {
		if r.evaluate(stats) {
			return r.Name, r.Description, r.Strategy
		}
	}
	return "General Customers",
		"Customers not fitting specific behavioral pattern.",
		"Standard marketing approach."
}

// LoadRules parses a YAML rule list, replacing the defaults. The thresholds
// in DefaultRules are hand-tuned starting points, not calibrated constants.
func LoadRules(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse naming rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, &types.ConfigurationError{Item: "naming rules", Reason: "empty rule list"}
	}
	return rules, nil
}

// DefaultRules is the ordered segment naming rule list. Order matters: a
// cluster satisfying several rules takes the first.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "Champions",
			Description: "Bought recently, buy often, and spend the most.",
			Strategy:    "Reward them. They can become brand ambassadors. Early access to new products.",
			Conditions: []Condition{
				{Stat: StatRecencyDays, Op: "lt", Value: 30},
				{Stat: StatFrequency, Op: "ge", Value: 5},
				{Stat: StatMonetaryValue, Op: "gt", Value: 500},
			},
		},
		{
			Name:        "Loyal Customers",
			Description: "Buy regularly and spend well. Strong brand affinity.",
			Strategy:    "Offer membership or loyalty program. Upsell higher-value products.",
			Conditions: []Condition{
				{Stat: StatFrequency, Op: "ge", Value: 4},
				{Stat: StatMonetaryValue, Op: "gt", Value: 200},
			},
		},
		{
			Name:        "Potential Loyalists",
			Description: "Recent customers with growing purchase frequency.",
			Strategy:    "Offer loyalty rewards. Educate on full product range.",
			Conditions: []Condition{
				{Stat: StatRecencyDays, Op: "lt", Value: 60},
				{Stat: StatFrequency, Op: "ge", Value: 2},
				{Stat: StatFrequency, Op: "lt", Value: 4},
			},
		},
		{
			Name:        "New Customers",
			Description: "Just made their first purchase.",
			Strategy:    "Welcome sequence. Introduce brand story. Drive second purchase.",
			Conditions: []Condition{
				{Stat: StatFrequency, Op: "eq", Value: 1},
				{Stat: StatRecencyDays, Op: "lt", Value: 30},
			},
		},
		{
			Name:        "Promising",
			Description: "Recent shoppers with potential to grow.",
			Strategy:    "Build relationship. Show product benefits. Gentle upsell.",
			Conditions: []Condition{
				{Stat: StatRecencyDays, Op: "lt", Value: 90},
				{Stat: StatFrequency, Op: "lt", Value: 3},
				{Stat: StatMonetaryValue, Op: "lt", Value: 200},
			},
		},
		{
			Name:        "Need Attention",
			Description: "Above-average customers who haven't purchased recently.",
			Strategy:    "Reactivate with personalized offer. Remind them of value.",
			Conditions: []Condition{
				{Stat: StatRecencyDays, Op: "ge", Value: 90},
				{Stat: StatRecencyDays, Op: "lt", Value: 180},
				{Stat: StatFrequency, Op: "ge", Value: 2},
			},
		},
		{
			Name:        "About to Sleep",
			Description: "Below-average recency and frequency - at risk of going dormant.",
			Strategy:    "Share valuable resources. Recommend products. Small incentive.",
			Conditions: []Condition{
				{Stat: StatRecencyDays, Op: "ge", Value: 60},
				{Stat: StatRecencyDays, Op: "lt", Value: 90},
				{Stat: StatFrequency, Op: "lt", Value: 3},
			},
		},
		{
			Name:        "At Risk",
			Description: "Spent well and bought often, but haven't returned in a long time.",
			Strategy:    "Personalized re-engagement. 'We miss you' campaign. Time-limited offer.",
			Conditions: []Condition{
				{Stat: StatRecencyDays, Op: "ge", Value: 180},
				{Stat: StatRecencyDays, Op: "lt", Value: 365},
				{Stat: StatFrequency, Op: "ge", Value: 2},
			},
		},
		{
			Name:        "Can't Lose Them",
			Description: "High-value customers who haven't purchased in a very long time.",
			Strategy:    "Win back with strong offer. Personal outreach. Survey why they left.",
			Conditions: []Condition{
				{Stat: StatRecencyDays, Op: "ge", Value: 180},
				{Stat: StatMonetaryValue, Op: "gt", Value: 500},
			},
		},
		{
			Name:        "Hibernating",
			Description: "Low recency, low spend. Mostly dormant.",
			Strategy:    "Reactivation email. Low-value incentive to test response.",
			Conditions: []Condition{
				{Stat: StatRecencyDays, Op: "ge", Value: 180},
				{Stat: StatMonetaryValue, Op: "le", Value: 200},
			},
		},
		{
			Name:        "Lost",
			Description: "Bought long ago and haven't returned.",
			Strategy:    "Only contact if cost is very low. Sunset or archive segment.",
			Conditions: []Condition{
				{Stat: StatRecencyDays, Op: "ge", Value: 365},
			},
		},
	}
}
