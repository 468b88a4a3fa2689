// Package clustering discovers named customer segments from behavioral
// fingerprints: dimensionality reduction, density clustering with a
// partition fallback, per-cluster stat aggregation and rule-based naming.
package clustering

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"customerintel/pkg/types"
)

// ClusteringStrategy tags the clustering algorithm used by a run.
type ClusteringStrategy string

const (
	StrategyDensity   ClusteringStrategy = "density-clustering"
	StrategyPartition ClusteringStrategy = "partition-clustering"
)

// Config holds tunables for the clustering engine.
type Config struct {
	NComponents    int
	MinClusterSize int
	MinSamples     int
	EpsQuantile    float64
	KMaxFallback   int
	Seed           int64

	// Reducer optionally supplies a manifold reduction. Nil selects the
	// linear projection with a warning, never a failure.
	Reducer Reducer

	// Rules overrides the segment naming rule list.
	Rules []Rule

	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.NComponents == 0 {
		c.NComponents = 10
	}
	if c.MinClusterSize == 0 {
		c.MinClusterSize = 10
	}
	if c.MinSamples == 0 {
		c.MinSamples = 5
	}
	if c.EpsQuantile == 0 {
		c.EpsQuantile = 0.75
	}
	if c.KMaxFallback == 0 {
		c.KMaxFallback = 8
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Rules == nil {
		c.Rules = DefaultRules()
	}
}

// Result is the outcome of one clustering run.
type Result struct {
	Segments   []types.Segment
	Noise      []string // customer ids left unassigned
	Reduction  ReductionStrategy
	Clustering ClusteringStrategy
}

// Engine runs the clustering pipeline. Each run owns a full snapshot of its
// inputs; an Engine holds no fitted state between runs.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg, log: cfg.Logger.With().Str("component", "clustering").Logger()}
}

// FitPredict reduces the fingerprints, clusters them and returns named
// segments ordered by ascending cluster id. featureVectors may be nil; when
// present it must align with customerIDs and supplies the aggregate stats.
func (e *Engine) FitPredict(fingerprints *mat.Dense, customerIDs []string, featureVectors []types.CustomerFeatureVector) (*Result, error) {
	n, _ := fingerprints.Dims()
	if n != len(customerIDs) {
		return nil, fmt.Errorf("fingerprint rows %d != customer ids %d", n, len(customerIDs))
	}
	if featureVectors != nil && len(featureVectors) != n {
		return nil, &types.ConfigurationError{
			Item:   "feature vectors",
			Reason: fmt.Sprintf("count %d does not match %d customers", len(featureVectors), n),
		}
	}
	if n < 2 {
		return nil, fmt.Errorf("clustering needs at least 2 customers, got %d: %w", n, types.ErrInsufficientData)
	}

	// Strategy resolution happens once per run, up front.
	reducer := e.cfg.Reducer
	reduction := ReductionManifold
	if reducer == nil {
		e.log.Warn().Msg("manifold reducer unavailable, using linear projection")
		reducer = pcaReducer{}
		reduction = ReductionLinearProjection
	}

	e.log.Info().Int("customers", n).Str("reduction", string(reduction)).Msg("starting clustering")

	reduced, err := reducer.Reduce(fingerprints, e.cfg.NComponents)
	if err != nil {
		if reduction == ReductionManifold {
			e.log.Warn().Err(err).Msg("manifold reduction failed, using linear projection")
			reduction = ReductionLinearProjection
			reduced, err = pcaReducer{}.Reduce(fingerprints, e.cfg.NComponents)
		}
		if err != nil {
			return nil, fmt.Errorf("dimensionality reduction failed: %w", err)
		}
	}

	strategy := StrategyDensity
	labels := densityCluster(reduced, e.cfg.MinClusterSize, e.cfg.MinSamples, e.cfg.EpsQuantile)
	if countClusters(labels) < 2 {
		e.log.Warn().Int("clusters", countClusters(labels)).Msg("density clustering found too few clusters, falling back to k-means")
		strategy = StrategyPartition
		rng := rand.New(rand.NewSource(e.cfg.Seed))
		labels = kmeansBestK(reduced, e.cfg.KMaxFallback, rng)
	}

	result := &Result{Reduction: reduction, Clustering: strategy}

	clusterIDs := make([]int, 0)
	seen := make(map[int]struct{})
	for i, l := range labels {
		if l < 0 {
			result.Noise = append(result.Noise, customerIDs[i])
			continue
		}
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			clusterIDs = append(clusterIDs, l)
		}
	}
	sort.Ints(clusterIDs)

	for _, cid := range clusterIDs {
		var members []string
		var memberFVs []types.CustomerFeatureVector
		for i, l := range labels {
			if l != cid {
				continue
			}
			members = append(members, customerIDs[i])
			if featureVectors != nil {
				memberFVs = append(memberFVs, featureVectors[i])
			}
		}

		stats := computeClusterStats(cid, len(members), memberFVs)
		name, description, strategyText := NameSegment(e.cfg.Rules, stats)

		result.Segments = append(result.Segments, types.Segment{
			ClusterID:           cid,
			Name:                name,
			Description:         description,
			Size:                len(members),
			AvgHealthScore:      stats.AvgHealthScore,
			AvgMonetaryValue:    stats.AvgMonetaryValue,
			AvgRecencyDays:      stats.AvgRecencyDays,
			AvgFrequency:        stats.AvgFrequency,
			AvgEmailOpenRate:    stats.AvgEmailOpenRate,
			RecommendedStrategy: strategyText,
			CustomerIDs:         members,
		})
	}

	names := make([]string, len(result.Segments))
	for i, s := range result.Segments {
		names[i] = s.Name
	}
	e.log.Info().
		Int("clusters", len(result.Segments)).
		Int("noise", len(result.Noise)).
		Strs("segments", names).
		Str("clustering", string(strategy)).
		Msg("segmentation complete")
	return result, nil
}

// computeClusterStats averages feature-vector fields over cluster members.
// Stats default to zero when no feature vectors were supplied.
func computeClusterStats(clusterID, size int, fvs []types.CustomerFeatureVector) ClusterStats {
	stats := ClusterStats{ClusterID: clusterID, Size: size}
	if len(fvs) == 0 {
		return stats
	}
	n := float64(len(fvs))
	for _, fv := range fvs {
		stats.AvgRecencyDays += float64(fv.RecencyDays)
		stats.AvgFrequency += float64(fv.Frequency)
		stats.AvgMonetaryValue += fv.MonetaryValue
		stats.AvgHealthScore += fv.CustomerHealthScore
		stats.AvgEmailOpenRate += fv.EmailOpenRate
	}
	stats.AvgRecencyDays /= n
	stats.AvgFrequency /= n
	stats.AvgMonetaryValue /= n
	stats.AvgHealthScore /= n
	stats.AvgEmailOpenRate /= n
	return stats
}
