// Package pipeline exposes each stage of the customer-intelligence run as an
// idempotent operation over external stores: features, fingerprints,
// segments and drift. A scheduler triggers the stages per organization.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"customerintel/pkg/clustering"
	"customerintel/pkg/drift"
	"customerintel/pkg/encoder"
	"customerintel/pkg/features"
	"customerintel/pkg/sequence"
	"customerintel/pkg/types"
)

// Config wires the pipeline's stages and stores.
type Config struct {
	Orders      OrderStore
	Events      EventStore
	Registry    ModelRegistry
	Segments    SegmentStore
	Memberships MembershipStore

	Features   features.Config
	Sequences  sequence.Config
	Encoder    encoder.Config
	Clustering clustering.Config

	// Lookback bounds the history fetched per run. Zero means all history.
	Lookback time.Duration

	// Workers bounds the feature-stage fan-out. Zero means GOMAXPROCS.
	Workers int

	Logger zerolog.Logger
}

// Report carries per-stage success counts for batch-job status.
type Report struct {
	OrgID                 string
	OrdersFetched         int
	EventsFetched         int
	CustomersWithFeatures int
	SequencesBuilt        int
	TrainingEpochs        int
	TrainingLoss          float64
	FingerprintsComputed  int
	ClustersFound         int
	NoiseCustomers        int
	DriftEventsDetected   int
	Reduction             clustering.ReductionStrategy
	Clustering            clustering.ClusteringStrategy
}

// Pipeline runs the customer-intelligence stages for one organization.
type Pipeline struct {
	cfg Config
	log zerolog.Logger
}

// New creates a Pipeline. All five stores are required.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Orders == nil || cfg.Events == nil {
		return nil, fmt.Errorf("order and event stores are required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("model registry is required")
	}
	if cfg.Segments == nil || cfg.Memberships == nil {
		return nil, fmt.Errorf("segment and membership stores are required")
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger.With().Str("component", "pipeline").Logger()}, nil
}

func (p *Pipeline) window(ref time.Time) (time.Time, time.Time) {
	if p.cfg.Lookback == 0 {
		return time.Time{}, ref
	}
	return ref.Add(-p.cfg.Lookback), ref
}

func (p *Pipeline) fetchHistory(ctx context.Context, orgID string, ref time.Time) ([]types.Order, []types.InteractionEvent, error) {
	from, to := p.window(ref)
	orders, err := fetch(ctx, p.log, "orders", func() ([]types.Order, error) {
		return p.cfg.Orders.OrdersByOrganization(ctx, orgID, from, to)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetching orders for %s: %w", orgID, err)
	}
	events, err := fetch(ctx, p.log, "events", func() ([]types.InteractionEvent, error) {
		return p.cfg.Events.EventsByOrganization(ctx, orgID, from, to)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetching events for %s: %w", orgID, err)
	}
	return orders, events, nil
}

// ComputeFeatures derives one feature vector per customer with orders.
// Customers without orders are skipped, not errored.
func (p *Pipeline) ComputeFeatures(ctx context.Context, orgID string) ([]types.CustomerFeatureVector, *Report, error) {
	fcfg := p.cfg.Features
	if fcfg.ReferenceTime.IsZero() {
		fcfg.ReferenceTime = time.Now().UTC()
	}
	fcfg.Logger = p.cfg.Logger
	eng := features.NewEngineer(orgID, fcfg)

	orders, events, err := p.fetchHistory(ctx, orgID, eng.ReferenceTime())
	if err != nil {
		return nil, nil, err
	}

	ordersByCustomer := make(map[string][]types.Order)
	for _, o := range orders {
		ordersByCustomer[o.CustomerID] = append(ordersByCustomer[o.CustomerID], o)
	}
	eventsByCustomer := make(map[string][]types.InteractionEvent)
	for _, ev := range events {
		eventsByCustomer[ev.CustomerID] = append(eventsByCustomer[ev.CustomerID], ev)
	}
	customerIDs := make([]string, 0, len(ordersByCustomer))
	for cid := range ordersByCustomer {
		customerIDs = append(customerIDs, cid)
	}
	sort.Strings(customerIDs)

	// Per-customer work is pure, so it fans out without synchronization
	// beyond collecting results.
	var mu sync.Mutex
	vectors := make([]types.CustomerFeatureVector, 0, len(customerIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, cid := range customerIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fv, ok := eng.Compute(cid, ordersByCustomer[cid], eventsByCustomer[cid])
			if !ok {
				return nil
			}
			mu.Lock()
			vectors = append(vectors, fv)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	sort.Slice(vectors, func(i, j int) bool { return vectors[i].CustomerID < vectors[j].CustomerID })

	report := &Report{
		OrgID:                 orgID,
		OrdersFetched:         len(orders),
		EventsFetched:         len(events),
		CustomersWithFeatures: len(vectors),
	}
	p.log.Info().Str("org_id", orgID).Int("customers_with_features", len(vectors)).Msg("feature stage complete")
	return vectors, report, nil
}

// TrainEncoder builds sequences from the organization's history, trains a
// fresh encoder and saves the checkpoint to the registry under the model
// version. Training metrics are logged per epoch.
func (p *Pipeline) TrainEncoder(ctx context.Context, orgID string, hook encoder.EpochHook) (string, *Report, error) {
	ref := time.Now().UTC()
	orders, events, err := p.fetchHistory(ctx, orgID, ref)
	if err != nil {
		return "", nil, err
	}

	scfg := p.cfg.Sequences
	scfg.Logger = p.cfg.Logger
	seqs := sequence.NewBuilder(scfg).Build(orders, events)
	if len(seqs) < 2 {
		return "", nil, fmt.Errorf("org %s has %d usable sequences: %w", orgID, len(seqs), types.ErrInsufficientData)
	}

	ecfg := p.cfg.Encoder
	ecfg.Logger = p.cfg.Logger
	enc, err := encoder.New(ecfg)
	if err != nil {
		return "", nil, err
	}

	result, err := enc.Train(ctx, seqs, p.cfg.Registry, hook)
	if err != nil {
		return "", nil, fmt.Errorf("training encoder for %s: %w", orgID, err)
	}

	artifact, err := enc.Save()
	if err != nil {
		return "", nil, err
	}
	if err := p.cfg.Registry.SaveArtifact(enc.Version(), artifact); err != nil {
		return "", nil, fmt.Errorf("saving encoder artifact: %w", err)
	}

	report := &Report{
		OrgID:          orgID,
		OrdersFetched:  len(orders),
		EventsFetched:  len(events),
		SequencesBuilt: len(seqs),
		TrainingEpochs: result.Epochs,
		TrainingLoss:   result.FinalLoss,
	}
	p.log.Info().Str("org_id", orgID).Str("model_version", enc.Version()).
		Float64("final_loss", result.FinalLoss).Msg("training stage complete")
	return enc.Version(), report, nil
}

// BuildFingerprints loads the encoder checkpoint and computes one
// fingerprint per usable sequence. Sequences shorter than 2 events were
// already excluded by the builder.
func (p *Pipeline) BuildFingerprints(ctx context.Context, orgID, modelVersion string) ([]types.Fingerprint, *Report, error) {
	artifact, err := fetch(ctx, p.log, "model artifact", func() ([]byte, error) {
		return p.cfg.Registry.LoadArtifact(modelVersion)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("loading encoder %s: %w", modelVersion, err)
	}
	enc, err := encoder.Load(artifact)
	if err != nil {
		return nil, nil, err
	}

	ref := time.Now().UTC()
	orders, events, err := p.fetchHistory(ctx, orgID, ref)
	if err != nil {
		return nil, nil, err
	}
	scfg := p.cfg.Sequences
	scfg.Logger = p.cfg.Logger
	seqs := sequence.NewBuilder(scfg).Build(orders, events)

	fingerprints := make([]types.Fingerprint, 0, len(seqs))
	for _, s := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		fingerprints = append(fingerprints, types.Fingerprint{
			CustomerID:   s.CustomerID,
			ModelVersion: enc.Version(),
			Vector:       enc.Fingerprint(s),
		})
	}

	report := &Report{
		OrgID:                orgID,
		SequencesBuilt:       len(seqs),
		FingerprintsComputed: len(fingerprints),
	}
	p.log.Info().Str("org_id", orgID).Int("fingerprints", len(fingerprints)).Msg("fingerprint stage complete")
	return fingerprints, report, nil
}

// Cluster segments the fingerprints, stores the replacing segment set and
// appends one membership record per assigned customer.
func (p *Pipeline) Cluster(ctx context.Context, orgID string, fingerprints []types.Fingerprint, featureVectors []types.CustomerFeatureVector) ([]types.Segment, *Report, error) {
	if len(fingerprints) == 0 {
		return nil, nil, fmt.Errorf("org %s has no fingerprints: %w", orgID, types.ErrInsufficientData)
	}

	dim := len(fingerprints[0].Vector)
	x := mat.NewDense(len(fingerprints), dim, nil)
	customerIDs := make([]string, len(fingerprints))
	for i, fp := range fingerprints {
		x.SetRow(i, fp.Vector)
		customerIDs[i] = fp.CustomerID
	}

	var aligned []types.CustomerFeatureVector
	if featureVectors != nil {
		byCustomer := make(map[string]types.CustomerFeatureVector, len(featureVectors))
		for _, fv := range featureVectors {
			byCustomer[fv.CustomerID] = fv
		}
		aligned = make([]types.CustomerFeatureVector, len(customerIDs))
		for i, cid := range customerIDs {
			aligned[i] = byCustomer[cid]
		}
	}

	ccfg := p.cfg.Clustering
	ccfg.Logger = p.cfg.Logger
	result, err := clustering.NewEngine(ccfg).FitPredict(x, customerIDs, aligned)
	if err != nil {
		return nil, nil, err
	}

	if err := p.cfg.Segments.ReplaceSegments(ctx, orgID, result.Segments); err != nil {
		return nil, nil, fmt.Errorf("storing segments for %s: %w", orgID, err)
	}

	assignedAt := time.Now().UTC()
	var records []types.SegmentMembershipRecord
	healthByCustomer := make(map[string]float64, len(aligned))
	for _, fv := range aligned {
		healthByCustomer[fv.CustomerID] = fv.CustomerHealthScore
	}
	for _, seg := range result.Segments {
		for _, cid := range seg.CustomerIDs {
			records = append(records, types.SegmentMembershipRecord{
				CustomerID:  cid,
				SegmentName: seg.Name,
				HealthScore: healthByCustomer[cid],
				AssignedAt:  assignedAt,
			})
		}
	}
	if err := p.cfg.Memberships.AppendMemberships(ctx, orgID, records); err != nil {
		return nil, nil, fmt.Errorf("storing memberships for %s: %w", orgID, err)
	}

	report := &Report{
		OrgID:          orgID,
		ClustersFound:  len(result.Segments),
		NoiseCustomers: len(result.Noise),
		Reduction:      result.Reduction,
		Clustering:     result.Clustering,
	}
	return result.Segments, report, nil
}

// DetectDrift runs the drift detector over the accumulated membership
// histories. It is independent of the other stages.
func (p *Pipeline) DetectDrift(ctx context.Context, orgID string) ([]types.DriftEvent, *Report, error) {
	histories, err := fetch(ctx, p.log, "membership histories", func() (map[string][]types.SegmentMembershipRecord, error) {
		return p.cfg.Memberships.Histories(ctx, orgID)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetching histories for %s: %w", orgID, err)
	}

	detector := drift.NewDetector(drift.WithLogger(p.cfg.Logger))
	events := detector.BatchDetect(histories)

	report := &Report{OrgID: orgID, DriftEventsDetected: len(events)}
	return events, report, nil
}

// Run executes the full stage sequence for one organization and merges the
// stage reports.
func (p *Pipeline) Run(ctx context.Context, orgID string) (*Report, error) {
	vectors, featReport, err := p.ComputeFeatures(ctx, orgID)
	if err != nil {
		return nil, err
	}
	version, trainReport, err := p.TrainEncoder(ctx, orgID, nil)
	if err != nil {
		return nil, err
	}
	fingerprints, fpReport, err := p.BuildFingerprints(ctx, orgID, version)
	if err != nil {
		return nil, err
	}
	_, clusterReport, err := p.Cluster(ctx, orgID, fingerprints, vectors)
	if err != nil {
		return nil, err
	}
	events, _, err := p.DetectDrift(ctx, orgID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		OrgID:                 orgID,
		OrdersFetched:         featReport.OrdersFetched,
		EventsFetched:         featReport.EventsFetched,
		CustomersWithFeatures: featReport.CustomersWithFeatures,
		SequencesBuilt:        trainReport.SequencesBuilt,
		TrainingEpochs:        trainReport.TrainingEpochs,
		TrainingLoss:          trainReport.TrainingLoss,
		FingerprintsComputed:  fpReport.FingerprintsComputed,
		ClustersFound:         clusterReport.ClustersFound,
		NoiseCustomers:        clusterReport.NoiseCustomers,
		DriftEventsDetected:   len(events),
		Reduction:             clusterReport.Reduction,
		Clustering:            clusterReport.Clustering,
	}
	return report, nil
}
