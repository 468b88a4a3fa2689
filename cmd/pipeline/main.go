// Command pipeline runs the customer-intelligence stages for one
// organization: features, encoder training, fingerprints, clustering and
// drift detection.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"customerintel/internal/config"
	"customerintel/internal/logging"
	"customerintel/internal/registry"
	"customerintel/internal/store"
	"customerintel/pkg/clustering"
	"customerintel/pkg/encoder"
	"customerintel/pkg/features"
	"customerintel/pkg/pipeline"
	"customerintel/pkg/sequence"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	orgID := flag.String("org", "", "organization id to process (required)")
	stage := flag.String("stage", "all", "stage to run: features, train, fingerprints, cluster, drift, segments, models or all")
	modelVersion := flag.String("model", "", "model version for the fingerprints stage")
	flag.Parse()

	if *orgID == "" {
		flag.Usage()
		return fmt.Errorf("-org is required")
	}

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenMySQL(cfg.MySQLDSN)
	if err != nil {
		return fmt.Errorf("opening mysql: %w", err)
	}
	defer db.Close()
	sqlStore := store.NewMySQLStore(db)

	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisStore.Close()

	reg, err := registry.NewFileRegistry(cfg.RegistryDir, logger)
	if err != nil {
		return err
	}

	ccfg := clustering.Config{}
	if cfg.RulesPath != "" {
		data, err := os.ReadFile(cfg.RulesPath)
		if err != nil {
			return fmt.Errorf("reading rules file: %w", err)
		}
		rules, err := clustering.LoadRules(data)
		if err != nil {
			return err
		}
		ccfg.Rules = rules
	}

	encCfg := encoder.Config{}
	p, err := pipeline.New(pipeline.Config{
		Orders:      sqlStore,
		Events:      sqlStore,
		Registry:    reg,
		Segments:    redisStore,
		Memberships: redisStore,
		Features:    features.Config{},
		Sequences:   sequence.Config{},
		Encoder:     encCfg,
		Clustering:  ccfg,
		Lookback:    cfg.Lookback,
		Workers:     cfg.Workers,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	switch *stage {
	case "segments":
		segments, err := redisStore.Segments(ctx, *orgID)
		if err != nil {
			return err
		}
		for _, seg := range segments {
			fmt.Printf("%s: %d customers (avg health %.1f)\n", seg.Name, seg.Size, seg.AvgHealthScore)
		}
	case "models":
		versions, err := reg.Versions()
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Println(v)
		}
	case "features":
		_, report, err := p.ComputeFeatures(ctx, *orgID)
		if err != nil {
			return err
		}
		fmt.Printf("features: %d customers from %d orders\n", report.CustomersWithFeatures, report.OrdersFetched)
	case "train":
		version, report, err := p.TrainEncoder(ctx, *orgID, trainProgress(encCfg))
		if err != nil {
			return err
		}
		fmt.Printf("trained %s over %d sequences, final loss %.4f\n", version, report.SequencesBuilt, report.TrainingLoss)
	case "fingerprints":
		if *modelVersion == "" {
			return fmt.Errorf("-model is required for the fingerprints stage")
		}
		_, report, err := p.BuildFingerprints(ctx, *orgID, *modelVersion)
		if err != nil {
			return err
		}
		fmt.Printf("fingerprints: %d computed\n", report.FingerprintsComputed)
	case "cluster":
		if *modelVersion == "" {
			return fmt.Errorf("-model is required for the cluster stage")
		}
		vectors, _, err := p.ComputeFeatures(ctx, *orgID)
		if err != nil {
			return err
		}
		fingerprints, _, err := p.BuildFingerprints(ctx, *orgID, *modelVersion)
		if err != nil {
			return err
		}
		segments, report, err := p.Cluster(ctx, *orgID, fingerprints, vectors)
		if err != nil {
			return err
		}
		fmt.Printf("cluster: %d segments, %d noise (%s / %s)\n",
			report.ClustersFound, report.NoiseCustomers, report.Reduction, report.Clustering)
		for _, seg := range segments {
			fmt.Printf("  %s: %d customers\n", seg.Name, seg.Size)
		}
	case "drift":
		events, _, err := p.DetectDrift(ctx, *orgID)
		if err != nil {
			return err
		}
		fmt.Printf("drift: %d events detected\n", len(events))
		for _, ev := range events {
			fmt.Printf("  [%s] %s: %s -> %s\n", ev.Direction, ev.CustomerID, ev.FromSegment, ev.ToSegment)
		}
	case "all":
		report, err := p.Run(ctx, *orgID)
		if err != nil {
			return err
		}
		fmt.Printf("features=%d sequences=%d fingerprints=%d clusters=%d noise=%d drift=%d\n",
			report.CustomersWithFeatures, report.SequencesBuilt, report.FingerprintsComputed,
			report.ClustersFound, report.NoiseCustomers, report.DriftEventsDetected)
	default:
		return fmt.Errorf("unknown stage %q", *stage)
	}
	return nil
}

func trainProgress(cfg encoder.Config) encoder.EpochHook {
	epochs := cfg.Epochs
	if epochs == 0 {
		epochs = 50
	}
	bar := progressbar.Default(int64(epochs))
	return func(epoch int, loss float64) {
		bar.Add(1)
	}
}
