package main

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	_ "github.com/magpie-cloud/magpie/adapters/aws"
	"github.com/magpie-cloud/magpie/api"
	"github.com/magpie-cloud/magpie/catalog"
	"github.com/magpie-cloud/magpie/config"
	"github.com/magpie-cloud/magpie/engine"
	"github.com/magpie-cloud/magpie/session"
	"github.com/magpie-cloud/magpie/storage"
	"github.com/magpie-cloud/magpie/storage/bolt"
	"github.com/magpie-cloud/magpie/storage/memory"
	"github.com/magpie-cloud/magpie/storage/postgres"
	"github.com/magpie-cloud/magpie/telemetry"
)

var (
	version = "0.1.0"

	cfgFile string
	debug   bool

	rootCmd = &cobra.Command{
		Use:   "magpie",
		Short: "Multi-account cloud resource discovery and bulk tagging",
		Long: `Magpie - Cloud Resource Discovery and Tagging Engine

Magpie scans AWS accounts in parallel, builds a durable inventory of
resources per scan, classifies each record against a filter expression,
and applies or removes tags in bulk on the kept set.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.SetVersionTemplate(`Magpie {{.Version}} - Cloud Resource Discovery and Tagging Engine
`)
}

// app bundles everything a command needs; commands build one, use it
// and close it.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   storage.Store
	service *api.Service
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	logger := telemetry.NewLogger("magpie")
	zl := *logger.WithContext(ctx)
	if debug {
		zl = zl.Level(zerolog.DebugLevel)
	} else {
		zl = zl.Level(zerolog.InfoLevel)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	broker := session.NewBroker(cfg.Region, cfg.Engine.ScanRole, cfg.Engine.SDKMaxRetries, cfg.Engine.SDKCallTimeout, zl)

	eng := engine.New(store, broker, engine.Options{
		Workers:       cfg.Engine.Workers,
		BatchSize:     cfg.Engine.BatchSize,
		ControlRegion: cfg.Region,
	}, zl)

	cat, err := openCatalog(ctx, cfg, zl)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     zl,
		store:   store,
		service: api.New(store, eng, cat, zl),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("store close failed")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.Open(ctx, cfg.DSN())
	case "bolt":
		return bolt.Open(cfg.Storage.Path)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// openCatalog loads the region catalog from the configured bucket. The
// blob client uses the control-plane identity, not an assumed role.
func openCatalog(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*catalog.Catalog, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(session.BoundedHTTPClient(cfg.Engine.SDKCallTimeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	cat := catalog.New(s3.NewFromConfig(awsCfg), cfg.Blob.Bucket, log)
	if err := cat.Load(ctx); err != nil {
		return nil, err
	}
	return cat, nil
}
