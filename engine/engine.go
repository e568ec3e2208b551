// Package engine runs discovery and tagging: fan-out of adapter tasks
// over a bounded worker pool, durable scan state, and per-resource
// outcomes. The two engines share sessions, storage and configuration
// but never run concurrently on the same scan.
package engine

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"

	"github.com/magpie-cloud/magpie/storage"
)

// SessionBroker hands out cross-account credentials. Satisfied by
// session.Broker; tests substitute a fake.
type SessionBroker interface {
	Assume(ctx context.Context, accountID string) (aws.Config, error)
	ClientConfig(ctx context.Context, accountID, region string) (aws.Config, error)
}

// Options tunes both engines.
type Options struct {
	// Workers bounds the task pool; it is the primary backpressure
	// mechanism.
	Workers int
	// BatchSize bounds each storage write.
	BatchSize int
	// ControlRegion anchors clients for globally-scoped services.
	ControlRegion string
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 10
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.ControlRegion == "" {
		o.ControlRegion = "us-east-1"
	}
	return o
}

// Engine drives discovery and tagging runs.
type Engine struct {
	store  storage.Store
	broker SessionBroker
	opts   Options
	log    zerolog.Logger
}

// New builds an engine over a store and a session broker.
func New(store storage.Store, broker SessionBroker, opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		broker: broker,
		opts:   opts.withDefaults(),
		log:    log,
	}
}
