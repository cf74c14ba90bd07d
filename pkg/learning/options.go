package learning

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/absmach/fedsim/pkg/aggregator"
	"github.com/absmach/fedsim/pkg/optimizer"
)

type options struct {
	serverOptimizerFn optimizer.Fn
	aggregator        aggregator.Aggregator
	policy            StragglerPolicy
	parallelism       int
	clientTimeout     time.Duration
	logger            *slog.Logger
}

type Option func(*options)

func WithServerOptimizer(fn optimizer.Fn) Option {
	return func(o *options) {
		if fn != nil {
			o.serverOptimizerFn = fn
		}
	}
}

func WithAggregator(a aggregator.Aggregator) Option {
	return func(o *options) {
		if a != nil {
			o.aggregator = a
		}
	}
}

func WithStragglerPolicy(p StragglerPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithParallelism bounds how many clients train at once. Values below one
// train clients one at a time.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = max(n, 1)
	}
}

// WithClientTimeout bounds the local training of each client. Zero disables
// the bound.
func WithClientTimeout(d time.Duration) Option {
	return func(o *options) {
		o.clientTimeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		serverOptimizerFn: func() optimizer.Optimizer { return optimizer.SGD(1) },
		aggregator:        aggregator.NewWeightedMean(),
		policy:            AbortRound,
		parallelism:       runtime.GOMAXPROCS(0),
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}
