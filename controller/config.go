package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/gwac/camannex/logger"
)

// Default timing values of the engine loops.
const (
	DefaultPollInterval      = 20 * time.Second
	DefaultStartDelay        = 1 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSettleDelay       = 100 * time.Millisecond
	DefaultResponseTimeout   = 5 * time.Second
	DefaultUploadTimeout     = 10 * time.Second

	DefaultQueueSize = 16
)

// idleWait bounds how long the respond loop blocks when response timeouts are disabled.
const idleWait = time.Second

// Config holds the tunables of an Engine.
type Config struct {
	pollInterval      time.Duration
	startDelay        time.Duration
	heartbeatInterval time.Duration
	settleDelay       time.Duration
	responseTimeout   time.Duration
	uploadTimeout     time.Duration
	queueSize         int
	groupID           string
	logger            logger.Logger
}

// Option configures an Engine.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error {
	return f(cfg)
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		pollInterval:      DefaultPollInterval,
		startDelay:        DefaultStartDelay,
		heartbeatInterval: DefaultHeartbeatInterval,
		settleDelay:       DefaultSettleDelay,
		responseTimeout:   DefaultResponseTimeout,
		uploadTimeout:     DefaultUploadTimeout,
		queueSize:         DefaultQueueSize,
		logger:            logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// WithPollInterval sets the period of the poll loop.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("controller: invalid poll interval %v", d)
		}
		cfg.pollInterval = d
		return nil
	})
}

// WithStartDelay sets the delay before the first poll cycle.
func WithStartDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("controller: invalid start delay %v", d)
		}
		cfg.startDelay = d
		return nil
	})
}

// WithHeartbeatInterval sets both the heartbeat check period and the silence threshold.
func WithHeartbeatInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("controller: invalid heartbeat interval %v", d)
		}
		cfg.heartbeatInterval = d
		return nil
	})
}

// WithSettleDelay sets the pause between a parsed response and the next transmission.
func WithSettleDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("controller: invalid settle delay %v", d)
		}
		cfg.settleDelay = d
		return nil
	})
}

// WithResponseTimeout sets how long a directive may stay in flight before it is evicted.
// Zero disables eviction. A reply arriving after its directive was evicted is
// decoded against the new head of the queue, so the timeout should exceed the
// slowest device's reply latency.
func WithResponseTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("controller: invalid response timeout %v", d)
		}
		cfg.responseTimeout = d
		return nil
	})
}

// WithUploadTimeout bounds one database flush.
func WithUploadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("controller: invalid upload timeout %v", d)
		}
		cfg.uploadTimeout = d
		return nil
	})
}

// WithQueueSize sets the preallocated capacity of the directive queue.
func WithQueueSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 {
			return fmt.Errorf("controller: invalid queue size %d", n)
		}
		cfg.queueSize = n
		return nil
	})
}

// WithGroupID sets the observation group id used in uploads and network lines.
func WithGroupID(groupID string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.groupID = groupID
		return nil
	})
}

// WithLogger sets the logger of the engine.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("controller: nil logger")
		}
		cfg.logger = l
		return nil
	})
}
