package subscriber

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager owns one Subscriber per configured endpoint and fans their
// output into a single shared Handler.
type Manager struct {
	subs   []*Subscriber
	logger zerolog.Logger
}

// ManagerConfig configures a fleet of subscribers sharing one handler.
type ManagerConfig struct {
	Endpoints            []Endpoint
	QueueSize            int
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Handler              Handler
	Logger               *zerolog.Logger
}

// NewManager builds one Subscriber per endpoint in cfg.Endpoints.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{}
	if cfg.Logger != nil {
		m.logger = cfg.Logger.With().Str("component", "subscriber_manager").Logger()
	} else {
		m.logger = zerolog.Nop()
	}

	for _, ep := range cfg.Endpoints {
		m.subs = append(m.subs, New(Config{
			Endpoint:             ep,
			QueueSize:            cfg.QueueSize,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			Handler:              cfg.Handler,
			Logger:               cfg.Logger,
		}))
	}
	return m
}

// Run starts every subscriber and blocks until ctx is cancelled and all
// subscribers have returned.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range m.subs {
		wg.Add(1)
		go func(s *Subscriber) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}
	m.logger.Info().Int("count", len(m.subs)).Msg("subscribers started")
	wg.Wait()
}

// Subscribers exposes the managed fleet for stats collection.
func (m *Manager) Subscribers() []*Subscriber { return m.subs }
