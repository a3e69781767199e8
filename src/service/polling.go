package service

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// AccountRegistry lists the accounts whose broadcasts are being tracked.
type AccountRegistry interface {
	TrackedAccounts(ctx context.Context) ([]common.Address, error)
}

type PollingService struct {
	tracker         *SettlementTracker
	registry        AccountRegistry
	pollingInterval time.Duration
}

type PollingConfig struct {
	PollingInterval time.Duration
}

func NewPollingService(
	_ context.Context,
	tracker *SettlementTracker,
	registry AccountRegistry,
	config PollingConfig,
) *PollingService {
	return &PollingService{
		tracker:         tracker,
		registry:        registry,
		pollingInterval: config.PollingInterval,
	}
}

// logger wraps the execution context with component info
func (s *PollingService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "polling-service").Logger()
	return &l
}

// Start begins the reconciliation loop
func (s *PollingService) Start(ctx context.Context) error {
	s.logger(ctx).Info().
		Dur("polling_interval", s.pollingInterval).
		Msg("starting polling service")

	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger(ctx).Info().Msg("polling service stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				s.logger(ctx).Error().Err(err).Msg("polling cycle failed")
			}
		}
	}
}

// poll performs a single reconciliation cycle over all tracked accounts
func (s *PollingService) poll(ctx context.Context) error {
	s.logger(ctx).Debug().Msg("starting polling cycle")

	accounts, err := s.registry.TrackedAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		s.logger(ctx).Debug().Msg("no tracked accounts")
		return nil
	}

	s.logger(ctx).Debug().Int("account_count", len(accounts)).Msg("reconciling tracked accounts")

	for _, account := range accounts {
		if err := s.tracker.ReconcileAccount(ctx, account); err != nil {
			s.logger(ctx).Warn().
				Err(err).
				Str("account", account.Hex()).
				Msg("account reconciliation failed")
		}
	}
	return nil
}
