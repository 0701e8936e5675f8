package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/ledger"
	"github.com/shrimpsizemoose/pointbulle/internal/scoring"
	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

// Service owns the process wide store handle. It is created once at startup
// and closed once at shutdown.
type Service struct {
	Config *Config
	Store  store.LedgerStore
	Ledger *ledger.Coordinator
	Auth   *Auth

	closeOnce sync.Once
	closeErr  error
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewServiceFromConfig(context.Background(), config)
}

func NewServiceFromConfig(ctx context.Context, config *Config) (*Service, error) {
	s, err := NewStore(&store.DBConfig{
		DSN:           config.Database.DSN,
		MigrationsDir: config.Database.MigrationsDir,
		MaxOpenConns:  config.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	opts, err := ledgerOptions(config)
	if err != nil {
		s.Close()
		return nil, err
	}
	coordinator, err := ledger.NewCoordinator(ctx, s, opts)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to init ledger: %w", err)
	}

	auth, err := NewAuth(config)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to init auth: %w", err)
	}

	return &Service{
		Config: config,
		Store:  s,
		Ledger: coordinator,
		Auth:   auth,
	}, nil
}

func ledgerOptions(config *Config) (ledger.Options, error) {
	initial, err := config.ReadRetryInitial()
	if err != nil {
		return ledger.Options{}, err
	}
	location, err := config.Location()
	if err != nil {
		return ledger.Options{}, err
	}
	bonuses, err := config.MilestoneBonuses()
	if err != nil {
		return ledger.Options{}, err
	}
	return ledger.Options{
		ReadRetryAttempts: config.Ledger.ReadRetryAttempts,
		ReadRetryInitial:  initial,
		Location:          location,
		Daily:             scoring.NewDailyRewarder(config.Daily.BasePoints, bonuses),
	}, nil
}

func (s *Service) ValidateAuth(r *http.Request) error {
	if !s.Auth.Enabled() {
		return nil
	}

	authHeader := r.Header.Get(s.Auth.tokenHeader)
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("%w: invalid authorization header format", ErrInvalidToken)
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	client := r.Header.Get(s.Auth.clientHeader)
	if client == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidToken, s.Auth.clientHeader)
	}

	return s.Auth.ValidateToken(r.Context(), client, token)
}

func (s *Service) ValidateHeaders(headers map[string][]string) bool {
	for _, required := range s.Config.API.RequiredHeaders {
		value := headers[http.CanonicalHeaderKey(required.Name)]
		if len(value) == 0 || !strings.EqualFold(value[0], required.Value) {
			return false
		}
	}
	return true
}

// Close releases the store and redis. Calling it again is a no-op.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if err := s.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		if s.Auth != nil {
			if err := s.Auth.Close(); err != nil {
				errs = append(errs, fmt.Errorf("auth: %w", err))
			}
		}

		if len(errs) > 0 {
			s.closeErr = fmt.Errorf("errors while closing: %v", errs)
			return
		}
		logger.Info.Println("Service closed")
	})
	return s.closeErr
}
