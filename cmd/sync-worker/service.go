package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/piratar/members-sync/internal/reconcile"
	"github.com/piratar/members-sync/internal/wakeup"
	"github.com/piratar/members-sync/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type reconciler interface {
	Run(ctx context.Context) error
}

type listener interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger     *logger.Logger
	DB         pinger
	Reconciler reconciler
	// Listener is optional; without it the reconciler relies on polling.
	Listener listener
}

type Service struct {
	logg       *logger.Logger
	db         pinger
	reconciler reconciler
	listener   listener
}

var (
	_ reconciler = (*reconcile.Service)(nil)
	_ listener   = (*wakeup.Listener)(nil)
)

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Reconciler == nil {
		return nil, errors.New("reconciler is required")
	}
	return &Service{
		logg:       params.Logger,
		db:         params.DB,
		reconciler: params.Reconciler,
		listener:   params.Listener,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "sync worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx ends or the reconciler stops. A listener failure is
// logged and the reconciler keeps polling.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	if s.listener != nil {
		go func() {
			if err := s.listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "wakeup listener stopped", err)
			}
		}()
	}

	err := s.reconciler.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "reconciler stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "sync worker context canceled")
	return nil
}
