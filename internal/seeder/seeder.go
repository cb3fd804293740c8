package seeder

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/preorder/internal/sequence"
)

// Module provides the Seeder. It needs sequence.Module and a record store.
var Module = fx.Provide(New)

// Seeder prepares a fresh record store for local/dev setups.
type Seeder struct {
	allocator *sequence.Allocator
	logger    *zap.Logger
}

// New constructs a Seeder on top of the order number allocator.
func New(allocator *sequence.Allocator, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{allocator: allocator, logger: logger}
}

// Counter creates the order counter at start if it is missing, so the first
// order placed gets start+1. An existing counter is never rewound. It
// returns the counter value in effect afterwards.
func (s *Seeder) Counter(ctx context.Context, start int64) (int64, error) {
	created, err := s.allocator.Seed(ctx, start)
	if err != nil {
		return 0, err
	}

	current, err := s.allocator.Current(ctx)
	if err != nil {
		return 0, err
	}

	if created {
		s.logger.Info("seeded order counter", zap.Int64("counter", current))
	} else {
		s.logger.Info("order counter already present; left untouched", zap.Int64("counter", current))
	}
	return current, nil
}
