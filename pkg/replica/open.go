package replica

import (
	"context"
	"fmt"
	"strings"

	"github.com/piratar/members-sync/pkg/config"
)

// Opener builds a Store for one driver.
type Opener func(ctx context.Context, cfg config.ReplicaConfig) (Store, error)

// Open selects the backend named by cfg.Driver from openers.
func Open(ctx context.Context, cfg config.ReplicaConfig, openers map[string]Opener) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	open, ok := openers[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported replica driver %q", cfg.Driver)
	}
	store, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s replica: %w", driver, err)
	}
	return store, nil
}
