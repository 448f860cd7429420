package services

import (
	"context"
	"fmt"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthService struct {
	checks map[string]Pinger
}

// NewHealthService checks the given dependencies by name. Nil entries are
// skipped so optional ones (redis) can be passed unconditionally.
func NewHealthService(checks map[string]Pinger) *HealthService {
	active := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			active[name] = p
		}
	}
	return &HealthService{checks: active}
}

func (s *HealthService) Get(ctx context.Context) map[string]error {
	out := make(map[string]error, len(s.checks))
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			out[name] = fmt.Errorf("%s: %w", name, err)
			continue
		}
		out[name] = nil
	}
	return out
}
