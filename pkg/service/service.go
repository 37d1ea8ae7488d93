package service

import (
	"context"
	"errors"
	"fmt"
)

// RunnableService is one long-lived part of the app, the signaling
// server or the monitoring sidecar. Run must not block.
type RunnableService interface {
	Run()
	Shutdown(ctx context.Context) error
}

// Group starts and stops a set of services together.
type Group struct {
	list []RunnableService
}

func (g *Group) Add(services ...RunnableService) { g.list = append(g.list, services...) }

// Start starts each service in the group.
func (g *Group) Start() {
	for _, s := range g.list {
		s.Run()
	}
}

// Shutdown stops every service in the group, collecting errors
// instead of aborting on the first one.
func (g *Group) Shutdown(ctx context.Context) error {
	var errs []error
	for _, s := range g.list {
		if err := s.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("stop %s: %w", s, err))
		}
	}
	return errors.Join(errs...)
}
