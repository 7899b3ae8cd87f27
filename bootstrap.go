package storage

import (
	"context"

	"github.com/hashicorp/go-multierror"
)

func (s *storage) SetIdentity(ctx context.Context, identity *Identity) error {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	if identity != nil {
		id := *identity
		s.identity = &id
	} else {
		s.identity = nil
	}
	s.stores = newStores(s.ttl, s.now)
	s.log = newEntry(s.baseLog, s.identity)
	s.state.reset(epoch)
	log := s.log
	s.mu.Unlock()

	s.state.notify(epoch)

	if identity == nil {
		log.Info("signed out")
		return nil
	}
	log.Info("identity set")
	return s.bootstrap(ctx)
}

/*
	bootstrap loads everything a fresh session shows at once. Each load publishes its own
	result and error, so one failing load never blocks the others.
*/
func (s *storage) bootstrap(ctx context.Context) error {
	g := multierror.Group{}
	g.Go(func() error {
		_, err := s.Users(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.Pipelines(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.Stages(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.ListLeads(ctx, LeadFilters{})
		return err
	})

	err := g.Wait().ErrorOrNil()
	if err != nil {
		d("bootstrap finished with errors: %v", err)
	}
	return err
}
