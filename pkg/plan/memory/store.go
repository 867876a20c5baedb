// Package memory is an in-process plan.Store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pixperk/flowkey/pkg/plan"
	"github.com/pixperk/flowkey/pkg/provision"
)

var _ plan.Store = (*Store)(nil)

type Store struct {
	mu        sync.RWMutex
	byProject map[string]plan.Plan
	inserts   int
}

func New() *Store {
	return &Store{byProject: make(map[string]plan.Plan)}
}

func (s *Store) Find(_ context.Context, projectID string) (plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byProject[projectID]
	if !ok {
		return plan.Plan{}, provision.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *Store) InsertIfAbsent(_ context.Context, p plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byProject[p.ProjectID]; ok {
		return provision.ErrDuplicate
	}
	s.byProject[p.ProjectID] = p.Clone()
	s.inserts++
	return nil
}

func (s *Store) FindByCustomerID(_ context.Context, customerID string) (plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.byProject {
		if p.StripeCustomerID == customerID {
			return p.Clone(), nil
		}
	}
	return plan.Plan{}, provision.ErrNotFound
}

func (s *Store) UpdateLimits(_ context.Context, projectID string, limits plan.Limits, subscriptionID *string, now time.Time) error {
	return s.update(projectID, now, func(p *plan.Plan) { p.Apply(limits, subscriptionID) })
}

func (s *Store) SetTasks(_ context.Context, projectID string, tasks int, now time.Time) error {
	return s.update(projectID, now, func(p *plan.Plan) {
		p.Tasks = tasks
		p.TasksPerDay = nil
	})
}

// Inserts reports how many plans were inserted.
func (s *Store) Inserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inserts
}

func (s *Store) update(projectID string, now time.Time, fn func(*plan.Plan)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byProject[projectID]
	if !ok {
		return provision.ErrNotFound
	}
	fn(&p)
	p.Updated = now
	s.byProject[projectID] = p
	return nil
}
