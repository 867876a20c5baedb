package plan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pixperk/flowkey/pkg/lock"
	"github.com/pixperk/flowkey/pkg/provision"
)

type Deps struct {
	Store     Store
	Locks     *lock.Manager
	Projects  ProjectLookup
	Users     UserLookup
	Customers CustomerProvider
	Tiers     TierSelector
	Logger    *slog.Logger
}

type Service struct {
	store       Store
	provisioner *provision.Provisioner[Plan]
	projects    ProjectLookup
	users       UserLookup
	customers   CustomerProvider
	tiers       TierSelector
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(d Deps, opts ...provision.Option) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     d.Store,
		projects:  d.Projects,
		users:     d.Users,
		customers: d.Customers,
		tiers:     d.Tiers,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	opts = append([]provision.Option{provision.WithLogger(logger)}, opts...)
	s.provisioner = provision.New(provision.Store[Plan](d.Store), d.Locks, LockPrefix, s.build, opts...)
	return s
}

// GetOrCreateDefault returns the project's plan, creating it on the default
// tier if the project has none yet.
func (s *Service) GetOrCreateDefault(ctx context.Context, projectID string) (Plan, error) {
	return s.provisioner.GetOrCreate(ctx, projectID)
}

func (s *Service) GetByProjectID(ctx context.Context, projectID string) (Plan, error) {
	return s.store.Find(ctx, projectID)
}

func (s *Service) GetByCustomerID(ctx context.Context, customerID string) (Plan, error) {
	return s.store.FindByCustomerID(ctx, customerID)
}

// Update applies the set limits and, when given, the subscription id.
func (s *Service) Update(ctx context.Context, projectID string, limits Limits, subscriptionID *string) (Plan, error) {
	if _, err := s.GetOrCreateDefault(ctx, projectID); err != nil {
		return Plan{}, err
	}
	if err := s.store.UpdateLimits(ctx, projectID, limits, subscriptionID, s.now()); err != nil {
		return Plan{}, fmt.Errorf("update plan of %s: %w", projectID, err)
	}
	return s.store.Find(ctx, projectID)
}

// RemoveDailyTasksAndUpdateTasks drops the daily task cap and sets the total.
func (s *Service) RemoveDailyTasksAndUpdateTasks(ctx context.Context, projectID string, tasks int) error {
	if err := s.store.SetTasks(ctx, projectID, tasks, s.now()); err != nil {
		return fmt.Errorf("set tasks of %s: %w", projectID, err)
	}
	return nil
}

func (s *Service) build(ctx context.Context, projectID string) (Plan, error) {
	project, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrProjectLookup, err)
	}

	owner, err := s.users.GetUserMeta(ctx, project.OwnerID)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrOwnerLookup, err)
	}

	customerID, err := s.customers.GetOrCreateCustomer(ctx, owner, project.ID)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrCustomer, err)
	}

	tier, err := s.tiers.DefaultTier(ctx, owner)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrTierSelection, err)
	}

	now := s.now()
	p := Plan{
		ID:                        uuid.NewString(),
		ProjectID:                 projectID,
		FlowPlanName:              tier.Nickname,
		Tasks:                     tier.Tasks,
		Connections:               tier.Connections,
		MinimumPollingInterval:    tier.MinimumPollingInterval,
		TeamMembers:               tier.TeamMembers,
		StripeCustomerID:          customerID,
		SubscriptionStartDatetime: project.Created,
		Created:                   now,
		Updated:                   now,
	}
	if tier.TasksPerDay != nil {
		v := *tier.TasksPerDay
		p.TasksPerDay = &v
	}

	s.logger.Debug("built default plan", "project_id", projectID, "tier", tier.Nickname, "customer_id", customerID)
	return p, nil
}
