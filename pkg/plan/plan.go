// Package plan keeps one billing plan per project. Plans are created lazily
// on first access through a provision.Provisioner.
package plan

import (
	"context"
	"errors"
	"time"

	"github.com/pixperk/flowkey/pkg/provision"
)

// LockPrefix names the provisioning lock of a project's plan.
const LockPrefix = "project_plan"

var (
	ErrNotFound      = provision.ErrNotFound
	ErrProjectLookup = errors.New("project lookup failed")
	ErrOwnerLookup   = errors.New("owner lookup failed")
	ErrCustomer      = errors.New("billing customer unavailable")
	ErrTierSelection = errors.New("default tier selection failed")
)

type Plan struct {
	ID                        string    `json:"id"`
	ProjectID                 string    `json:"projectId"`
	FlowPlanName              string    `json:"flowPlanName"`
	Tasks                     int       `json:"tasks"`
	TasksPerDay               *int      `json:"tasksPerDay,omitempty"`
	Connections               int       `json:"connections"`
	MinimumPollingInterval    int       `json:"minimumPollingInterval"`
	TeamMembers               int       `json:"teamMembers"`
	StripeCustomerID          string    `json:"stripeCustomerId"`
	StripeSubscriptionID      *string   `json:"stripeSubscriptionId,omitempty"`
	SubscriptionStartDatetime time.Time `json:"subscriptionStartDatetime"`
	Created                   time.Time `json:"created"`
	Updated                   time.Time `json:"updated"`
}

// Clone returns a copy that shares no pointers with p.
func (p Plan) Clone() Plan {
	if p.TasksPerDay != nil {
		v := *p.TasksPerDay
		p.TasksPerDay = &v
	}
	if p.StripeSubscriptionID != nil {
		v := *p.StripeSubscriptionID
		p.StripeSubscriptionID = &v
	}
	return p
}

// Limits is a partial set of plan limits. Nil fields are left unchanged.
type Limits struct {
	Nickname               *string
	Tasks                  *int
	Connections            *int
	MinimumPollingInterval *int
	TeamMembers            *int
}

// Apply sets the non-nil limits on p. A nil subscriptionID keeps the current one.
func (p *Plan) Apply(l Limits, subscriptionID *string) {
	if l.Nickname != nil {
		p.FlowPlanName = *l.Nickname
	}
	if l.Tasks != nil {
		p.Tasks = *l.Tasks
	}
	if l.Connections != nil {
		p.Connections = *l.Connections
	}
	if l.MinimumPollingInterval != nil {
		p.MinimumPollingInterval = *l.MinimumPollingInterval
	}
	if l.TeamMembers != nil {
		p.TeamMembers = *l.TeamMembers
	}
	if subscriptionID != nil {
		v := *subscriptionID
		p.StripeSubscriptionID = &v
	}
}

// Store persists plans with project_id unique.
type Store interface {
	provision.Store[Plan]
	FindByCustomerID(ctx context.Context, customerID string) (Plan, error)
	UpdateLimits(ctx context.Context, projectID string, limits Limits, subscriptionID *string, now time.Time) error
	SetTasks(ctx context.Context, projectID string, tasks int, now time.Time) error
}
