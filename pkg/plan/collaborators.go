package plan

import (
	"context"
	"time"
)

type Project struct {
	ID      string
	OwnerID string
	Created time.Time
}

type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// ProjectLookup resolves a project by id.
type ProjectLookup interface {
	GetProject(ctx context.Context, projectID string) (Project, error)
}

// UserLookup resolves the owner's meta information.
type UserLookup interface {
	GetUserMeta(ctx context.Context, userID string) (User, error)
}

// CustomerProvider returns the billing customer id for owner, creating the
// customer in the billing provider if needed. Creation is not rolled back
// when a later provisioning step fails.
type CustomerProvider interface {
	GetOrCreateCustomer(ctx context.Context, owner User, projectID string) (string, error)
}
