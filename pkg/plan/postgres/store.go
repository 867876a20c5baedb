// Package postgres stores plans in PostgreSQL through database/sql and the
// pgx driver. project_id is unique, so a lost insert race reports
// provision.ErrDuplicate instead of adding a row.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pixperk/flowkey/pkg/plan"
	"github.com/pixperk/flowkey/pkg/provision"
)

var _ plan.Store = (*Store)(nil)

const uniqueViolation = "23505"

const Schema = `CREATE TABLE IF NOT EXISTS project_plans (
	id                          TEXT PRIMARY KEY,
	project_id                  TEXT NOT NULL UNIQUE,
	flow_plan_name              TEXT NOT NULL,
	tasks                       INTEGER NOT NULL,
	tasks_per_day               INTEGER,
	connections                 INTEGER NOT NULL,
	minimum_polling_interval    INTEGER NOT NULL,
	team_members                INTEGER NOT NULL,
	stripe_customer_id          TEXT NOT NULL,
	stripe_subscription_id      TEXT,
	subscription_start_datetime TIMESTAMPTZ NOT NULL,
	created                     TIMESTAMPTZ NOT NULL,
	updated                     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS project_plans_stripe_customer_id_idx ON project_plans (stripe_customer_id);`

const planColumns = `id, project_id, flow_plan_name, tasks, tasks_per_day, connections,
	minimum_polling_interval, team_members, stripe_customer_id, stripe_subscription_id,
	subscription_start_datetime, created, updated`

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects with the pgx driver and pings within pingTimeout.
func Open(ctx context.Context, url string, pingTimeout time.Duration) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, projectID string) (plan.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM project_plans WHERE project_id = $1`,
		projectID,
	)
	return scanPlan(row)
}

func (s *Store) FindByCustomerID(ctx context.Context, customerID string) (plan.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM project_plans WHERE stripe_customer_id = $1 LIMIT 1`,
		customerID,
	)
	return scanPlan(row)
}

func (s *Store) InsertIfAbsent(ctx context.Context, p plan.Plan) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO project_plans (`+planColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (project_id) DO NOTHING`,
		p.ID,
		p.ProjectID,
		p.FlowPlanName,
		p.Tasks,
		p.TasksPerDay,
		p.Connections,
		p.MinimumPollingInterval,
		p.TeamMembers,
		p.StripeCustomerID,
		p.StripeSubscriptionID,
		p.SubscriptionStartDatetime.UTC(),
		p.Created.UTC(),
		p.Updated.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", provision.ErrDuplicate, pgErr.ConstraintName)
		}
		return fmt.Errorf("insert plan: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	if n == 0 {
		return provision.ErrDuplicate
	}
	return nil
}

func (s *Store) UpdateLimits(ctx context.Context, projectID string, limits plan.Limits, subscriptionID *string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE project_plans SET
			flow_plan_name = COALESCE($2, flow_plan_name),
			tasks = COALESCE($3, tasks),
			connections = COALESCE($4, connections),
			minimum_polling_interval = COALESCE($5, minimum_polling_interval),
			team_members = COALESCE($6, team_members),
			stripe_subscription_id = COALESCE($7, stripe_subscription_id),
			updated = $8
		WHERE project_id = $1`,
		projectID,
		limits.Nickname,
		limits.Tasks,
		limits.Connections,
		limits.MinimumPollingInterval,
		limits.TeamMembers,
		subscriptionID,
		now.UTC(),
	)
	return checkUpdated(res, err)
}

func (s *Store) SetTasks(ctx context.Context, projectID string, tasks int, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE project_plans SET tasks = $2, tasks_per_day = NULL, updated = $3 WHERE project_id = $1`,
		projectID,
		tasks,
		now.UTC(),
	)
	return checkUpdated(res, err)
}

func checkUpdated(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if n == 0 {
		return provision.ErrNotFound
	}
	return nil
}

func scanPlan(row *sql.Row) (plan.Plan, error) {
	var (
		p              plan.Plan
		tasksPerDay    sql.NullInt64
		subscriptionID sql.NullString
	)
	err := row.Scan(
		&p.ID,
		&p.ProjectID,
		&p.FlowPlanName,
		&p.Tasks,
		&tasksPerDay,
		&p.Connections,
		&p.MinimumPollingInterval,
		&p.TeamMembers,
		&p.StripeCustomerID,
		&subscriptionID,
		&p.SubscriptionStartDatetime,
		&p.Created,
		&p.Updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return plan.Plan{}, provision.ErrNotFound
		}
		return plan.Plan{}, fmt.Errorf("scan plan: %w", err)
	}
	if tasksPerDay.Valid {
		v := int(tasksPerDay.Int64)
		p.TasksPerDay = &v
	}
	if subscriptionID.Valid {
		v := subscriptionID.String
		p.StripeSubscriptionID = &v
	}
	return p, nil
}
