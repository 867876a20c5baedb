// Package provision creates per-subject resources exactly once, even when
// many callers race for the same subject across processes.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixperk/flowkey/pkg/lock"
	"github.com/pixperk/flowkey/pkg/metrics"
)

// DefaultLockTimeout is how long GetOrCreate waits for the subject's lock.
const DefaultLockTimeout = 30 * time.Second

// Store persists resources keyed by subject. InsertIfAbsent must enforce
// uniqueness on the subject key and return ErrDuplicate when it loses.
type Store[R any] interface {
	Find(ctx context.Context, subjectKey string) (R, error)
	InsertIfAbsent(ctx context.Context, resource R) error
}

// BuildFunc constructs a new resource for subjectKey. It may call external
// systems; side effects of a failed build are not rolled back.
type BuildFunc[R any] func(ctx context.Context, subjectKey string) (R, error)

type Option func(*options)

type options struct {
	timeout time.Duration
	logger  *slog.Logger
}

// WithLockTimeout bounds the wait for the subject's lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Provisioner implements double-checked get-or-create under a per-subject
// lock named "<prefix>:<subjectKey>".
type Provisioner[R any] struct {
	store   Store[R]
	locks   *lock.Manager
	build   BuildFunc[R]
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

func New[R any](store Store[R], locks *lock.Manager, prefix string, build BuildFunc[R], opts ...Option) *Provisioner[R] {
	o := options{timeout: DefaultLockTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Provisioner[R]{
		store:   store,
		locks:   locks,
		build:   build,
		prefix:  prefix,
		timeout: o.timeout,
		logger:  o.logger.With("scope", prefix),
	}
}

// LockKey returns the lock name guarding subjectKey.
func (p *Provisioner[R]) LockKey(subjectKey string) string {
	return p.prefix + ":" + subjectKey
}

// GetOrCreate returns the resource for subjectKey, building and inserting it
// if none exists. Concurrent calls for one subject build at most once and all
// return the same stored record.
func (p *Provisioner[R]) GetOrCreate(ctx context.Context, subjectKey string) (R, error) {
	var zero R

	existing, err := p.store.Find(ctx, subjectKey)
	if err == nil {
		metrics.ProvisionTotal.WithLabelValues("found").Inc()
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return zero, fmt.Errorf("find %s: %w", subjectKey, err)
	}

	if err := p.createUnderLock(ctx, subjectKey); err != nil {
		return zero, err
	}

	//re-read so every caller gets the canonical stored record
	stored, err := p.store.Find(ctx, subjectKey)
	if err != nil {
		return zero, fmt.Errorf("read back %s: %w", subjectKey, err)
	}
	return stored, nil
}

func (p *Provisioner[R]) createUnderLock(ctx context.Context, subjectKey string) (err error) {
	l, err := p.locks.Acquire(ctx, p.LockKey(subjectKey), p.timeout)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			metrics.ProvisionTotal.WithLabelValues("unavailable").Inc()
			return fmt.Errorf("%w: %w", ErrProvisioningUnavailable, err)
		}
		return err
	}
	defer func() {
		if rerr := l.Release(ctx); rerr != nil {
			p.logger.Warn("failed to release provisioning lock", "subject", subjectKey, "error", rerr)
		}
	}()

	//another caller may have finished while we waited
	if _, err := p.store.Find(ctx, subjectKey); err == nil {
		metrics.ProvisionTotal.WithLabelValues("raced").Inc()
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("re-check %s: %w", subjectKey, err)
	}

	resource, err := p.build(ctx, subjectKey)
	if err != nil {
		metrics.ProvisionTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %s: %w", ErrConstructionFailed, subjectKey, err)
	}

	if err := p.store.InsertIfAbsent(ctx, resource); err != nil {
		if errors.Is(err, ErrDuplicate) {
			//a writer outside the lock won; its record is canonical
			metrics.ProvisionTotal.WithLabelValues("raced").Inc()
			p.logger.Info("resource inserted concurrently", "subject", subjectKey)
			return nil
		}
		return fmt.Errorf("insert %s: %w", subjectKey, err)
	}

	metrics.ProvisionTotal.WithLabelValues("created").Inc()
	p.logger.Info("resource created", "subject", subjectKey, "fencing_token", l.Token())
	return nil
}
