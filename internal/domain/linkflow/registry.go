package linkflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/ehr/familylink/internal/platform/metrics"
)

// DefaultSessionTTL is how long an untouched session survives.
const DefaultSessionTTL = 15 * time.Minute

// Factory builds the workflow for a newly opened session.
type Factory func(ownerID uuid.UUID) *Workflow

// Registry holds the open link sessions. Sessions expire after ttl without
// access; expiry cancels the workflow. A session is visible only to the
// tenant and staff member that opened it.
type Registry struct {
	sessions *gocache.Cache
	factory  Factory
	metrics  *metrics.Metrics
}

func NewRegistry(ttl time.Duration, factory Factory, m *metrics.Metrics) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	cleanup := ttl / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	r := &Registry{
		sessions: gocache.New(ttl, cleanup),
		factory:  factory,
		metrics:  m,
	}
	r.sessions.OnEvicted(func(_ string, v interface{}) {
		if wf, ok := v.(*Workflow); ok {
			wf.Cancel()
		}
		r.metrics.SessionClosed()
	})
	return r
}

// Open starts a session for ownerID on behalf of the caller on ctx.
func (r *Registry) Open(ctx context.Context, ownerID uuid.UUID) (uuid.UUID, *Workflow) {
	id := uuid.New()
	wf := r.factory(ownerID)
	wf.bind(ctx)
	r.sessions.SetDefault(id.String(), wf)
	r.metrics.SessionOpened()
	return id, wf
}

// Get returns the session's workflow and extends its lifetime. Sessions
// opened by another tenant or staff member are reported as not found.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	wf, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	// Replace is a no-op if the session was closed meanwhile.
	_ = r.sessions.Replace(id.String(), wf, gocache.DefaultExpiration)
	return wf, nil
}

// Close cancels and forgets the session.
func (r *Registry) Close(ctx context.Context, id uuid.UUID) error {
	if _, err := r.lookup(ctx, id); err != nil {
		return err
	}
	r.sessions.Delete(id.String())
	return nil
}

func (r *Registry) lookup(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	v, ok := r.sessions.Get(id.String())
	if !ok {
		return nil, ErrSessionNotFound
	}
	wf := v.(*Workflow)
	if !wf.boundTo(ctx) {
		return nil, ErrSessionNotFound
	}
	return wf, nil
}

// Sweep evicts expired sessions now instead of waiting for the janitor.
func (r *Registry) Sweep() {
	r.sessions.DeleteExpired()
}

func (r *Registry) Len() int {
	return r.sessions.ItemCount()
}
