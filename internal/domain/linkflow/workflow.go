// Package linkflow drives the "link family member" interaction: staff search
// the patient directory, pick a candidate, choose a relationship and confirm.
package linkflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/familylink/internal/domain/relationship"
	"github.com/ehr/familylink/internal/platform/auth"
	"github.com/ehr/familylink/internal/platform/db"
	"github.com/ehr/familylink/internal/platform/metrics"
)

var (
	ErrNoSelection     = errors.New("no patient selected")
	ErrWorkflowBusy    = errors.New("a confirmation is already in progress")
	ErrSessionNotFound = errors.New("link session not found")
)

// State is the workflow's position in the search, select, confirm sequence.
type State string

const (
	StateIdle       State = "idle"
	StateSearching  State = "searching"
	StateSelected   State = "selected"
	StateConfirming State = "confirming"
)

// Directory is the patient search the workflow queries.
type Directory interface {
	Search(ctx context.Context, query string) ([]relationship.PatientRef, error)
}

// Linker commits a link. *relationship.Service satisfies it.
type Linker interface {
	CreateLink(ctx context.Context, subjectID, relatedID uuid.UUID, kind relationship.Kind) (*relationship.Link, error)
}

// Snapshot is a copy of the workflow's observable state.
type Snapshot struct {
	OwnerID      uuid.UUID                 `json:"owner_id"`
	OpenedBy     string                    `json:"opened_by,omitempty"`
	State        State                     `json:"state"`
	Query        string                    `json:"query"`
	Results      []relationship.PatientRef `json:"results"`
	Selected     *relationship.PatientRef  `json:"selected,omitempty"`
	Relationship relationship.Kind         `json:"relationship"`
	Confirming   bool                      `json:"confirming"`
	LastLink     *relationship.Link        `json:"last_link,omitempty"`
	LastError    string                    `json:"last_error,omitempty"`
	Err          error                     `json:"-"`
}

type session struct {
	query    string
	results  []relationship.PatientRef
	selected *relationship.PatientRef
	kind     relationship.Kind
}

// Workflow is one open link dialog for an owner patient. All methods are
// safe for concurrent use.
type Workflow struct {
	ownerID uuid.UUID
	dir     Directory
	linker  Linker
	logger  zerolog.Logger
	metrics *metrics.Metrics

	// Set once by the registry when the session opens.
	tenantID string
	openedBy string

	mu         sync.Mutex
	sess       session
	state      State
	seq        uint64 // latest search issued; older responses are stale
	generation uint64 // bumped on reset so in-flight confirms can tell
	confirming bool
	lastLink   *relationship.Link
	lastErr    error
}

type Option func(*Workflow)

func WithLogger(logger zerolog.Logger) Option {
	return func(w *Workflow) { w.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

func New(ownerID uuid.UUID, dir Directory, linker Linker, opts ...Option) *Workflow {
	w := &Workflow{
		ownerID: ownerID,
		dir:     dir,
		linker:  linker,
		logger:  zerolog.Nop(),
		state:   StateIdle,
		sess:    session{kind: relationship.DefaultKind},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("owner_id", ownerID.String()).Logger()
	return w
}

func (w *Workflow) OwnerID() uuid.UUID { return w.ownerID }

// bind ties the workflow to the tenant and staff member found on ctx.
func (w *Workflow) bind(ctx context.Context) {
	w.tenantID = db.TenantFromContext(ctx)
	w.openedBy = auth.UserIDFromContext(ctx)
	w.logger = w.logger.With().Str("tenant_id", w.tenantID).Str("opened_by", w.openedBy).Logger()
}

// boundTo reports whether ctx carries the tenant and staff member that
// opened the session.
func (w *Workflow) boundTo(ctx context.Context) bool {
	return w.tenantID == db.TenantFromContext(ctx) && w.openedBy == auth.UserIDFromContext(ctx)
}

// OnQueryChange records the search text and refreshes the candidates. Only
// the response to the most recent query is applied.
func (w *Workflow) OnQueryChange(ctx context.Context, text string) error {
	w.mu.Lock()
	if w.confirming {
		err := w.fail(ErrWorkflowBusy)
		w.mu.Unlock()
		return err
	}
	w.seq++
	seq := w.seq
	w.sess.query = text
	w.sess.selected = nil
	w.lastErr = nil

	query := strings.TrimSpace(text)
	if query == "" {
		w.sess.results = nil
		w.state = StateIdle
		w.mu.Unlock()
		return nil
	}
	w.state = StateSearching
	w.mu.Unlock()

	start := time.Now()
	refs, err := w.dir.Search(ctx, query)
	w.metrics.ObserveSearch(time.Since(start), err)

	w.mu.Lock()
	defer w.mu.Unlock()
	if seq != w.seq {
		w.metrics.StaleSearch()
		w.logger.Debug().Str("query", query).Uint64("seq", seq).Uint64("latest", w.seq).
			Msg("discarding stale search response")
		return nil
	}
	if err != nil {
		err = relationship.Upstream("directory search", err)
		w.lastErr = err
		w.logger.Warn().Err(err).Msg("patient search failed")
		return err
	}
	w.sess.results = append([]relationship.PatientRef(nil), refs...)
	return nil
}

// OnSelect picks a candidate. Results are cleared and the query shows the
// chosen name.
func (w *Workflow) OnSelect(ref relationship.PatientRef) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.confirming {
		return w.fail(ErrWorkflowBusy)
	}
	if ref.ID == uuid.Nil {
		return w.fail(fmt.Errorf("%w: selected patient has no id", relationship.ErrInvalidLink))
	}
	w.seq++
	w.sess.selected = &ref
	w.sess.results = nil
	w.sess.query = ref.Name
	w.state = StateSelected
	w.lastErr = nil
	return nil
}

func (w *Workflow) OnRelationshipChange(kind relationship.Kind) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.confirming {
		return w.fail(ErrWorkflowBusy)
	}
	if !kind.Valid() {
		return w.fail(fmt.Errorf("%w: %q", relationship.ErrInvalidKind, kind))
	}
	w.sess.kind = kind
	w.lastErr = nil
	return nil
}

// Confirm commits the selected link. On success the session resets to idle
// and the link is kept as the last result. On failure the selection is kept
// so the user can retry or change it.
func (w *Workflow) Confirm(ctx context.Context) (*relationship.Link, error) {
	w.mu.Lock()
	if w.confirming {
		w.lastErr = ErrWorkflowBusy
		w.mu.Unlock()
		w.metrics.ConfirmOutcome("busy")
		return nil, ErrWorkflowBusy
	}
	if w.sess.selected == nil {
		w.lastErr = ErrNoSelection
		w.mu.Unlock()
		w.metrics.ConfirmOutcome("no_selection")
		return nil, ErrNoSelection
	}
	selected := *w.sess.selected
	kind := w.sess.kind
	if selected.ID == w.ownerID {
		err := fmt.Errorf("%w: a patient cannot be linked to themselves", relationship.ErrInvalidLink)
		w.lastErr = err
		w.mu.Unlock()
		w.metrics.ConfirmOutcome("invalid")
		return nil, err
	}
	w.confirming = true
	w.state = StateConfirming
	gen := w.generation
	w.mu.Unlock()

	link, err := w.linker.CreateLink(ctx, w.ownerID, selected.ID, kind)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics.ConfirmOutcome(confirmOutcome(err))

	if gen != w.generation {
		// Cancelled while the store call was in flight. The session that
		// started this confirm is gone and its successor is not touched.
		return link, err
	}
	w.confirming = false
	if err != nil {
		w.state = StateSelected
		w.lastErr = err
		w.logger.Info().Err(err).Str("related_id", selected.ID.String()).Msg("link confirmation failed")
		return nil, err
	}
	w.reset()
	w.lastLink = link
	return link, nil
}

// Cancel abandons the session from any state.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
	w.lastLink = nil
}

// reset returns to an empty idle session. A confirm still in flight belongs
// to the old generation and no longer blocks. Callers hold mu.
func (w *Workflow) reset() {
	w.sess = session{kind: relationship.DefaultKind}
	w.state = StateIdle
	w.seq++
	w.generation++
	w.confirming = false
	w.lastErr = nil
}

// fail records err as the last error. Callers hold mu.
func (w *Workflow) fail(err error) error {
	w.lastErr = err
	return err
}

func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Snapshot{
		OwnerID:      w.ownerID,
		OpenedBy:     w.openedBy,
		State:        w.state,
		Query:        w.sess.query,
		Results:      make([]relationship.PatientRef, len(w.sess.results)),
		Relationship: w.sess.kind,
		Confirming:   w.confirming,
		Err:          w.lastErr,
	}
	copy(s.Results, w.sess.results)
	if w.sess.selected != nil {
		sel := *w.sess.selected
		s.Selected = &sel
	}
	if w.lastLink != nil {
		l := *w.lastLink
		s.LastLink = &l
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

func confirmOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, relationship.ErrDuplicateLink):
		return "duplicate"
	case errors.Is(err, relationship.ErrInvalidLink), errors.Is(err, relationship.ErrInvalidKind):
		return "invalid"
	case errors.Is(err, relationship.ErrUpstream):
		return "upstream"
	}
	return "error"
}
