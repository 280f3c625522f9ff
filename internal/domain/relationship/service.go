package relationship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/familylink/internal/platform/auth"
	"github.com/ehr/familylink/internal/platform/metrics"
)

// Event types published after a link changes.
const (
	EventLinkCreated = "family_link.created"
	EventLinkRemoved = "family_link.removed"
	EventLinksPurged = "family_link.purged"
)

// Publisher broadcasts link changes to other services.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// PatientChecker reports whether a patient record still exists.
type PatientChecker interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// PurgeResult is the payload of EventLinksPurged.
type PurgeResult struct {
	PatientID uuid.UUID `json:"patient_id"`
	Removed   int       `json:"removed"`
}

// Service provides business logic for family links.
type Service struct {
	store     Store
	publisher Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewService creates a new relationship service.
func NewService(store Store) *Service {
	return &Service{store: store, logger: zerolog.Nop()}
}

// SetPublisher sets the publisher used to announce link changes.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) SetLogger(logger zerolog.Logger) {
	s.logger = logger.With().Str("component", "relationship").Logger()
}

// CreateLink records that related is subject's kind. The acting staff member
// is taken from the request context.
func (s *Service) CreateLink(ctx context.Context, subjectID, relatedID uuid.UUID, kind Kind) (*Link, error) {
	if !kind.Valid() {
		s.metrics.LinkCreated("invalid")
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if err := validateLink(subjectID, relatedID, kind); err != nil {
		s.metrics.LinkCreated("invalid")
		return nil, err
	}

	link, err := s.store.CreateLink(ctx, subjectID, relatedID, kind, auth.UserIDFromContext(ctx))
	if err != nil {
		err = classify("create link", err)
		s.metrics.LinkCreated(outcome(err))
		if errors.Is(err, ErrUpstream) {
			s.logger.Warn().Err(err).Str("subject_id", subjectID.String()).Msg("link store unavailable")
		}
		return nil, err
	}
	s.metrics.LinkCreated("created")

	s.logger.Info().
		Str("link_id", link.ID.String()).
		Str("subject_id", subjectID.String()).
		Str("related_id", relatedID.String()).
		Str("relationship", string(kind)).
		Str("created_by", link.CreatedBy).
		Msg("family link created")

	s.publish(ctx, EventLinkCreated, link)
	return link, nil
}

func (s *Service) GetLink(ctx context.Context, id uuid.UUID) (*Link, error) {
	l, err := s.store.GetLink(ctx, id)
	return l, classify("get link", err)
}

// ListLinks returns every link touching the patient in creation order.
func (s *Service) ListLinks(ctx context.Context, patientID uuid.UUID) ([]*Link, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient id is required", ErrInvalidLink)
	}
	links, err := s.store.ListLinksFor(ctx, patientID)
	if err != nil {
		return nil, classify("list links", err)
	}
	return links, nil
}

// Family returns the patient's relatives with each kind expressed from the
// patient's side.
func (s *Service) Family(ctx context.Context, patientID uuid.UUID) ([]FamilyMember, error) {
	links, err := s.ListLinks(ctx, patientID)
	if err != nil {
		return nil, err
	}
	members := make([]FamilyMember, 0, len(links))
	for _, l := range links {
		if m, ok := l.MemberOf(patientID); ok {
			members = append(members, m)
		}
	}
	return members, nil
}

func (s *Service) RemoveLink(ctx context.Context, id uuid.UUID) error {
	link, err := s.store.GetLink(ctx, id)
	if err != nil {
		return classify("remove link", err)
	}
	if err := s.store.RemoveLink(ctx, id); err != nil {
		return classify("remove link", err)
	}
	s.metrics.LinksRemoved(1)
	s.logger.Info().Str("link_id", id.String()).Msg("family link removed")
	s.publish(ctx, EventLinkRemoved, link)
	return nil
}

// PurgePatient removes every link touching the patient. It is called when a
// patient record is deleted.
func (s *Service) PurgePatient(ctx context.Context, patientID uuid.UUID) (int, error) {
	if patientID == uuid.Nil {
		return 0, fmt.Errorf("%w: patient id is required", ErrInvalidLink)
	}
	n, err := s.store.RemoveLinksFor(ctx, patientID)
	if err != nil {
		return 0, classify("purge links", err)
	}
	if n > 0 {
		s.metrics.LinksRemoved(n)
		s.logger.Info().Str("patient_id", patientID.String()).Int("removed", n).Msg("patient links purged")
		s.publish(ctx, EventLinksPurged, PurgeResult{PatientID: patientID, Removed: n})
	}
	return n, nil
}

// SweepOrphans purges links whose patients no longer exist in the directory.
func (s *Service) SweepOrphans(ctx context.Context, checker PatientChecker) (int, error) {
	ids, err := s.store.ListPatientIDs(ctx)
	if err != nil {
		return 0, classify("list linked patients", err)
	}
	total := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ok, err := checker.PatientExists(ctx, id)
		if err != nil {
			return total, Upstream("check patient", err)
		}
		if ok {
			continue
		}
		n, err := s.PurgePatient(ctx, id)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *Service) publish(ctx context.Context, eventType string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	// The link is already committed; a lost event is logged, not returned.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pctx, eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish link event failed")
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrDuplicateLink):
		return "duplicate"
	case errors.Is(err, ErrInvalidLink), errors.Is(err, ErrInvalidKind):
		return "invalid"
	}
	return "error"
}
