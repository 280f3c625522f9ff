package relationship

import (
	"context"

	"github.com/google/uuid"
)

// Store persists family links. Implementations must make the duplicate check
// and the insert a single atomic step.
type Store interface {
	CreateLink(ctx context.Context, subjectID, relatedID uuid.UUID, kind Kind, createdBy string) (*Link, error)
	GetLink(ctx context.Context, id uuid.UUID) (*Link, error)
	ListLinksFor(ctx context.Context, patientID uuid.UUID) ([]*Link, error)
	RemoveLink(ctx context.Context, id uuid.UUID) error
	RemoveLinksFor(ctx context.Context, patientID uuid.UUID) (int, error)
	ListPatientIDs(ctx context.Context) ([]uuid.UUID, error)
}
