package relationship

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the category of a family link. A link (subject, related, kind)
// reads "related is subject's kind".
type Kind string

const (
	KindSpouse  Kind = "spouse"
	KindChild   Kind = "child"
	KindParent  Kind = "parent"
	KindSibling Kind = "sibling"
)

// DefaultKind is preselected when a link session opens.
const DefaultKind = KindSpouse

// Kinds lists every accepted relationship category.
var Kinds = []Kind{KindSpouse, KindChild, KindParent, KindSibling}

func (k Kind) Valid() bool {
	switch k {
	case KindSpouse, KindChild, KindParent, KindSibling:
		return true
	}
	return false
}

// Inverse returns the kind as seen from the related patient's side.
func (k Kind) Inverse() Kind {
	switch k {
	case KindParent:
		return KindChild
	case KindChild:
		return KindParent
	}
	return k
}

func (k Kind) String() string { return string(k) }

// ParseKind accepts any casing and surrounding whitespace.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

// PatientRef is the directory's view of a patient record.
type PatientRef struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	PatientCode string    `json:"patient_code,omitempty"`
}

// Link is a persisted, directed family relationship between two patients.
type Link struct {
	ID        uuid.UUID `json:"id"`
	SubjectID uuid.UUID `json:"subject_id"`
	RelatedID uuid.UUID `json:"related_id"`
	Kind      Kind      `json:"relationship"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Involves reports whether the patient is either end of the link.
func (l *Link) Involves(patientID uuid.UUID) bool {
	return l.SubjectID == patientID || l.RelatedID == patientID
}

// Direction tells whether a family member was linked from the viewer's record
// or from the member's record.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// FamilyMember is a link seen from one patient's side.
type FamilyMember struct {
	LinkID    uuid.UUID `json:"link_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Kind      Kind      `json:"relationship"`
	Direction Direction `json:"direction"`
	CreatedAt time.Time `json:"created_at"`
}

// MemberOf projects the link onto the viewer. ok is false when the viewer is
// not part of the link.
func (l *Link) MemberOf(viewer uuid.UUID) (m FamilyMember, ok bool) {
	switch viewer {
	case l.SubjectID:
		return FamilyMember{
			LinkID:    l.ID,
			PatientID: l.RelatedID,
			Kind:      l.Kind,
			Direction: DirectionOutgoing,
			CreatedAt: l.CreatedAt,
		}, true
	case l.RelatedID:
		return FamilyMember{
			LinkID:    l.ID,
			PatientID: l.SubjectID,
			Kind:      l.Kind.Inverse(),
			Direction: DirectionIncoming,
			CreatedAt: l.CreatedAt,
		}, true
	}
	return FamilyMember{}, false
}

// PairKey canonicalises a link so that (a, b, k) and (b, a, k.Inverse())
// produce the same key. The lower id always comes first.
func PairKey(subjectID, relatedID uuid.UUID, kind Kind) string {
	if bytes.Compare(subjectID[:], relatedID[:]) > 0 {
		subjectID, relatedID = relatedID, subjectID
		kind = kind.Inverse()
	}
	return subjectID.String() + ":" + relatedID.String() + ":" + string(kind)
}

// validateLink holds the checks shared by every store backend.
func validateLink(subjectID, relatedID uuid.UUID, kind Kind) error {
	if subjectID == uuid.Nil || relatedID == uuid.Nil {
		return fmt.Errorf("%w: both patient ids are required", ErrInvalidLink)
	}
	if subjectID == relatedID {
		return fmt.Errorf("%w: a patient cannot be linked to themselves", ErrInvalidLink)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown relationship %q", ErrInvalidLink, kind)
	}
	return nil
}
