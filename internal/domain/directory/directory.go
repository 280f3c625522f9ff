package directory

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/familylink/internal/domain/relationship"
)

// DefaultLimit caps the number of candidates returned by Search.
const DefaultLimit = 20

// Directory finds patients by free text. It matches first name, last name,
// full name, phone and patient code, newest records first.
type Directory interface {
	Search(ctx context.Context, query string) ([]relationship.PatientRef, error)
}

// Pager is implemented by backends that can page through all matches.
type Pager interface {
	SearchPage(ctx context.Context, query string, limit, offset int) ([]relationship.PatientRef, int, error)
}

// Patient is a row of the patients table, used for seeding and tests.
type Patient struct {
	ID          uuid.UUID `yaml:"id"`
	PatientCode string    `yaml:"patient_code"`
	FirstName   string    `yaml:"first_name"`
	LastName    string    `yaml:"last_name"`
	Phone       string    `yaml:"phone"`
	CreatedAt   time.Time `yaml:"-"`
}

// Ref converts the row to the directory's public view.
func (p Patient) Ref() relationship.PatientRef {
	return relationship.PatientRef{
		ID:          p.ID,
		Name:        displayName(p.FirstName, p.LastName),
		Phone:       p.Phone,
		PatientCode: p.PatientCode,
	}
}

func displayName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern wraps the query for a substring match. LIKE wildcards in the
// query match literally; the SQL must declare ESCAPE '\'.
func likePattern(query string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"
}

// NewPatientCode returns a readable code of the form P123456 derived from t.
func NewPatientCode(t time.Time) string {
	return fmt.Sprintf("P%06d", t.UnixMilli()%1000000)
}

func randomPatientCode() string {
	return fmt.Sprintf("P%06d", rand.Intn(1000000))
}

// codeAttempts bounds how often a generated patient code is redrawn after it
// collides with an existing one.
const codeAttempts = 5

// addWithCode fills the generated fields of p and runs insert. A generated
// code that is already taken is replaced and the insert retried; a code the
// caller supplied is never changed.
func addWithCode(p *Patient, insert func() error, codeTaken func(error) bool) error {
	generated := p.PatientCode == ""
	prepare(p)
	err := insert()
	for i := 1; generated && err != nil && codeTaken(err) && i < codeAttempts; i++ {
		p.PatientCode = randomPatientCode()
		err = insert()
	}
	return err
}

// prepare fills the generated fields of a new patient.
func prepare(p *Patient) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.PatientCode == "" {
		p.PatientCode = NewPatientCode(p.CreatedAt)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
