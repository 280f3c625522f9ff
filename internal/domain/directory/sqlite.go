package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/familylink/internal/domain/relationship"
)

// PatientDirectorySQLite serves standalone deployments. SQLite's LIKE is
// case-insensitive for ASCII.
type PatientDirectorySQLite struct {
	db    *sql.DB
	limit int
}

func NewPatientDirectorySQLite(db *sql.DB, limit int) *PatientDirectorySQLite {
	return &PatientDirectorySQLite{db: db, limit: normalizeLimit(limit)}
}

// EnsurePatientSchema creates the patients table if it does not exist.
func EnsurePatientSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS patients (
		patient_id TEXT PRIMARY KEY,
		patient_code TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_patients_created_at ON patients(created_at);`)
	if err != nil {
		return fmt.Errorf("creating patients schema: %w", err)
	}
	return nil
}

const sqliteMatch = `first_name LIKE ?1 ESCAPE '\' OR last_name LIKE ?1 ESCAPE '\'
	OR (first_name || ' ' || last_name) LIKE ?1 ESCAPE '\'
	OR phone LIKE ?1 ESCAPE '\' OR patient_code LIKE ?1 ESCAPE '\'`

func (d *PatientDirectorySQLite) Search(ctx context.Context, query string) ([]relationship.PatientRef, error) {
	refs, _, err := d.SearchPage(ctx, query, d.limit, 0)
	return refs, err
}

func (d *PatientDirectorySQLite) SearchPage(ctx context.Context, query string, limit, offset int) ([]relationship.PatientRef, int, error) {
	pattern := likePattern(query)
	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients WHERE `+sqliteMatch, pattern).Scan(&total); err != nil {
		return nil, 0, relationship.Upstream("count patients", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT patient_id, patient_code, first_name, last_name, phone
		FROM patients WHERE `+sqliteMatch+`
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?2 OFFSET ?3`, pattern, normalizeLimit(limit), offset)
	if err != nil {
		return nil, 0, relationship.Upstream("search patients", err)
	}
	defer rows.Close()

	refs := []relationship.PatientRef{}
	for rows.Next() {
		var (
			p  Patient
			id string
		)
		if err := rows.Scan(&id, &p.PatientCode, &p.FirstName, &p.LastName, &p.Phone); err != nil {
			return nil, 0, relationship.Upstream("scan patient", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, 0, relationship.Upstream("parse patient id", err)
		}
		refs = append(refs, p.Ref())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, relationship.Upstream("search patients", err)
	}
	return refs, total, nil
}

func (d *PatientDirectorySQLite) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients WHERE patient_id = ?`, id.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking patient: %w", err)
	}
	return n > 0, nil
}

func (d *PatientDirectorySQLite) AddPatient(ctx context.Context, p *Patient) error {
	err := addWithCode(p, func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO patients (patient_id, patient_code, first_name, last_name, phone, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (patient_id) DO UPDATE SET
				patient_code = excluded.patient_code,
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				phone = excluded.phone`,
			p.ID.String(), p.PatientCode, p.FirstName, p.LastName, p.Phone, p.CreatedAt.UnixMicro())
		return err
	}, sqliteCodeTaken)
	if err != nil {
		return fmt.Errorf("inserting patient %s: %w", p.PatientCode, err)
	}
	return nil
}

func sqliteCodeTaken(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed: patients.patient_code")
}

// DeletePatient removes a patient row. Links are cleaned up separately.
func (d *PatientDirectorySQLite) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM patients WHERE patient_id = ?`, id.String()); err != nil {
		return fmt.Errorf("deleting patient: %w", err)
	}
	return nil
}
