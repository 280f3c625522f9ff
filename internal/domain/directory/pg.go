package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/familylink/internal/domain/relationship"
	"github.com/ehr/familylink/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PatientDirectoryPG searches the tenant's patients table.
type PatientDirectoryPG struct {
	pool  *pgxpool.Pool
	limit int
}

func NewPatientDirectoryPG(pool *pgxpool.Pool, limit int) *PatientDirectoryPG {
	return &PatientDirectoryPG{pool: pool, limit: normalizeLimit(limit)}
}

func (d *PatientDirectoryPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return d.pool
}

const pgMatch = `first_name ILIKE $1 ESCAPE '\' OR last_name ILIKE $1 ESCAPE '\'
	OR (first_name || ' ' || last_name) ILIKE $1 ESCAPE '\'
	OR phone ILIKE $1 ESCAPE '\' OR patient_code ILIKE $1 ESCAPE '\'`

func (d *PatientDirectoryPG) Search(ctx context.Context, query string) ([]relationship.PatientRef, error) {
	refs, _, err := d.SearchPage(ctx, query, d.limit, 0)
	return refs, err
}

func (d *PatientDirectoryPG) SearchPage(ctx context.Context, query string, limit, offset int) ([]relationship.PatientRef, int, error) {
	pattern := likePattern(query)
	var total int
	if err := d.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE `+pgMatch, pattern).Scan(&total); err != nil {
		return nil, 0, relationship.Upstream("count patients", err)
	}

	rows, err := d.conn(ctx).Query(ctx, `
		SELECT patient_id, patient_code, first_name, last_name, phone
		FROM patients WHERE `+pgMatch+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, pattern, normalizeLimit(limit), offset)
	if err != nil {
		return nil, 0, relationship.Upstream("search patients", err)
	}
	defer rows.Close()

	refs := []relationship.PatientRef{}
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.PatientCode, &p.FirstName, &p.LastName, &p.Phone); err != nil {
			return nil, 0, relationship.Upstream("scan patient", err)
		}
		refs = append(refs, p.Ref())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, relationship.Upstream("search patients", err)
	}
	return refs, total, nil
}

func (d *PatientDirectoryPG) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := d.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE patient_id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return ok, nil
}

// AddPatient upserts a patient row by id.
func (d *PatientDirectoryPG) AddPatient(ctx context.Context, p *Patient) error {
	err := addWithCode(p, func() error {
		_, err := d.conn(ctx).Exec(ctx, `
			INSERT INTO patients (patient_id, patient_code, first_name, last_name, phone, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (patient_id) DO UPDATE SET
				patient_code = EXCLUDED.patient_code,
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name,
				phone = EXCLUDED.phone`,
			p.ID, p.PatientCode, p.FirstName, p.LastName, p.Phone, p.CreatedAt)
		return err
	}, pgCodeTaken)
	if err != nil {
		return fmt.Errorf("insert patient %s: %w", p.PatientCode, err)
	}
	return nil
}

func pgCodeTaken(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "patient_code")
}
