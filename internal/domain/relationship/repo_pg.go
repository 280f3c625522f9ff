package relationship

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/familylink/internal/platform/db"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type linkRepoPG struct{ pool *pgxpool.Pool }

func NewLinkRepoPG(pool *pgxpool.Pool) Store {
	return &linkRepoPG{pool: pool}
}

func (r *linkRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const linkCols = `id, subject_id, related_id, kind, created_by, created_at`

func (r *linkRepoPG) scanLink(row pgx.Row) (*Link, error) {
	var l Link
	var kind string
	err := row.Scan(&l.ID, &l.SubjectID, &l.RelatedID, &kind, &l.CreatedBy, &l.CreatedAt)
	l.Kind = Kind(kind)
	return &l, err
}

func (r *linkRepoPG) CreateLink(ctx context.Context, subjectID, relatedID uuid.UUID, kind Kind, createdBy string) (*Link, error) {
	if err := validateLink(subjectID, relatedID, kind); err != nil {
		return nil, err
	}
	l := &Link{
		ID:        uuid.New(),
		SubjectID: subjectID,
		RelatedID: relatedID,
		Kind:      kind,
		CreatedBy: createdBy,
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_link (id, subject_id, related_id, kind, pair_key, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		l.ID, l.SubjectID, l.RelatedID, string(l.Kind), PairKey(subjectID, relatedID, kind), l.CreatedBy,
	).Scan(&l.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return nil, fmt.Errorf("%w: %s", ErrDuplicateLink, pgErr.ConstraintName)
			case pgCheckViolation:
				return nil, fmt.Errorf("%w: %s", ErrInvalidLink, pgErr.ConstraintName)
			}
		}
		return nil, fmt.Errorf("insert patient_link: %w", err)
	}
	return l, nil
}

func (r *linkRepoPG) GetLink(ctx context.Context, id uuid.UUID) (*Link, error) {
	l, err := r.scanLink(r.conn(ctx).QueryRow(ctx, `SELECT `+linkCols+` FROM patient_link WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient_link: %w", err)
	}
	return l, nil
}

func (r *linkRepoPG) ListLinksFor(ctx context.Context, patientID uuid.UUID) ([]*Link, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+linkCols+` FROM patient_link
		WHERE subject_id = $1 OR related_id = $1
		ORDER BY created_at, seq`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient_link: %w", err)
	}
	defer rows.Close()
	var links []*Link
	for rows.Next() {
		l, err := r.scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient_link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *linkRepoPG) RemoveLink(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_link WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient_link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *linkRepoPG) RemoveLinksFor(ctx context.Context, patientID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_link WHERE subject_id = $1 OR related_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete patient_link for patient: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *linkRepoPG) ListPatientIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT subject_id FROM patient_link
		UNION
		SELECT related_id FROM patient_link`)
	if err != nil {
		return nil, fmt.Errorf("list linked patients: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
