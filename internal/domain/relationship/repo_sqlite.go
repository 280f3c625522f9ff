package relationship

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type linkRepoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewLinkRepoSQLite returns a Store backed by a SQLite database opened with
// db.OpenSQLite. Call EnsureLinkSchema once before use.
func NewLinkRepoSQLite(db *sql.DB) Store {
	return &linkRepoSQLite{db: db, now: time.Now}
}

// EnsureLinkSchema creates the patient_link table if it does not exist.
func EnsureLinkSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS patient_link (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		subject_id TEXT NOT NULL,
		related_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('spouse', 'child', 'parent', 'sibling')),
		pair_key TEXT NOT NULL UNIQUE,
		created_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		CHECK (subject_id <> related_id)
	);
	CREATE INDEX IF NOT EXISTS idx_patient_link_subject ON patient_link(subject_id);
	CREATE INDEX IF NOT EXISTS idx_patient_link_related ON patient_link(related_id);`)
	if err != nil {
		return fmt.Errorf("creating patient_link schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteLink(row rowScanner) (*Link, error) {
	var (
		l                   Link
		id, subject, rel    string
		kind                string
		createdAtUnixMicros int64
	)
	if err := row.Scan(&id, &subject, &rel, &kind, &l.CreatedBy, &createdAtUnixMicros); err != nil {
		return nil, err
	}
	var err error
	if l.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing link id: %w", err)
	}
	if l.SubjectID, err = uuid.Parse(subject); err != nil {
		return nil, fmt.Errorf("parsing subject id: %w", err)
	}
	if l.RelatedID, err = uuid.Parse(rel); err != nil {
		return nil, fmt.Errorf("parsing related id: %w", err)
	}
	l.Kind = Kind(kind)
	l.CreatedAt = time.UnixMicro(createdAtUnixMicros).UTC()
	return &l, nil
}

func (r *linkRepoSQLite) CreateLink(ctx context.Context, subjectID, relatedID uuid.UUID, kind Kind, createdBy string) (*Link, error) {
	if err := validateLink(subjectID, relatedID, kind); err != nil {
		return nil, err
	}
	l := &Link{
		ID:        uuid.New(),
		SubjectID: subjectID,
		RelatedID: relatedID,
		Kind:      kind,
		CreatedBy: createdBy,
		CreatedAt: r.now().UTC().Truncate(time.Microsecond),
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO patient_link (id, subject_id, related_id, kind, pair_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), subjectID.String(), relatedID.String(), string(kind),
		PairKey(subjectID, relatedID, kind), createdBy, l.CreatedAt.UnixMicro())
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed"):
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLink, msg)
		case strings.Contains(msg, "CHECK constraint failed"):
			return nil, fmt.Errorf("%w: %s", ErrInvalidLink, msg)
		}
		return nil, fmt.Errorf("inserting link: %w", err)
	}
	return l, nil
}

const sqliteLinkCols = `id, subject_id, related_id, kind, created_by, created_at`

func (r *linkRepoSQLite) GetLink(ctx context.Context, id uuid.UUID) (*Link, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteLinkCols+` FROM patient_link WHERE id = ?`, id.String())
	l, err := scanSQLiteLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting link: %w", err)
	}
	return l, nil
}

func (r *linkRepoSQLite) ListLinksFor(ctx context.Context, patientID uuid.UUID) ([]*Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sqliteLinkCols+` FROM patient_link
		WHERE subject_id = ? OR related_id = ?
		ORDER BY created_at, seq`, patientID.String(), patientID.String())
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		l, err := scanSQLiteLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *linkRepoSQLite) RemoveLink(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM patient_link WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting link: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *linkRepoSQLite) RemoveLinksFor(ctx context.Context, patientID uuid.UUID) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM patient_link WHERE subject_id = ? OR related_id = ?`,
		patientID.String(), patientID.String())
	if err != nil {
		return 0, fmt.Errorf("deleting links for patient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting links for patient: %w", err)
	}
	return int(n), nil
}

func (r *linkRepoSQLite) ListPatientIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT subject_id FROM patient_link
		UNION
		SELECT related_id FROM patient_link`)
	if err != nil {
		return nil, fmt.Errorf("listing linked patients: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning patient id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing patient id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
