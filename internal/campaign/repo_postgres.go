package campaign

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo persists campaigns in Postgres via database/sql (pgx stdlib).
//
// Assumed tables:
// - campaigns (id, announcement_id, scheduled_at, group_filter, caller_id_name,
//   status, details, created_by)
// - announcements (id, asset_path)
// - members / member_groups for the recipient fallback join
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Campaign, error) {
	const q = `
SELECT id, announcement_id, scheduled_at, COALESCE(group_filter, ''), caller_id_name, status, COALESCE(details, ''), created_by
FROM campaigns
WHERE id = $1
`
	var c Campaign
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.AnnouncementID,
		&c.ScheduledAt,
		&c.GroupFilter,
		&c.CallerIDName,
		&c.Status,
		&c.Details,
		&c.CreatedBy,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}

func (r *PostgresRepo) ListDue(ctx context.Context, now time.Time) ([]Campaign, error) {
	const q = `
SELECT id, announcement_id, scheduled_at, COALESCE(group_filter, ''), caller_id_name, status, COALESCE(details, ''), created_by
FROM campaigns
WHERE status = 'pending' AND scheduled_at <= $1
ORDER BY scheduled_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(
			&c.ID,
			&c.AnnouncementID,
			&c.ScheduledAt,
			&c.GroupFilter,
			&c.CallerIDName,
			&c.Status,
			&c.Details,
			&c.CreatedBy,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status, details string) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if details != "" {
		res, err = r.db.ExecContext(ctx,
			`UPDATE campaigns SET status = $1, details = $2 WHERE id = $3`, status, details, id)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE campaigns SET status = $1 WHERE id = $2`, status, id)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepo) UpdateStatusIf(ctx context.Context, id, from, to, details string) (bool, error) {
	// Conditional flip; the losing side of a promotion race affects 0 rows.
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, details = COALESCE(NULLIF($2, ''), details) WHERE id = $3 AND status = $4`,
		to, details, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepo) ActiveIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(ids) == 0 {
		return out, nil
	}
	const q = `
SELECT id FROM campaigns
WHERE id = ANY($1) AND status IN ('in_progress', 'ready')
`
	rows, err := r.db.QueryContext(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (r *PostgresRepo) FindRecentActiveByRecipient(ctx context.Context, phone string) (Campaign, error) {
	const q = `
SELECT c.id, c.announcement_id, c.scheduled_at, COALESCE(c.group_filter, ''), c.caller_id_name, c.status, COALESCE(c.details, ''), c.created_by
FROM campaigns c
JOIN members m ON m.phone_number = $1
LEFT JOIN member_groups mg ON mg.member_id = m.id
WHERE c.status IN ('in_progress', 'ready')
  AND (c.group_filter IS NULL OR c.group_filter = '' OR c.group_filter = mg.group_id)
ORDER BY CASE WHEN c.status = 'in_progress' THEN 1 ELSE 2 END, c.scheduled_at DESC
LIMIT 1
`
	var c Campaign
	if err := r.db.QueryRowContext(ctx, q, phone).Scan(
		&c.ID,
		&c.AnnouncementID,
		&c.ScheduledAt,
		&c.GroupFilter,
		&c.CallerIDName,
		&c.Status,
		&c.Details,
		&c.CreatedBy,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}

func (r *PostgresRepo) AnnouncementPath(ctx context.Context, announcementID string) (string, error) {
	const q = `SELECT asset_path FROM announcements WHERE id = $1`
	var p string
	if err := r.db.QueryRowContext(ctx, q, announcementID).Scan(&p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return p, nil
}
