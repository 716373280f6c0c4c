package directory

import (
	"context"
	"database/sql"
	"errors"

	"dialcast/pkg/utils"
)

// PostgresRepo reads the member directory from Postgres.
//
// Assumed tables:
// - members (id, first_name, last_name, phone_number, do_not_call)
// - member_groups (member_id, group_id)
// - opt_out_log (member_id, created_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) MembersForCampaign(ctx context.Context, groupFilter string) ([]Member, error) {
	const q = `
SELECT DISTINCT m.id, m.first_name, m.last_name, m.phone_number, m.do_not_call
FROM members m
LEFT JOIN member_groups mg ON mg.member_id = m.id
WHERE m.do_not_call = FALSE
  AND ($1 = '' OR mg.group_id = $1)
ORDER BY m.id
`
	rows, err := r.db.QueryContext(ctx, q, groupFilter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.FirstName, &m.LastName, &m.PhoneNumber, &m.DoNotCall); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) FindByPhone(ctx context.Context, phone string) (Member, error) {
	const q = `
SELECT id, first_name, last_name, phone_number, do_not_call
FROM members
WHERE phone_number = $1
LIMIT 1
`
	var m Member
	if err := r.db.QueryRowContext(ctx, q, phone).Scan(&m.ID, &m.FirstName, &m.LastName, &m.PhoneNumber, &m.DoNotCall); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Member{}, ErrNotFound
		}
		return Member{}, err
	}
	return m, nil
}

// SetDoNotCall flips the flag and, when setting it, appends to the opt-out
// log in the same transaction.
func (r *PostgresRepo) SetDoNotCall(ctx context.Context, memberID string, flag bool) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE members SET do_not_call = $1 WHERE id = $2`, flag, memberID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if flag {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO opt_out_log (member_id, created_at) VALUES ($1, NOW())`, memberID)
		}
		return err
	})
}
