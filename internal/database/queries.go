package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/NicRodri/COMP4537-Project/internal/models"
)

func nowUnix() int64 { return time.Now().Unix() }

// CreateUser inserts a new user record. Uniqueness of username and
// email is enforced by the schema; callers are expected to check for
// duplicates first to produce a clean conflict error.
func (d *DB) CreateUser(ctx context.Context, u *models.User) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO users(id, username, email, password, role, created_at)
VALUES(?, ?, ?, ?, ?, ?)
`, u.ID, u.Username, u.Email, u.Password, u.Role, nowUnix())
	return err
}

func (d *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return d.getUser(ctx, "email", email)
}

func (d *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return d.getUser(ctx, "username", username)
}

func (d *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return d.getUser(ctx, "id", id)
}

func (d *DB) getUser(ctx context.Context, col, val string) (*models.User, error) {
	var u models.User
	err := d.sql.QueryRowContext(ctx, `
SELECT id, username, email, password, role, created_at FROM users WHERE `+col+` = ?
`, val).Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteUser removes a user row. The per-user call counter goes with it
// via the foreign-key cascade. Returns whether a row was deleted.
func (d *DB) DeleteUser(ctx context.Context, id string) (bool, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateUserRole sets the stored role. Returns whether a row matched.
func (d *DB) UpdateUserRole(ctx context.Context, id, role string) (bool, error) {
	res, err := d.sql.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IsTokenRevoked checks the revocation ledger by exact token string.
func (d *DB) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	var one int
	err := d.sql.QueryRowContext(ctx, `SELECT 1 FROM token_blacklist WHERE token = ?`, token).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RevokeToken records a token in the ledger until expiry. Revoking the
// same token twice is a no-op, so duplicate logouts stay idempotent.
func (d *DB) RevokeToken(ctx context.Context, token string, expiry time.Time) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO token_blacklist(token, expiry) VALUES(?, ?)
ON CONFLICT(token) DO NOTHING
`, token, expiry.Unix())
	return err
}

// DeleteExpiredTokens prunes ledger rows whose expiry has passed.
// Purely storage hygiene: Verify already rejects expired tokens before
// the ledger is consulted for anything.
func (d *DB) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM token_blacklist WHERE expiry < ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IncrementEndpointUsage bumps the served count for an
// (endpoint, method) pair, creating the row on first hit. The upsert is
// a single statement, so concurrent hits never lose updates.
func (d *DB) IncrementEndpointUsage(ctx context.Context, endpoint, method string) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO endpoint_usage(endpoint, method, served_count) VALUES(?, ?, 1)
ON CONFLICT(endpoint, method) DO UPDATE SET served_count = served_count + 1
`, endpoint, method)
	return err
}

func (d *DB) ListEndpointUsage(ctx context.Context) ([]models.EndpointUsage, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT endpoint, method, served_count FROM endpoint_usage ORDER BY endpoint, method
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EndpointUsage
	for rows.Next() {
		var e models.EndpointUsage
		if err := rows.Scan(&e.Endpoint, &e.Method, &e.ServedCount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IncrementUserAPICalls bumps the user's call counter and returns the
// post-increment value in the same statement.
func (d *DB) IncrementUserAPICalls(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := d.sql.QueryRowContext(ctx, `
INSERT INTO user_api_calls(user_id, api_call_count) VALUES(?, 1)
ON CONFLICT(user_id) DO UPDATE SET api_call_count = api_call_count + 1
RETURNING api_call_count
`, userID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetUserAPICalls returns the user's current call count, zero when the
// user has never hit the metered endpoint.
func (d *DB) GetUserAPICalls(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := d.sql.QueryRowContext(ctx, `
SELECT api_call_count FROM user_api_calls WHERE user_id = ?
`, userID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListUserCallCounts returns every user with their call count, zero for
// users who never called the metered endpoint.
func (d *DB) ListUserCallCounts(ctx context.Context) ([]models.UserCallCount, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT u.id, u.username, u.email, COALESCE(c.api_call_count, 0)
FROM users u
LEFT JOIN user_api_calls c ON c.user_id = u.id
ORDER BY u.username
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UserCallCount
	for rows.Next() {
		var c models.UserCallCount
		if err := rows.Scan(&c.UserID, &c.Username, &c.Email, &c.APICallCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
