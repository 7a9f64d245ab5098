package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotwise.org/internal/auth"
)

func (s *Store) CreateRefreshToken(ctx context.Context, tok *auth.RefreshToken) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at)
		values ($1, $2, $3, $4)
		returning created_at
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt)
	if err := row.Scan(&tok.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: token id already exists", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) FindRefreshToken(ctx context.Context, id string) (auth.RefreshToken, error) {
	if s.db == nil {
		return auth.RefreshToken{}, errors.New("database connection unavailable")
	}
	var tok auth.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, revoked
		from refresh_tokens
		where id = $1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RefreshToken{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.RefreshToken{}, err
	}
	return tok, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true where id = $1
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true where user_id = $1 and not revoked
	`, userID)
	return err
}

func (s *Store) CreateOneTimeToken(ctx context.Context, tok *auth.OneTimeToken) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into one_time_tokens (id, user_id, purpose, token_hash, expires_at)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, tok.ID, tok.UserID, tok.Purpose, tok.TokenHash, tok.ExpiresAt)
	if err := row.Scan(&tok.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: token id already exists", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) FindOneTimeToken(ctx context.Context, id string) (auth.OneTimeToken, error) {
	if s.db == nil {
		return auth.OneTimeToken{}, errors.New("database connection unavailable")
	}
	var (
		tok      auth.OneTimeToken
		consumed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, purpose, token_hash, expires_at, created_at, consumed_at
		from one_time_tokens
		where id = $1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.Purpose, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.OneTimeToken{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.OneTimeToken{}, err
	}
	if consumed.Valid {
		t := consumed.Time
		tok.ConsumedAt = &t
	}
	return tok, nil
}

func (s *Store) ConsumeOneTimeToken(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update one_time_tokens set consumed_at = $2 where id = $1 and consumed_at is null
	`, id, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
