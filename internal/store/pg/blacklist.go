package pg

import (
	"context"
	"time"

	"worknest.io/internal/auth"
)

// InsertBlacklistEntry records a revoked token; repeated inserts for the same hash
// are ignored and report false.
func (s *Store) InsertBlacklistEntry(ctx context.Context, entry auth.BlacklistEntry) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		insert into token_blacklist (id, token_hash, subject_id, blacklisted_at, expires_at)
		values ($1, $2, $3, $4, $5)
		on conflict (token_hash) do nothing
	`, entry.ID, entry.TokenHash, entry.SubjectID, entry.BlacklistedAt, entry.ExpiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from token_blacklist where token_hash = $1)
	`, tokenHash).Scan(&exists)
	return exists, err
}

// PruneBlacklist deletes entries whose token expired at or before now.
func (s *Store) PruneBlacklist(ctx context.Context, now time.Time) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from token_blacklist where expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}
