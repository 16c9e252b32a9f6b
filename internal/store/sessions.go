package store

import (
	"context"
	"time"

	"github.com/keithlinneman/linnemanlabs-cms/internal/auth"
	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

var _ auth.SessionStore = (*Store)(nil)

func (s *Store) CreateSession(ctx context.Context, rec *auth.SessionRecord) error {
	row := Session(*rec)
	// sqlite compares times as text, keep them in one zone
	row.ExpiresAt = row.ExpiresAt.UTC()
	row.CreatedAt = row.CreatedAt.UTC()
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return mapErr(err, "create session")
	}
	return nil
}

func (s *Store) SessionByID(ctx context.Context, id string) (*auth.SessionRecord, error) {
	var row Session
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, mapErr(err, "session %s", id)
	}
	rec := auth.SessionRecord(row)
	return &rec, nil
}

func (s *Store) SessionByRefreshHash(ctx context.Context, hash string) (*auth.SessionRecord, error) {
	var row Session
	if err := s.db.WithContext(ctx).Where("refresh_hash = ?", hash).First(&row).Error; err != nil {
		return nil, mapErr(err, "refresh token")
	}
	rec := auth.SessionRecord(row)
	return &rec, nil
}

// RotateRefresh is a compare-and-swap on refresh_hash.
func (s *Store) RotateRefresh(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND refresh_hash = ? AND revoked_at IS NULL", id, oldHash).
		Updates(map[string]any{"refresh_hash": newHash, "expires_at": expiresAt.UTC()})
	if res.Error != nil {
		return mapErr(res.Error, "rotate session %s", id)
	}
	if res.RowsAffected == 0 {
		return xerrors.Mark(xerrors.ErrConflict, "session %s refresh token already used", id)
	}
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at.UTC())
	if res.Error != nil {
		return mapErr(res.Error, "revoke session %s", id)
	}
	if res.RowsAffected == 0 {
		if _, err := s.SessionByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired before cutoff, returning the count.
func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", cutoff.UTC()).Delete(&Session{})
	if res.Error != nil {
		return 0, mapErr(res.Error, "delete expired sessions")
	}
	return res.RowsAffected, nil
}
