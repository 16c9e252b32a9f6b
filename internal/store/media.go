package store

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

const maxMediaPage = 200

func (s *Store) CreateMedia(ctx context.Context, m *Media) error {
	if m.Key == "" {
		return xerrors.Mark(xerrors.ErrInvalid, "media key is required")
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return mapErr(err, "create media %s", m.Key)
	}
	return nil
}

func (s *Store) MediaByID(ctx context.Context, id uint) (*Media, error) {
	var m Media
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, mapErr(err, "media %d", id)
	}
	return &m, nil
}

// MediaByKey finds an upload by object key, used to deduplicate content.
func (s *Store) MediaByKey(ctx context.Context, key string) (*Media, error) {
	var m Media
	if err := s.db.WithContext(ctx).Where(&Media{Key: key}).First(&m).Error; err != nil {
		return nil, mapErr(err, "media %s", key)
	}
	return &m, nil
}

// ListMedia pages newest first. limit is clamped to 1..200.
func (s *Store) ListMedia(ctx context.Context, limit, offset int) ([]Media, error) {
	if limit <= 0 || limit > maxMediaPage {
		limit = maxMediaPage
	}
	if offset < 0 {
		offset = 0
	}
	var out []Media
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, mapErr(err, "list media")
	}
	return out, nil
}

// DeleteMedia removes the row and returns it so the caller can delete the object.
func (s *Store) DeleteMedia(ctx context.Context, id uint) (*Media, error) {
	m, err := s.MediaByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&Media{}, id).Error; err != nil {
		return nil, mapErr(err, "delete media %d", id)
	}
	return m, nil
}
