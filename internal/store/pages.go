package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

// PageUpdate carries the fields to change; nil fields are left alone.
type PageUpdate struct {
	Title  *string
	Slug   *string
	Body   *string
	Status *string
}

func validStatus(s string) bool { return s == StatusDraft || s == StatusPublished }

func (s *Store) ListPages(ctx context.Context, publishedOnly bool) ([]Page, error) {
	var pages []Page
	q := s.db.WithContext(ctx).Order("updated_at DESC").Order("id DESC")
	if publishedOnly {
		q = q.Where("status = ?", StatusPublished)
	}
	if err := q.Find(&pages).Error; err != nil {
		return nil, mapErr(err, "list pages")
	}
	return pages, nil
}

// PageBySlug finds a page by slug; with publishedOnly drafts are reported as not found.
func (s *Store) PageBySlug(ctx context.Context, slug string, publishedOnly bool) (*Page, error) {
	var p Page
	q := s.db.WithContext(ctx).Where("slug = ?", slug)
	if publishedOnly {
		q = q.Where("status = ?", StatusPublished)
	}
	if err := q.First(&p).Error; err != nil {
		return nil, mapErr(err, "page %q", slug)
	}
	return &p, nil
}

func (s *Store) PageByID(ctx context.Context, id uint) (*Page, error) {
	var p Page
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, mapErr(err, "page %d", id)
	}
	return &p, nil
}

// CreatePage inserts p. An empty slug is derived from the title, an empty
// status defaults to draft.
func (s *Store) CreatePage(ctx context.Context, p *Page) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return xerrors.Mark(xerrors.ErrInvalid, "page title is required")
	}
	if p.Slug == "" {
		p.Slug = Slugify(p.Title)
	}
	if err := checkSlug(p.Slug); err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if !validStatus(p.Status) {
		return xerrors.Mark(xerrors.ErrInvalid, "page status %q must be draft or published", p.Status)
	}
	if p.Status == StatusPublished && p.PublishedAt == nil {
		now := time.Now().UTC()
		p.PublishedAt = &now
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return mapErr(err, "create page %q", p.Slug)
	}
	return nil
}

func (s *Store) UpdatePage(ctx context.Context, id uint, u PageUpdate) (*Page, error) {
	var out *Page
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Page
		if err := tx.First(&p, id).Error; err != nil {
			return mapErr(err, "page %d", id)
		}
		if u.Title != nil {
			t := strings.TrimSpace(*u.Title)
			if t == "" {
				return xerrors.Mark(xerrors.ErrInvalid, "page title is required")
			}
			p.Title = t
		}
		if u.Slug != nil {
			if err := checkSlug(*u.Slug); err != nil {
				return err
			}
			p.Slug = *u.Slug
		}
		if u.Body != nil {
			p.Body = *u.Body
		}
		if u.Status != nil {
			if !validStatus(*u.Status) {
				return xerrors.Mark(xerrors.ErrInvalid, "page status %q must be draft or published", *u.Status)
			}
			if *u.Status == StatusPublished && p.Status != StatusPublished {
				now := time.Now().UTC()
				p.PublishedAt = &now
			}
			p.Status = *u.Status
		}
		if err := tx.Save(&p).Error; err != nil {
			return mapErr(err, "update page %d", id)
		}
		out = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeletePage(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&Page{}, id)
	if res.Error != nil {
		return mapErr(res.Error, "delete page %d", id)
	}
	if res.RowsAffected == 0 {
		return xerrors.Mark(xerrors.ErrNotFound, "page %d", id)
	}
	return nil
}

// EnsurePage creates p unless a page with the same slug exists.
func (s *Store) EnsurePage(ctx context.Context, p *Page) (created bool, err error) {
	if p.Slug == "" {
		p.Slug = Slugify(p.Title)
	}
	existing, err := s.PageBySlug(ctx, p.Slug, false)
	if err == nil {
		*p = *existing
		return false, nil
	}
	if !errors.Is(err, xerrors.ErrNotFound) {
		return false, err
	}
	if err := s.CreatePage(ctx, p); err != nil {
		return false, err
	}
	return true, nil
}
