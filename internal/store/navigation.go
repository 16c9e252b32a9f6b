package store

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

const maxNavDepth = 3

// ListNavigation returns all items flat, ordered by position.
func (s *Store) ListNavigation(ctx context.Context) ([]NavItem, error) {
	var items []NavItem
	if err := s.db.WithContext(ctx).Order("position ASC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, mapErr(err, "list navigation")
	}
	return items, nil
}

// ReplaceNavigation swaps the whole menu for items in one transaction.
// Positions and parent ids come from the nesting of items and their Children.
func (s *Store) ReplaceNavigation(ctx context.Context, items []NavItem) error {
	if err := validateNav(items, 1); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&NavItem{}).Error; err != nil {
			return mapErr(err, "clear navigation")
		}
		return insertNav(tx, items, nil)
	})
}

func validateNav(items []NavItem, depth int) error {
	if len(items) > 0 && depth > maxNavDepth {
		return xerrors.Mark(xerrors.ErrInvalid, "navigation nested deeper than %d levels", maxNavDepth)
	}
	for _, it := range items {
		if strings.TrimSpace(it.Label) == "" || strings.TrimSpace(it.Href) == "" {
			return xerrors.Mark(xerrors.ErrInvalid, "navigation items need a label and href")
		}
		if err := validateNav(it.Children, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func insertNav(tx *gorm.DB, items []NavItem, parent *uint) error {
	for i := range items {
		row := NavItem{
			Label:    strings.TrimSpace(items[i].Label),
			Href:     strings.TrimSpace(items[i].Href),
			Position: i,
			ParentID: parent,
		}
		if err := tx.Create(&row).Error; err != nil {
			return mapErr(err, "insert navigation item %q", row.Label)
		}
		id := row.ID
		if err := insertNav(tx, items[i].Children, &id); err != nil {
			return err
		}
	}
	return nil
}

// NavigationTree nests a flat ListNavigation result. Items whose parent is
// missing are dropped.
func NavigationTree(flat []NavItem) []NavItem {
	children := make(map[uint][]NavItem)
	var roots []NavItem
	for _, it := range flat {
		if it.ParentID == nil {
			roots = append(roots, it)
			continue
		}
		children[*it.ParentID] = append(children[*it.ParentID], it)
	}
	var attach func(items []NavItem) []NavItem
	attach = func(items []NavItem) []NavItem {
		for i := range items {
			items[i].Children = attach(children[items[i].ID])
		}
		return items
	}
	return attach(roots)
}
