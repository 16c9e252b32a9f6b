package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
	"github.com/keithlinneman/linnemanlabs-cms/internal/xerrors"
)

// Store is the CMS relational storage over gorm and sqlite.
type Store struct {
	db *gorm.DB
}

type Options struct {
	Logger log.Logger
}

// Open opens (creating if needed) the sqlite database at path and migrates the schema.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, xerrors.New("store: empty database path")
	}
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	dsn := path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(L),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "open sqlite %s", path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, xerrors.Wrap(err, "sqlite handle")
	}
	// sqlite allows one writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(&User{}, &Page{}, &NavItem{}, &Media{}, &Session{}); err != nil {
		_ = sqlDB.Close()
		return nil, xerrors.Wrap(err, "migrate schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// mapErr translates gorm errors into xerrors sentinels.
func mapErr(err error, format string, args ...any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return xerrors.Mark(xerrors.ErrNotFound, format, args...)
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return xerrors.Mark(xerrors.ErrConflict, format, args...)
	default:
		return xerrors.Wrapf(err, format, args...)
	}
}
