// Package store persists the social graph (users, profiles, follows, posts,
// comments and likes) through bun.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"socialflow/internal/clock"
	"socialflow/internal/domain"
)

type Store struct {
	db         *bun.DB
	clock      clock.Clock
	bcryptCost int
}

type Option func(*Store)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Store) { s.bcryptCost = cost }
}

func New(db *bun.DB, clk clock.Clock, opts ...Option) *Store {
	s := &Store{db: db, clock: clk, bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type table struct {
	model       any
	foreignKeys []string
}

var tables = []table{
	{model: (*domain.User)(nil)},
	{model: (*domain.Profile)(nil), foreignKeys: []string{
		`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
	}},
	{model: (*domain.Follow)(nil), foreignKeys: []string{
		`("follower_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
		`("followee_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
	}},
	{model: (*domain.Post)(nil), foreignKeys: []string{
		`("author_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
	}},
	{model: (*domain.Comment)(nil), foreignKeys: []string{
		`("post_id") REFERENCES "posts" ("id") ON DELETE CASCADE`,
		`("author_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
	}},
	{model: (*domain.Like)(nil), foreignKeys: []string{
		`("post_id") REFERENCES "posts" ("id") ON DELETE CASCADE`,
		`("author_id") REFERENCES "profiles" ("id") ON DELETE CASCADE`,
	}},
}

type index struct {
	model   any
	name    string
	unique  bool
	columns []string
}

var indexes = []index{
	{(*domain.Follow)(nil), "idx_follows_pair", true, []string{"follower_id", "followee_id"}},
	{(*domain.Follow)(nil), "idx_follows_followee", false, []string{"followee_id"}},
	{(*domain.Post)(nil), "idx_posts_author_created", false, []string{"author_id", "created_at"}},
	{(*domain.Comment)(nil), "idx_comments_post", false, []string{"post_id"}},
	{(*domain.Like)(nil), "idx_likes_pair", true, []string{"post_id", "author_id"}},
}

// Migrate creates missing tables and indexes. Existing tables are left as
// they are.
func (s *Store) Migrate(ctx context.Context) error {
	for _, t := range tables {
		q := s.db.NewCreateTable().Model(t.model).IfNotExists()
		for _, fk := range t.foreignKeys {
			q = q.ForeignKey(fk)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create table %T: %w", t.model, err)
		}
	}
	for _, idx := range indexes {
		q := s.db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return err
	}
	msg := se.Error()
	switch {
	case se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	case se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY,
		strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}

// affected turns a zero-row write into domain.ErrNotFound.
func affected(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
