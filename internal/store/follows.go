package store

import (
	"context"
	"errors"

	"github.com/uptrace/bun"

	"socialflow/internal/domain"
)

// Follow makes follower follow followee. Following twice is a no-op.
func (s *Store) Follow(ctx context.Context, followerID, followeeID int64) error {
	if followerID == followeeID {
		return domain.Invalid("following", "profiles cannot follow themselves")
	}
	if _, err := s.ResolveAuthor(ctx, followeeID); err != nil {
		return err
	}
	following, err := s.isFollowing(ctx, followerID, followeeID)
	if err != nil || following {
		return err
	}
	f := domain.Follow{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: s.clock.Now()}
	_, err = s.db.NewInsert().Model(&f).Exec(ctx)
	if err = mapError(err); errors.Is(err, domain.ErrConflict) {
		return nil
	}
	return err
}

func (s *Store) Unfollow(ctx context.Context, followerID, followeeID int64) error {
	res, err := s.db.NewDelete().Model((*domain.Follow)(nil)).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Exec(ctx)
	return affected(res, err)
}

// Following lists the profiles that profileID follows.
func (s *Store) Following(ctx context.Context, profileID int64) ([]domain.Profile, error) {
	return s.profilesIn(ctx, "followee_id", "follower_id", profileID)
}

// Followers lists the profiles that follow profileID.
func (s *Store) Followers(ctx context.Context, profileID int64) ([]domain.Profile, error) {
	return s.profilesIn(ctx, "follower_id", "followee_id", profileID)
}

func (s *Store) profilesIn(ctx context.Context, pick, match string, profileID int64) ([]domain.Profile, error) {
	edges := s.db.NewSelect().
		Model((*domain.Follow)(nil)).
		Column(pick).
		Where("? = ?", bun.Ident(match), profileID)
	profiles := []domain.Profile{}
	err := s.db.NewSelect().Model(&profiles).Relation("User").
		Where("pr.id IN (?)", edges).
		Order("pr.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return profiles, nil
}

// isFollowing reports whether followerID follows followeeID.
func (s *Store) isFollowing(ctx context.Context, followerID, followeeID int64) (bool, error) {
	ok, err := s.db.NewSelect().Model((*domain.Follow)(nil)).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Exists(ctx)
	return ok, mapError(err)
}
