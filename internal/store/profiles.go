package store

import (
	"context"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/uptrace/bun"

	"socialflow/internal/domain"
)

// ProfileInput holds the writable profile fields.
type ProfileInput struct {
	ProfilePicture string
	Bio            string
	Website        string
	PhoneNumber    string
	Sex            string
}

func (in ProfileInput) validate() error {
	if utf8.RuneCountInString(in.Bio) > domain.MaxBioLen {
		return domain.Invalid("bio", "must be at most %d characters", domain.MaxBioLen)
	}
	if utf8.RuneCountInString(in.PhoneNumber) > domain.MaxPhoneLen {
		return domain.Invalid("phone_number", "must be at most %d characters", domain.MaxPhoneLen)
	}
	if in.Website != "" {
		u, err := url.ParseRequestURI(in.Website)
		if err != nil || u.Host == "" {
			return domain.Invalid("website", "enter a valid URL")
		}
	}
	switch in.Sex {
	case domain.SexMale, domain.SexFemale:
	default:
		return domain.Invalid("sex", "must be %q or %q", domain.SexMale, domain.SexFemale)
	}
	return nil
}

func (in ProfileInput) apply(p *domain.Profile) {
	p.ProfilePicture = strings.TrimSpace(in.ProfilePicture)
	p.Bio = in.Bio
	p.Website = strings.TrimSpace(in.Website)
	p.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	p.Sex = in.Sex
}

// CreateProfile creates the single profile of userID. A second profile for
// the same user is domain.ErrConflict.
func (s *Store) CreateProfile(ctx context.Context, userID int64, in ProfileInput) (domain.Profile, error) {
	if err := in.validate(); err != nil {
		return domain.Profile{}, err
	}
	exists, err := s.db.NewSelect().Model((*domain.Profile)(nil)).Where("user_id = ?", userID).Exists(ctx)
	if err != nil {
		return domain.Profile{}, mapError(err)
	}
	if exists {
		return domain.Profile{}, domain.ErrConflict
	}
	p := domain.Profile{UserID: userID}
	in.apply(&p)
	if _, err := s.db.NewInsert().Model(&p).Exec(ctx); err != nil {
		return domain.Profile{}, mapError(err)
	}
	return s.GetProfile(ctx, p.ID)
}

// GetProfile loads a profile together with its user.
func (s *Store) GetProfile(ctx context.Context, id int64) (domain.Profile, error) {
	var p domain.Profile
	err := s.db.NewSelect().Model(&p).Relation("User").Where("pr.id = ?", id).Scan(ctx)
	return p, mapError(err)
}

// ProfileByUser returns the profile owned by userID.
func (s *Store) ProfileByUser(ctx context.Context, userID int64) (domain.Profile, error) {
	var p domain.Profile
	err := s.db.NewSelect().Model(&p).Relation("User").Where("pr.user_id = ?", userID).Scan(ctx)
	return p, mapError(err)
}

// ResolveAuthor confirms that a profile still exists.
func (s *Store) ResolveAuthor(ctx context.Context, authorID int64) (domain.Profile, error) {
	var p domain.Profile
	err := s.db.NewSelect().Model(&p).Where("id = ?", authorID).Scan(ctx)
	return p, mapError(err)
}

// ListProfiles returns every profile, optionally restricted to users with one
// of the given first names.
func (s *Store) ListProfiles(ctx context.Context, firstNames []string) ([]domain.Profile, error) {
	profiles := []domain.Profile{}
	q := s.db.NewSelect().Model(&profiles).Relation("User").Order("pr.id ASC")
	if len(firstNames) > 0 {
		q = q.Where("pr.user_id IN (?)", s.db.NewSelect().
			Model((*domain.User)(nil)).
			Column("id").
			Where("first_name IN (?)", bun.In(firstNames)))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, mapError(err)
	}
	return profiles, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id int64, in ProfileInput) (domain.Profile, error) {
	if err := in.validate(); err != nil {
		return domain.Profile{}, err
	}
	p := domain.Profile{ID: id}
	in.apply(&p)
	res, err := s.db.NewUpdate().Model(&p).
		Column("profile_picture", "bio", "website", "phone_number", "sex").
		WherePK().
		Exec(ctx)
	if err := affected(res, err); err != nil {
		return domain.Profile{}, err
	}
	return s.GetProfile(ctx, id)
}
