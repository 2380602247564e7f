package store

import (
	"context"
	"strings"
	"unicode/utf8"

	"socialflow/internal/domain"
)

// CreatePost records a post with its creation time taken now. A missing
// author is domain.ErrNotFound.
func (s *Store) CreatePost(ctx context.Context, in domain.NewPost) (int64, error) {
	if _, err := s.ResolveAuthor(ctx, in.AuthorID); err != nil {
		return 0, err
	}
	p := domain.Post{
		AuthorID:        in.AuthorID,
		Hashtag:         strings.TrimSpace(in.Hashtag),
		TextContent:     in.TextContent,
		MediaAttachment: strings.TrimSpace(in.MediaAttachment),
		CreatedAt:       s.clock.Now(),
	}
	if _, err := s.db.NewInsert().Model(&p).Exec(ctx); err != nil {
		return 0, mapError(err)
	}
	return p.ID, nil
}

// GetPost loads a post with its author profile and user.
func (s *Store) GetPost(ctx context.Context, id int64) (domain.Post, error) {
	var p domain.Post
	err := s.db.NewSelect().Model(&p).
		Relation("Author").
		Relation("Author.User").
		Where("p.id = ?", id).
		Scan(ctx)
	return p, mapError(err)
}

// Feed returns the viewer's own posts and the posts of every profile the
// viewer follows, newest first, optionally restricted to a hashtag.
func (s *Store) Feed(ctx context.Context, viewerID int64, hashtag string) ([]domain.Post, error) {
	followed := s.db.NewSelect().
		Model((*domain.Follow)(nil)).
		Column("followee_id").
		Where("follower_id = ?", viewerID)

	posts := []domain.Post{}
	q := s.db.NewSelect().Model(&posts).
		Relation("Author").
		Relation("Author.User").
		Where("(p.author_id = ? OR p.author_id IN (?))", viewerID, followed).
		Order("p.created_at DESC", "p.id DESC")
	if hashtag = strings.TrimSpace(hashtag); hashtag != "" {
		q = q.Where("p.hashtag = ?", hashtag)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, mapError(err)
	}
	return posts, nil
}

// CanView reports whether viewerID may see posts by authorID.
func (s *Store) CanView(ctx context.Context, viewerID, authorID int64) (bool, error) {
	if viewerID == authorID {
		return true, nil
	}
	return s.isFollowing(ctx, viewerID, authorID)
}

// PostUpdate holds the mutable post fields; nil means unchanged.
type PostUpdate struct {
	Hashtag         *string
	TextContent     *string
	MediaAttachment *string
}

func (s *Store) UpdatePost(ctx context.Context, id int64, in PostUpdate) (domain.Post, error) {
	p, err := s.GetPost(ctx, id)
	if err != nil {
		return domain.Post{}, err
	}
	if in.Hashtag != nil {
		p.Hashtag = strings.TrimSpace(*in.Hashtag)
	}
	if in.TextContent != nil {
		p.TextContent = *in.TextContent
	}
	if in.MediaAttachment != nil {
		p.MediaAttachment = strings.TrimSpace(*in.MediaAttachment)
	}
	if utf8.RuneCountInString(p.Hashtag) > domain.MaxHashtagLen {
		return domain.Post{}, domain.Invalid("hashtag", "must be at most %d characters", domain.MaxHashtagLen)
	}
	if utf8.RuneCountInString(p.TextContent) > domain.MaxTextContentLen {
		return domain.Post{}, domain.Invalid("text_content", "must be at most %d characters", domain.MaxTextContentLen)
	}
	_, err = s.db.NewUpdate().Model(&p).
		Column("hashtag", "text_content", "media_attachment").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.Post{}, mapError(err)
	}
	return p, nil
}

// DeletePost removes a post; its comments and likes go with it.
func (s *Store) DeletePost(ctx context.Context, id int64) error {
	res, err := s.db.NewDelete().Model((*domain.Post)(nil)).Where("id = ?", id).Exec(ctx)
	return affected(res, err)
}

func (s *Store) ListComments(ctx context.Context, postID int64) ([]domain.Comment, error) {
	comments := []domain.Comment{}
	err := s.db.NewSelect().Model(&comments).
		Where("post_id = ?", postID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return comments, nil
}

func validateComment(text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.Invalid("text_content", "this field may not be blank")
	}
	if utf8.RuneCountInString(text) > domain.MaxTextContentLen {
		return domain.Invalid("text_content", "must be at most %d characters", domain.MaxTextContentLen)
	}
	return nil
}

func (s *Store) CreateComment(ctx context.Context, postID, authorID int64, text string) (domain.Comment, error) {
	if err := validateComment(text); err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{PostID: postID, AuthorID: authorID, TextContent: text, CreatedAt: s.clock.Now()}
	if _, err := s.db.NewInsert().Model(&c).Exec(ctx); err != nil {
		return domain.Comment{}, mapError(err)
	}
	return c, nil
}

// GetComment returns a comment of postID.
func (s *Store) GetComment(ctx context.Context, postID, commentID int64) (domain.Comment, error) {
	var c domain.Comment
	err := s.db.NewSelect().Model(&c).Where("id = ? AND post_id = ?", commentID, postID).Scan(ctx)
	return c, mapError(err)
}

func (s *Store) UpdateComment(ctx context.Context, postID, commentID int64, text string) (domain.Comment, error) {
	if err := validateComment(text); err != nil {
		return domain.Comment{}, err
	}
	c, err := s.GetComment(ctx, postID, commentID)
	if err != nil {
		return domain.Comment{}, err
	}
	c.TextContent = text
	if _, err := s.db.NewUpdate().Model(&c).Column("text_content").WherePK().Exec(ctx); err != nil {
		return domain.Comment{}, mapError(err)
	}
	return c, nil
}

func (s *Store) DeleteComment(ctx context.Context, postID, commentID int64) error {
	res, err := s.db.NewDelete().Model((*domain.Comment)(nil)).
		Where("id = ? AND post_id = ?", commentID, postID).
		Exec(ctx)
	return affected(res, err)
}

func (s *Store) ListLikes(ctx context.Context, postID int64) ([]domain.Like, error) {
	likes := []domain.Like{}
	err := s.db.NewSelect().Model(&likes).
		Where("post_id = ?", postID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return likes, nil
}

// CreateLike records authorID liking postID. Liking twice is
// domain.ErrConflict.
func (s *Store) CreateLike(ctx context.Context, postID, authorID int64) (domain.Like, error) {
	l := domain.Like{PostID: postID, AuthorID: authorID, CreatedAt: s.clock.Now()}
	if _, err := s.db.NewInsert().Model(&l).Exec(ctx); err != nil {
		return domain.Like{}, mapError(err)
	}
	return l, nil
}

func (s *Store) DeleteLike(ctx context.Context, postID, authorID int64) error {
	res, err := s.db.NewDelete().Model((*domain.Like)(nil)).
		Where("post_id = ? AND author_id = ?", postID, authorID).
		Exec(ctx)
	return affected(res, err)
}

// LikeCount returns how many likes postID has.
func (s *Store) LikeCount(ctx context.Context, postID int64) (int, error) {
	n, err := s.db.NewSelect().Model((*domain.Like)(nil)).Where("post_id = ?", postID).Count(ctx)
	return n, mapError(err)
}
