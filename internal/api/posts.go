package api

import (
	"net/http"
	"time"

	"github.com/samber/lo"

	"socialflow/internal/domain"
	"socialflow/internal/publication"
	"socialflow/internal/store"
)

type postRequest struct {
	Hashtag         string `json:"hashtag"`
	TextContent     string `json:"text_content"`
	MediaAttachment string `json:"media_attachment"`
	PublishTime     string `json:"publish_time"`
}

type postUpdateRequest struct {
	Hashtag         *string `json:"hashtag"`
	TextContent     *string `json:"text_content"`
	MediaAttachment *string `json:"media_attachment"`
}

type postResponse struct {
	ID              int64     `json:"id"`
	AuthorID        int64     `json:"author_id"`
	AuthorName      string    `json:"author_name,omitempty"`
	Hashtag         string    `json:"hashtag"`
	TextContent     string    `json:"text_content"`
	MediaAttachment string    `json:"media_attachment,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LikeCount       *int      `json:"like_count,omitempty"`
}

func toPostResponse(p domain.Post) postResponse {
	out := postResponse{
		ID:              p.ID,
		AuthorID:        p.AuthorID,
		Hashtag:         p.Hashtag,
		TextContent:     p.TextContent,
		MediaAttachment: p.MediaAttachment,
		CreatedAt:       p.CreatedAt,
	}
	if p.Author != nil && p.Author.User != nil {
		out.AuthorName = p.Author.User.FirstName + " " + p.Author.User.LastName
	}
	return out
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	me, err := s.currentProfile(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	posts, err := s.store.Feed(r.Context(), me.ID, r.URL.Query().Get("hashtag"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(posts, func(p domain.Post, _ int) postResponse {
		return toPostResponse(p)
	}))
}

// createPost publishes immediately (201 with the post) or, when publish_time
// lies in the future, accepts the request for later (202, no body).
func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	me, err := s.currentProfile(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req postRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	publishTime, err := publication.ParsePublishTime(req.PublishTime)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.publisher.RequestPublication(r.Context(), publication.Request{
		AuthorID:        me.ID,
		Hashtag:         req.Hashtag,
		TextContent:     req.TextContent,
		MediaAttachment: req.MediaAttachment,
		PublishTime:     publishTime,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Accepted {
		w.Header().Set("Location", "/api/tasks/"+res.TaskID)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	p, err := s.store.GetPost(r.Context(), res.PostID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(p))
}

// visiblePost loads a post the caller may see. Posts of profiles the caller
// neither owns nor follows are reported as missing.
func (s *Server) visiblePost(r *http.Request) (domain.Post, domain.Profile, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return domain.Post{}, domain.Profile{}, err
	}
	me, err := s.currentProfile(r)
	if err != nil {
		return domain.Post{}, domain.Profile{}, err
	}
	p, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		return domain.Post{}, domain.Profile{}, err
	}
	ok, err := s.store.CanView(r.Context(), me.ID, p.AuthorID)
	if err != nil {
		return domain.Post{}, domain.Profile{}, err
	}
	if !ok {
		return domain.Post{}, domain.Profile{}, domain.ErrNotFound
	}
	return p, me, nil
}

// ownPost loads a visible post and requires the caller to be its author.
func (s *Server) ownPost(r *http.Request) (domain.Post, error) {
	p, me, err := s.visiblePost(r)
	if err != nil {
		return domain.Post{}, err
	}
	if p.AuthorID != me.ID {
		return domain.Post{}, domain.ErrForbidden
	}
	return p, nil
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	p, _, err := s.visiblePost(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	likes, err := s.store.LikeCount(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := toPostResponse(p)
	out.LikeCount = &likes
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updatePost(w http.ResponseWriter, r *http.Request) {
	p, err := s.ownPost(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req postUpdateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err = s.store.UpdatePost(r.Context(), p.ID, store.PostUpdate(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(p))
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request) {
	p, err := s.ownPost(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.DeletePost(r.Context(), p.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type commentRequest struct {
	TextContent string `json:"text_content"`
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	p, _, err := s.visiblePost(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	comments, err := s.store.ListComments(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request) {
	p, me, err := s.visiblePost(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req commentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.store.CreateComment(r.Context(), p.ID, me.ID, req.TextContent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ownComment loads a comment of a visible post written by the caller.
func (s *Server) ownComment(r *http.Request) (domain.Comment, error) {
	p, me, err := s.visiblePost(r)
	if err != nil {
		return domain.Comment{}, err
	}
	cid, err := pathID(r, "commentID")
	if err != nil {
		return domain.Comment{}, err
	}
	c, err := s.store.GetComment(r.Context(), p.ID, cid)
	if err != nil {
		return domain.Comment{}, err
	}
	if c.AuthorID != me.ID {
		return domain.Comment{}, domain.ErrForbidden
	}
	return c, nil
}

func (s *Server) updateComment(w http.ResponseWriter, r *http.Request) {
	c, err := s.ownComment(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req commentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err = s.store.UpdateComment(r.Context(), c.PostID, c.ID, req.TextContent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteComment(w http.ResponseWriter, r *http.Request) {
	c, err := s.ownComment(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.DeleteComment(r.Context(), c.PostID, c.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listLikes is visible to the post's author only.
func (s *Server) listLikes(w http.ResponseWriter, r *http.Request) {
	p, err := s.ownPost(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	likes, err := s.store.ListLikes(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, likes)
}

func (s *Server) createLike(w http.ResponseWriter, r *http.Request) {
	p, me, err := s.visiblePost(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	l, err := s.store.CreateLike(r.Context(), p.ID, me.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) deleteLike(w http.ResponseWriter, r *http.Request) {
	p, me, err := s.visiblePost(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.DeleteLike(r.Context(), p.ID, me.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
