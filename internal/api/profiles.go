package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"socialflow/internal/domain"
	"socialflow/internal/store"
)

type profileRequest struct {
	ProfilePicture string `json:"profile_picture"`
	Bio            string `json:"bio"`
	Website        string `json:"website"`
	PhoneNumber    string `json:"phone_number"`
	Sex            string `json:"sex"`
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.store.CreateProfile(r.Context(), currentUser(r).ID, store.ProfileInput(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(p))
}

// listProfiles accepts ?first_name=a,b or repeated first_name parameters.
func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	names := lo.Compact(lo.FlatMap(r.URL.Query()["first_name"], func(v string, _ int) []string {
		return lo.Map(strings.Split(v, ","), func(n string, _ int) string { return strings.TrimSpace(n) })
	}))
	profiles, err := s.store.ListProfiles(r.Context(), names)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeProfiles(w, profiles)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p.UserID != currentUser(r).ID {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	var req profileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err = s.store.UpdateProfile(r.Context(), id, store.ProfileInput(req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) follow(w http.ResponseWriter, r *http.Request) {
	s.changeFollow(w, r, s.store.Follow)
}

func (s *Server) unfollow(w http.ResponseWriter, r *http.Request) {
	s.changeFollow(w, r, s.store.Unfollow)
}

func (s *Server) changeFollow(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, follower, followee int64) error) {
	followee, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	me, err := s.currentProfile(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := op(r.Context(), me.ID, followee); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) following(w http.ResponseWriter, r *http.Request) {
	s.listGraph(w, r, s.store.Following)
}

func (s *Server) followers(w http.ResponseWriter, r *http.Request) {
	s.listGraph(w, r, s.store.Followers)
}

func (s *Server) listGraph(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, profileID int64) ([]domain.Profile, error)) {
	me, err := s.currentProfile(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	profiles, err := list(r.Context(), me.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeProfiles(w, profiles)
}

func writeProfiles(w http.ResponseWriter, profiles []domain.Profile) {
	writeJSON(w, http.StatusOK, lo.Map(profiles, func(p domain.Profile, _ int) profileResponse {
		return toProfileResponse(p)
	}))
}
