package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"socialflow/internal/domain"
	"socialflow/internal/publication"
	"socialflow/internal/queue"
	"socialflow/internal/store"
)

type Server struct {
	r         *chi.Mux
	store     *store.Store
	repo      queue.Repository
	publisher *publication.Service
}

func NewServer(st *store.Store, repo queue.Repository, pub *publication.Service) http.Handler {
	return NewServerWithDebug(st, repo, pub, false)
}

func NewServerWithDebug(st *store.Store, repo queue.Repository, pub *publication.Service, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)

	s := &Server{r: r, store: st, repo: repo, publisher: pub}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.register)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/me", s.getMe)
			r.Put("/me", s.updateMe)

			r.Post("/profiles", s.createProfile)
			r.Get("/profiles", s.listProfiles)
			r.Get("/profiles/{id}", s.getProfile)
			r.Put("/profiles/{id}", s.updateProfile)
			r.Post("/profiles/{id}/follow", s.follow)
			r.Delete("/profiles/{id}/follow", s.unfollow)
			r.Get("/following", s.following)
			r.Get("/followers", s.followers)

			r.Get("/posts", s.listPosts)
			r.Post("/posts", s.createPost)
			r.Get("/posts/{id}", s.getPost)
			r.Put("/posts/{id}", s.updatePost)
			r.Delete("/posts/{id}", s.deletePost)
			r.Get("/posts/{id}/comments", s.listComments)
			r.Post("/posts/{id}/comments", s.createComment)
			r.Patch("/posts/{id}/comments/{commentID}", s.updateComment)
			r.Delete("/posts/{id}/comments/{commentID}", s.deleteComment)
			r.Get("/posts/{id}/likes", s.listLikes)
			r.Post("/posts/{id}/likes", s.createLike)
			r.Delete("/posts/{id}/likes", s.deleteLike)

			r.Get("/tasks", s.listTasks)
			r.Get("/tasks/{id}", s.getTask)
		})
	})

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.repo.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "socialflow_up 1")
	states := lo.Keys(map[string]int(stats))
	slices.Sort(states)
	for _, state := range states {
		fmt.Fprintf(w, "socialflow_tasks{state=%q} %d\n", state, stats[state])
	}
}

type taskResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Priority    int       `json:"priority"`
	RunAt       time.Time `json:"run_at"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toTaskResponse(t domain.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Type:        t.Type,
		State:       t.State,
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		Priority:    t.Priority,
		RunAt:       t.RunAt,
		LastError:   t.LastError,
		UpdatedAt:   t.UpdatedAt,
	}
}

// getTask shows a task to staff and to the author whose post it carries.
// Anyone else gets a 404.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !currentUser(r).IsStaff && !s.ownsTask(r, t) {
		writeError(w, r, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

func (s *Server) ownsTask(r *http.Request, t domain.Task) bool {
	if t.Type != domain.TaskTypePublishPost {
		return false
	}
	var payload struct {
		AuthorID int64 `json:"author_id"`
	}
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return false
	}
	me, err := s.currentProfile(r)
	return err == nil && me.ID == payload.AuthorID
}

// listTasks shows the newest tasks to staff users.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	if !currentUser(r).IsStaff {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, domain.Invalid("limit", "must be a positive integer"))
			return
		}
		limit = min(n, 500)
	}
	tasks, err := s.repo.ListRecentTasks(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(tasks, func(t domain.Task, _ int) taskResponse {
		return toTaskResponse(t)
	}))
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Invalid("body", "malformed JSON: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrNotFound
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Validation errors use the
// {"field": ["message"]} shape, everything else {"detail": "..."}.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string][]string{ve.Field: {ve.Message}})
	case errors.Is(err, domain.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Basic realm="socialflow"`)
		writeJSON(w, http.StatusUnauthorized, detail("Authentication credentials were not provided or are invalid."))
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, detail("You do not have permission to perform this action."))
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, detail("Not found."))
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusBadRequest, detail("Already exists."))
	default:
		log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, detail("Internal server error."))
	}
}

func detail(msg string) map[string]string {
	return map[string]string{"detail": msg}
}
