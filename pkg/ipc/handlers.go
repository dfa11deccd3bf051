package ipc

import (
	"context"
	stdliberrors "errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/odvcencio/actionator/pkg/action"
	apperrors "github.com/odvcencio/actionator/pkg/errors"
	"github.com/odvcencio/actionator/pkg/storage"
	"github.com/odvcencio/actionator/pkg/wire"
)

type actionSummary struct {
	Name        string         `json:"name"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Fields      []action.Field `json:"fields"`
	FormPath    string         `json:"formPath"`
	StartPath   string         `json:"startPath"`
}

type startResponse struct {
	RunID  string `json:"run_id"`
	Action string `json:"action"`
}

type runDetail struct {
	storage.Run
	Messages []storage.RunMessage `json:"messages"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := s.markup.Index(s.registry.List(), PushPath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondHTML(w, page)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil && s.store.DB() != nil {
		if err := s.store.DB().PingContext(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, stdliberrors.New("database unavailable"))
			return
		}
	}
	var active int64
	if s.runner != nil {
		active = s.runner.Active()
	}
	respondJSON(w, map[string]any{
		"status":      "ok",
		"version":     s.cfg.Version,
		"actions":     s.registry.Len(),
		"active_runs": active,
		"push":        s.hub.Len(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleActionBar(w http.ResponseWriter, r *http.Request) {
	bar, err := s.markup.ActionBar(s.registry.List())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondHTML(w, bar)
}

func (s *Server) handleStartForm(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(chi.URLParam(r, "file"), ".html")
	if !ok {
		respondError(w, http.StatusNotFound, apperrors.New(apperrors.ErrCodeNotFound, "form not found"))
		return
	}
	def, found := s.registry.Get(name)
	if !found {
		respondError(w, http.StatusNotFound, apperrors.Newf(apperrors.ErrCodeActionUnknown, "unknown action %q", name))
		return
	}
	form, err := s.markup.StartForm(def)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondHTML(w, form)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	defs := s.registry.List()
	out := make([]actionSummary, 0, len(defs))
	for _, def := range defs {
		fields := def.Fields
		if fields == nil {
			fields = []action.Field{}
		}
		out = append(out, actionSummary{
			Name:        def.Name,
			Title:       def.DisplayTitle(),
			Description: def.Description,
			Fields:      fields,
			FormPath:    StartFormPath(def.Name),
			StartPath:   StartPath(def.Name),
		})
	}
	respondJSON(w, map[string]any{"actions": out})
}

// handleStartAction starts a run and answers 202 without waiting for it. The
// body is the flat parameter mapping, as JSON or as a url-encoded form.
func (s *Server) handleStartAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.registry.Get(name); !ok {
		s.recordStart(name, resultRejected)
		respondError(w, http.StatusNotFound, apperrors.Newf(apperrors.ErrCodeActionUnknown, "unknown action %q", name))
		return
	}
	if !s.startLimiter.Allow(name) {
		s.recordStart(name, resultRateLimited)
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusTooManyRequests,
			apperrors.Newf(apperrors.ErrCodeRateLimited, "too many start requests for %q", name).WithRetryable(true))
		return
	}

	params, status, err := s.readParams(w, r)
	if err != nil {
		s.recordStart(name, resultRejected)
		respondError(w, status, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid start request"))
		return
	}

	runID := strings.TrimSpace(r.Header.Get(wire.RunIDHeader))
	runID, err = s.runner.Start(r.Context(), name, runID, params)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			s.recordStart(name, resultError)
			s.logger.Err(r.Context(), "start failed", err, "action", name)
		} else {
			s.recordStart(name, resultRejected)
		}
		respondError(w, status, err)
		return
	}

	s.recordStart(name, resultAccepted)
	respondJSONStatus(w, http.StatusAccepted, startResponse{RunID: runID, Action: name})
}

func (s *Server) readParams(w http.ResponseWriter, r *http.Request) (action.Params, int, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		values, status, err := decodeFormBody(w, r, s.cfg.MaxBodyBytes)
		return values, status, err
	}

	var params map[string]string
	if status, err := decodeJSONBody(w, r, &params, s.cfg.MaxBodyBytes, true); err != nil {
		return nil, status, err
	}
	if params == nil {
		params = map[string]string{}
	}
	return params, 0, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, apperrors.New(apperrors.ErrCodeNotFound, "run history disabled"))
		return
	}
	limit := min(parseIntDefault(r.URL.Query().Get("limit"), defaultRunListLimit), maxRunListLimit)
	runs, err := s.store.ListRuns(r.Context(), strings.TrimSpace(r.URL.Query().Get("action")), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "list runs"))
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	respondJSON(w, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, apperrors.New(apperrors.ErrCodeNotFound, "run history disabled"))
		return
	}
	runID := chi.URLParam(r, "runID")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "get run"))
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, apperrors.Newf(apperrors.ErrCodeNotFound, "run %q not found", runID))
		return
	}
	msgs, err := s.store.Messages(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, apperrors.Wrap(err, apperrors.ErrCodeStorageRead, "get run messages"))
		return
	}
	if msgs == nil {
		msgs = []storage.RunMessage{}
	}
	respondJSON(w, runDetail{Run: *run, Messages: msgs})
}

// handlePush upgrades to the push channel. Optional for_func and run_id query
// parameters narrow which frames the client receives.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if !s.isWebSocketOriginAllowed(r) {
		respondError(w, http.StatusForbidden, stdliberrors.New("forbidden"))
		return
	}
	if !s.pushLimiter.Acquire() {
		respondError(w, http.StatusTooManyRequests, stdliberrors.New("too many connections"))
		return
	}
	defer s.pushLimiter.Release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin is checked above against the configured allow list.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("push websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxWSReadBytesPush)

	query := r.URL.Query()
	filter := frameFilter(strings.TrimSpace(query.Get("for_func")), strings.TrimSpace(query.Get("run_id")))

	c := s.hub.register(conn, filter)
	ctx, cancel := context.WithCancel(r.Context())
	startWSPing(ctx, conn, s.cfg.PingInterval, cancel)

	go func() {
		defer cancel()
		c.readLoop(ctx)
	}()

	go func() {
		if err := c.writeLoop(ctx); err != nil && ctx.Err() == nil {
			s.logger.Debug("push websocket write error", "error", err)
		}
		cancel()
	}()

	<-ctx.Done()
	s.hub.removeClient(c)
	c.close(websocket.StatusNormalClosure, "shutdown")
}
