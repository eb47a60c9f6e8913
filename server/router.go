package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"card-arena/server/arena"
	"card-arena/server/catalog"
	"card-arena/server/chain"
	"card-arena/server/deck"
	"card-arena/server/session"
	"card-arena/server/store"
	"card-arena/server/txn"

	"github.com/decred/slog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// historySource is the journal; nil when no database is configured.
type historySource interface {
	History(ctx context.Context, limit int) ([]store.HistoryEntry, error)
}

type api struct {
	log      slog.Logger
	arena    *arena.Arena
	coord    *session.Coordinator
	network  chain.Network
	catalog  *catalog.Catalog
	history  historySource
	timeout  time.Duration
	upgrader websocket.Upgrader
}

func Router(s *api) http.Handler {
	if s.log == nil {
		s.log = slog.Disabled
	}
	if s.timeout <= 0 {
		s.timeout = 45 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "network": s.network.Name})
	})
	r.Get("/api/network", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"network": s.network, "account": s.coord.Owner()})
	})
	r.Get("/api/catalog", func(w http.ResponseWriter, r *http.Request) {
		var entries []catalog.Entry
		if s.catalog != nil {
			entries = s.catalog.Entries()
		}
		writeJSON(w, map[string]any{"cards": entries})
	})
	r.Get("/api/cards", s.cards)
	r.Post("/api/cards/mint", func(w http.ResponseWriter, r *http.Request) {
		s.act(w, r, s.arena.MintStarterCards)
	})

	r.Get("/api/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.coord.View())
	})
	r.Post("/api/session/refresh", func(w http.ResponseWriter, r *http.Request) {
		v, err := s.arena.Refresh(r.Context())
		if err != nil {
			s.log.Warnf("Refresh: %v", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, v)
	})

	r.Post("/api/lobbies", func(w http.ResponseWriter, r *http.Request) {
		s.act(w, r, s.arena.CreateLobby)
	})
	r.Post("/api/lobbies/{id}/join", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s.act(w, r, func(ctx context.Context, cb arena.Callbacks) error {
			return s.arena.JoinLobby(ctx, id, cb)
		})
	})
	r.Post("/api/duels", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Opponent string `json:"opponent"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad json body")
			return
		}
		s.act(w, r, func(ctx context.Context, cb arena.Callbacks) error {
			return s.arena.StartDuel(ctx, body.Opponent, cb)
		})
	})

	r.Route("/api/games/{id}", func(r chi.Router) {
		game := func(op func(context.Context, string, arena.Callbacks) error) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				id := chi.URLParam(r, "id")
				s.act(w, r, func(ctx context.Context, cb arena.Callbacks) error {
					return op(ctx, id, cb)
				})
			}
		}
		r.Post("/turn", game(s.arena.PlayTurn))
		r.Post("/swap", game(s.arena.SwapCard))
		r.Post("/resolve", game(s.arena.ResolveGame))
		r.Post("/abandon", game(s.arena.AbandonGame))
	})

	r.Get("/api/history", s.historyHandler)
	r.Get("/ws/session", s.sessionStream)

	return r
}

func (s *api) cards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.arena.Inventory(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"cards":       cards,
		"pledge_size": txn.PledgeSize,
		"can_pledge":  deck.CanPledge(cards, txn.PledgeSize),
	})
}

func (s *api) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled (no DATABASE_URL)")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.history.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for i := range rows {
		rows[i].ExplorerURL = s.network.TxURL(rows[i].Digest)
	}
	writeJSON(w, map[string]any{"rows": rows})
}

type actionResponse struct {
	arena.Outcome
	ExplorerURL string `json:"explorer_url,omitempty"`
	ObjectURL   string `json:"object_url,omitempty"`
}

type settled struct {
	out arena.Outcome
	err error
}

// act starts an arena action and waits for it to settle. Actions that take
// longer than the timeout keep running and answer 202.
func (s *api) act(w http.ResponseWriter, r *http.Request, run func(context.Context, arena.Callbacks) error) {
	done := make(chan settled, 1)
	err := run(r.Context(), arena.Callbacks{
		OnSuccess: func(o arena.Outcome) { done <- settled{out: o} },
		OnError:   func(err error) { done <- settled{err: err} },
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	t := time.NewTimer(s.timeout)
	defer t.Stop()
	select {
	case res := <-done:
		if res.err != nil {
			s.fail(w, res.err)
			return
		}
		resp := actionResponse{Outcome: res.out, ExplorerURL: s.network.TxURL(res.out.Tx.Digest)}
		if res.out.Resolution != nil {
			resp.ObjectURL = s.network.ObjectURL(res.out.Resolution.ObjectID)
		}
		writeJSON(w, resp)
	case <-t.C:
		writeJSONStatus(w, http.StatusAccepted, map[string]any{"status": "pending"})
	case <-r.Context().Done():
	}
}

func (s *api) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Errorf("Action failed: %v", err)
	} else {
		s.log.Debugf("Action rejected: %v", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var serr *txn.SubmitError
	switch {
	case errors.Is(err, deck.ErrInsufficientCards):
		return http.StatusConflict
	case errors.Is(err, txn.ErrInvalidID), errors.Is(err, txn.ErrPledgeSize), errors.Is(err, arena.ErrNoOpponent):
		return http.StatusBadRequest
	case errors.As(err, &serr):
		return http.StatusBadGateway
	case errors.Is(err, arena.ErrInventory):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *api) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugf("%s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond),
			middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, v any) { writeJSONStatus(w, http.StatusOK, v) }

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]any{"error": msg})
}
