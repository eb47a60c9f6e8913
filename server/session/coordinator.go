package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"card-arena/server/chain"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Querier is the read side of the node used for reconciliation.
type Querier interface {
	GetOwnedObjects(ctx context.Context, owner, structType string) ([]chain.Object, error)
	GetObject(ctx context.Context, id string) (chain.Object, error)
}

type Status string

const (
	StatusNone    Status = "none"
	StatusWaiting Status = "waiting" // open lobbies, no game
	StatusPlaying Status = "playing"
)

// Pending marks a resolution in progress.
type Pending struct {
	ID        string    `json:"id"`
	Digest    string    `json:"digest"`
	StartedAt time.Time `json:"started_at"`
}

type View struct {
	Status     Status    `json:"status"`
	Active     *Session  `json:"active,omitempty"`
	Lobbies    []Session `json:"lobbies"`
	ResolvedID string    `json:"resolved_id,omitempty"`
	Pending    *Pending  `json:"pending,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CoordinatorConfig struct {
	Log     slog.Logger
	Querier Querier
	Owner   string

	// Full struct types, e.g. "0x4c..::game::Game".
	GameType  string
	LobbyType string
}

// Coordinator owns the reconciled view of the player's session.
type Coordinator struct {
	log       slog.Logger
	q         Querier
	owner     string
	gameType  string
	lobbyType string

	runCtx  context.Context
	stopRun context.CancelFunc

	mu         sync.Mutex
	view       View
	resolvedID string
	trackGen   uint64 // bumped whenever resolvedID changes
	cancelRun  context.CancelFunc
	subs       map[int]chan View
	nextSub    int
	closed     bool
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Querier == nil {
		return nil, errors.New("coordinator must have a querier")
	}
	if strings.TrimSpace(cfg.Owner) == "" {
		return nil, errors.New("coordinator must have an owner address")
	}
	if cfg.GameType == "" || cfg.LobbyType == "" {
		return nil, errors.New("coordinator must have game and lobby types")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		log:       log,
		q:         cfg.Querier,
		owner:     cfg.Owner,
		gameType:  cfg.GameType,
		lobbyType: cfg.LobbyType,
		runCtx:    ctx,
		stopRun:   stop,
		view:      View{Status: StatusNone, Lobbies: []Session{}, UpdatedAt: time.Now()},
		subs:      map[int]chan View{},
	}, nil
}

func (c *Coordinator) Owner() string { return c.owner }

// View returns the current view.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Refresh queries owned games and lobbies plus the tracked shared object and
// replaces the view. A failed shared fetch falls back to the owned games; a
// failed owned query leaves the previous view in place. A refresh that
// started before the tracked id changed is discarded and the current view
// returned.
func (c *Coordinator) Refresh(ctx context.Context) (View, error) {
	c.mu.Lock()
	tracked, gen := c.resolvedID, c.trackGen
	c.mu.Unlock()

	var games, lobbies []chain.Object
	var shared *Session
	var gone bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		games, err = c.q.GetOwnedObjects(gctx, c.owner, c.gameType)
		if err != nil {
			return fmt.Errorf("owned games: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		lobbies, err = c.q.GetOwnedObjects(gctx, c.owner, c.lobbyType)
		if err != nil {
			return fmt.Errorf("owned lobbies: %w", err)
		}
		return nil
	})
	if tracked != "" {
		g.Go(func() error {
			o, err := c.q.GetObject(gctx, tracked)
			if err != nil {
				c.log.Warnf("shared %s unavailable, using owned: %v", tracked, err)
				gone = errors.Is(err, chain.ErrObjectNotFound)
				return nil
			}
			s := FromObject(o, c.kindOf(o))
			shared = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return c.View(), err
	}

	active, ok := Reconcile(shared, fromObjects(games, KindGame))
	next := View{Lobbies: fromObjects(lobbies, KindLobby), UpdatedAt: time.Now()}
	switch {
	case ok:
		next.Status = StatusPlaying
		if active.Kind == KindLobby {
			next.Status = StatusWaiting
		}
		next.Active = &active
	case len(next.Lobbies) > 0:
		next.Status = StatusWaiting
	default:
		next.Status = StatusNone
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trackGen != gen {
		c.log.Debugf("dropping refresh for %q, now tracking %q", tracked, c.resolvedID)
		return c.view, nil
	}
	if gone {
		c.setTrackedLocked("")
		tracked = ""
	}
	next.ResolvedID = tracked
	next.Pending = c.view.Pending
	c.setLocked(next)
	return next, nil
}

func (c *Coordinator) kindOf(o chain.Object) Kind {
	if o.TypeIs(c.lobbyType) {
		return KindLobby
	}
	return KindGame
}

func (c *Coordinator) setTrackedLocked(id string) {
	c.resolvedID = id
	c.trackGen++
}

// Track records id as the resolved shared session and refreshes.
func (c *Coordinator) Track(ctx context.Context, id string) (View, error) {
	c.mu.Lock()
	c.setTrackedLocked(id)
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Begin starts a pending resolution for digest and returns the context the
// resolver should run under. A pending resolution already in flight is
// cancelled.
func (c *Coordinator) Begin(digest string) (Pending, context.Context) {
	p := Pending{ID: uuid.NewString(), Digest: digest, StartedAt: time.Now()}
	ctx, cancel := context.WithCancel(c.runCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelRun != nil {
		c.log.Debugf("superseding pending resolution %s", c.view.Pending.ID)
		c.cancelRun()
	}
	c.cancelRun = cancel
	next := c.view
	next.Pending = &p
	next.UpdatedAt = time.Now()
	c.setLocked(next)
	return p, ctx
}

// Finish clears p if it is still the pending resolution.
func (c *Coordinator) Finish(p Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view.Pending == nil || c.view.Pending.ID != p.ID {
		return
	}
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}
	next := c.view
	next.Pending = nil
	next.UpdatedAt = time.Now()
	c.setLocked(next)
}

// Subscribe returns a channel that receives the latest view after every
// change. Slow readers only see the most recent view.
func (c *Coordinator) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.view
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(s)
		}
	}
}

// Close cancels running resolutions and ends all subscriptions.
func (c *Coordinator) Close() {
	c.stopRun()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func (c *Coordinator) setLocked(v View) {
	if v.Lobbies == nil {
		v.Lobbies = []Session{}
	}
	c.view = v
	for _, ch := range c.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
