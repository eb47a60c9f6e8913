// Package arena runs player actions end to end: pick cards from the wallet,
// build and submit the transaction, locate the session it produced, and
// bring the session view up to date.
package arena

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"card-arena/server/catalog"
	"card-arena/server/chain"
	"card-arena/server/deck"
	"card-arena/server/effects"
	"card-arena/server/session"
	"card-arena/server/txn"

	"github.com/decred/slog"
)

// Inventory lists objects owned by an address.
type Inventory interface {
	GetOwnedObjects(ctx context.Context, owner, structType string) ([]chain.Object, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, p txn.Payload, cb txn.Callbacks)
	Wait()
}

type Resolver interface {
	Resolve(ctx context.Context, digest string) (effects.Resolution, error)
}

// ResolutionJournal records the outcome of every duel resolution.
type ResolutionJournal interface {
	RecordResolution(ctx context.Context, res effects.Resolution, resolveErr error) error
}

// Outcome is delivered once a submitted action has settled. Resolution is
// only set for duels whose session object was located.
type Outcome struct {
	Op         txn.Op              `json:"op"`
	Tx         txn.Result          `json:"tx"`
	Pledge     []string            `json:"pledge,omitempty"`
	Resolution *effects.Resolution `json:"resolution,omitempty"`
	View       session.View        `json:"view"`
}

type Callbacks struct {
	OnSuccess func(Outcome)
	OnError   func(error)
}

func (cb Callbacks) success(o Outcome) {
	if cb.OnSuccess != nil {
		cb.OnSuccess(o)
	}
}

func (cb Callbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

type Config struct {
	Log         slog.Logger
	Inventory   Inventory
	Builder     *txn.Builder
	Dispatcher  Dispatcher
	Resolver    Resolver
	Coordinator *session.Coordinator
	Catalog     *catalog.Catalog  // optional
	Journal     ResolutionJournal // optional

	// Opponent is used by StartDuel when the caller names none.
	Opponent       string
	RefreshTimeout time.Duration
}

type Arena struct {
	log      slog.Logger
	inv      Inventory
	builder  *txn.Builder
	disp     Dispatcher
	resolver Resolver
	coord    *session.Coordinator
	catalog  *catalog.Catalog
	journal  ResolutionJournal
	opponent string
	cardType string
	timeout  time.Duration
}

var (
	ErrNoOpponent = errors.New("no opponent address")
	ErrInventory  = errors.New("card inventory unavailable")
)

func New(cfg Config) (*Arena, error) {
	switch {
	case cfg.Inventory == nil:
		return nil, errors.New("arena must have an inventory source")
	case cfg.Builder == nil:
		return nil, errors.New("arena must have a builder")
	case cfg.Dispatcher == nil:
		return nil, errors.New("arena must have a dispatcher")
	case cfg.Resolver == nil:
		return nil, errors.New("arena must have a resolver")
	case cfg.Coordinator == nil:
		return nil, errors.New("arena must have a coordinator")
	}
	a := &Arena{
		log:      cfg.Log,
		inv:      cfg.Inventory,
		builder:  cfg.Builder,
		disp:     cfg.Dispatcher,
		resolver: cfg.Resolver,
		coord:    cfg.Coordinator,
		catalog:  cfg.Catalog,
		journal:  cfg.Journal,
		opponent: strings.TrimSpace(cfg.Opponent),
		cardType: cfg.Builder.StructType("card", "Card"),
		timeout:  cfg.RefreshTimeout,
	}
	if a.log == nil {
		a.log = slog.Disabled
	}
	if a.timeout <= 0 {
		a.timeout = 15 * time.Second
	}
	return a, nil
}

// Inventory returns the player's playable cards in wallet order.
func (a *Arena) Inventory(ctx context.Context) ([]deck.Asset, error) {
	objs, err := a.inv.GetOwnedObjects(ctx, a.coord.Owner(), a.cardType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInventory, err)
	}
	cards := deck.FilterGameCards(deck.FromObjects(objs))
	if a.catalog != nil {
		cards = a.catalog.Enrich(cards)
	}
	return cards, nil
}

// pledge picks a random pledge from the wallet or reports why it can't.
func (a *Arena) pledge(ctx context.Context) ([]string, error) {
	cards, err := a.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	if !deck.CanPledge(cards, txn.PledgeSize) {
		return nil, fmt.Errorf("%w: have %d, need %d", deck.ErrInsufficientCards, len(cards), txn.PledgeSize)
	}
	picked, err := deck.SelectRandom(cards, txn.PledgeSize)
	if err != nil {
		return nil, err
	}
	return deck.IDs(picked), nil
}

func (a *Arena) CreateLobby(ctx context.Context, cb Callbacks) error {
	pledge, err := a.pledge(ctx)
	if err != nil {
		return err
	}
	p, err := a.builder.CreateLobby(pledge)
	if err != nil {
		return err
	}
	a.submit(ctx, p, pledge, cb)
	return nil
}

func (a *Arena) JoinLobby(ctx context.Context, lobbyID string, cb Callbacks) error {
	if !txn.ValidID(lobbyID) {
		return fmt.Errorf("%w: lobby %q", txn.ErrInvalidID, lobbyID)
	}
	pledge, err := a.pledge(ctx)
	if err != nil {
		return err
	}
	p, err := a.builder.JoinLobby(lobbyID, pledge)
	if err != nil {
		return err
	}
	a.submit(ctx, p, pledge, cb)
	return nil
}

// StartDuel opens a game against opponent, or the configured default
// opponent when empty. Once submitted, the new game object is located and
// tracked. When the node can't produce the transaction, the shared object is
// taken from the effects the signer returned; if that fails too the view is
// refreshed from owned objects instead.
func (a *Arena) StartDuel(ctx context.Context, opponent string, cb Callbacks) error {
	opponent = strings.TrimSpace(opponent)
	if opponent == "" {
		opponent = a.opponent
	}
	if opponent == "" {
		return ErrNoOpponent
	}
	if !txn.ValidID(opponent) {
		return fmt.Errorf("%w: opponent %q", txn.ErrInvalidID, opponent)
	}
	pledge, err := a.pledge(ctx)
	if err != nil {
		return err
	}
	p, err := a.builder.CreateDuel(pledge, opponent)
	if err != nil {
		return err
	}
	a.disp.Dispatch(ctx, p, txn.Callbacks{
		OnSuccess: func(r txn.Result) { cb.success(a.settleDuel(ctx, p.Op, r, pledge)) },
		OnError:   cb.fail,
	})
	return nil
}

func (a *Arena) settleDuel(ctx context.Context, op txn.Op, r txn.Result, pledge []string) Outcome {
	out := Outcome{Op: op, Tx: r, Pledge: pledge}

	pending, rctx := a.coord.Begin(r.Digest)
	res, err := a.resolver.Resolve(rctx, r.Digest)
	a.coord.Finish(pending)
	if err != nil && !errors.Is(err, effects.ErrTransactionFailed) && !errors.Is(err, effects.ErrCancelled) {
		if sub, serr := effects.FromSubmission(r.Digest, r.Effects); serr == nil {
			a.log.Infof("Duel %s: %v; using the submission's effects", r.Digest, err)
			sub.Attempts = res.Attempts
			res, err = sub, nil
		} else {
			a.log.Debugf("Duel %s submission effects: %v", r.Digest, serr)
		}
	}
	a.record(ctx, res, err)

	if err != nil {
		a.log.Warnf("Duel %s not resolved, refreshing owned games: %v", r.Digest, err)
		out.View = a.refresh(ctx)
		return out
	}
	a.log.Infof("Duel %s resolved to %s after %d attempts (%s)", r.Digest, res.ObjectID, res.Attempts, res.Source)
	out.Resolution = &res

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	view, err := a.coord.Track(tctx, res.ObjectID)
	if err != nil {
		a.log.Warnf("Refresh after duel %s: %v", r.Digest, err)
		view = a.coord.View()
	}
	out.View = view
	return out
}

func (a *Arena) PlayTurn(ctx context.Context, gameID string, cb Callbacks) error {
	return a.gameOp(ctx, a.builder.PlayTurn, gameID, cb)
}

func (a *Arena) SwapCard(ctx context.Context, gameID string, cb Callbacks) error {
	return a.gameOp(ctx, a.builder.SwapCard, gameID, cb)
}

func (a *Arena) ResolveGame(ctx context.Context, gameID string, cb Callbacks) error {
	return a.gameOp(ctx, a.builder.ResolveGame, gameID, cb)
}

func (a *Arena) AbandonGame(ctx context.Context, gameID string, cb Callbacks) error {
	return a.gameOp(ctx, a.builder.AbandonGame, gameID, cb)
}

func (a *Arena) gameOp(ctx context.Context, build func(string) (txn.Payload, error), gameID string, cb Callbacks) error {
	p, err := build(gameID)
	if err != nil {
		return err
	}
	a.submit(ctx, p, nil, cb)
	return nil
}

// MintStarterCards mints the starter pack into the player's wallet.
func (a *Arena) MintStarterCards(ctx context.Context, cb Callbacks) error {
	p, err := a.builder.MintCards(txn.StarterCards())
	if err != nil {
		return err
	}
	a.submit(ctx, p, nil, cb)
	return nil
}

// Refresh re-reads the session state from the chain.
func (a *Arena) Refresh(ctx context.Context) (session.View, error) {
	return a.coord.Refresh(ctx)
}

// Wait blocks until every submitted action has settled.
func (a *Arena) Wait() { a.disp.Wait() }

func (a *Arena) submit(ctx context.Context, p txn.Payload, pledge []string, cb Callbacks) {
	a.disp.Dispatch(ctx, p, txn.Callbacks{
		OnSuccess: func(r txn.Result) {
			cb.success(Outcome{Op: p.Op, Tx: r, Pledge: pledge, View: a.refresh(ctx)})
		},
		OnError: cb.fail,
	})
}

// refresh runs after the caller may have gone away, so it detaches from
// ctx. Failures keep the previous view.
func (a *Arena) refresh(ctx context.Context) session.View {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	v, err := a.coord.Refresh(rctx)
	if err != nil {
		a.log.Warnf("Refresh: %v", err)
	}
	return v
}

func (a *Arena) record(ctx context.Context, res effects.Resolution, err error) {
	if a.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()
	if jerr := a.journal.RecordResolution(jctx, res, err); jerr != nil {
		a.log.Warnf("journal resolution %s: %v", res.Digest, jerr)
	}
}
