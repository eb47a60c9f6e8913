package arena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"card-arena/server/catalog"
	"card-arena/server/chain"
	"card-arena/server/deck"
	"card-arena/server/effects"
	"card-arena/server/session"
	"card-arena/server/txn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPkg  = "0x4c"
	player   = "0xabc"
	opponent = "0xdef"
)

// fakeNode serves wallet cards, owned games and direct object reads.
type fakeNode struct {
	mu      sync.Mutex
	cards   int
	games   []chain.Object
	objects map[string]chain.Object
	reads   map[string]int
}

func (n *fakeNode) GetOwnedObjects(ctx context.Context, owner, structType string) ([]chain.Object, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reads == nil {
		n.reads = map[string]int{}
	}
	n.reads[structType]++
	switch structType {
	case testPkg + "::card::Card":
		var out []chain.Object
		for i := 0; i < n.cards; i++ {
			out = append(out, chain.Object{ID: fmt.Sprintf("0x%x", 0x100+i), Fields: map[string]any{
				"name": "Scout", "game": deck.GameCardTag, "value": "27",
			}})
			// non-game items the filter must skip
			out = append(out, chain.Object{ID: fmt.Sprintf("0x%x", 0x900+i), Fields: map[string]any{"name": "Badge", "game": "Badge"}})
		}
		return out, nil
	case testPkg + "::game::Game":
		return n.games, nil
	}
	return nil, nil
}

func (n *fakeNode) GetObject(ctx context.Context, id string) (chain.Object, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	o, ok := n.objects[id]
	if !ok {
		return chain.Object{}, chain.ErrObjectNotFound
	}
	return o, nil
}

func (n *fakeNode) readCount(structType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reads[structType]
}

type fakeSigner struct {
	mu      sync.Mutex
	sent    []txn.Payload
	err     error
	effects json.RawMessage
}

func (s *fakeSigner) SignAndExecute(ctx context.Context, p txn.Payload) (txn.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, p)
	if s.err != nil {
		return txn.Result{}, s.err
	}
	return txn.Result{Digest: fmt.Sprintf("D%d", len(s.sent)), Effects: s.effects}, nil
}

func (s *fakeSigner) payloads() []txn.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]txn.Payload(nil), s.sent...)
}

type fakeResolver struct {
	res effects.Resolution
	err error
}

func (r fakeResolver) Resolve(ctx context.Context, digest string) (effects.Resolution, error) {
	res := r.res
	res.Digest = digest
	return res, r.err
}

type memJournal struct {
	mu   sync.Mutex
	errs []error
}

func (j *memJournal) RecordResolution(ctx context.Context, res effects.Resolution, err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errs = append(j.errs, err)
	return nil
}

type harness struct {
	arena   *Arena
	node    *fakeNode
	signer  *fakeSigner
	journal *memJournal
}

func newHarness(t *testing.T, cards int, res Resolver) *harness {
	t.Helper()
	node := &fakeNode{cards: cards, objects: map[string]chain.Object{}}
	signer := &fakeSigner{}
	b, err := txn.NewBuilder(testPkg)
	require.NoError(t, err)
	d, err := txn.NewDispatcher(txn.DispatcherConfig{Signer: signer})
	require.NoError(t, err)
	coord, err := session.NewCoordinator(session.CoordinatorConfig{
		Querier: node, Owner: player,
		GameType: b.StructType("game", "Game"), LobbyType: b.StructType("game", "Lobby"),
	})
	require.NoError(t, err)
	t.Cleanup(coord.Close)
	cat, err := catalog.Load("")
	require.NoError(t, err)
	j := &memJournal{}
	a, err := New(Config{
		Inventory: node, Builder: b, Dispatcher: d, Resolver: res,
		Coordinator: coord, Catalog: cat, Journal: j, Opponent: opponent,
	})
	require.NoError(t, err)
	return &harness{arena: a, node: node, signer: signer, journal: j}
}

// await collects the single outcome of an action.
func await(t *testing.T, run func(Callbacks) error) (Outcome, error) {
	t.Helper()
	done := make(chan struct{})
	var out Outcome
	var failed error
	require.NoError(t, run(Callbacks{
		OnSuccess: func(o Outcome) { out = o; close(done) },
		OnError:   func(err error) { failed = err; close(done) },
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("action never settled")
	}
	return out, failed
}

func TestInventoryFiltersAndEnriches(t *testing.T) {
	h := newHarness(t, 3, fakeResolver{})
	cards, err := h.arena.Inventory(context.Background())
	require.NoError(t, err)
	require.Len(t, cards, 3)
	for _, c := range cards {
		assert.Equal(t, deck.GameCardTag, c.Game)
		assert.Equal(t, "common", c.Rarity)
		assert.Equal(t, 27, c.Points)
	}
}

func TestPledgeOpsRequireSevenCards(t *testing.T) {
	h := newHarness(t, 6, fakeResolver{})
	ctx := context.Background()

	err := h.arena.CreateLobby(ctx, Callbacks{})
	require.ErrorIs(t, err, deck.ErrInsufficientCards)
	err = h.arena.JoinLobby(ctx, "0x77", Callbacks{})
	require.ErrorIs(t, err, deck.ErrInsufficientCards)
	err = h.arena.StartDuel(ctx, "", Callbacks{})
	require.ErrorIs(t, err, deck.ErrInsufficientCards)

	h.arena.Wait()
	assert.Empty(t, h.signer.payloads(), "nothing reaches the signer")
}

func TestCreateLobbyPledgesSevenDistinctCards(t *testing.T) {
	h := newHarness(t, 10, fakeResolver{})
	out, err := await(t, func(cb Callbacks) error { return h.arena.CreateLobby(context.Background(), cb) })
	require.NoError(t, err)

	assert.Equal(t, txn.OpCreateLobby, out.Op)
	assert.Equal(t, "D1", out.Tx.Digest)
	require.Len(t, out.Pledge, txn.PledgeSize)
	seen := map[string]bool{}
	for _, id := range out.Pledge {
		assert.False(t, seen[id])
		seen[id] = true
	}

	sent := h.signer.payloads()
	require.Len(t, sent, 1)
	assert.Equal(t, out.Pledge, sent[0].Calls[0].Arguments[0].Elements)
	assert.Equal(t, 1, h.node.readCount(testPkg+"::game::Game"), "refreshed after success")
}

func TestJoinLobbyRejectsBadID(t *testing.T) {
	h := newHarness(t, 10, fakeResolver{})
	err := h.arena.JoinLobby(context.Background(), "lobby-1", Callbacks{})
	require.ErrorIs(t, err, txn.ErrInvalidID)
	assert.Zero(t, h.node.readCount(testPkg+"::card::Card"))
}

func TestGameOpsSubmitAndRefresh(t *testing.T) {
	h := newHarness(t, 0, fakeResolver{})
	ctx := context.Background()
	ops := []struct {
		op  txn.Op
		run func(context.Context, string, Callbacks) error
	}{
		{txn.OpPlayTurn, h.arena.PlayTurn},
		{txn.OpSwapCard, h.arena.SwapCard},
		{txn.OpResolveGame, h.arena.ResolveGame},
		{txn.OpAbandonGame, h.arena.AbandonGame},
	}
	for _, o := range ops {
		out, err := await(t, func(cb Callbacks) error { return o.run(ctx, "0x5", cb) })
		require.NoError(t, err)
		assert.Equal(t, o.op, out.Op)
		assert.Nil(t, out.Resolution)
	}
	assert.Equal(t, len(ops), h.node.readCount(testPkg+"::game::Game"))

	err := h.arena.PlayTurn(ctx, "", Callbacks{})
	require.ErrorIs(t, err, txn.ErrInvalidID)
}

func TestSubmitFailureIsReported(t *testing.T) {
	h := newHarness(t, 0, fakeResolver{})
	h.signer.err = errors.New("user rejected")
	_, err := await(t, func(cb Callbacks) error { return h.arena.PlayTurn(context.Background(), "0x5", cb) })
	var serr *txn.SubmitError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, txn.OpPlayTurn, serr.Op)
	assert.Zero(t, h.node.readCount(testPkg+"::game::Game"), "no refresh after failure")
}

func TestStartDuelTracksResolvedGame(t *testing.T) {
	h := newHarness(t, 8, fakeResolver{res: effects.Resolution{ObjectID: "0xg1", Attempts: 3, Source: effects.SourceObjectChanges}})
	h.node.objects["0xg1"] = chain.Object{ID: "0xg1", Type: testPkg + "::game::Game", Owner: &chain.Owner{Kind: chain.OwnerShared}}

	out, err := await(t, func(cb Callbacks) error { return h.arena.StartDuel(context.Background(), "", cb) })
	require.NoError(t, err)

	require.NotNil(t, out.Resolution)
	assert.Equal(t, "0xg1", out.Resolution.ObjectID)
	assert.Equal(t, "D1", out.Resolution.Digest)
	require.NotNil(t, out.View.Active)
	assert.Equal(t, "0xg1", out.View.Active.ID)
	assert.Nil(t, out.View.Pending)

	sent := h.signer.payloads()
	require.Len(t, sent, 1)
	args := sent[0].Calls[0].Arguments
	assert.Equal(t, txn.OpCreateDuel, sent[0].Op)
	assert.Equal(t, opponent, args[1].Value)
	assert.Equal(t, []error{nil}, h.journal.errs)
}

func TestStartDuelFallsBackToRefresh(t *testing.T) {
	h := newHarness(t, 7, fakeResolver{err: effects.ErrNotIndexed})
	h.node.games = []chain.Object{{ID: "0xowned", Type: testPkg + "::game::Game"}}

	out, err := await(t, func(cb Callbacks) error { return h.arena.StartDuel(context.Background(), opponent, cb) })
	require.NoError(t, err, "a lookup miss is still a successful duel")

	assert.Nil(t, out.Resolution)
	require.NotNil(t, out.View.Active)
	assert.Equal(t, "0xowned", out.View.Active.ID)
	require.Len(t, h.journal.errs, 1)
	assert.ErrorIs(t, h.journal.errs[0], effects.ErrNotIndexed)
}

const sharedGameEffects = `{"status":{"status":"success"},"created":[
	{"owner":{"AddressOwner":"0xabc"},"reference":{"objectId":"0xc1"}},
	{"owner":{"Shared":{"initial_shared_version":5}},"reference":{"objectId":"0xg9"}}]}`

func TestStartDuelUsesSubmissionEffectsWhenNotIndexed(t *testing.T) {
	h := newHarness(t, 7, fakeResolver{res: effects.Resolution{Attempts: 5}, err: effects.ErrNotIndexed})
	h.signer.effects = json.RawMessage(sharedGameEffects)
	h.node.objects["0xg9"] = chain.Object{ID: "0xg9", Type: testPkg + "::game::Game", Owner: &chain.Owner{Kind: chain.OwnerShared}}

	out, err := await(t, func(cb Callbacks) error { return h.arena.StartDuel(context.Background(), opponent, cb) })
	require.NoError(t, err)

	require.NotNil(t, out.Resolution)
	assert.Equal(t, "0xg9", out.Resolution.ObjectID)
	assert.Equal(t, effects.SourceSubmission, out.Resolution.Source)
	assert.Equal(t, 5, out.Resolution.Attempts)
	require.NotNil(t, out.View.Active)
	assert.Equal(t, "0xg9", out.View.Active.ID)
	assert.Equal(t, "0xg9", out.View.ResolvedID)
	assert.Equal(t, session.StatusPlaying, out.View.Status)
	assert.Equal(t, []error{nil}, h.journal.errs)
}

func TestStartDuelFailedTransactionSkipsSubmissionEffects(t *testing.T) {
	h := newHarness(t, 7, fakeResolver{err: effects.ErrTransactionFailed})
	h.signer.effects = json.RawMessage(sharedGameEffects)
	h.node.objects["0xg9"] = chain.Object{ID: "0xg9", Type: testPkg + "::game::Game", Owner: &chain.Owner{Kind: chain.OwnerShared}}

	out, err := await(t, func(cb Callbacks) error { return h.arena.StartDuel(context.Background(), opponent, cb) })
	require.NoError(t, err)
	assert.Nil(t, out.Resolution)
	assert.Nil(t, out.View.Active)
}

func TestStartDuelNeedsOpponent(t *testing.T) {
	h := newHarness(t, 7, fakeResolver{})
	h.arena.opponent = ""
	require.ErrorIs(t, h.arena.StartDuel(context.Background(), " ", Callbacks{}), ErrNoOpponent)
	require.ErrorIs(t, h.arena.StartDuel(context.Background(), "bob", Callbacks{}), txn.ErrInvalidID)
}

func TestMintStarterCards(t *testing.T) {
	h := newHarness(t, 0, fakeResolver{})
	out, err := await(t, func(cb Callbacks) error { return h.arena.MintStarterCards(context.Background(), cb) })
	require.NoError(t, err)
	assert.Equal(t, txn.OpMintCards, out.Op)
	sent := h.signer.payloads()
	require.Len(t, sent, 1)
	assert.Len(t, sent[0].Calls, txn.PledgeSize)
}
