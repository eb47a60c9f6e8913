package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"card-arena/server/arena"
	"card-arena/server/catalog"
	"card-arena/server/chain"
	"card-arena/server/deck"
	"card-arena/server/effects"
	"card-arena/server/session"
	"card-arena/server/store"
	"card-arena/server/txn"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPkg = "0x4c"

type stubNode struct {
	mu      sync.Mutex
	cards   int
	objects map[string]chain.Object
}

func (n *stubNode) GetOwnedObjects(ctx context.Context, owner, structType string) ([]chain.Object, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if structType != testPkg+"::card::Card" {
		return nil, nil
	}
	var out []chain.Object
	for i := 0; i < n.cards; i++ {
		out = append(out, chain.Object{ID: fmt.Sprintf("0x%x", 0x100+i), Fields: map[string]any{"name": "Blobby", "game": deck.GameCardTag}})
	}
	return out, nil
}

func (n *stubNode) GetObject(ctx context.Context, id string) (chain.Object, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if o, ok := n.objects[id]; ok {
		return o, nil
	}
	return chain.Object{}, chain.ErrObjectNotFound
}

type stubSigner struct{ err error }

func (s stubSigner) SignAndExecute(ctx context.Context, p txn.Payload) (txn.Result, error) {
	if s.err != nil {
		return txn.Result{}, s.err
	}
	return txn.Result{Digest: "Dig" + string(p.Op)}, nil
}

type stubResolver struct{ id string }

func (r stubResolver) Resolve(ctx context.Context, digest string) (effects.Resolution, error) {
	if r.id == "" {
		return effects.Resolution{Digest: digest, Attempts: 5}, effects.ErrNotIndexed
	}
	return effects.Resolution{Digest: digest, ObjectID: r.id, Attempts: 1, Source: effects.SourceEffects}, nil
}

type stubHistory []store.HistoryEntry

func (h stubHistory) History(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	return append([]store.HistoryEntry(nil), h...), nil
}

type testServer struct {
	handler http.Handler
	api     *api
	node    *stubNode
}

func newTestServer(t *testing.T, cards int, signerErr error, resolveTo string) *testServer {
	t.Helper()
	node := &stubNode{cards: cards, objects: map[string]chain.Object{}}
	b, err := txn.NewBuilder(testPkg)
	require.NoError(t, err)
	d, err := txn.NewDispatcher(txn.DispatcherConfig{Signer: stubSigner{err: signerErr}})
	require.NoError(t, err)
	coord, err := session.NewCoordinator(session.CoordinatorConfig{
		Querier: node, Owner: "0xabc",
		GameType: b.StructType("game", "Game"), LobbyType: b.StructType("game", "Lobby"),
	})
	require.NoError(t, err)
	t.Cleanup(coord.Close)
	cat, err := catalog.Load("")
	require.NoError(t, err)
	ar, err := arena.New(arena.Config{
		Inventory: node, Builder: b, Dispatcher: d, Resolver: stubResolver{id: resolveTo},
		Coordinator: coord, Catalog: cat, Opponent: "0xdef",
	})
	require.NoError(t, err)
	s := &api{
		arena: ar, coord: coord, catalog: cat, timeout: 5 * time.Second, upgrader: newUpgrader(),
		network: chain.Network{Name: "testnet", ExplorerURL: "https://explorer", PackageID: testPkg},
	}
	return &testServer{handler: Router(s), api: s, node: node}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestHealthAndNetwork(t *testing.T) {
	ts := newTestServer(t, 0, nil, "")
	code, body := ts.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	code, body = ts.do(t, http.MethodGet, "/api/network", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0xabc", body["account"])
}

func TestCardsReportsPledgeReadiness(t *testing.T) {
	ts := newTestServer(t, 3, nil, "")
	code, body := ts.do(t, http.MethodGet, "/api/cards", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["cards"], 3)
	assert.Equal(t, false, body["can_pledge"])
	assert.EqualValues(t, txn.PledgeSize, body["pledge_size"])
}

func TestCreateLobbyWithoutEnoughCardsIsConflict(t *testing.T) {
	ts := newTestServer(t, 6, nil, "")
	code, body := ts.do(t, http.MethodPost, "/api/lobbies", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "not enough game cards")
}

func TestGameActionRejectsMalformedID(t *testing.T) {
	ts := newTestServer(t, 0, nil, "")
	code, _ := ts.do(t, http.MethodPost, "/api/games/not-an-id/turn", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGameActionSucceeds(t *testing.T) {
	ts := newTestServer(t, 0, nil, "")
	code, body := ts.do(t, http.MethodPost, "/api/games/0x5/swap", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "swap_card", body["op"])
	assert.Equal(t, "https://explorer/txblock/Digswap_card", body["explorer_url"])
	assert.NotNil(t, body["view"])
}

func TestSubmitFailureIsBadGateway(t *testing.T) {
	ts := newTestServer(t, 0, errors.New("wallet locked"), "")
	code, body := ts.do(t, http.MethodPost, "/api/games/0x5/resolve", "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body["error"], "wallet locked")
}

func TestDuelResolvesGame(t *testing.T) {
	ts := newTestServer(t, 7, nil, "0x99")
	ts.node.objects["0x99"] = chain.Object{ID: "0x99", Type: testPkg + "::game::Game", Owner: &chain.Owner{Kind: chain.OwnerShared}}

	code, body := ts.do(t, http.MethodPost, "/api/duels", `{"opponent":"0x123"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "https://explorer/object/0x99", body["object_url"])
	view := body["view"].(map[string]any)
	assert.Equal(t, "playing", view["status"])

	code, body = ts.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0x99", body["resolved_id"])
}

func TestDuelWithoutResolutionStillSucceeds(t *testing.T) {
	ts := newTestServer(t, 7, nil, "")
	code, body := ts.do(t, http.MethodPost, "/api/duels", "")
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["resolution"])
	assert.Equal(t, "Digcreate_poc_game", body["tx"].(map[string]any)["digest"])
}

func TestDuelRejectsBadBody(t *testing.T) {
	ts := newTestServer(t, 7, nil, "")
	code, _ := ts.do(t, http.MethodPost, "/api/duels", `{"opponent":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, 0, nil, "")
	code, _ := ts.do(t, http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	ts.api.history = stubHistory{{ID: 1, Op: "play_turn", Digest: "D1"}}
	code, body := ts.do(t, http.MethodGet, "/api/history?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	rows := body["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://explorer/txblock/D1", rows[0].(map[string]any)["explorer_url"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("x: %w", deck.ErrInsufficientCards)))
	assert.Equal(t, http.StatusBadRequest, statusFor(txn.ErrPledgeSize))
	assert.Equal(t, http.StatusBadRequest, statusFor(arena.ErrNoOpponent))
	assert.Equal(t, http.StatusBadGateway, statusFor(&txn.SubmitError{Op: txn.OpPlayTurn, Err: errors.New("x")}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestSessionStream(t *testing.T) {
	ts := newTestServer(t, 0, nil, "")
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() session.View {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, b, err := conn.ReadMessage()
		require.NoError(t, err)
		var v session.View
		require.NoError(t, json.Unmarshal(b, &v))
		return v
	}

	assert.Equal(t, session.StatusNone, read().Status)

	_, ctx := ts.api.coord.Begin("D7")
	require.NoError(t, ctx.Err())
	v := read()
	require.NotNil(t, v.Pending)
	assert.Equal(t, "D7", v.Pending.Digest)
}
