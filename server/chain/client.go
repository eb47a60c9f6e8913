package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
)

var ErrObjectNotFound = errors.New("object not found")

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type ClientConfig struct {
	URL        string
	Timeout    time.Duration
	PageLimit  int
	MaxPages   int
	Log        slog.Logger
	HTTPClient *http.Client
}

// Client is a minimal JSON-RPC client for a fullnode's read API.
type Client struct {
	url       string
	http      *http.Client
	log       slog.Logger
	pageLimit int
	maxPages  int
	nextID    atomic.Uint64
}

func NewClient(cfg ClientConfig) (*Client, error) {
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" {
		return nil, errors.New("rpc url missing")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	c := &Client{url: url, http: hc, log: log, pageLimit: cfg.PageLimit, maxPages: cfg.MaxPages}
	if c.pageLimit <= 0 {
		c.pageLimit = 50
	}
	if c.maxPages <= 0 {
		c.maxPages = 20
	}
	return c, nil
}

func (c *Client) URL() string { return c.url }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	b, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: http %d: %s", method, resp.StatusCode, truncate(string(body), 400))
	}

	var rr rpcResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return fmt.Errorf("%s: decode: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%s: %w", method, rr.Error)
	}
	if out == nil {
		return nil
	}
	if len(rr.Result) == 0 || bytes.Equal(rr.Result, []byte("null")) {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

var objectOptions = map[string]any{"showType": true, "showOwner": true, "showContent": true}

// GetOwnedObjects lists objects of structType owned by owner, following
// cursors until the node reports no further pages.
func (c *Client) GetOwnedObjects(ctx context.Context, owner, structType string) ([]Object, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, errors.New("owner missing")
	}
	query := map[string]any{"options": objectOptions}
	if structType != "" {
		query["filter"] = map[string]any{"StructType": structType}
	}

	var out []Object
	var cursor any
	for page := 0; page < c.maxPages; page++ {
		var res struct {
			Data        []objectResponse `json:"data"`
			NextCursor  *string          `json:"nextCursor"`
			HasNextPage bool             `json:"hasNextPage"`
		}
		if err := c.call(ctx, "suix_getOwnedObjects", []any{owner, query, cursor, c.pageLimit}, &res); err != nil {
			return nil, err
		}
		for _, r := range res.Data {
			if r.Data != nil {
				out = append(out, r.Data.object())
			}
		}
		if !res.HasNextPage || res.NextCursor == nil {
			return out, nil
		}
		cursor = *res.NextCursor
	}
	c.log.Warnf("owned objects for %s truncated after %d pages", owner, c.maxPages)
	return out, nil
}

// GetObject fetches one object by id. Missing or deleted objects yield
// ErrObjectNotFound.
func (c *Client) GetObject(ctx context.Context, id string) (Object, error) {
	var res objectResponse
	if err := c.call(ctx, "sui_getObject", []any{id, objectOptions}, &res); err != nil {
		return Object{}, err
	}
	if res.Error != nil {
		return Object{}, fmt.Errorf("%w: %s (%s)", ErrObjectNotFound, id, res.Error.Code)
	}
	if res.Data == nil {
		return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return res.Data.object(), nil
}

// GetTransactionBlock returns the effects and object changes of an executed
// transaction. Nodes answer with an error until the digest is indexed.
func (c *Client) GetTransactionBlock(ctx context.Context, digest string) (*TransactionBlock, error) {
	opts := map[string]any{"showEffects": true, "showObjectChanges": true}
	var tb TransactionBlock
	if err := c.call(ctx, "sui_getTransactionBlock", []any{digest, opts}, &tb); err != nil {
		return nil, err
	}
	return &tb, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
