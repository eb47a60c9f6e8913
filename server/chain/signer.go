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
	"time"

	"card-arena/server/txn"

	"github.com/decred/slog"
)

type SignerConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	Log        slog.Logger
	HTTPClient *http.Client
}

// SignerClient talks to the wallet daemon that holds the player's keys. It
// implements txn.Signer.
type SignerClient struct {
	base  string
	token string
	http  *http.Client
	log   slog.Logger
}

var _ txn.Signer = (*SignerClient)(nil)

func NewSignerClient(cfg SignerConfig) (*SignerClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("signer url missing")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &SignerClient{base: base, token: strings.TrimSpace(cfg.Token), http: hc, log: log}, nil
}

type signResponse struct {
	Digest  string          `json:"digest"`
	Effects json.RawMessage `json:"effects"`
	Error   string          `json:"error"`
}

// SignAndExecute asks the wallet to sign p and submit it to the network.
func (s *SignerClient) SignAndExecute(ctx context.Context, p txn.Payload) (txn.Result, error) {
	body, err := json.Marshal(map[string]any{
		"transaction": p,
		"options":     map[string]bool{"showEffects": true},
	})
	if err != nil {
		return txn.Result{}, err
	}
	var sr signResponse
	if err := s.do(ctx, http.MethodPost, "/v1/sign-and-execute", body, &sr); err != nil {
		return txn.Result{}, err
	}
	if sr.Error != "" {
		return txn.Result{}, fmt.Errorf("signer: %s", sr.Error)
	}
	return txn.Result{Digest: sr.Digest, Effects: sr.Effects}, nil
}

// Address returns the account the wallet signs for.
func (s *SignerClient) Address(ctx context.Context) (string, error) {
	var res struct {
		Address string `json:"address"`
	}
	if err := s.do(ctx, http.MethodGet, "/v1/address", nil, &res); err != nil {
		return "", err
	}
	if !txn.ValidID(res.Address) {
		return "", fmt.Errorf("signer returned invalid address %q", res.Address)
	}
	return res.Address, nil
}

func (s *SignerClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("signer http %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("signer http %d: %s", resp.StatusCode, truncate(string(raw), 400))
	}
	s.log.Tracef("%s %s -> %d", method, path, resp.StatusCode)
	return json.Unmarshal(raw, out)
}
