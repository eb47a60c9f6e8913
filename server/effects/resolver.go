// Package effects finds the shared object a transaction created. Fullnodes
// index transactions some time after the wallet reports a digest, so the
// lookup is retried a bounded number of times before giving up.
package effects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"card-arena/server/chain"

	"github.com/cenkalti/backoff/v5"
	"github.com/decred/slog"
)

// Querier reads executed transactions from the node.
type Querier interface {
	GetTransactionBlock(ctx context.Context, digest string) (*chain.TransactionBlock, error)
}

var (
	ErrNotIndexed        = errors.New("transaction not indexed")
	ErrNoSharedObject    = errors.New("transaction created no shared object")
	ErrTransactionFailed = errors.New("transaction failed on chain")
	ErrCancelled         = errors.New("resolution cancelled")
)

// Source records how the object id was found.
type Source string

const (
	SourceObjectChanges Source = "object_changes" // typed match
	SourceEffects       Source = "effects"        // first shared creation
	SourceSubmission    Source = "submission"     // signer's raw effects
)

type Resolution struct {
	Digest   string `json:"digest"`
	ObjectID string `json:"object_id"`
	Attempts int    `json:"attempts"`
	Source   Source `json:"source"`
}

type Config struct {
	Log     slog.Logger
	Querier Querier

	MaxAttempts int
	BaseDelay   time.Duration
	MaxElapsed  time.Duration

	// SessionType is the struct type suffix preferred among created objects,
	// e.g. "::game::Game". Empty disables the typed match.
	SessionType string
}

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxElapsed  = 15 * time.Second
)

type Resolver struct {
	log         slog.Logger
	q           Querier
	maxAttempts int
	base        time.Duration
	maxElapsed  time.Duration
	sessionType string
}

func New(cfg Config) (*Resolver, error) {
	if cfg.Querier == nil {
		return nil, errors.New("resolver must have a querier")
	}
	r := &Resolver{
		log:         cfg.Log,
		q:           cfg.Querier,
		maxAttempts: cfg.MaxAttempts,
		base:        cfg.BaseDelay,
		maxElapsed:  cfg.MaxElapsed,
		sessionType: strings.TrimSpace(cfg.SessionType),
	}
	if r.log == nil {
		r.log = slog.Disabled
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = DefaultMaxAttempts
	}
	if r.base <= 0 {
		r.base = DefaultBaseDelay
	}
	if r.maxElapsed <= 0 {
		r.maxElapsed = DefaultMaxElapsed
	}
	return r, nil
}

// linearBackOff waits base*(n+1) before retry n; the first query is delayed
// by base outside of it.
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base * time.Duration(b.n+1)
}

func (b *linearBackOff) Reset() { b.n = 0 }

// Resolve looks up digest until the node returns it, then picks the created
// shared object. The first successful query is final: it is not repeated if
// the transaction turns out to have created nothing shared.
func (r *Resolver) Resolve(ctx context.Context, digest string) (Resolution, error) {
	res := Resolution{Digest: digest}
	if strings.TrimSpace(digest) == "" {
		return res, errors.New("resolve: empty digest")
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, r.maxElapsed)
	defer cancel()

	op := func() (*chain.TransactionBlock, error) {
		res.Attempts++
		tb, err := r.q.GetTransactionBlock(ctx, digest)
		if err != nil {
			r.log.Debugf("%s attempt %d/%d: %v", digest, res.Attempts, r.maxAttempts, err)
			return nil, err
		}
		return tb, nil
	}

	var tb *chain.TransactionBlock
	err := wait(ctx, r.base)
	if err == nil {
		tb, err = backoff.Retry(ctx, op,
			backoff.WithBackOff(&linearBackOff{base: r.base}),
			backoff.WithMaxTries(uint(r.maxAttempts)),
			backoff.WithMaxElapsedTime(r.maxElapsed),
		)
	}
	if err != nil {
		if parent.Err() != nil {
			return res, fmt.Errorf("%w: %s: %w", ErrCancelled, digest, parent.Err())
		}
		return res, fmt.Errorf("%w: %s after %d attempts: %w", ErrNotIndexed, digest, res.Attempts, err)
	}

	if !tb.Succeeded() {
		return res, fmt.Errorf("%w: %s", ErrTransactionFailed, tb.Effects.Status.Error)
	}
	id, src, ok := r.pick(tb)
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrNoSharedObject, digest)
	}
	res.ObjectID, res.Source = id, src
	return res, nil
}

// pick prefers a created shared object of the session type and falls back to
// the first shared creation listed in the effects.
func (r *Resolver) pick(tb *chain.TransactionBlock) (string, Source, bool) {
	if r.sessionType != "" {
		for _, c := range tb.CreatedOfType(r.sessionType) {
			if c.Owner != nil && c.Owner.IsShared() {
				return c.ObjectID, SourceObjectChanges, true
			}
		}
	}
	if id, ok := SharedFromEffects(tb.Effects); ok {
		return id, SourceEffects, true
	}
	return "", "", false
}

// SharedFromEffects returns the first shared object in e's created list.
func SharedFromEffects(e *chain.Effects) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, c := range e.Created {
		if c.Owner.IsShared() && c.Reference.ObjectID != "" {
			return c.Reference.ObjectID, true
		}
	}
	return "", false
}

// FromSubmission locates the shared object in the effects the signer
// returned with the submission, for when the node has not indexed the
// transaction yet.
func FromSubmission(digest string, raw json.RawMessage) (Resolution, error) {
	res := Resolution{Digest: digest}
	if len(raw) == 0 || string(raw) == "null" {
		return res, fmt.Errorf("%w: %s: no effects in submission result", ErrNoSharedObject, digest)
	}
	var e chain.Effects
	if err := json.Unmarshal(raw, &e); err != nil {
		return res, fmt.Errorf("decode submission effects %s: %w", digest, err)
	}
	if e.Status.Status != "" && e.Status.Status != "success" {
		return res, fmt.Errorf("%w: %s", ErrTransactionFailed, e.Status.Error)
	}
	id, ok := SharedFromEffects(&e)
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrNoSharedObject, digest)
	}
	res.ObjectID, res.Source = id, SourceSubmission
	return res, nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
