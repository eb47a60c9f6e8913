package txn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
)

// Signer signs a payload with the player's wallet and submits it.
type Signer interface {
	SignAndExecute(ctx context.Context, p Payload) (Result, error)
}

// Journal records submissions. Implementations must be safe for concurrent use.
type Journal interface {
	RecordSubmission(ctx context.Context, s Submission) error
}

// Result is what the signer reports for an accepted transaction.
type Result struct {
	Digest  string          `json:"digest"`
	Effects json.RawMessage `json:"effects,omitempty"`
}

// Submission is the journal entry for one dispatch attempt.
type Submission struct {
	Op      Op
	Payload Payload
	Digest  string
	Err     string
	At      time.Time
}

// Callbacks receive the outcome of a dispatch. Either may be nil.
type Callbacks struct {
	OnSuccess func(Result)
	OnError   func(error)
}

func (cb Callbacks) success(r Result) {
	if cb.OnSuccess != nil {
		cb.OnSuccess(r)
	}
}

func (cb Callbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

// SubmitError wraps any failure reported while signing or submitting. Wallet
// rejections, transport errors and contract aborts all surface as this type.
type SubmitError struct {
	Op  Op
	Err error
}

func (e *SubmitError) Error() string { return fmt.Sprintf("submit %s: %v", e.Op, e.Err) }
func (e *SubmitError) Unwrap() error { return e.Err }

var errNoDigest = errors.New("signer returned no digest")

type DispatcherConfig struct {
	Log           slog.Logger
	Signer        Signer
	Journal       Journal // optional
	SubmitTimeout time.Duration
}

// Dispatcher submits payloads in the background and reports through callbacks.
// It never retries and keeps no state about the payloads it has sent.
type Dispatcher struct {
	log     slog.Logger
	signer  Signer
	journal Journal
	timeout time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Signer == nil {
		return nil, errors.New("dispatcher must have a signer")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	timeout := cfg.SubmitTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Dispatcher{log: log, signer: cfg.Signer, journal: cfg.Journal, timeout: timeout}, nil
}

// Dispatch hands p to the signer on a new goroutine and returns immediately.
// The submission outlives ctx cancellation; only the submit timeout bounds it.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload, cb Callbacks) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		d.log.Debugf("submitting %s", p)
		res, err := d.signer.SignAndExecute(sctx, p)
		if err == nil && res.Digest == "" {
			err = errNoDigest
		}
		if err != nil {
			serr := &SubmitError{Op: p.Op, Err: err}
			d.log.Errorf("Error %s: %v", p.Op, err)
			d.record(sctx, Submission{Op: p.Op, Payload: p, Err: err.Error(), At: time.Now().UTC()})
			cb.fail(serr)
			return
		}
		d.log.Infof("%s submitted: %s", p.Op, res.Digest)
		d.record(sctx, Submission{Op: p.Op, Payload: p, Digest: res.Digest, At: time.Now().UTC()})
		cb.success(res)
	}()
}

// Wait blocks until every dispatched submission has reported.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) record(ctx context.Context, s Submission) {
	if d.journal == nil {
		return
	}
	if err := d.journal.RecordSubmission(ctx, s); err != nil {
		d.log.Warnf("journal %s: %v", s.Op, err)
	}
}
