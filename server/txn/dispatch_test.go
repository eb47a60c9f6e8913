package txn

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	mu    sync.Mutex
	calls []Payload
	res   Result
	err   error
	block chan struct{}
}

func (s *fakeSigner) SignAndExecute(ctx context.Context, p Payload) (Result, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p)
	return s.res, s.err
}

type memJournal struct {
	mu   sync.Mutex
	subs []Submission
}

func (j *memJournal) RecordSubmission(ctx context.Context, s Submission) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.subs = append(j.subs, s)
	return nil
}

func TestNewDispatcherRequiresSigner(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{})
	require.Error(t, err)
}

func TestDispatchSuccessInvokesCallback(t *testing.T) {
	signer := &fakeSigner{res: Result{Digest: "D1"}}
	journal := &memJournal{}
	d, err := NewDispatcher(DispatcherConfig{Signer: signer, Journal: journal})
	require.NoError(t, err)

	var got Result
	var failed error
	d.Dispatch(context.Background(), Payload{Op: OpPlayTurn}, Callbacks{
		OnSuccess: func(r Result) { got = r },
		OnError:   func(err error) { failed = err },
	})
	d.Wait()

	require.NoError(t, failed)
	assert.Equal(t, "D1", got.Digest)
	require.Len(t, journal.subs, 1)
	assert.Equal(t, OpPlayTurn, journal.subs[0].Op)
	assert.Equal(t, "D1", journal.subs[0].Digest)
}

func TestDispatchFailureIsTerminal(t *testing.T) {
	signer := &fakeSigner{err: errors.New("user rejected")}
	journal := &memJournal{}
	d, err := NewDispatcher(DispatcherConfig{Signer: signer, Journal: journal})
	require.NoError(t, err)

	var failed error
	succeeded := false
	d.Dispatch(context.Background(), Payload{Op: OpSwapCard}, Callbacks{
		OnSuccess: func(Result) { succeeded = true },
		OnError:   func(err error) { failed = err },
	})
	d.Wait()

	assert.False(t, succeeded)
	var serr *SubmitError
	require.ErrorAs(t, failed, &serr)
	assert.Equal(t, OpSwapCard, serr.Op)
	assert.Len(t, signer.calls, 1, "no automatic retry")
	require.Len(t, journal.subs, 1)
	assert.Equal(t, "user rejected", journal.subs[0].Err)
}

func TestDispatchTreatsEmptyDigestAsFailure(t *testing.T) {
	d, err := NewDispatcher(DispatcherConfig{Signer: &fakeSigner{}})
	require.NoError(t, err)

	var failed error
	d.Dispatch(context.Background(), Payload{Op: OpCreateLobby}, Callbacks{OnError: func(err error) { failed = err }})
	d.Wait()
	assert.ErrorIs(t, failed, errNoDigest)
}

func TestDispatchDoesNotBlockCaller(t *testing.T) {
	signer := &fakeSigner{res: Result{Digest: "D2"}, block: make(chan struct{})}
	d, err := NewDispatcher(DispatcherConfig{Signer: signer})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	d.Dispatch(ctx, Payload{Op: OpAbandonGame}, Callbacks{OnSuccess: func(r Result) { done <- r }})
	cancel() // caller going away must not abort the submission

	close(signer.block)
	d.Wait()
	assert.Equal(t, "D2", (<-done).Digest)
}
