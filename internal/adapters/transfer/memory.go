package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gearmarket/escrow-service/internal/ports"
)

var ErrScriptedFailure = errors.New("scripted transfer failure")

// FakeClient is a scriptable transfer provider for tests and local runs.
// FailNext(key, n) makes the next n Transfer calls for that idempotency key
// fail; settled transfers are remembered so idempotent retries and
// reconciliation lookups behave like the real provider.
type FakeClient struct {
	mu       sync.Mutex
	settled  map[string]string
	failures map[string]int
	calls    int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{settled: map[string]string{}, failures: map[string]int{}}
}

func (f *FakeClient) FailNext(idempotencyKey string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[idempotencyKey] = times
}

// Settle records a transfer as settled provider-side without a Transfer
// call, simulating a timed-out request that actually went through.
func (f *FakeClient) Settle(idempotencyKey, transferID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled[idempotencyKey] = transferID
}

func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) Transfer(_ context.Context, _ string, _ int64, _, idempotencyKey string) (ports.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if remaining := f.failures[idempotencyKey]; remaining > 0 {
		f.failures[idempotencyKey] = remaining - 1
		return ports.TransferResult{}, ErrScriptedFailure
	}
	if id, ok := f.settled[idempotencyKey]; ok {
		return ports.TransferResult{TransferID: id}, nil
	}
	id := fmt.Sprintf("tr_%s", idempotencyKey)
	f.settled[idempotencyKey] = id
	return ports.TransferResult{TransferID: id}, nil
}

func (f *FakeClient) LookupByIdempotencyKey(_ context.Context, idempotencyKey string) (ports.TransferResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.settled[idempotencyKey]
	if !ok {
		return ports.TransferResult{}, false, nil
	}
	return ports.TransferResult{TransferID: id}, true, nil
}

var _ ports.TransferClient = (*HTTPClient)(nil)
var _ ports.TransferClient = (*FakeClient)(nil)
