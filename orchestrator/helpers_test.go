package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/cfxrouter/gateway/types"
)

func hashForTest(token string) string {
	sum := sha256.Sum256([]byte("test-salt" + ":" + token))
	return hex.EncodeToString(sum[:])
}

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]types.LogEntry
}

func (w *fakeWriter) WriteBatch(_ context.Context, entries []types.LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := make([]types.LogEntry, len(entries))
	copy(cp, entries)
	w.batches = append(w.batches, cp)
	return nil
}
