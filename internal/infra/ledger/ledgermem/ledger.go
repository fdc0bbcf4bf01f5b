// Package ledgermem is the in-process audit log backend. It backs the CLI's
// local runs and the test suites; semantics match ledgerpg entry for entry.
package ledgermem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/ledger"
)

type Log struct {
	mu     sync.RWMutex
	topics map[string]*topicState
	clock  func() time.Time
}

type topicState struct {
	entries []domain.AuditEntry
	leaves  [][]byte
}

func New() *Log {
	return NewWithClock(time.Now)
}

func NewWithClock(clock func() time.Time) *Log {
	if clock == nil {
		clock = time.Now
	}
	return &Log{
		topics: make(map[string]*topicState),
		clock:  clock,
	}
}

func (l *Log) Append(ctx context.Context, topic string, payload []byte) (domain.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	if topic == "" {
		return domain.AuditEntry{}, fmt.Errorf("%w: empty topic", domain.ErrLogRejected)
	}
	if len(payload) == 0 {
		return domain.AuditEntry{}, fmt.Errorf("%w: empty payload", domain.ErrLogRejected)
	}
	if len(payload) > ledger.MaxPayloadBytes {
		return domain.AuditEntry{}, fmt.Errorf("%w: payload %d bytes exceeds %d", domain.ErrLogRejected, len(payload), ledger.MaxPayloadBytes)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.topics[topic]
	if state == nil {
		state = &topicState{}
		l.topics[topic] = state
	}

	prevHash := domain.AuditZeroHash
	if n := len(state.entries); n > 0 {
		prevHash = state.entries[n-1].Fingerprint
	}
	seq := int64(len(state.entries)) + 1
	createdAt := l.clock().UTC()
	payloadHash := ledger.PayloadHash(payload)
	fingerprint := ledger.Fingerprint(topic, seq, payloadHash, prevHash, createdAt)

	entry := domain.AuditEntry{
		ID:          uuid.NewString(),
		Topic:       topic,
		Seq:         seq,
		Payload:     append([]byte(nil), payload...),
		PayloadHash: payloadHash,
		PrevHash:    prevHash,
		Fingerprint: fingerprint,
		CreatedAt:   createdAt,
	}

	leaf, err := ledger.LeafHash(fingerprint)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	state.entries = append(state.entries, entry)
	state.leaves = append(state.leaves, leaf)
	return cloneEntry(entry), nil
}

// FetchRange returns entries with from <= seq <= to in ascending order. A to
// of zero means the latest committed sequence. Unknown topics yield nothing.
func (l *Log) FetchRange(ctx context.Context, topic string, from, to int64) ([]domain.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	state := l.topics[topic]
	if state == nil {
		return nil, nil
	}
	max := int64(len(state.entries))
	if from < 1 {
		from = 1
	}
	if to == 0 || to > max {
		to = max
	}
	if from > to {
		return nil, nil
	}
	out := make([]domain.AuditEntry, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		out = append(out, cloneEntry(state.entries[seq-1]))
	}
	return out, nil
}

func (l *Log) Verify(entry domain.AuditEntry) bool {
	return ledger.VerifyEntry(entry)
}

func (l *Log) Checkpoint(ctx context.Context, topic string) (domain.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	cp := domain.Checkpoint{Topic: topic, IssuedAt: l.clock().UTC()}
	state := l.topics[topic]
	if state == nil || len(state.leaves) == 0 {
		return cp, nil
	}
	root, err := ledger.Root(state.leaves)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	cp.TreeSize = int64(len(state.leaves))
	cp.RootHash = root
	return cp, nil
}

func (l *Log) Prove(ctx context.Context, topic string, seq int64) (domain.InclusionProof, error) {
	if err := ctx.Err(); err != nil {
		return domain.InclusionProof{}, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	state := l.topics[topic]
	if state == nil || seq < 1 || seq > int64(len(state.leaves)) {
		return domain.InclusionProof{}, domain.ErrNotFound
	}
	path, err := ledger.InclusionPath(state.leaves, int(seq-1))
	if err != nil {
		return domain.InclusionProof{}, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	root, err := ledger.Root(state.leaves)
	if err != nil {
		return domain.InclusionProof{}, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	return domain.InclusionProof{
		Topic:     topic,
		Seq:       seq,
		LeafIndex: seq - 1,
		Path:      path,
		TreeSize:  int64(len(state.leaves)),
		RootHash:  root,
	}, nil
}

func cloneEntry(e domain.AuditEntry) domain.AuditEntry {
	e.Payload = append([]byte(nil), e.Payload...)
	return e
}
