// Package ledgerpg is the Postgres audit log backend. Sequences are allocated
// from a per-topic counter row locked FOR UPDATE, so committed entries are
// gapless per topic even under concurrent appends.
package ledgerpg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/ledger"
)

type Log struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

func New(pool *pgxpool.Pool) *Log {
	return &Log{pool: pool, clock: time.Now}
}

func Connect(ctx context.Context, dsn string) (*Log, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(pool), nil
}

func (l *Log) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_topic_seq (
	topic TEXT PRIMARY KEY,
	seq BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_entries (
	id UUID PRIMARY KEY,
	topic TEXT NOT NULL,
	seq BIGINT NOT NULL,
	payload BYTEA NOT NULL,
	payload_hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (topic, seq)
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_topic_seq ON audit_entries (topic, seq);
`

func (l *Log) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (l *Log) Append(ctx context.Context, topic string, payload []byte) (domain.AuditEntry, error) {
	if topic == "" {
		return domain.AuditEntry{}, fmt.Errorf("%w: empty topic", domain.ErrLogRejected)
	}
	if len(payload) == 0 {
		return domain.AuditEntry{}, fmt.Errorf("%w: empty payload", domain.ErrLogRejected)
	}
	if len(payload) > ledger.MaxPayloadBytes {
		return domain.AuditEntry{}, fmt.Errorf("%w: payload %d bytes exceeds %d", domain.ErrLogRejected, len(payload), ledger.MaxPayloadBytes)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: begin: %v", domain.ErrLogUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		"INSERT INTO audit_topic_seq (topic, seq) VALUES ($1, 0) ON CONFLICT (topic) DO NOTHING",
		topic,
	); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: init seq: %v", domain.ErrLogUnavailable, err)
	}

	var currentSeq int64
	if err := tx.QueryRow(ctx,
		"SELECT seq FROM audit_topic_seq WHERE topic = $1 FOR UPDATE",
		topic,
	).Scan(&currentSeq); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: lock seq: %v", domain.ErrLogUnavailable, err)
	}
	nextSeq := currentSeq + 1

	prevHash := domain.AuditZeroHash
	if currentSeq > 0 {
		if err := tx.QueryRow(ctx,
			"SELECT fingerprint FROM audit_entries WHERE topic = $1 AND seq = $2",
			topic, currentSeq,
		).Scan(&prevHash); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("%w: load prev fingerprint: %v", domain.ErrLogUnavailable, err)
		}
	}

	createdAt := l.clock().UTC().Truncate(time.Microsecond)
	entry := domain.AuditEntry{
		ID:          uuid.NewString(),
		Topic:       topic,
		Seq:         nextSeq,
		Payload:     append([]byte(nil), payload...),
		PayloadHash: ledger.PayloadHash(payload),
		PrevHash:    prevHash,
		CreatedAt:   createdAt,
	}
	entry.Fingerprint = ledger.Fingerprint(topic, nextSeq, entry.PayloadHash, prevHash, createdAt)

	if _, err := tx.Exec(ctx, `
INSERT INTO audit_entries (id, topic, seq, payload, payload_hash, prev_hash, fingerprint, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Topic, entry.Seq, entry.Payload, entry.PayloadHash, entry.PrevHash, entry.Fingerprint, entry.CreatedAt,
	); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: insert entry: %v", domain.ErrLogUnavailable, err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE audit_topic_seq SET seq = $1 WHERE topic = $2",
		nextSeq, topic,
	); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: advance seq: %v", domain.ErrLogUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: commit: %v", domain.ErrLogUnavailable, err)
	}
	return entry, nil
}

func (l *Log) FetchRange(ctx context.Context, topic string, from, to int64) ([]domain.AuditEntry, error) {
	if from < 1 {
		from = 1
	}
	if to == 0 {
		var last int64
		err := l.pool.QueryRow(ctx, "SELECT seq FROM audit_topic_seq WHERE topic = $1", topic).Scan(&last)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: latest seq: %v", domain.ErrLogUnavailable, err)
		}
		to = last
	}
	if from > to {
		return nil, nil
	}

	rows, err := l.pool.Query(ctx, `
SELECT id, topic, seq, payload, payload_hash, prev_hash, fingerprint, created_at
FROM audit_entries
WHERE topic = $1 AND seq BETWEEN $2 AND $3
ORDER BY seq ASC`,
		topic, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch range: %v", domain.ErrLogUnavailable, err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.Topic, &e.Seq, &e.Payload, &e.PayloadHash, &e.PrevHash, &e.Fingerprint, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan entry: %v", domain.ErrLogUnavailable, err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate entries: %v", domain.ErrLogUnavailable, err)
	}
	return out, nil
}

func (l *Log) Verify(entry domain.AuditEntry) bool {
	return ledger.VerifyEntry(entry)
}

func (l *Log) Checkpoint(ctx context.Context, topic string) (domain.Checkpoint, error) {
	leaves, err := l.topicLeaves(ctx, topic)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	cp := domain.Checkpoint{Topic: topic, IssuedAt: l.clock().UTC()}
	if len(leaves) == 0 {
		return cp, nil
	}
	root, err := ledger.Root(leaves)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	cp.TreeSize = int64(len(leaves))
	cp.RootHash = root
	return cp, nil
}

func (l *Log) Prove(ctx context.Context, topic string, seq int64) (domain.InclusionProof, error) {
	leaves, err := l.topicLeaves(ctx, topic)
	if err != nil {
		return domain.InclusionProof{}, err
	}
	if seq < 1 || seq > int64(len(leaves)) {
		return domain.InclusionProof{}, domain.ErrNotFound
	}
	path, err := ledger.InclusionPath(leaves, int(seq-1))
	if err != nil {
		return domain.InclusionProof{}, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	root, err := ledger.Root(leaves)
	if err != nil {
		return domain.InclusionProof{}, fmt.Errorf("%w: %v", domain.ErrLogUnavailable, err)
	}
	return domain.InclusionProof{
		Topic:     topic,
		Seq:       seq,
		LeafIndex: seq - 1,
		Path:      path,
		TreeSize:  int64(len(leaves)),
		RootHash:  root,
	}, nil
}

func (l *Log) topicLeaves(ctx context.Context, topic string) ([][]byte, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT fingerprint FROM audit_entries WHERE topic = $1 ORDER BY seq ASC",
		topic,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load fingerprints: %v", domain.ErrLogUnavailable, err)
	}
	defer rows.Close()

	var leaves [][]byte
	for rows.Next() {
		var fingerprint string
		if err := rows.Scan(&fingerprint); err != nil {
			return nil, fmt.Errorf("%w: scan fingerprint: %v", domain.ErrLogUnavailable, err)
		}
		leaf, err := ledger.LeafHash(fingerprint)
		if err != nil {
			return nil, fmt.Errorf("%w: decode fingerprint: %v", domain.ErrLogUnavailable, err)
		}
		leaves = append(leaves, leaf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate fingerprints: %v", domain.ErrLogUnavailable, err)
	}
	return leaves, nil
}
