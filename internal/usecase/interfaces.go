package usecase

import (
	"context"
	"time"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

// RunRepository persists run aggregates. A stage result is appended only
// after its audit entry committed; terminal state lands once via Finalize.
type RunRepository interface {
	Create(ctx context.Context, run domain.Run) error
	MarkRunning(ctx context.Context, runID string, startedAt time.Time) error
	AppendStage(ctx context.Context, runID string, result domain.StageResult) error
	Finalize(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, runID string) (domain.Run, error)
	List(ctx context.Context, limit int) ([]domain.Run, error)
}

// AuditLog is the append-only per-topic ledger. Append assigns the next
// gapless sequence number and chains the entry to its predecessor.
type AuditLog interface {
	Append(ctx context.Context, topic string, payload []byte) (domain.AuditEntry, error)
	FetchRange(ctx context.Context, topic string, from, to int64) ([]domain.AuditEntry, error)
	Verify(entry domain.AuditEntry) bool
	Checkpoint(ctx context.Context, topic string) (domain.Checkpoint, error)
	Prove(ctx context.Context, topic string, seq int64) (domain.InclusionProof, error)
}

// ToolInvoker runs one analyzer stage to completion and classifies the
// outcome; it never returns a Go error, failures are in the result.
type ToolInvoker interface {
	Execute(ctx context.Context, stage domain.StageSpec, contractPath, inputPath, runID string) domain.ToolResult
}

type ArtifactStore interface {
	Put(ctx context.Context, runID, stage string, body []byte) (domain.ArtifactRef, error)
	Get(ctx context.Context, runID, stage string) ([]byte, error)
}

type ContractResolver interface {
	Resolve(ctx context.Context, ref string) (domain.Contract, error)
}

type AdmissionEngine interface {
	Evaluate(ctx context.Context, input domain.AdmissionInput) (domain.AdmissionDecision, error)
}

type EventPublisher interface {
	Publish(evt domain.RunEvent)
}
