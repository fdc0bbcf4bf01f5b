// Package runmem is the in-memory run repository used by the CLI and tests.
package runmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

type Repo struct {
	mu    sync.RWMutex
	runs  map[string]domain.Run
	order []string
}

func New() *Repo {
	return &Repo{runs: make(map[string]domain.Run)}
}

func (r *Repo) Create(ctx context.Context, run domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == "" {
		return fmt.Errorf("%w: run id required", domain.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("%w: run %s already exists", domain.ErrInvalidInput, run.ID)
	}
	r.runs[run.ID] = cloneRun(run)
	r.order = append(r.order, run.ID)
	return nil
}

func (r *Repo) MarkRunning(ctx context.Context, runID string, startedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s", domain.ErrRunTerminal, runID, run.Status)
	}
	run.Status = domain.RunRunning
	run.StartedAt = startedAt
	r.runs[runID] = run
	return nil
}

// AppendStage records a stage result that has already been committed to the
// audit log. Results arrive in stage order.
func (r *Repo) AppendStage(ctx context.Context, runID string, result domain.StageResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s", domain.ErrRunTerminal, runID, run.Status)
	}
	run.Stages = append(cloneStages(run.Stages), result)
	r.runs[runID] = run
	return nil
}

// Finalize stores the terminal status, failure detail, summary sequence and
// completion time. Stage results are untouched; they were appended as each
// audit entry committed.
func (r *Repo) Finalize(ctx context.Context, run domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !run.Status.Terminal() {
		return fmt.Errorf("%w: finalize requires a terminal status, got %s", domain.ErrInvalidInput, run.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.runs[run.ID]
	if !ok {
		return fmt.Errorf("%w: run %s", domain.ErrNotFound, run.ID)
	}
	stored.Status = run.Status
	stored.Failure = cloneFailure(run.Failure)
	stored.SummarySeq = run.SummarySeq
	stored.RemediationSeq = run.RemediationSeq
	stored.CompletedAt = run.CompletedAt
	r.runs[run.ID] = stored
	return nil
}

func (r *Repo) Get(ctx context.Context, runID string) (domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return domain.Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return domain.Run{}, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	return cloneRun(run), nil
}

// List returns runs newest first, at most limit (0 means all).
func (r *Repo) List(ctx context.Context, limit int) ([]domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Run, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRun(r.runs[r.order[i]]))
	}
	return out, nil
}

func cloneRun(run domain.Run) domain.Run {
	run.Stages = cloneStages(run.Stages)
	run.Failure = cloneFailure(run.Failure)
	return run
}

func cloneStages(stages []domain.StageResult) []domain.StageResult {
	if stages == nil {
		return nil
	}
	out := make([]domain.StageResult, len(stages))
	copy(out, stages)
	return out
}

func cloneFailure(f *domain.RunFailure) *domain.RunFailure {
	if f == nil {
		return nil
	}
	c := *f
	if f.OrphanArtifact != nil {
		ref := *f.OrphanArtifact
		c.OrphanArtifact = &ref
	}
	return &c
}
