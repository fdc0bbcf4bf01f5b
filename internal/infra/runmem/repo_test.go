package runmem

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

func seedRun(id string) domain.Run {
	return domain.Run{
		ID:        id,
		Contract:  domain.Contract{Ref: "vault.sol", SHA256: "ab", SizeBytes: 12},
		Submitter: "auditor-1",
		Topic:     "analysis",
		Status:    domain.RunPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := New()
	ctx := context.Background()

	if err := repo.Create(ctx, seedRun("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, seedRun("run-1")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("duplicate create: err = %v, want ErrInvalidInput", err)
	}
	if err := repo.Create(ctx, domain.Run{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty id: err = %v, want ErrInvalidInput", err)
	}

	got, err := repo.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.RunPending || got.Submitter != "auditor-1" {
		t.Fatalf("unexpected run: %+v", got)
	}
	if _, err := repo.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing run: err = %v, want ErrNotFound", err)
	}
}

func TestStageAppendAndFinalize(t *testing.T) {
	repo := New()
	ctx := context.Background()
	if err := repo.Create(ctx, seedRun("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	started := time.Now().UTC()
	if err := repo.MarkRunning(ctx, "run-1", started); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	for i, name := range []string{"static", "symbolic"} {
		err := repo.AppendStage(ctx, "run-1", domain.StageResult{
			Stage:    name,
			Index:    i,
			Status:   domain.StageSuccess,
			AuditSeq: int64(i + 1),
		})
		if err != nil {
			t.Fatalf("append stage %s: %v", name, err)
		}
	}

	run, err := repo.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	run.Status = domain.RunCompleted
	run.SummarySeq = 3
	run.CompletedAt = time.Now().UTC()
	if err := repo.Finalize(ctx, run); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := repo.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get after finalize: %v", err)
	}
	if got.Status != domain.RunCompleted || got.SummarySeq != 3 {
		t.Fatalf("unexpected terminal run: %+v", got)
	}
	if len(got.Stages) != 2 || got.Stages[1].Stage != "symbolic" {
		t.Fatalf("stages = %+v", got.Stages)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("started at = %v, want %v", got.StartedAt, started)
	}

	if err := repo.AppendStage(ctx, "run-1", domain.StageResult{Stage: "late"}); !errors.Is(err, domain.ErrRunTerminal) {
		t.Fatalf("append after terminal: err = %v, want ErrRunTerminal", err)
	}
	if err := repo.MarkRunning(ctx, "run-1", time.Now()); !errors.Is(err, domain.ErrRunTerminal) {
		t.Fatalf("mark running after terminal: err = %v, want ErrRunTerminal", err)
	}
}

func TestFinalizeRequiresTerminalStatus(t *testing.T) {
	repo := New()
	ctx := context.Background()
	if err := repo.Create(ctx, seedRun("run-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	run, _ := repo.Get(ctx, "run-1")
	run.Status = domain.RunRunning
	if err := repo.Finalize(ctx, run); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("finalize running: err = %v, want ErrInvalidInput", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	repo := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, seedRun(fmt.Sprintf("run-%d", i))); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	all, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 || all[0].ID != "run-4" || all[4].ID != "run-0" {
		t.Fatalf("unexpected order: %+v", ids(all))
	}

	top, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(top) != 2 || top[0].ID != "run-4" || top[1].ID != "run-3" {
		t.Fatalf("unexpected limited list: %+v", ids(top))
	}
}

func TestGetReturnsCopies(t *testing.T) {
	repo := New()
	ctx := context.Background()
	run := seedRun("run-1")
	run.Failure = &domain.RunFailure{Stage: "static", Cause: domain.CauseToolTimeout}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := repo.Get(ctx, "run-1")
	got.Failure.Cause = domain.CauseCancelled
	got.Stages = append(got.Stages, domain.StageResult{Stage: "rogue"})

	again, _ := repo.Get(ctx, "run-1")
	if again.Failure.Cause != domain.CauseToolTimeout {
		t.Fatalf("failure mutated through returned copy")
	}
	if len(again.Stages) != 0 {
		t.Fatalf("stages mutated through returned copy")
	}
}

func ids(runs []domain.Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
