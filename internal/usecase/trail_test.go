package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

// tamperLog rewrites fetched windows before the verifier sees them, standing
// in for a log backend that was altered after commit.
type tamperLog struct {
	AuditLog
	mutate func(topic string, entries []domain.AuditEntry) []domain.AuditEntry
}

func (tl tamperLog) FetchRange(ctx context.Context, topic string, from, to int64) ([]domain.AuditEntry, error) {
	entries, err := tl.AuditLog.FetchRange(ctx, topic, from, to)
	if err != nil || tl.mutate == nil {
		return entries, err
	}
	return tl.mutate(topic, entries), nil
}

type rewriteRuns struct {
	RunRepository
	mutate func(*domain.Run)
}

func (r rewriteRuns) Get(ctx context.Context, runID string) (domain.Run, error) {
	run, err := r.RunRepository.Get(ctx, runID)
	if err == nil && r.mutate != nil {
		r.mutate(&run)
	}
	return run, err
}

func completedRun(t *testing.T) (*pipelineFixture, domain.Run) {
	t.Helper()
	fx := newFixture(t, nil)
	run, err := fx.orc.Run(context.Background(), SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	return fx, run
}

func TestFetchRunReturnsCommittedEntries(t *testing.T) {
	fx, run := completedRun(t)
	svc := &TrailService{Runs: fx.runs, Log: fx.log, RemediationTopic: "remediation"}

	trail, err := svc.FetchRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("FetchRun: %v", err)
	}
	if len(trail.Entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(trail.Entries))
	}
	for i, entry := range trail.Entries {
		if entry.Seq != int64(i+1) {
			t.Errorf("entry %d seq = %d", i, entry.Seq)
		}
		if entry.Topic != "analysis" {
			t.Errorf("entry %d topic = %s", i, entry.Topic)
		}
	}
	if trail.Mirror == nil || trail.Mirror.Seq != 1 || trail.Mirror.Topic != "remediation" {
		t.Fatalf("mirror = %+v", trail.Mirror)
	}
}

func TestVerifyRunAcceptsCleanTrail(t *testing.T) {
	fx, run := completedRun(t)
	svc := &TrailService{Runs: fx.runs, Log: fx.log, RemediationTopic: "remediation"}

	v, err := svc.VerifyRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if !v.OK {
		t.Fatalf("verification failed: %v", v.Problems)
	}
	if v.Checked == 0 {
		t.Error("verification checked nothing")
	}
}

func TestVerifyRunAcrossInterleavedTopic(t *testing.T) {
	fx, _ := completedRun(t)
	second, err := fx.orc.Run(context.Background(), SubmitRequest{ContractRef: "vault.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Stages[0].AuditSeq != 5 {
		t.Fatalf("second run first seq = %d, want 5", second.Stages[0].AuditSeq)
	}

	svc := &TrailService{Runs: fx.runs, Log: fx.log, RemediationTopic: "remediation"}
	v, err := svc.VerifyRun(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if !v.OK {
		t.Fatalf("verification failed: %v", v.Problems)
	}
}

func TestVerifyRunDetectsTamperedPayload(t *testing.T) {
	fx, run := completedRun(t)
	svc := &TrailService{
		Runs: fx.runs,
		Log: tamperLog{AuditLog: fx.log, mutate: func(topic string, entries []domain.AuditEntry) []domain.AuditEntry {
			for i := range entries {
				if topic == "analysis" && entries[i].Seq == 2 {
					entries[i].Payload = []byte(`{"kind":"stage","status":"success","forged":true}`)
				}
			}
			return entries
		}},
		RemediationTopic: "remediation",
	}

	v, err := svc.VerifyRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if v.OK {
		t.Fatal("tampered payload passed verification")
	}
	if !hasProblem(v.Problems, "payload hash mismatch") {
		t.Errorf("problems = %v", v.Problems)
	}
}

func TestVerifyRunDetectsRewrittenFingerprint(t *testing.T) {
	fx, run := completedRun(t)
	svc := &TrailService{
		Runs: fx.runs,
		Log: tamperLog{AuditLog: fx.log, mutate: func(topic string, entries []domain.AuditEntry) []domain.AuditEntry {
			for i := range entries {
				if topic == "analysis" && entries[i].Seq == 3 {
					entries[i].Fingerprint = strings.Repeat("ab", 32)
				}
			}
			return entries
		}},
		RemediationTopic: "remediation",
	}

	v, err := svc.VerifyRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if v.OK {
		t.Fatal("rewritten fingerprint passed verification")
	}
	if !hasProblem(v.Problems, "fingerprint mismatch") {
		t.Errorf("problems = %v", v.Problems)
	}
	// The forged fingerprint also breaks the link to seq 4.
	if !hasProblem(v.Problems, "chain broken") {
		t.Errorf("problems = %v", v.Problems)
	}
}

func TestVerifyRunDetectsDroppedEntry(t *testing.T) {
	fx, run := completedRun(t)
	svc := &TrailService{
		Runs: fx.runs,
		Log: tamperLog{AuditLog: fx.log, mutate: func(topic string, entries []domain.AuditEntry) []domain.AuditEntry {
			if topic != "analysis" {
				return entries
			}
			kept := entries[:0]
			for _, entry := range entries {
				if entry.Seq != 2 {
					kept = append(kept, entry)
				}
			}
			return kept
		}},
		RemediationTopic: "remediation",
	}

	v, err := svc.VerifyRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if v.OK {
		t.Fatal("dropped entry passed verification")
	}
	if !hasProblem(v.Problems, "no entry at seq 2") {
		t.Errorf("problems = %v", v.Problems)
	}
}

func TestVerifyRunChecksStoredStageAgainstTrail(t *testing.T) {
	fx, run := completedRun(t)
	svc := &TrailService{
		Runs: rewriteRuns{RunRepository: fx.runs, mutate: func(r *domain.Run) {
			r.Stages[0].Fingerprint = strings.Repeat("00", 32)
		}},
		Log:              fx.log,
		RemediationTopic: "remediation",
	}

	v, err := svc.VerifyRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if v.OK {
		t.Fatal("stage fingerprint rewrite passed verification")
	}
	if !hasProblem(v.Problems, "stage slither: fingerprint mismatch") {
		t.Errorf("problems = %v", v.Problems)
	}
}

func TestVerifyRunDetectsMissingMirror(t *testing.T) {
	fx, run := completedRun(t)
	svc := &TrailService{
		Runs: rewriteRuns{RunRepository: fx.runs, mutate: func(r *domain.Run) {
			r.RemediationSeq = 99
		}},
		Log:              fx.log,
		RemediationTopic: "remediation",
	}

	v, err := svc.VerifyRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("VerifyRun: %v", err)
	}
	if v.OK {
		t.Fatal("missing mirror passed verification")
	}
	if !hasProblem(v.Problems, "mirror: no entry at seq 99") {
		t.Errorf("problems = %v", v.Problems)
	}
}

func TestVerifyRangeAnchorsMidChain(t *testing.T) {
	fx, _ := completedRun(t)
	svc := &TrailService{Runs: fx.runs, Log: fx.log}

	v, err := svc.VerifyRange(context.Background(), "analysis", 2, 4)
	if err != nil {
		t.Fatalf("VerifyRange: %v", err)
	}
	if !v.OK {
		t.Fatalf("mid-chain window failed: %v", v.Problems)
	}
	if v.Checked != 3 {
		t.Errorf("checked = %d, want 3", v.Checked)
	}

	broken := &TrailService{Runs: fx.runs, Log: tamperLog{AuditLog: fx.log, mutate: func(topic string, entries []domain.AuditEntry) []domain.AuditEntry {
		for i := range entries {
			if entries[i].Seq == 3 {
				entries[i].PrevHash = strings.Repeat("ee", 32)
			}
		}
		return entries
	}}}
	v, err = broken.VerifyRange(context.Background(), "analysis", 2, 4)
	if err != nil {
		t.Fatalf("VerifyRange: %v", err)
	}
	if v.OK || !hasProblem(v.Problems, "chain broken at seq 3") {
		t.Errorf("problems = %v", v.Problems)
	}
}

func TestVerifyTopicWalksWholeChain(t *testing.T) {
	fx, _ := completedRun(t)
	svc := &TrailService{Runs: fx.runs, Log: fx.log}

	checked, err := svc.VerifyTopic(context.Background(), "analysis")
	if err != nil {
		t.Fatalf("VerifyTopic: %v", err)
	}
	if checked != 4 {
		t.Errorf("checked = %d, want 4", checked)
	}

	broken := &TrailService{Runs: fx.runs, Log: tamperLog{AuditLog: fx.log, mutate: func(topic string, entries []domain.AuditEntry) []domain.AuditEntry {
		if len(entries) > 2 {
			entries[2].PrevHash = strings.Repeat("ff", 32)
		}
		return entries
	}}}
	if _, err := broken.VerifyTopic(context.Background(), "analysis"); err == nil || !strings.Contains(err.Error(), "prev hash mismatch") {
		t.Errorf("broken chain err = %v", err)
	}

	gapped := &TrailService{Runs: fx.runs, Log: tamperLog{AuditLog: fx.log, mutate: func(topic string, entries []domain.AuditEntry) []domain.AuditEntry {
		if len(entries) > 1 {
			return append(entries[:1], entries[2:]...)
		}
		return entries
	}}}
	if _, err := gapped.VerifyTopic(context.Background(), "analysis"); err == nil || !strings.Contains(err.Error(), "seq gap") {
		t.Errorf("gapped chain err = %v", err)
	}
}

func hasProblem(problems []string, substr string) bool {
	for _, p := range problems {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}
