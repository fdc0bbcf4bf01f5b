package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/ledger/ledgermem"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/runmem"
)

var (
	findingsOut = []byte(`[{"check":"reentrancy-eth","impact":"High","confirmed":false},{"check":"tx-origin","impact":"Medium","confirmed":false}]`)
	analysisOut = []byte(`{"contract":"token.sol","total_findings":2,"confirmed_exploits":1,"findings":[{"title":"Reentrancy","confirmed":true}]}`)
	remedyOut   = []byte(`{"contract":"token.sol","total_findings":2,"total_remediations":2,"remediations":[{"vulnerability_type":"reentrancy","severity":"High","priority":1},{"vulnerability_type":"tx-origin","severity":"Medium","priority":2}]}`)
)

func testStages() []domain.StageSpec {
	return []domain.StageSpec{
		{Name: "slither", Command: []string{"slither-runner", "--contract", domain.ArgContract}, Report: "findings", Timeout: time.Minute},
		{Name: "mythril", Command: []string{"mythril-runner", "--contract", domain.ArgContract, "--findings", domain.ArgInput}, Report: "analysis", Timeout: time.Minute},
		{Name: "remediation", Command: []string{"remedy-gen", "--analysis", domain.ArgInput, "--run", domain.ArgRunID}, Report: "remediation", Timeout: time.Minute},
	}
}

type stubResolver struct {
	contract domain.Contract
	err      error
}

func (s stubResolver) Resolve(ctx context.Context, ref string) (domain.Contract, error) {
	if s.err != nil {
		return domain.Contract{}, s.err
	}
	c := s.contract
	if c.Ref == "" {
		c.Ref = ref
	}
	return c, nil
}

type stubAdmission struct {
	decision domain.AdmissionDecision
	inputs   []domain.AdmissionInput
}

func (s *stubAdmission) Evaluate(ctx context.Context, input domain.AdmissionInput) (domain.AdmissionDecision, error) {
	s.inputs = append(s.inputs, input)
	return s.decision, nil
}

type invocation struct {
	stage        string
	contractPath string
	inputPath    string
}

// scriptedInvoker returns canned results per stage and can run a hook inside
// the stage body, which is how the tests cancel a run mid-flight.
type scriptedInvoker struct {
	mu      sync.Mutex
	results map[string]domain.ToolResult
	hooks   map[string]func()
	calls   []invocation
}

func (s *scriptedInvoker) Execute(ctx context.Context, spec domain.StageSpec, contractPath, inputPath, runID string) domain.ToolResult {
	s.mu.Lock()
	s.calls = append(s.calls, invocation{stage: spec.Name, contractPath: contractPath, inputPath: inputPath})
	hook := s.hooks[spec.Name]
	res, ok := s.results[spec.Name]
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !ok {
		return domain.ToolResult{Cause: domain.CauseToolSpawn, Detail: "no scripted result for " + spec.Name}
	}
	return res
}

func (s *scriptedInvoker) invoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.calls))
	for i, c := range s.calls {
		names[i] = c.stage
	}
	return names
}

type memArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{objects: make(map[string][]byte)}
}

func (m *memArtifacts) Put(ctx context.Context, runID, stage string, body []byte) (domain.ArtifactRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == stage {
		return domain.ArtifactRef{}, errors.New("object store offline")
	}
	key := runID + "/" + stage
	m.objects[key] = append([]byte(nil), body...)
	sum := sha256.Sum256(body)
	return domain.ArtifactRef{
		RunID:     runID,
		Stage:     stage,
		Location:  "mem://" + key,
		SHA256:    hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(body)),
	}, nil
}

func (m *memArtifacts) Get(ctx context.Context, runID, stage string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[runID+"/"+stage]
	if !ok {
		return nil, fmt.Errorf("%w: artifact %s/%s", domain.ErrNotFound, runID, stage)
	}
	return append([]byte(nil), body...), nil
}

func (m *memArtifacts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// flakyLog rejects every append after the first failAfter successes.
type flakyLog struct {
	*ledgermem.Log
	mu        sync.Mutex
	appends   int
	failAfter int
}

func (f *flakyLog) Append(ctx context.Context, topic string, payload []byte) (domain.AuditEntry, error) {
	f.mu.Lock()
	f.appends++
	n := f.appends
	f.mu.Unlock()
	if f.failAfter > 0 && n > f.failAfter {
		return domain.AuditEntry{}, fmt.Errorf("%w: append rejected", domain.ErrLogUnavailable)
	}
	return f.Log.Append(ctx, topic, payload)
}

type failingRuns struct {
	*runmem.Repo
	failAppend bool
}

func (f *failingRuns) AppendStage(ctx context.Context, runID string, result domain.StageResult) error {
	if f.failAppend {
		return errors.New("run store offline")
	}
	return f.Repo.AppendStage(ctx, runID, result)
}

type eventSink struct {
	mu     sync.Mutex
	events []domain.RunEvent
}

func (s *eventSink) Publish(evt domain.RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *eventSink) types() []domain.RunEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RunEventType, len(s.events))
	for i, evt := range s.events {
		out[i] = evt.Type
	}
	return out
}

type pipelineFixture struct {
	orc       *Orchestrator
	runs      *runmem.Repo
	log       *flakyLog
	artifacts *memArtifacts
	invoker   *scriptedInvoker
	events    *eventSink
}

func newFixture(t *testing.T, mutate func(*OrchestratorConfig)) *pipelineFixture {
	t.Helper()
	fx := &pipelineFixture{
		runs:      runmem.New(),
		log:       &flakyLog{Log: ledgermem.New()},
		artifacts: newMemArtifacts(),
		events:    &eventSink{},
		invoker: &scriptedInvoker{
			results: map[string]domain.ToolResult{
				"slither":     {Stdout: findingsOut, Duration: 120 * time.Millisecond},
				"mythril":     {Stdout: analysisOut, Duration: 340 * time.Millisecond},
				"remediation": {Stdout: remedyOut, Duration: 90 * time.Millisecond},
			},
			hooks: make(map[string]func()),
		},
	}
	cfg := OrchestratorConfig{
		Runs:      fx.runs,
		Log:       fx.log,
		Invoker:   fx.invoker,
		Artifacts: fx.artifacts,
		Resolver: stubResolver{contract: domain.Contract{
			Path:      "/contracts/token.sol",
			SHA256:    "6cafc9a6f4f3f3d19da67b8a2a4b82888327eef98eae50cd372d7053d2a05f10",
			SizeBytes: 512,
		}},
		Events:           fx.events,
		Stages:           testStages(),
		AnalysisTopic:    "analysis",
		RemediationTopic: "remediation",
		WorkDir:          t.TempDir(),
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	orc, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	fx.orc = orc
	return fx
}

func (fx *pipelineFixture) entries(t *testing.T, topic string) []domain.AuditEntry {
	t.Helper()
	entries, err := fx.log.FetchRange(context.Background(), topic, 1, 0)
	if err != nil {
		t.Fatalf("fetch %s entries: %v", topic, err)
	}
	return entries
}

func TestRunCompletesThroughAllStages(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	run, err := fx.orc.Run(ctx, SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunCompleted {
		t.Fatalf("status = %s, want completed", run.Status)
	}
	if len(run.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(run.Stages))
	}
	for i, st := range run.Stages {
		if st.Status != domain.StageSuccess {
			t.Errorf("stage %s status = %s", st.Stage, st.Status)
		}
		if st.AuditSeq != int64(i+1) {
			t.Errorf("stage %s seq = %d, want %d", st.Stage, st.AuditSeq, i+1)
		}
		if st.Artifact == nil || st.Digest == nil {
			t.Errorf("stage %s missing artifact or digest", st.Stage)
		}
		if st.Fingerprint == "" {
			t.Errorf("stage %s missing fingerprint", st.Stage)
		}
	}
	if run.Stages[0].Input != nil {
		t.Errorf("first stage input = %+v, want nil", run.Stages[0].Input)
	}
	for i := 1; i < len(run.Stages); i++ {
		prev, in := run.Stages[i-1], run.Stages[i].Input
		if in == nil || in.Stage != prev.Stage || in.Location != prev.Artifact.Location {
			t.Errorf("stage %s input = %+v, want %s artifact", run.Stages[i].Stage, in, prev.Stage)
		}
	}
	if run.SummarySeq != 4 {
		t.Errorf("SummarySeq = %d, want 4", run.SummarySeq)
	}
	if run.RemediationSeq != 1 {
		t.Errorf("RemediationSeq = %d, want 1", run.RemediationSeq)
	}

	// Each stage saw the contract; later stages saw the prior stage's output.
	fx.invoker.mu.Lock()
	calls := append([]invocation(nil), fx.invoker.calls...)
	fx.invoker.mu.Unlock()
	if len(calls) != 3 {
		t.Fatalf("invocations = %d, want 3", len(calls))
	}
	if calls[0].inputPath != "" {
		t.Errorf("first stage got input %q, want none", calls[0].inputPath)
	}
	if !strings.HasSuffix(calls[1].inputPath, "slither.json") {
		t.Errorf("mythril input = %q, want slither.json", calls[1].inputPath)
	}
	if !strings.HasSuffix(calls[2].inputPath, "mythril.json") {
		t.Errorf("remediation input = %q, want mythril.json", calls[2].inputPath)
	}
	for _, c := range calls {
		if c.contractPath != "/contracts/token.sol" {
			t.Errorf("stage %s contract path = %q", c.stage, c.contractPath)
		}
	}
	if fx.artifacts.count() != 3 {
		t.Errorf("stored artifacts = %d, want 3", fx.artifacts.count())
	}

	analysis := fx.entries(t, "analysis")
	if len(analysis) != 4 {
		t.Fatalf("analysis entries = %d, want 4", len(analysis))
	}
	var summary domain.SummaryAuditPayload
	if err := json.Unmarshal(analysis[3].Payload, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Kind != domain.AuditKindSummary || summary.RunID != run.ID {
		t.Errorf("summary payload = %+v", summary)
	}
	if summary.StagesCompleted != 3 || summary.Findings != 2 || summary.Confirmed != 1 || summary.Remediations != 2 {
		t.Errorf("summary counts = %d/%d/%d/%d", summary.StagesCompleted, summary.Findings, summary.Confirmed, summary.Remediations)
	}
	if len(summary.StageSeqs) != 3 || summary.StageSeqs[0] != 1 || summary.StageSeqs[2] != 3 {
		t.Errorf("summary stage seqs = %v", summary.StageSeqs)
	}

	mirror := fx.entries(t, "remediation")
	if len(mirror) != 1 {
		t.Fatalf("remediation entries = %d, want 1", len(mirror))
	}
	if mirror[0].PayloadHash != analysis[3].PayloadHash {
		t.Errorf("mirror payload differs from summary")
	}

	stored, err := fx.runs.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get stored run: %v", err)
	}
	if stored.Status != domain.RunCompleted || len(stored.Stages) != 3 || stored.SummarySeq != 4 || stored.RemediationSeq != 1 {
		t.Errorf("stored run = %s stages=%d summary=%d mirror=%d", stored.Status, len(stored.Stages), stored.SummarySeq, stored.RemediationSeq)
	}

	types := fx.events.types()
	want := []domain.RunEventType{
		domain.EventRunStarted,
		domain.EventStageStarted, domain.EventStageCommitted,
		domain.EventStageStarted, domain.EventStageCommitted,
		domain.EventStageStarted, domain.EventStageCommitted,
		domain.EventRunCompleted,
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestStageFailureStopsPipeline(t *testing.T) {
	fx := newFixture(t, nil)
	fx.invoker.results["mythril"] = domain.ToolResult{
		Cause:    domain.CauseToolNonZeroExit,
		Detail:   "exit status 1",
		Stderr:   "Traceback (most recent call last)",
		ExitCode: 1,
		Duration: 200 * time.Millisecond,
	}
	ctx := context.Background()

	run, err := fx.orc.Run(ctx, SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.Failure == nil || run.Failure.Stage != "mythril" || run.Failure.Cause != domain.CauseToolNonZeroExit {
		t.Fatalf("failure = %+v", run.Failure)
	}
	if len(run.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(run.Stages))
	}
	failed := run.Stages[1]
	if failed.Status != domain.StageFailed || failed.Cause != domain.CauseToolNonZeroExit || failed.ExitCode != 1 {
		t.Errorf("failed stage = %+v", failed)
	}
	if failed.AuditSeq != 2 || failed.Fingerprint == "" {
		t.Errorf("failed stage not audited: seq=%d", failed.AuditSeq)
	}
	if failed.Input == nil || failed.Input.Stage != "slither" {
		t.Errorf("failed stage input = %+v, want slither artifact", failed.Input)
	}
	if run.SummarySeq != 0 {
		t.Errorf("SummarySeq = %d, want 0", run.SummarySeq)
	}

	if got := fx.invoker.invoked(); len(got) != 2 || got[1] != "mythril" {
		t.Errorf("invoked = %v", got)
	}
	if fx.artifacts.count() != 1 {
		t.Errorf("stored artifacts = %d, want 1", fx.artifacts.count())
	}
	if entries := fx.entries(t, "analysis"); len(entries) != 2 {
		t.Errorf("analysis entries = %d, want 2", len(entries))
	}
	if entries := fx.entries(t, "remediation"); len(entries) != 0 {
		t.Errorf("remediation entries = %d, want 0", len(entries))
	}
}

func TestMalformedReportFailsStageButKeepsArtifact(t *testing.T) {
	fx := newFixture(t, nil)
	fx.invoker.results["mythril"] = domain.ToolResult{Stdout: []byte("panic: not json"), Duration: 50 * time.Millisecond}
	ctx := context.Background()

	run, err := fx.orc.Run(ctx, SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunFailed || run.Failure.Cause != domain.CauseToolOutputMalformed {
		t.Fatalf("failure = %+v", run.Failure)
	}
	if len(run.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(run.Stages))
	}
	if run.Stages[1].Artifact == nil {
		t.Fatalf("malformed stage should keep its stored artifact ref")
	}
	if _, err := fx.artifacts.Get(ctx, run.ID, "mythril"); err != nil {
		t.Errorf("mythril artifact not stored: %v", err)
	}

	entries := fx.entries(t, "analysis")
	if len(entries) != 2 {
		t.Fatalf("analysis entries = %d, want 2", len(entries))
	}
	var payload domain.StageAuditPayload
	if err := json.Unmarshal(entries[1].Payload, &payload); err != nil {
		t.Fatalf("decode failure entry: %v", err)
	}
	if payload.Status != domain.StageFailed || payload.Cause != domain.CauseToolOutputMalformed || payload.Artifact == nil {
		t.Errorf("failure payload = %+v", payload)
	}
}

func TestAuditAppendFailureOrphansArtifact(t *testing.T) {
	fx := newFixture(t, nil)
	fx.log.failAfter = 1
	ctx := context.Background()

	run, err := fx.orc.Run(ctx, SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.Failure.Stage != "mythril" || run.Failure.Cause != domain.CauseAuditCommit {
		t.Fatalf("failure = %+v", run.Failure)
	}
	if run.Failure.OrphanArtifact == nil || run.Failure.OrphanArtifact.Stage != "mythril" {
		t.Fatalf("orphan = %+v", run.Failure.OrphanArtifact)
	}

	// The tool succeeded and its artifact landed, but without a committed
	// entry the stage never became visible.
	if len(run.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(run.Stages))
	}
	if entries := fx.entries(t, "analysis"); len(entries) != 1 {
		t.Errorf("analysis entries = %d, want 1", len(entries))
	}
	if fx.artifacts.count() != 2 {
		t.Errorf("stored artifacts = %d, want 2 (orphan included)", fx.artifacts.count())
	}

	stored, err := fx.runs.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get stored run: %v", err)
	}
	if stored.Failure == nil || stored.Failure.OrphanArtifact == nil {
		t.Errorf("orphan not persisted: %+v", stored.Failure)
	}
}

func TestSummaryMirrorFailureFailsRun(t *testing.T) {
	fx := newFixture(t, nil)
	fx.log.failAfter = 4
	ctx := context.Background()

	run, err := fx.orc.Run(ctx, SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunFailed || run.Failure.Stage != "summary" || run.Failure.Cause != domain.CauseAuditCommit {
		t.Fatalf("failure = %+v (status %s)", run.Failure, run.Status)
	}
	// The analysis-topic summary committed before the mirror was rejected, so
	// its sequence stays on the failed run.
	if run.SummarySeq != 4 || run.RemediationSeq != 0 {
		t.Errorf("summary=%d mirror=%d, want 4/0", run.SummarySeq, run.RemediationSeq)
	}
}

func TestCancellationBetweenStages(t *testing.T) {
	fx := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.invoker.hooks["slither"] = cancel

	run, err := fx.orc.Submit(context.Background(), SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final, err := fx.orc.Execute(ctx, run.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if final.Status != domain.RunFailed || final.Failure.Cause != domain.CauseCancelled {
		t.Fatalf("failure = %+v (status %s)", final.Failure, final.Status)
	}
	if final.Failure.Stage != "mythril" {
		t.Errorf("failure stage = %s, want mythril", final.Failure.Stage)
	}

	// The in-flight stage finished and was audited; nothing after it was.
	if len(final.Stages) != 1 || final.Stages[0].Stage != "slither" {
		t.Fatalf("visible stages = %d", len(final.Stages))
	}
	if entries := fx.entries(t, "analysis"); len(entries) != 1 {
		t.Errorf("analysis entries = %d, want exactly 1", len(entries))
	}
	if got := fx.invoker.invoked(); len(got) != 1 {
		t.Errorf("invoked = %v, want slither only", got)
	}
	if final.SummarySeq != 0 {
		t.Errorf("SummarySeq = %d, want 0", final.SummarySeq)
	}
}

func TestCancellationBeforeSummary(t *testing.T) {
	fx := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.invoker.hooks["remediation"] = cancel

	run, err := fx.orc.Submit(context.Background(), SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final, err := fx.orc.Execute(ctx, run.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if final.Status != domain.RunFailed || final.Failure.Cause != domain.CauseCancelled || final.Failure.Stage != "summary" {
		t.Fatalf("failure = %+v", final.Failure)
	}
	if len(final.Stages) != 3 {
		t.Errorf("visible stages = %d, want 3", len(final.Stages))
	}
	if entries := fx.entries(t, "analysis"); len(entries) != 3 {
		t.Errorf("analysis entries = %d, want 3 (no summary)", len(entries))
	}
	if entries := fx.entries(t, "remediation"); len(entries) != 0 {
		t.Errorf("remediation entries = %d, want 0", len(entries))
	}
}

func TestLaunchAndCancelLifecycle(t *testing.T) {
	fx := newFixture(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	fx.invoker.hooks["mythril"] = func() {
		close(started)
		<-release
	}

	run, err := fx.orc.Submit(context.Background(), SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	fx.orc.Launch(run.ID)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("mythril never started")
	}
	if !fx.orc.Cancel(run.ID) {
		t.Fatal("Cancel returned false for a live run")
	}
	close(release)

	final := waitTerminal(t, fx.runs, run.ID)
	if final.Status != domain.RunFailed || final.Failure.Cause != domain.CauseCancelled {
		t.Fatalf("failure = %+v (status %s)", final.Failure, final.Status)
	}
	// Cancellation landed mid-mythril, so mythril still committed and the
	// boundary before remediation observed it.
	if final.Failure.Stage != "remediation" {
		t.Errorf("failure stage = %s, want remediation", final.Failure.Stage)
	}
	if len(final.Stages) != 2 {
		t.Errorf("visible stages = %d, want 2", len(final.Stages))
	}

	deadline := time.Now().Add(2 * time.Second)
	for fx.orc.Cancel(run.ID) {
		if time.Now().After(deadline) {
			t.Fatal("cancel registry never drained")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitTerminal(t *testing.T, runs *runmem.Repo, runID string) domain.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		run, err := runs.Get(context.Background(), runID)
		if err == nil && run.Status.Terminal() {
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s never reached a terminal status", runID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitAdmissionDenyLeavesNoRun(t *testing.T) {
	adm := &stubAdmission{decision: domain.AdmissionDecision{Reasons: []string{"submitter is required"}}}
	fx := newFixture(t, func(cfg *OrchestratorConfig) {
		cfg.Admission = adm
	})
	ctx := context.Background()

	_, err := fx.orc.Submit(ctx, SubmitRequest{ContractRef: "token.sol"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if !strings.Contains(err.Error(), "submitter is required") {
		t.Errorf("deny reasons missing from error: %v", err)
	}
	if runs, _ := fx.runs.List(ctx, 0); len(runs) != 0 {
		t.Errorf("denied submission created %d runs", len(runs))
	}
	if len(adm.inputs) != 1 || len(adm.inputs[0].Stages) != 3 {
		t.Errorf("admission input = %+v", adm.inputs)
	}
}

func TestSubmitResolveFailureLeavesNoRun(t *testing.T) {
	fx := newFixture(t, func(cfg *OrchestratorConfig) {
		cfg.Resolver = stubResolver{err: fmt.Errorf("%w: no such contract", domain.ErrInvalidInput)}
	})
	ctx := context.Background()

	_, err := fx.orc.Submit(ctx, SubmitRequest{ContractRef: "missing.sol", Submitter: "auditor@example.com"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if runs, _ := fx.runs.List(ctx, 0); len(runs) != 0 {
		t.Errorf("rejected submission created %d runs", len(runs))
	}
	if entries := fx.entries(t, "analysis"); len(entries) != 0 {
		t.Errorf("rejected submission audited %d entries", len(entries))
	}
}

func TestExecuteGuards(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.orc.Execute(ctx, "no-such-run"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown run err = %v, want ErrNotFound", err)
	}

	run, err := fx.orc.Run(ctx, SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := fx.orc.Execute(ctx, run.ID); !errors.Is(err, domain.ErrRunTerminal) {
		t.Errorf("terminal run err = %v, want ErrRunTerminal", err)
	}
}

func TestRunStoreAppendFailureFailsRun(t *testing.T) {
	var wrapped *failingRuns
	fx := newFixture(t, func(cfg *OrchestratorConfig) {
		wrapped = &failingRuns{Repo: cfg.Runs.(*runmem.Repo), failAppend: true}
		cfg.Runs = wrapped
	})
	ctx := context.Background()

	run, err := fx.orc.Run(ctx, SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunFailed || run.Failure.Cause != domain.CauseArtifactWrite {
		t.Fatalf("failure = %+v (status %s)", run.Failure, run.Status)
	}
	if !strings.Contains(run.Failure.Message, "record stage result") {
		t.Errorf("failure message = %q", run.Failure.Message)
	}
	// The entry committed before the store lost the row; the run fails rather
	// than surface fewer visible stages than the trail holds.
	if len(run.Stages) != 0 {
		t.Errorf("visible stages = %d, want 0", len(run.Stages))
	}
	if entries := fx.entries(t, "analysis"); len(entries) != 1 {
		t.Errorf("analysis entries = %d, want 1", len(entries))
	}
}

func TestArtifactStoreFailureFailsStage(t *testing.T) {
	fx := newFixture(t, nil)
	fx.artifacts.failOn = "slither"
	ctx := context.Background()

	run, err := fx.orc.Run(ctx, SubmitRequest{ContractRef: "token.sol", Submitter: "auditor@example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunFailed || run.Failure.Cause != domain.CauseArtifactWrite || run.Failure.Stage != "slither" {
		t.Fatalf("failure = %+v", run.Failure)
	}
	// The failed attempt is still audited and visible.
	if len(run.Stages) != 1 || run.Stages[0].Status != domain.StageFailed {
		t.Fatalf("visible stages = %+v", run.Stages)
	}
	if entries := fx.entries(t, "analysis"); len(entries) != 1 {
		t.Errorf("analysis entries = %d, want 1", len(entries))
	}
}
