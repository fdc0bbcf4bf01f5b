package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/report"
)

// Orchestrator owns the run state machine. It executes the configured stages
// strictly in order, feeds each stage the previous stage's artifact, and
// commits one audit entry per stage attempt plus a terminal summary for
// completed runs. A stage result becomes visible to callers only after its
// audit entry is acknowledged; a run whose audit append fails is failed even
// when the tool itself succeeded.
type Orchestrator struct {
	runs      RunRepository
	log       AuditLog
	invoker   ToolInvoker
	artifacts ArtifactStore
	resolver  ContractResolver
	admission AdmissionEngine
	events    EventPublisher
	logger    *slog.Logger

	stages           []domain.StageSpec
	analysisTopic    string
	remediationTopic string
	workDir          string
	storeTimeout     time.Duration
	ledgerTimeout    time.Duration

	clock func() time.Time
	newID func() string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

type OrchestratorConfig struct {
	Runs      RunRepository
	Log       AuditLog
	Invoker   ToolInvoker
	Artifacts ArtifactStore
	Resolver  ContractResolver
	Admission AdmissionEngine
	Events    EventPublisher
	Logger    *slog.Logger

	Stages           []domain.StageSpec
	AnalysisTopic    string
	RemediationTopic string
	WorkDir          string
	StoreTimeout     time.Duration
	LedgerTimeout    time.Duration

	Clock func() time.Time
	NewID func() string
}

const (
	defaultStoreTimeout  = 10 * time.Second
	defaultLedgerTimeout = 15 * time.Second

	// summaryStep names the post-stage boundary in failure records; it is not
	// a stage and never runs a tool.
	summaryStep = "summary"
)

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Runs == nil || cfg.Log == nil || cfg.Invoker == nil || cfg.Artifacts == nil || cfg.Resolver == nil {
		return nil, fmt.Errorf("%w: orchestrator requires runs, log, invoker, artifacts and resolver", domain.ErrInvalidInput)
	}
	if err := domain.ValidateStages(cfg.Stages); err != nil {
		return nil, err
	}
	if cfg.AnalysisTopic == "" || cfg.RemediationTopic == "" {
		return nil, fmt.Errorf("%w: audit topics required", domain.ErrInvalidInput)
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = defaultLedgerTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		runs:             cfg.Runs,
		log:              cfg.Log,
		invoker:          cfg.Invoker,
		artifacts:        cfg.Artifacts,
		resolver:         cfg.Resolver,
		admission:        cfg.Admission,
		events:           cfg.Events,
		logger:           cfg.Logger,
		stages:           cfg.Stages,
		analysisTopic:    cfg.AnalysisTopic,
		remediationTopic: cfg.RemediationTopic,
		workDir:          cfg.WorkDir,
		storeTimeout:     cfg.StoreTimeout,
		ledgerTimeout:    cfg.LedgerTimeout,
		clock:            cfg.Clock,
		newID:            cfg.NewID,
		cancels:          make(map[string]context.CancelFunc),
	}, nil
}

func (o *Orchestrator) StageNames() []string {
	names := make([]string, len(o.stages))
	for i, st := range o.stages {
		names[i] = st.Name
	}
	return names
}

type SubmitRequest struct {
	ContractRef string
	Submitter   string
}

// Submit admits and registers a new pending run. Nothing is audited yet; an
// unresolvable contract or a policy deny leaves no trace.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (domain.Run, error) {
	contract, err := o.resolver.Resolve(ctx, req.ContractRef)
	if err != nil {
		return domain.Run{}, err
	}

	if o.admission != nil {
		decision, err := o.admission.Evaluate(ctx, domain.AdmissionInput{
			Submitter:      req.Submitter,
			ContractRef:    contract.Ref,
			ContractSHA256: contract.SHA256,
			SizeBytes:      contract.SizeBytes,
			Stages:         o.StageNames(),
		})
		if err != nil {
			return domain.Run{}, fmt.Errorf("admission evaluation: %w", err)
		}
		if !decision.Allow {
			return domain.Run{}, fmt.Errorf("%w: %s", domain.ErrForbidden, strings.Join(decision.Reasons, "; "))
		}
	}

	run := domain.Run{
		ID:        o.newID(),
		Contract:  contract,
		Submitter: req.Submitter,
		Topic:     o.analysisTopic,
		Status:    domain.RunPending,
		CreatedAt: o.clock().UTC(),
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return domain.Run{}, err
	}
	o.logger.Info("run submitted",
		"run_id", run.ID,
		"contract", contract.Ref,
		"contract_sha256", contract.SHA256,
		"submitter", req.Submitter)
	return run, nil
}

// Run submits and executes synchronously, returning the terminal run.
func (o *Orchestrator) Run(ctx context.Context, req SubmitRequest) (domain.Run, error) {
	run, err := o.Submit(ctx, req)
	if err != nil {
		return domain.Run{}, err
	}
	return o.Execute(ctx, run.ID)
}

// Launch executes a pending run on its own goroutine with a cancellable
// lifetime independent of the caller.
func (o *Orchestrator) Launch(runID string) {
	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[runID] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.cancels, runID)
			o.mu.Unlock()
			cancel()
		}()
		if _, err := o.Execute(runCtx, runID); err != nil {
			o.logger.Error("run execution aborted", "run_id", runID, "error", err)
		}
	}()
}

// Cancel requests cancellation of a launched run. It reports whether a live
// pipeline was signalled; terminal or unknown runs return false. The signal
// is honored at the next stage boundary, never mid-stage.
func (o *Orchestrator) Cancel(runID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Execute drives a pending run to a terminal status. Stage and persistence
// failures are folded into the run record; the returned error is non-nil only
// when the run could not be started at all.
func (o *Orchestrator) Execute(ctx context.Context, runID string) (domain.Run, error) {
	run, err := o.runs.Get(ctx, runID)
	if err != nil {
		return domain.Run{}, err
	}
	if run.Status.Terminal() {
		return domain.Run{}, fmt.Errorf("%w: run %s is %s", domain.ErrRunTerminal, runID, run.Status)
	}
	if run.Status != domain.RunPending {
		return domain.Run{}, fmt.Errorf("%w: run %s is already %s", domain.ErrInvalidInput, runID, run.Status)
	}

	startedAt := o.clock().UTC()
	if err := o.runs.MarkRunning(ctx, runID, startedAt); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunRunning
	run.StartedAt = startedAt
	o.publish(domain.RunEvent{RunID: run.ID, Type: domain.EventRunStarted, Status: run.Status, At: startedAt})
	o.logger.Info("run started", "run_id", run.ID, "contract", run.Contract.Ref, "stages", len(o.stages))

	runDir := filepath.Join(o.workDir, run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		o.finalizeFailure(ctx, &run, &domain.RunFailure{
			Stage:   o.stages[0].Name,
			Cause:   domain.CauseArtifactWrite,
			Message: fmt.Sprintf("prepare work dir: %v", err),
		})
		return run, nil
	}
	defer os.RemoveAll(runDir)

	var prior *stageOutput
	for i, spec := range o.stages {
		if ctx.Err() != nil {
			o.finalizeFailure(ctx, &run, &domain.RunFailure{
				Stage:   spec.Name,
				Cause:   domain.CauseCancelled,
				Message: fmt.Sprintf("cancelled before stage %s", spec.Name),
			})
			return run, nil
		}

		next, failure := o.runStage(ctx, &run, i, spec, runDir, prior)
		if failure != nil {
			o.finalizeFailure(ctx, &run, failure)
			return run, nil
		}
		prior = next
	}

	if ctx.Err() != nil {
		o.finalizeFailure(ctx, &run, &domain.RunFailure{
			Stage:   summaryStep,
			Cause:   domain.CauseCancelled,
			Message: "cancelled before summary",
		})
		return run, nil
	}

	if failure := o.commitSummary(ctx, &run); failure != nil {
		o.finalizeFailure(ctx, &run, failure)
		return run, nil
	}

	run.Status = domain.RunCompleted
	run.CompletedAt = o.clock().UTC()
	o.persistTerminal(ctx, &run)
	o.publish(domain.RunEvent{RunID: run.ID, Type: domain.EventRunCompleted, Status: run.Status, Seq: run.SummarySeq, At: run.CompletedAt})
	o.logger.Info("run completed",
		"run_id", run.ID,
		"stages", len(run.Stages),
		"summary_seq", run.SummarySeq,
		"remediation_seq", run.RemediationSeq)
	return run, nil
}

// stageOutput carries a successful stage's stored artifact plus the local
// path staged for the next stage's {input}.
type stageOutput struct {
	ref  domain.ArtifactRef
	path string
}

func (o *Orchestrator) runStage(ctx context.Context, run *domain.Run, index int, spec domain.StageSpec, runDir string, prior *stageOutput) (*stageOutput, *domain.RunFailure) {
	// The stage body is isolated from run cancellation: an in-flight tool is
	// allowed to finish or time out, and its artifact and audit entry still
	// land. Cancellation is observed again at the next boundary.
	stageCtx := context.WithoutCancel(ctx)
	started := o.clock().UTC()

	inputPath := ""
	var inputRef *domain.ArtifactRef
	if prior != nil {
		inputPath = prior.path
		in := prior.ref
		inputRef = &in
	}
	o.publish(domain.RunEvent{RunID: run.ID, Type: domain.EventStageStarted, Stage: spec.Name, At: started})
	o.logger.Info("stage started", "run_id", run.ID, "stage", spec.Name, "index", index)

	res := o.invoker.Execute(stageCtx, spec, run.Contract.Path, inputPath, run.ID)
	if !res.OK() {
		return nil, o.commitStageFailure(stageCtx, run, index, spec, started, res, inputRef, nil)
	}

	ref, err := o.putArtifact(stageCtx, run.ID, spec.Name, res.Stdout)
	if err != nil {
		res.Cause = domain.CauseArtifactWrite
		res.Detail = fmt.Sprintf("store artifact: %v", err)
		return nil, o.commitStageFailure(stageCtx, run, index, spec, started, res, inputRef, nil)
	}

	digest, err := report.Digest(report.Kind(spec.Report), res.Stdout)
	if err != nil {
		res.Cause = domain.CauseToolOutputMalformed
		res.Detail = fmt.Sprintf("decode %s report: %v", spec.Report, err)
		return nil, o.commitStageFailure(stageCtx, run, index, spec, started, res, inputRef, &ref)
	}

	stagedPath := ""
	if index+1 < len(o.stages) && o.stages[index+1].UsesInput() {
		stagedPath = filepath.Join(runDir, spec.Name+".json")
		if err := os.WriteFile(stagedPath, res.Stdout, 0o644); err != nil {
			res.Cause = domain.CauseArtifactWrite
			res.Detail = fmt.Sprintf("stage artifact for next stage: %v", err)
			return nil, o.commitStageFailure(stageCtx, run, index, spec, started, res, inputRef, &ref)
		}
	}

	payload := domain.StageAuditPayload{
		Kind:         domain.AuditKindStage,
		RunID:        run.ID,
		Stage:        spec.Name,
		Index:        index,
		ContractRef:  run.Contract.Ref,
		ContractHash: run.Contract.SHA256,
		Status:       domain.StageSuccess,
		ExitCode:     res.ExitCode,
		Input:        inputRef,
		Artifact:     &ref,
		Digest:       &digest,
		Diagnostics:  res.Stderr,
		DurationMS:   res.Duration.Milliseconds(),
		StartedAt:    started,
	}
	entry, err := o.appendAudit(stageCtx, o.analysisTopic, payload)
	if err != nil {
		// Tool and artifact both succeeded, but without a committed entry the
		// stage may not become visible. The stored artifact is reported as an
		// orphan so an operator can reconcile it against the trail.
		orphan := ref
		return nil, &domain.RunFailure{
			Stage:          spec.Name,
			Cause:          domain.CauseAuditCommit,
			Message:        fmt.Sprintf("append %s audit entry: %v", spec.Name, err),
			OrphanArtifact: &orphan,
		}
	}

	result := domain.StageResult{
		Stage:       spec.Name,
		Index:       index,
		Status:      domain.StageSuccess,
		Input:       inputRef,
		Artifact:    &ref,
		Digest:      &digest,
		AuditSeq:    entry.Seq,
		Fingerprint: entry.Fingerprint,
		ExitCode:    res.ExitCode,
		Diagnostics: res.Stderr,
		StartedAt:   started,
		Duration:    res.Duration,
	}
	if failure := o.recordStage(stageCtx, run, result); failure != nil {
		return nil, failure
	}
	o.publish(domain.RunEvent{RunID: run.ID, Type: domain.EventStageCommitted, Stage: spec.Name, Seq: entry.Seq, At: o.clock().UTC()})
	o.logger.Info("stage committed",
		"run_id", run.ID,
		"stage", spec.Name,
		"seq", entry.Seq,
		"duration_ms", res.Duration.Milliseconds())
	return &stageOutput{ref: ref, path: stagedPath}, nil
}

// commitStageFailure audits a failed stage attempt and, if the entry commits,
// makes the failing result visible. When the audit append itself fails the
// failure cause escalates to AuditCommitFailure and nothing becomes visible.
func (o *Orchestrator) commitStageFailure(ctx context.Context, run *domain.Run, index int, spec domain.StageSpec, started time.Time, res domain.ToolResult, input, artifact *domain.ArtifactRef) *domain.RunFailure {
	payload := domain.StageAuditPayload{
		Kind:         domain.AuditKindStage,
		RunID:        run.ID,
		Stage:        spec.Name,
		Index:        index,
		ContractRef:  run.Contract.Ref,
		ContractHash: run.Contract.SHA256,
		Status:       domain.StageFailed,
		Cause:        res.Cause,
		Error:        res.Detail,
		ExitCode:     res.ExitCode,
		Input:        input,
		Artifact:     artifact,
		Diagnostics:  res.Stderr,
		DurationMS:   res.Duration.Milliseconds(),
		StartedAt:    started,
	}
	entry, err := o.appendAudit(ctx, o.analysisTopic, payload)
	if err != nil {
		failure := &domain.RunFailure{
			Stage:   spec.Name,
			Cause:   domain.CauseAuditCommit,
			Message: fmt.Sprintf("append %s audit entry after %s: %v", spec.Name, res.Cause, err),
		}
		if artifact != nil {
			orphan := *artifact
			failure.OrphanArtifact = &orphan
		}
		return failure
	}

	result := domain.StageResult{
		Stage:       spec.Name,
		Index:       index,
		Status:      domain.StageFailed,
		Input:       input,
		Artifact:    artifact,
		AuditSeq:    entry.Seq,
		Fingerprint: entry.Fingerprint,
		Cause:       res.Cause,
		Error:       res.Detail,
		ExitCode:    res.ExitCode,
		Diagnostics: res.Stderr,
		StartedAt:   started,
		Duration:    res.Duration,
	}
	if failure := o.recordStage(ctx, run, result); failure != nil {
		return failure
	}
	o.publish(domain.RunEvent{RunID: run.ID, Type: domain.EventStageFailed, Stage: spec.Name, Seq: entry.Seq, Cause: res.Cause, Message: res.Detail, At: o.clock().UTC()})
	o.logger.Warn("stage failed",
		"run_id", run.ID,
		"stage", spec.Name,
		"cause", res.Cause,
		"exit_code", res.ExitCode,
		"seq", entry.Seq)
	return &domain.RunFailure{
		Stage:   spec.Name,
		Cause:   res.Cause,
		Message: res.Detail,
	}
}

// recordStage makes an audited result visible in memory and in the run store.
func (o *Orchestrator) recordStage(ctx context.Context, run *domain.Run, result domain.StageResult) *domain.RunFailure {
	run.Stages = append(run.Stages, result)
	storeCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	if err := o.runs.AppendStage(storeCtx, run.ID, result); err != nil {
		// The audit entry exists but the run store lost the row; surfacing a
		// shorter stage list than the trail would break callers that compare
		// the two, so the run fails here.
		run.Stages = run.Stages[:len(run.Stages)-1]
		return &domain.RunFailure{
			Stage:   result.Stage,
			Cause:   domain.CauseArtifactWrite,
			Message: fmt.Sprintf("record stage result: %v", err),
		}
	}
	return nil
}

func (o *Orchestrator) commitSummary(ctx context.Context, run *domain.Run) *domain.RunFailure {
	baseCtx := context.WithoutCancel(ctx)
	findings, confirmed, remediations := summarize(run.Stages)
	payload := domain.SummaryAuditPayload{
		Kind:            domain.AuditKindSummary,
		RunID:           run.ID,
		ContractRef:     run.Contract.Ref,
		ContractHash:    run.Contract.SHA256,
		Status:          domain.RunCompleted,
		StagesCompleted: len(run.Stages),
		Findings:        findings,
		Confirmed:       confirmed,
		Remediations:    remediations,
		StageSeqs:       run.AuditSeqs(),
		StartedAt:       run.StartedAt,
		CompletedAt:     o.clock().UTC(),
	}

	entry, err := o.appendAudit(baseCtx, o.analysisTopic, payload)
	if err != nil {
		return &domain.RunFailure{
			Stage:   summaryStep,
			Cause:   domain.CauseAuditCommit,
			Message: fmt.Sprintf("append summary to %s: %v", o.analysisTopic, err),
		}
	}
	run.SummarySeq = entry.Seq

	mirror, err := o.appendAudit(baseCtx, o.remediationTopic, payload)
	if err != nil {
		return &domain.RunFailure{
			Stage:   summaryStep,
			Cause:   domain.CauseAuditCommit,
			Message: fmt.Sprintf("mirror summary to %s: %v", o.remediationTopic, err),
		}
	}
	run.RemediationSeq = mirror.Seq
	return nil
}

func (o *Orchestrator) finalizeFailure(ctx context.Context, run *domain.Run, failure *domain.RunFailure) {
	run.Status = domain.RunFailed
	run.Failure = failure
	run.CompletedAt = o.clock().UTC()
	o.persistTerminal(ctx, run)
	o.publish(domain.RunEvent{
		RunID:   run.ID,
		Type:    domain.EventRunFailed,
		Stage:   failure.Stage,
		Status:  run.Status,
		Cause:   failure.Cause,
		Message: failure.Message,
		At:      run.CompletedAt,
	})
	o.logger.Warn("run failed",
		"run_id", run.ID,
		"stage", failure.Stage,
		"cause", failure.Cause,
		"error", failure.Message)
}

// persistTerminal writes the terminal state even when the run context is
// already cancelled.
func (o *Orchestrator) persistTerminal(ctx context.Context, run *domain.Run) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.storeTimeout)
	defer cancel()
	if err := o.runs.Finalize(storeCtx, *run); err != nil {
		o.logger.Error("finalize run", "run_id", run.ID, "error", err)
	}
}

func (o *Orchestrator) putArtifact(ctx context.Context, runID, stage string, body []byte) (domain.ArtifactRef, error) {
	storeCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	return o.artifacts.Put(storeCtx, runID, stage, body)
}

func (o *Orchestrator) appendAudit(ctx context.Context, topic string, payload any) (domain.AuditEntry, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("marshal audit payload: %w", err)
	}
	ledgerCtx, cancel := context.WithTimeout(ctx, o.ledgerTimeout)
	defer cancel()
	return o.log.Append(ledgerCtx, topic, body)
}

func (o *Orchestrator) publish(evt domain.RunEvent) {
	if o.events == nil {
		return
	}
	o.events.Publish(evt)
}

// summarize folds the visible stage digests into run-level counts. A count
// stays -1 when no stage reported that dimension.
func summarize(stages []domain.StageResult) (findings, confirmed, remediations int) {
	findings, confirmed, remediations = -1, -1, -1
	for _, st := range stages {
		if st.Digest == nil {
			continue
		}
		if st.Digest.Findings >= 0 {
			findings = st.Digest.Findings
		}
		if st.Digest.Confirmed >= 0 {
			confirmed = st.Digest.Confirmed
		}
		if st.Digest.Remediations >= 0 {
			remediations = st.Digest.Remediations
		}
	}
	return findings, confirmed, remediations
}
