package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/config"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/artifacts"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/contracts"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/ledger/ledgermem"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/runmem"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/toolrun"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/usecase"
)

// runLocal executes the pipeline in process against a local contract file:
// in-memory run store and ledger, artifacts on disk, real tool subprocesses.
// It is the development loop for stage authors; the emitted document carries
// the terminal run, its audit entries and a full trail verification.
func runLocal(args []string) int {
	cfg := config.FromEnv()

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var contractPath string
	var stagesFile string
	var submitter string
	var artifactsDir string
	var toolTimeout int
	var quiet bool
	var outPath string

	fs.StringVar(&contractPath, "contract", "", "path to the contract file")
	fs.StringVar(&stagesFile, "stages", cfg.StagesFile, "stage registry YAML (default built-in stages)")
	fs.StringVar(&submitter, "submitter", "local", "submitter identity recorded on the run")
	fs.StringVar(&artifactsDir, "artifacts", "", "directory to keep stage artifacts (default temp, discarded)")
	fs.IntVar(&toolTimeout, "tool-timeout", cfg.ToolTimeoutSeconds, "per-stage tool timeout in seconds")
	fs.BoolVar(&quiet, "quiet", false, "suppress progress logging")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if contractPath == "" {
		fmt.Fprintln(os.Stderr, "run requires --contract")
		return 1
	}

	stages := config.DefaultStages()
	if stagesFile != "" {
		loaded, err := config.LoadStages(stagesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load stages: %v\n", err)
			return 1
		}
		stages = loaded
	}

	if artifactsDir == "" {
		dir, err := os.MkdirTemp("", "aegis-artifacts-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "create artifact dir: %v\n", err)
			return 1
		}
		defer os.RemoveAll(dir)
		artifactsDir = dir
	}
	store, err := artifacts.NewFSStore(artifactsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open artifact store: %v\n", err)
		return 1
	}

	workDir, err := os.MkdirTemp("", "aegis-work-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create work dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(workDir)

	var logWriter io.Writer = os.Stderr
	if quiet {
		logWriter = io.Discard
	}
	logger := slog.New(slog.NewTextHandler(logWriter, nil))

	runs := runmem.New()
	auditLog := ledgermem.New()

	orc, err := usecase.NewOrchestrator(usecase.OrchestratorConfig{
		Runs:             runs,
		Log:              auditLog,
		Invoker:          toolrun.New(time.Duration(toolTimeout)*time.Second, cfg.MaxStdoutBytes()),
		Artifacts:        store,
		Resolver:         contracts.NewResolver("", cfg.MaxContractBytes()),
		Logger:           logger,
		Stages:           stages,
		AnalysisTopic:    cfg.TopicAnalysis,
		RemediationTopic: cfg.TopicRemediation,
		WorkDir:          workDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build pipeline: %v\n", err)
		return 1
	}

	ctx := context.Background()
	run, err := orc.Run(ctx, usecase.SubmitRequest{ContractRef: contractPath, Submitter: submitter})
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return 1
	}

	trail := &usecase.TrailService{Runs: runs, Log: auditLog, RemediationTopic: cfg.TopicRemediation}
	runTrail, err := trail.FetchRun(ctx, run.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch trail: %v\n", err)
		return 1
	}
	verification, err := trail.VerifyRun(ctx, run.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify trail: %v\n", err)
		return 1
	}

	doc := buildLocalDoc(run, runTrail, verification)
	if code := emitJSON(outPath, doc); code != 0 {
		return code
	}
	if run.Status != domain.RunCompleted || !verification.OK {
		return 1
	}
	return 0
}

type localDoc struct {
	Run          localRun           `json:"run"`
	Entries      []localEntry       `json:"entries"`
	Mirror       *localEntry        `json:"mirror,omitempty"`
	Verification *localVerification `json:"verification,omitempty"`
}

type localRun struct {
	RunID          string        `json:"run_id"`
	Status         string        `json:"status"`
	ContractRef    string        `json:"contract_ref"`
	ContractSHA256 string        `json:"contract_sha256"`
	Topic          string        `json:"topic"`
	Stages         []localStage  `json:"stages"`
	Failure        *localFailure `json:"failure,omitempty"`
	SummarySeq     int64         `json:"summary_seq,omitempty"`
	RemediationSeq int64         `json:"remediation_seq,omitempty"`
}

type localStage struct {
	Stage       string `json:"stage"`
	Status      string `json:"status"`
	Seq         int64  `json:"seq"`
	Fingerprint string `json:"fingerprint"`
	Input       string `json:"input,omitempty"`
	Artifact    string `json:"artifact,omitempty"`
	Cause       string `json:"cause,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

type localFailure struct {
	Stage          string `json:"stage"`
	Cause          string `json:"cause"`
	Message        string `json:"message"`
	OrphanArtifact string `json:"orphan_artifact,omitempty"`
}

type localEntry struct {
	Topic       string          `json:"topic"`
	Seq         int64           `json:"seq"`
	Fingerprint string          `json:"fingerprint"`
	PrevHash    string          `json:"prev_hash"`
	CreatedAt   time.Time       `json:"created_at"`
	Payload     json.RawMessage `json:"payload"`
}

type localVerification struct {
	OK       bool     `json:"ok"`
	Checked  int      `json:"checked"`
	Problems []string `json:"problems,omitempty"`
}

func buildLocalDoc(run domain.Run, trail usecase.RunTrail, verification usecase.TrailVerification) localDoc {
	lr := localRun{
		RunID:          run.ID,
		Status:         string(run.Status),
		ContractRef:    run.Contract.Ref,
		ContractSHA256: run.Contract.SHA256,
		Topic:          run.Topic,
		Stages:         make([]localStage, 0, len(run.Stages)),
		SummarySeq:     run.SummarySeq,
		RemediationSeq: run.RemediationSeq,
	}
	for _, st := range run.Stages {
		stage := localStage{
			Stage:       st.Stage,
			Status:      string(st.Status),
			Seq:         st.AuditSeq,
			Fingerprint: st.Fingerprint,
			Cause:       string(st.Cause),
			Error:       st.Error,
			DurationMS:  st.Duration.Milliseconds(),
		}
		if st.Input != nil {
			stage.Input = st.Input.Location
		}
		if st.Artifact != nil {
			stage.Artifact = st.Artifact.Location
		}
		lr.Stages = append(lr.Stages, stage)
	}
	if run.Failure != nil {
		failure := &localFailure{
			Stage:   run.Failure.Stage,
			Cause:   string(run.Failure.Cause),
			Message: run.Failure.Message,
		}
		if run.Failure.OrphanArtifact != nil {
			failure.OrphanArtifact = run.Failure.OrphanArtifact.Location
		}
		lr.Failure = failure
	}

	doc := localDoc{
		Run:     lr,
		Entries: make([]localEntry, 0, len(trail.Entries)),
		Verification: &localVerification{
			OK:       verification.OK,
			Checked:  verification.Checked,
			Problems: verification.Problems,
		},
	}
	for _, entry := range trail.Entries {
		doc.Entries = append(doc.Entries, toLocalEntry(entry))
	}
	if trail.Mirror != nil {
		mirror := toLocalEntry(*trail.Mirror)
		doc.Mirror = &mirror
	}
	return doc
}

func toLocalEntry(entry domain.AuditEntry) localEntry {
	return localEntry{
		Topic:       entry.Topic,
		Seq:         entry.Seq,
		Fingerprint: entry.Fingerprint,
		PrevHash:    entry.PrevHash,
		CreatedAt:   entry.CreatedAt,
		Payload:     json.RawMessage(entry.Payload),
	}
}
