package domain

import "time"

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
)

type FailureCause string

const (
	CauseInvalidInput        FailureCause = "invalid_input"
	CauseToolSpawn           FailureCause = "tool_spawn_error"
	CauseToolNonZeroExit     FailureCause = "tool_non_zero_exit"
	CauseToolTimeout         FailureCause = "tool_timeout"
	CauseToolOutputMalformed FailureCause = "tool_output_malformed"
	CauseArtifactWrite       FailureCause = "artifact_write_failure"
	CauseAuditCommit         FailureCause = "audit_commit_failure"
	CauseCancelled           FailureCause = "cancelled"
)

// ToolCause reports whether the cause originated inside a tool invocation,
// as opposed to the orchestrator's own persistence or control flow.
func (c FailureCause) ToolCause() bool {
	switch c {
	case CauseToolSpawn, CauseToolNonZeroExit, CauseToolTimeout, CauseToolOutputMalformed:
		return true
	}
	return false
}

// Contract is a resolved submission target: the reference the caller supplied
// plus the local path and content digest the resolver established.
type Contract struct {
	Ref       string
	Path      string
	SHA256    string
	SizeBytes int64
}

type ArtifactRef struct {
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Location  string `json:"location"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// ReportDigest summarizes what a stage's report contained. Counts are -1 when
// the report kind does not carry that dimension.
type ReportDigest struct {
	Kind         string `json:"kind"`
	Findings     int    `json:"findings"`
	Confirmed    int    `json:"confirmed"`
	Remediations int    `json:"remediations"`
}

// StageResult is one stage attempt. Input is the prior stage's artifact fed
// to this one, nil for the first stage. Exactly one of Artifact or Cause is
// meaningful: a success has an artifact and no cause, a failure the reverse
// (except that a malformed-output failure keeps the stored artifact ref).
type StageResult struct {
	Stage       string
	Index       int
	Status      StageStatus
	Input       *ArtifactRef
	Artifact    *ArtifactRef
	Digest      *ReportDigest
	AuditSeq    int64
	Fingerprint string
	Cause       FailureCause
	Error       string
	ExitCode    int
	Diagnostics string
	StartedAt   time.Time
	Duration    time.Duration
}

// RunFailure pins a failed run to the stage and cause that terminated it.
// OrphanArtifact is set when the stage's output was durably stored but its
// audit entry could not be committed, so the result never became visible.
type RunFailure struct {
	Stage          string
	Cause          FailureCause
	Message        string
	OrphanArtifact *ArtifactRef
}

type Run struct {
	ID       string
	Contract Contract

	Submitter string
	Topic     string
	Status    RunStatus
	Stages    []StageResult
	Failure   *RunFailure

	// SummarySeq is the terminal summary's sequence on the run's own topic;
	// RemediationSeq is the mirrored copy's sequence on the remediation topic.
	// Both are zero until the run completes.
	SummarySeq     int64
	RemediationSeq int64

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// AuditSeqs returns the committed sequence numbers of the visible stages in
// pipeline order, plus the summary sequence when one was committed.
func (r Run) AuditSeqs() []int64 {
	seqs := make([]int64, 0, len(r.Stages)+1)
	for _, st := range r.Stages {
		seqs = append(seqs, st.AuditSeq)
	}
	if r.SummarySeq > 0 {
		seqs = append(seqs, r.SummarySeq)
	}
	return seqs
}

type ToolResult struct {
	Cause    FailureCause
	Detail   string
	Stdout   []byte
	Stderr   string
	ExitCode int
	Duration time.Duration
}

func (t ToolResult) OK() bool {
	return t.Cause == ""
}
