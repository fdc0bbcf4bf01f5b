package domain

import "time"

const (
	// AuditChainVersion is bound into every entry fingerprint. Bump it and old
	// trails keep verifying under the version recorded in their entries.
	AuditChainVersion = "aegis_audit_v1"

	// AuditZeroHash seeds the prev-hash chain for the first entry of a topic.
	AuditZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"
)

type AuditKind string

const (
	AuditKindStage   AuditKind = "stage"
	AuditKindSummary AuditKind = "summary"
)

// AuditEntry is one committed record of a topic's append-only log. Seq is
// assigned by the log, gapless from 1 per topic. PayloadHash, PrevHash and
// Fingerprint are lowercase hex sha256 digests; any reader can recompute
// Fingerprint from the other fields.
type AuditEntry struct {
	ID          string
	Topic       string
	Seq         int64
	Payload     []byte
	PayloadHash string
	PrevHash    string
	Fingerprint string
	CreatedAt   time.Time
}

type Checkpoint struct {
	Topic    string
	TreeSize int64
	RootHash []byte
	IssuedAt time.Time
}

type InclusionProof struct {
	Topic     string
	Seq       int64
	LeafIndex int64
	Path      [][]byte
	TreeSize  int64
	RootHash  []byte
}

// StageAuditPayload is the document committed for each stage attempt, success
// or failure. Field order is fixed by JSON marshalling; the payload bytes as
// committed are what PayloadHash covers.
type StageAuditPayload struct {
	Kind         AuditKind     `json:"kind"`
	RunID        string        `json:"run_id"`
	Stage        string        `json:"stage"`
	Index        int           `json:"index"`
	ContractRef  string        `json:"contract_ref"`
	ContractHash string        `json:"contract_sha256"`
	Status       StageStatus   `json:"status"`
	Cause        FailureCause  `json:"cause,omitempty"`
	Error        string        `json:"error,omitempty"`
	ExitCode     int           `json:"exit_code"`
	Input        *ArtifactRef  `json:"input,omitempty"`
	Artifact     *ArtifactRef  `json:"artifact,omitempty"`
	Digest       *ReportDigest `json:"digest,omitempty"`
	Diagnostics  string        `json:"diagnostics,omitempty"`
	DurationMS   int64         `json:"duration_ms"`
	StartedAt    time.Time     `json:"started_at"`
}

// SummaryAuditPayload closes a completed run's narrative and doubles as the
// document mirrored to the remediation topic for downstream consumers.
type SummaryAuditPayload struct {
	Kind            AuditKind `json:"kind"`
	RunID           string    `json:"run_id"`
	ContractRef     string    `json:"contract_ref"`
	ContractHash    string    `json:"contract_sha256"`
	Status          RunStatus `json:"status"`
	StagesCompleted int       `json:"stages_completed"`
	Findings        int       `json:"findings"`
	Confirmed       int       `json:"confirmed"`
	Remediations    int       `json:"remediations"`
	StageSeqs       []int64   `json:"stage_seqs"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}
