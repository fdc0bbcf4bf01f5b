package db

import "time"

type RunModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	ContractRef    string `gorm:"not null"`
	ContractSHA256 string `gorm:"column:contract_sha256;index;not null"`
	ContractSize   int64  `gorm:"not null"`
	Submitter      string `gorm:"index;not null"`
	Topic          string `gorm:"not null"`
	Status         string `gorm:"index;not null"`
	SummarySeq     int64  `gorm:"not null;default:0"`
	RemediationSeq int64  `gorm:"not null;default:0"`
	FailureStage   *string
	FailureCause   *string
	FailureMessage *string
	OrphanJSON     []byte    `gorm:"column:orphan_json;type:jsonb"`
	CreatedAt      time.Time `gorm:"index;not null"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

func (RunModel) TableName() string {
	return "runs"
}

type StageResultModel struct {
	ID               int64  `gorm:"primaryKey"`
	RunID            string `gorm:"type:uuid;index:idx_stage_results_run_stage,unique;not null"`
	StageIndex       int    `gorm:"column:stage_index;index:idx_stage_results_run_stage,unique;not null"`
	Stage            string `gorm:"not null"`
	Status           string `gorm:"not null"`
	Cause            *string
	Error            *string
	ExitCode         int    `gorm:"not null"`
	AuditSeq         int64  `gorm:"not null"`
	Fingerprint      string `gorm:"not null"`
	InputJSON        []byte `gorm:"column:input_json;type:jsonb"`
	ArtifactLocation *string
	ArtifactSHA256   *string `gorm:"column:artifact_sha256"`
	ArtifactSize     *int64
	DigestKind       *string
	DigestFindings   *int
	DigestConfirmed  *int
	DigestRemed      *int      `gorm:"column:digest_remediations"`
	Diagnostics      string    `gorm:"type:text"`
	StartedAt        time.Time `gorm:"not null"`
	DurationMS       int64     `gorm:"column:duration_ms;not null"`
}

func (StageResultModel) TableName() string {
	return "stage_results"
}
