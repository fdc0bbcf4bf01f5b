package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

// RunRepository stores each run as one row in runs plus one row per visible
// stage in stage_results. Stage rows are inserted only after their audit
// entry committed, so the table never shows an unaudited result.
type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(store *Store) *RunRepository {
	if store == nil {
		return &RunRepository{}
	}
	return &RunRepository{db: store.DB}
}

func (r *RunRepository) Create(ctx context.Context, run domain.Run) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if run.ID == "" {
		return fmt.Errorf("%w: run id required", domain.ErrInvalidInput)
	}
	model, err := runToModel(run)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: run %s already exists", domain.ErrInvalidInput, run.ID)
		}
		return err
	}
	return nil
}

func (r *RunRepository) MarkRunning(ctx context.Context, runID string, startedAt time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model RunModel
		if err := tx.First(&model, "id = ?", runID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
			}
			return err
		}
		if domain.RunStatus(model.Status).Terminal() {
			return fmt.Errorf("%w: run %s is %s", domain.ErrRunTerminal, runID, model.Status)
		}
		updates := map[string]any{
			"status":     string(domain.RunRunning),
			"started_at": startedAt,
		}
		return tx.Model(&RunModel{}).Where("id = ?", runID).Updates(updates).Error
	})
}

func (r *RunRepository) AppendStage(ctx context.Context, runID string, result domain.StageResult) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model RunModel
		if err := tx.First(&model, "id = ?", runID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
			}
			return err
		}
		if domain.RunStatus(model.Status).Terminal() {
			return fmt.Errorf("%w: run %s is %s", domain.ErrRunTerminal, runID, model.Status)
		}
		stage, err := stageToModel(runID, result)
		if err != nil {
			return err
		}
		return tx.Create(&stage).Error
	})
}

func (r *RunRepository) Finalize(ctx context.Context, run domain.Run) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if !run.Status.Terminal() {
		return fmt.Errorf("%w: finalize requires a terminal status, got %s", domain.ErrInvalidInput, run.Status)
	}
	updates := map[string]any{
		"status":          string(run.Status),
		"summary_seq":     run.SummarySeq,
		"remediation_seq": run.RemediationSeq,
		"completed_at":    run.CompletedAt,
	}
	if run.Failure != nil {
		updates["failure_stage"] = strPtr(run.Failure.Stage)
		updates["failure_cause"] = strPtr(string(run.Failure.Cause))
		updates["failure_message"] = strPtr(run.Failure.Message)
		if run.Failure.OrphanArtifact != nil {
			orphan, err := json.Marshal(run.Failure.OrphanArtifact)
			if err != nil {
				return err
			}
			updates["orphan_json"] = orphan
		}
	}
	res := r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", run.ID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: run %s", domain.ErrNotFound, run.ID)
	}
	return nil
}

func (r *RunRepository) Get(ctx context.Context, runID string) (domain.Run, error) {
	if r.db == nil {
		return domain.Run{}, errDBUnavailable
	}
	var model RunModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", runID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Run{}, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
		}
		return domain.Run{}, err
	}
	var stages []StageResultModel
	err = r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("stage_index ASC").
		Find(&stages).Error
	if err != nil {
		return domain.Run{}, err
	}
	return runToDomain(model, stages)
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]domain.Run, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	q := r.db.WithContext(ctx).Model(&RunModel{}).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []RunModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Run, 0, len(models))
	for _, model := range models {
		var stages []StageResultModel
		err := r.db.WithContext(ctx).
			Where("run_id = ?", model.ID).
			Order("stage_index ASC").
			Find(&stages).Error
		if err != nil {
			return nil, err
		}
		run, err := runToDomain(model, stages)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func runToModel(run domain.Run) (RunModel, error) {
	model := RunModel{
		ID:             run.ID,
		ContractRef:    run.Contract.Ref,
		ContractSHA256: run.Contract.SHA256,
		ContractSize:   run.Contract.SizeBytes,
		Submitter:      run.Submitter,
		Topic:          run.Topic,
		Status:         string(run.Status),
		SummarySeq:     run.SummarySeq,
		RemediationSeq: run.RemediationSeq,
		CreatedAt:      run.CreatedAt,
	}
	if !run.StartedAt.IsZero() {
		started := run.StartedAt
		model.StartedAt = &started
	}
	if !run.CompletedAt.IsZero() {
		completed := run.CompletedAt
		model.CompletedAt = &completed
	}
	if run.Failure != nil {
		model.FailureStage = strPtr(run.Failure.Stage)
		model.FailureCause = strPtr(string(run.Failure.Cause))
		model.FailureMessage = strPtr(run.Failure.Message)
		if run.Failure.OrphanArtifact != nil {
			orphan, err := json.Marshal(run.Failure.OrphanArtifact)
			if err != nil {
				return RunModel{}, err
			}
			model.OrphanJSON = orphan
		}
	}
	return model, nil
}

func runToDomain(model RunModel, stages []StageResultModel) (domain.Run, error) {
	run := domain.Run{
		ID: model.ID,
		Contract: domain.Contract{
			Ref:       model.ContractRef,
			SHA256:    model.ContractSHA256,
			SizeBytes: model.ContractSize,
		},
		Submitter:      model.Submitter,
		Topic:          model.Topic,
		Status:         domain.RunStatus(model.Status),
		SummarySeq:     model.SummarySeq,
		RemediationSeq: model.RemediationSeq,
		CreatedAt:      model.CreatedAt,
	}
	if model.StartedAt != nil {
		run.StartedAt = *model.StartedAt
	}
	if model.CompletedAt != nil {
		run.CompletedAt = *model.CompletedAt
	}
	if model.FailureCause != nil {
		failure := &domain.RunFailure{
			Stage:   derefStr(model.FailureStage),
			Cause:   domain.FailureCause(derefStr(model.FailureCause)),
			Message: derefStr(model.FailureMessage),
		}
		if len(model.OrphanJSON) > 0 {
			var orphan domain.ArtifactRef
			if err := json.Unmarshal(model.OrphanJSON, &orphan); err != nil {
				return domain.Run{}, err
			}
			failure.OrphanArtifact = &orphan
		}
		run.Failure = failure
	}
	for _, stage := range stages {
		result, err := stageToDomain(stage)
		if err != nil {
			return domain.Run{}, err
		}
		run.Stages = append(run.Stages, result)
	}
	return run, nil
}

func stageToModel(runID string, result domain.StageResult) (StageResultModel, error) {
	model := StageResultModel{
		RunID:       runID,
		StageIndex:  result.Index,
		Stage:       result.Stage,
		Status:      string(result.Status),
		Cause:       strPtr(string(result.Cause)),
		Error:       strPtr(result.Error),
		ExitCode:    result.ExitCode,
		AuditSeq:    result.AuditSeq,
		Fingerprint: result.Fingerprint,
		Diagnostics: result.Diagnostics,
		StartedAt:   result.StartedAt,
		DurationMS:  result.Duration.Milliseconds(),
	}
	if result.Input != nil {
		input, err := json.Marshal(result.Input)
		if err != nil {
			return StageResultModel{}, err
		}
		model.InputJSON = input
	}
	if result.Artifact != nil {
		model.ArtifactLocation = strPtr(result.Artifact.Location)
		model.ArtifactSHA256 = strPtr(result.Artifact.SHA256)
		model.ArtifactSize = int64Ptr(result.Artifact.SizeBytes)
	}
	if result.Digest != nil {
		model.DigestKind = strPtr(result.Digest.Kind)
		model.DigestFindings = intPtr(result.Digest.Findings)
		model.DigestConfirmed = intPtr(result.Digest.Confirmed)
		model.DigestRemed = intPtr(result.Digest.Remediations)
	}
	return model, nil
}

func stageToDomain(model StageResultModel) (domain.StageResult, error) {
	result := domain.StageResult{
		Stage:       model.Stage,
		Index:       model.StageIndex,
		Status:      domain.StageStatus(model.Status),
		Cause:       domain.FailureCause(derefStr(model.Cause)),
		Error:       derefStr(model.Error),
		ExitCode:    model.ExitCode,
		AuditSeq:    model.AuditSeq,
		Fingerprint: model.Fingerprint,
		Diagnostics: model.Diagnostics,
		StartedAt:   model.StartedAt,
		Duration:    time.Duration(model.DurationMS) * time.Millisecond,
	}
	if len(model.InputJSON) > 0 {
		var input domain.ArtifactRef
		if err := json.Unmarshal(model.InputJSON, &input); err != nil {
			return domain.StageResult{}, err
		}
		result.Input = &input
	}
	if model.ArtifactLocation != nil {
		result.Artifact = &domain.ArtifactRef{
			RunID:     model.RunID,
			Stage:     model.Stage,
			Location:  derefStr(model.ArtifactLocation),
			SHA256:    derefStr(model.ArtifactSHA256),
			SizeBytes: 0,
		}
		if model.ArtifactSize != nil {
			result.Artifact.SizeBytes = *model.ArtifactSize
		}
	}
	if model.DigestKind != nil {
		digest := &domain.ReportDigest{Kind: derefStr(model.DigestKind)}
		if model.DigestFindings != nil {
			digest.Findings = *model.DigestFindings
		}
		if model.DigestConfirmed != nil {
			digest.Confirmed = *model.DigestConfirmed
		}
		if model.DigestRemed != nil {
			digest.Remediations = *model.DigestRemed
		}
		result.Digest = digest
	}
	return result, nil
}
