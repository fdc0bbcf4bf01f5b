package http

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/usecase"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type submitRunRequest struct {
	ContractRef string `json:"contract_ref"`
	Submitter   string `json:"submitter"`
}

type runResponse struct {
	RunID          string           `json:"run_id"`
	ContractRef    string           `json:"contract_ref"`
	ContractSHA256 string           `json:"contract_sha256"`
	Submitter      string           `json:"submitter,omitempty"`
	Topic          string           `json:"topic"`
	Status         string           `json:"status"`
	Stages         []stageResponse  `json:"stages"`
	Failure        *failureResponse `json:"failure,omitempty"`
	SummarySeq     int64            `json:"summary_seq,omitempty"`
	RemediationSeq int64            `json:"remediation_seq,omitempty"`
	CreatedAt      string           `json:"created_at"`
	StartedAt      string           `json:"started_at,omitempty"`
	CompletedAt    string           `json:"completed_at,omitempty"`
}

type stageResponse struct {
	Stage       string               `json:"stage"`
	Index       int                  `json:"index"`
	Status      string               `json:"status"`
	AuditSeq    int64                `json:"audit_seq"`
	Fingerprint string               `json:"fingerprint"`
	Cause       string               `json:"cause,omitempty"`
	Error       string               `json:"error,omitempty"`
	ExitCode    int                  `json:"exit_code"`
	Input       *artifactResponse    `json:"input,omitempty"`
	Artifact    *artifactResponse    `json:"artifact,omitempty"`
	Digest      *domain.ReportDigest `json:"digest,omitempty"`
	DurationMS  int64                `json:"duration_ms"`
	StartedAt   string               `json:"started_at"`
}

type artifactResponse struct {
	Stage     string `json:"stage"`
	Location  string `json:"location"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

type failureResponse struct {
	Stage          string            `json:"stage"`
	Cause          string            `json:"cause"`
	Message        string            `json:"message"`
	OrphanArtifact *artifactResponse `json:"orphan_artifact,omitempty"`
}

type entryResponse struct {
	Topic       string          `json:"topic"`
	Seq         int64           `json:"seq"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payload_hash"`
	PrevHash    string          `json:"prev_hash"`
	Fingerprint string          `json:"fingerprint"`
	CreatedAt   string          `json:"created_at"`
}

type trailResponse struct {
	Run     runResponse     `json:"run"`
	Entries []entryResponse `json:"entries"`
	Mirror  *entryResponse  `json:"mirror,omitempty"`
}

type verificationResponse struct {
	RunID    string   `json:"run_id,omitempty"`
	Topic    string   `json:"topic"`
	Checked  int      `json:"checked"`
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

type checkpointResponse struct {
	Topic    string `json:"topic"`
	TreeSize int64  `json:"tree_size"`
	RootHash string `json:"root_hash"`
	IssuedAt string `json:"issued_at"`
}

type proofResponse struct {
	Topic     string   `json:"topic"`
	Seq       int64    `json:"seq"`
	LeafIndex int64    `json:"leaf_index"`
	Path      []string `json:"path"`
	TreeSize  int64    `json:"tree_size"`
	RootHash  string   `json:"root_hash"`
}

func (s *Server) handleSubmitRun(c *gin.Context) {
	if !s.requireAPIKey(c) {
		return
	}
	if s.orc == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req submitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if strings.TrimSpace(req.ContractRef) == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_INPUT", "contract_ref is required")
		return
	}
	if !s.enforceRateLimit(c, routeRunsSubmit, req.Submitter) {
		return
	}

	run, err := s.orc.Submit(c.Request.Context(), usecase.SubmitRequest{
		ContractRef: req.ContractRef,
		Submitter:   req.Submitter,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	s.orc.Launch(run.ID)
	c.JSON(http.StatusAccepted, buildRunResponse(run))
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.runs == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if !s.enforceRateLimit(c, routeRunsRead, "") {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_INPUT", "invalid limit")
			return
		}
		limit = parsed
	}
	runs, err := s.runs.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, buildRunResponse(run))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.runs == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if !s.enforceRateLimit(c, routeRunsRead, "") {
		return
	}
	run, err := s.runs.Get(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildRunResponse(run))
}

func (s *Server) handleCancelRun(c *gin.Context) {
	if !s.requireAPIKey(c) {
		return
	}
	if s.orc == nil || s.runs == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	runID := c.Param("run_id")
	if _, err := s.runs.Get(c.Request.Context(), runID); err != nil {
		writeError(c, err)
		return
	}
	cancelled := s.orc.Cancel(runID)
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "cancelled": cancelled})
}

func (s *Server) handleRunTrail(c *gin.Context) {
	if s.trail == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if !s.enforceRateLimit(c, routeTrailRead, "") {
		return
	}
	trail, err := s.trail.FetchRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := trailResponse{
		Run:     buildRunResponse(trail.Run),
		Entries: make([]entryResponse, 0, len(trail.Entries)),
	}
	for _, entry := range trail.Entries {
		out.Entries = append(out.Entries, buildEntryResponse(entry))
	}
	if trail.Mirror != nil {
		mirror := buildEntryResponse(*trail.Mirror)
		out.Mirror = &mirror
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleVerifyRun(c *gin.Context) {
	if s.trail == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if !s.enforceRateLimit(c, routeTrailRead, "") {
		return
	}
	v, err := s.trail.VerifyRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildVerificationResponse(v))
}

func (s *Server) handleGetArtifact(c *gin.Context) {
	if s.artifacts == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if !s.enforceRateLimit(c, routeRunsRead, "") {
		return
	}
	body, err := s.artifacts.Get(c.Request.Context(), c.Param("run_id"), c.Param("stage"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handleTopicEntries(c *gin.Context) {
	if s.auditLog == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if !s.enforceRateLimit(c, routeTopicsRead, "") {
		return
	}
	topic := c.Param("topic")
	from, ok := parseSeqQuery(c, "from", 1)
	if !ok {
		return
	}
	to, ok := parseSeqQuery(c, "to", 0)
	if !ok {
		return
	}
	entries, err := s.auditLog.FetchRange(c.Request.Context(), topic, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, buildEntryResponse(entry))
	}
	c.JSON(http.StatusOK, gin.H{"topic": topic, "entries": out})
}

func (s *Server) handleTopicCheckpoint(c *gin.Context) {
	if s.auditLog == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if !s.enforceRateLimit(c, routeTopicsRead, "") {
		return
	}
	cp, err := s.auditLog.Checkpoint(c.Request.Context(), c.Param("topic"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, checkpointResponse{
		Topic:    cp.Topic,
		TreeSize: cp.TreeSize,
		RootHash: hex.EncodeToString(cp.RootHash),
		IssuedAt: cp.IssuedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleTopicProof(c *gin.Context) {
	if s.auditLog == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if !s.enforceRateLimit(c, routeTopicsRead, "") {
		return
	}
	seq, ok := parseSeqQuery(c, "seq", 0)
	if !ok {
		return
	}
	if seq <= 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_INPUT", "seq is required")
		return
	}
	proof, err := s.auditLog.Prove(c.Request.Context(), c.Param("topic"), seq)
	if err != nil {
		writeError(c, err)
		return
	}
	path := make([]string, 0, len(proof.Path))
	for _, node := range proof.Path {
		path = append(path, hex.EncodeToString(node))
	}
	c.JSON(http.StatusOK, proofResponse{
		Topic:     proof.Topic,
		Seq:       proof.Seq,
		LeafIndex: proof.LeafIndex,
		Path:      path,
		TreeSize:  proof.TreeSize,
		RootHash:  hex.EncodeToString(proof.RootHash),
	})
}

func (s *Server) handleTopicVerify(c *gin.Context) {
	if s.trail == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if !s.enforceRateLimit(c, routeTopicsRead, "") {
		return
	}
	topic := c.Param("topic")
	from, ok := parseSeqQuery(c, "from", 0)
	if !ok {
		return
	}
	to, ok := parseSeqQuery(c, "to", 0)
	if !ok {
		return
	}
	if from > 0 {
		v, err := s.trail.VerifyRange(c.Request.Context(), topic, from, to)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, buildVerificationResponse(v))
		return
	}
	checked, err := s.trail.VerifyTopic(c.Request.Context(), topic)
	if err != nil {
		if errors.Is(err, domain.ErrLogUnavailable) {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, verificationResponse{Topic: topic, Checked: checked, OK: false, Problems: []string{err.Error()}})
		return
	}
	c.JSON(http.StatusOK, verificationResponse{Topic: topic, Checked: checked, OK: true})
}

func (s *Server) requireAPIKey(c *gin.Context) bool {
	if s.apiKey == "" {
		return true
	}
	key := c.GetHeader("X-API-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
		return false
	}
	return true
}

func parseSeqQuery(c *gin.Context, name string, def int64) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed < 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_INPUT", "invalid "+name)
		return 0, false
	}
	return parsed, true
}

func buildRunResponse(run domain.Run) runResponse {
	out := runResponse{
		RunID:          run.ID,
		ContractRef:    run.Contract.Ref,
		ContractSHA256: run.Contract.SHA256,
		Submitter:      run.Submitter,
		Topic:          run.Topic,
		Status:         string(run.Status),
		Stages:         make([]stageResponse, 0, len(run.Stages)),
		SummarySeq:     run.SummarySeq,
		RemediationSeq: run.RemediationSeq,
		CreatedAt:      run.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !run.StartedAt.IsZero() {
		out.StartedAt = run.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if !run.CompletedAt.IsZero() {
		out.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	for _, st := range run.Stages {
		out.Stages = append(out.Stages, buildStageResponse(st))
	}
	if run.Failure != nil {
		out.Failure = &failureResponse{
			Stage:          run.Failure.Stage,
			Cause:          string(run.Failure.Cause),
			Message:        run.Failure.Message,
			OrphanArtifact: buildArtifactResponse(run.Failure.OrphanArtifact),
		}
	}
	return out
}

func buildStageResponse(st domain.StageResult) stageResponse {
	return stageResponse{
		Stage:       st.Stage,
		Index:       st.Index,
		Status:      string(st.Status),
		AuditSeq:    st.AuditSeq,
		Fingerprint: st.Fingerprint,
		Cause:       string(st.Cause),
		Error:       st.Error,
		ExitCode:    st.ExitCode,
		Input:       buildArtifactResponse(st.Input),
		Artifact:    buildArtifactResponse(st.Artifact),
		Digest:      st.Digest,
		DurationMS:  st.Duration.Milliseconds(),
		StartedAt:   st.StartedAt.UTC().Format(time.RFC3339Nano),
	}
}

func buildArtifactResponse(ref *domain.ArtifactRef) *artifactResponse {
	if ref == nil {
		return nil
	}
	return &artifactResponse{
		Stage:     ref.Stage,
		Location:  ref.Location,
		SHA256:    ref.SHA256,
		SizeBytes: ref.SizeBytes,
	}
}

func buildEntryResponse(entry domain.AuditEntry) entryResponse {
	return entryResponse{
		Topic:       entry.Topic,
		Seq:         entry.Seq,
		Payload:     json.RawMessage(entry.Payload),
		PayloadHash: entry.PayloadHash,
		PrevHash:    entry.PrevHash,
		Fingerprint: entry.Fingerprint,
		CreatedAt:   entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func buildVerificationResponse(v usecase.TrailVerification) verificationResponse {
	return verificationResponse{
		RunID:    v.RunID,
		Topic:    v.Topic,
		Checked:  v.Checked,
		OK:       v.OK,
		Problems: v.Problems,
	}
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, code = http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "ADMISSION_DENIED"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrRunTerminal):
		status, code = http.StatusConflict, "RUN_TERMINAL"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrLogUnavailable):
		status, code = http.StatusServiceUnavailable, "LOG_UNAVAILABLE"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
