package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

// TrailService reads a run's committed audit entries back and verifies them
// without trusting the ledger's own Verify: fingerprints are recomputed here
// from the raw fields, so a compromised log backend cannot vouch for itself.
// RemediationTopic locates the mirrored summary; leave it empty to skip the
// mirror on fetch and verify.
type TrailService struct {
	Runs             RunRepository
	Log              AuditLog
	RemediationTopic string
}

// RunTrail is a run plus its committed entries in sequence order. Mirror is
// the summary copy on the remediation topic, when one was committed.
type RunTrail struct {
	Run     domain.Run
	Entries []domain.AuditEntry
	Mirror  *domain.AuditEntry
}

type TrailVerification struct {
	RunID    string
	Topic    string
	Checked  int
	OK       bool
	Problems []string
}

func (s *TrailService) FetchRun(ctx context.Context, runID string) (RunTrail, error) {
	if s.Runs == nil || s.Log == nil {
		return RunTrail{}, errors.New("trail service requires runs and log")
	}
	run, err := s.Runs.Get(ctx, runID)
	if err != nil {
		return RunTrail{}, err
	}
	trail := RunTrail{Run: run}

	seqs := run.AuditSeqs()
	if len(seqs) > 0 {
		entries, err := s.fetchSeqs(ctx, run.Topic, seqs)
		if err != nil {
			return RunTrail{}, err
		}
		trail.Entries = entries
	}
	if run.RemediationSeq > 0 && s.RemediationTopic != "" {
		mirrors, err := s.Log.FetchRange(ctx, s.RemediationTopic, run.RemediationSeq, run.RemediationSeq)
		if err != nil {
			return RunTrail{}, err
		}
		if len(mirrors) == 1 {
			trail.Mirror = &mirrors[0]
		}
	}
	return trail, nil
}

// VerifyRun checks a run's trail end to end: every visible stage has its
// committed entry, every entry's hashes recompute, the enclosing sequence
// window chains without gaps, and the summary references the stage sequences.
func (s *TrailService) VerifyRun(ctx context.Context, runID string) (TrailVerification, error) {
	trail, err := s.FetchRun(ctx, runID)
	if err != nil {
		return TrailVerification{}, err
	}
	run := trail.Run
	v := TrailVerification{RunID: run.ID, Topic: run.Topic}

	seqs := run.AuditSeqs()
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			v.Problems = append(v.Problems, fmt.Sprintf("sequences not strictly increasing: %d after %d", seqs[i], seqs[i-1]))
		}
	}
	if len(trail.Entries) != len(seqs) {
		v.Problems = append(v.Problems, fmt.Sprintf("trail has %d entries, run references %d sequences", len(trail.Entries), len(seqs)))
	}

	bySeq := make(map[int64]domain.AuditEntry, len(trail.Entries))
	for _, entry := range trail.Entries {
		bySeq[entry.Seq] = entry
	}

	for _, st := range run.Stages {
		entry, ok := bySeq[st.AuditSeq]
		if !ok {
			v.Problems = append(v.Problems, fmt.Sprintf("stage %s: no entry at seq %d", st.Stage, st.AuditSeq))
			continue
		}
		if entry.Fingerprint != st.Fingerprint {
			v.Problems = append(v.Problems, fmt.Sprintf("stage %s: fingerprint mismatch at seq %d", st.Stage, st.AuditSeq))
		}
		var payload domain.StageAuditPayload
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			v.Problems = append(v.Problems, fmt.Sprintf("stage %s: payload does not decode at seq %d: %v", st.Stage, st.AuditSeq, err))
			continue
		}
		if payload.Kind != domain.AuditKindStage {
			v.Problems = append(v.Problems, fmt.Sprintf("stage %s: entry at seq %d is %s, want stage", st.Stage, st.AuditSeq, payload.Kind))
		}
		if payload.RunID != run.ID || payload.Stage != st.Stage || payload.Status != st.Status {
			v.Problems = append(v.Problems, fmt.Sprintf("stage %s: entry at seq %d describes a different result", st.Stage, st.AuditSeq))
		}
	}

	if run.SummarySeq > 0 {
		if problem := verifySummaryEntry(run, bySeq[run.SummarySeq]); problem != "" {
			v.Problems = append(v.Problems, problem)
		}
	}
	if trail.Mirror != nil {
		if problem := verifyEntryIntegrity(*trail.Mirror); problem != "" {
			v.Problems = append(v.Problems, "mirror: "+problem)
		}
		var payload domain.SummaryAuditPayload
		if err := json.Unmarshal(trail.Mirror.Payload, &payload); err != nil || payload.Kind != domain.AuditKindSummary || payload.RunID != run.ID {
			v.Problems = append(v.Problems, fmt.Sprintf("mirror: entry at seq %d does not describe this run", trail.Mirror.Seq))
		}
		v.Checked++
	} else if run.RemediationSeq > 0 && s.RemediationTopic != "" {
		v.Problems = append(v.Problems, fmt.Sprintf("mirror: no entry at seq %d", run.RemediationSeq))
	}

	if len(seqs) > 0 {
		problems, checked, err := s.verifyWindow(ctx, run.Topic, seqs[0], seqs[len(seqs)-1])
		if err != nil {
			return TrailVerification{}, err
		}
		v.Problems = append(v.Problems, problems...)
		v.Checked += checked
	}

	v.OK = len(v.Problems) == 0
	return v, nil
}

// VerifyRange checks continuity over [from, to] of a topic, anchoring the
// first link at from-1 when the window does not start at the genesis entry.
func (s *TrailService) VerifyRange(ctx context.Context, topic string, from, to int64) (TrailVerification, error) {
	if s.Log == nil {
		return TrailVerification{}, errors.New("trail service requires a log")
	}
	problems, checked, err := s.verifyWindow(ctx, topic, from, to)
	if err != nil {
		return TrailVerification{}, err
	}
	return TrailVerification{
		Topic:    topic,
		Checked:  checked,
		OK:       len(problems) == 0,
		Problems: problems,
	}, nil
}

// VerifyTopic walks a topic's full chain from sequence 1 and fails on the
// first gap, hash mismatch or broken link.
func (s *TrailService) VerifyTopic(ctx context.Context, topic string) (int, error) {
	if s.Log == nil {
		return 0, errors.New("trail service requires a log")
	}
	entries, err := s.Log.FetchRange(ctx, topic, 1, 0)
	if err != nil {
		return 0, err
	}
	expectedSeq := int64(1)
	prevHash := domain.AuditZeroHash
	for _, entry := range entries {
		if entry.Topic != topic {
			return 0, fmt.Errorf("topic mismatch at seq %d", entry.Seq)
		}
		if entry.Seq != expectedSeq {
			return 0, fmt.Errorf("seq gap: expected %d got %d", expectedSeq, entry.Seq)
		}
		if entry.PrevHash != prevHash {
			return 0, fmt.Errorf("prev hash mismatch at seq %d", entry.Seq)
		}
		if problem := verifyEntryIntegrity(entry); problem != "" {
			return 0, errors.New(problem)
		}
		prevHash = entry.Fingerprint
		expectedSeq++
	}
	return len(entries), nil
}

func (s *TrailService) fetchSeqs(ctx context.Context, topic string, seqs []int64) ([]domain.AuditEntry, error) {
	lo, hi := seqs[0], seqs[0]
	for _, seq := range seqs {
		if seq < lo {
			lo = seq
		}
		if seq > hi {
			hi = seq
		}
	}
	window, err := s.Log.FetchRange(ctx, topic, lo, hi)
	if err != nil {
		return nil, err
	}
	wanted := make(map[int64]bool, len(seqs))
	for _, seq := range seqs {
		wanted[seq] = true
	}
	out := make([]domain.AuditEntry, 0, len(seqs))
	for _, entry := range window {
		if wanted[entry.Seq] {
			out = append(out, entry)
		}
	}
	return out, nil
}

// verifyWindow checks hashes and gapless linkage across [lo, hi], including
// entries that belong to other runs interleaved on the topic; the first link
// is anchored at lo-1 or the zero hash.
func (s *TrailService) verifyWindow(ctx context.Context, topic string, lo, hi int64) ([]string, int, error) {
	from := lo
	prevHash := domain.AuditZeroHash
	if lo > 1 {
		from = lo - 1
	}
	window, err := s.Log.FetchRange(ctx, topic, from, hi)
	if err != nil {
		return nil, 0, err
	}
	var problems []string
	expectedSeq := from
	checked := 0
	for i, entry := range window {
		if entry.Seq != expectedSeq {
			problems = append(problems, fmt.Sprintf("window seq gap: expected %d got %d", expectedSeq, entry.Seq))
			break
		}
		if i == 0 && lo > 1 {
			// Anchor entry: only its fingerprint matters for the first link.
			prevHash = entry.Fingerprint
			expectedSeq++
			continue
		}
		if entry.PrevHash != prevHash {
			problems = append(problems, fmt.Sprintf("chain broken at seq %d", entry.Seq))
		}
		if problem := verifyEntryIntegrity(entry); problem != "" {
			problems = append(problems, problem)
		}
		prevHash = entry.Fingerprint
		expectedSeq++
		checked++
	}
	return problems, checked, nil
}

func verifySummaryEntry(run domain.Run, entry domain.AuditEntry) string {
	if entry.Seq == 0 {
		return fmt.Sprintf("summary: no entry at seq %d", run.SummarySeq)
	}
	var payload domain.SummaryAuditPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return fmt.Sprintf("summary: payload does not decode at seq %d: %v", run.SummarySeq, err)
	}
	if payload.Kind != domain.AuditKindSummary || payload.RunID != run.ID {
		return fmt.Sprintf("summary: entry at seq %d does not describe this run", run.SummarySeq)
	}
	stageSeqs := make([]int64, 0, len(run.Stages))
	for _, st := range run.Stages {
		stageSeqs = append(stageSeqs, st.AuditSeq)
	}
	if len(payload.StageSeqs) != len(stageSeqs) {
		return fmt.Sprintf("summary: references %d stages, run has %d", len(payload.StageSeqs), len(stageSeqs))
	}
	for i, seq := range stageSeqs {
		if payload.StageSeqs[i] != seq {
			return fmt.Sprintf("summary: stage seq %d recorded as %d", seq, payload.StageSeqs[i])
		}
	}
	return ""
}

// verifyEntryIntegrity recomputes both hashes from the raw entry fields.
func verifyEntryIntegrity(entry domain.AuditEntry) string {
	if entry.CreatedAt.IsZero() {
		return fmt.Sprintf("entry %d: missing created_at", entry.Seq)
	}
	if payloadDigest(entry.Payload) != entry.PayloadHash {
		return fmt.Sprintf("entry %d: payload hash mismatch", entry.Seq)
	}
	record := chainRecord{
		Version:     domain.AuditChainVersion,
		Topic:       entry.Topic,
		Seq:         entry.Seq,
		PayloadHash: entry.PayloadHash,
		PrevHash:    entry.PrevHash,
		CreatedAt:   entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if payloadDigest(record.CanonicalJSON()) != entry.Fingerprint {
		return fmt.Sprintf("entry %d: fingerprint mismatch", entry.Seq)
	}
	return ""
}

func payloadDigest(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

type chainRecord struct {
	Version     string
	Topic       string
	Seq         int64
	PayloadHash string
	PrevHash    string
	CreatedAt   string
}

func (c chainRecord) CanonicalJSON() []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeKV(buf, "created_at", c.CreatedAt, false)
	writeKV(buf, "payload_hash", c.PayloadHash, false)
	writeKV(buf, "prev_hash", c.PrevHash, false)
	writeKVNumber(buf, "seq", c.Seq, false)
	writeKV(buf, "topic", c.Topic, false)
	writeKV(buf, "v", c.Version, true)
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeKV(buf *bytes.Buffer, key, value string, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	writeJSONString(buf, value)
	if !last {
		buf.WriteByte(',')
	}
}

func writeKVNumber(buf *bytes.Buffer, key string, value int64, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatInt(value, 10))
	if !last {
		buf.WriteByte(',')
	}
}

func writeJSONString(buf *bytes.Buffer, value string) {
	buf.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")
