// Package report defines the JSON documents analyzer tools emit on stdout,
// one kind per pipeline stage, and the digest extraction the run summary
// is built from.
package report

import (
	"encoding/json"
	"fmt"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

type Kind string

const (
	KindFindings    Kind = "findings"
	KindAnalysis    Kind = "analysis"
	KindRemediation Kind = "remediation"
)

func KindFromString(s string) (Kind, error) {
	switch Kind(s) {
	case KindFindings, KindAnalysis, KindRemediation:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: unknown report kind %q", domain.ErrInvalidInput, s)
}

// Finding is one raised issue. Static analyzers populate Check, symbolic
// tools populate Title; both spellings of severity are accepted.
type Finding struct {
	ID             string  `json:"id,omitempty"`
	Check          string  `json:"check,omitempty"`
	Title          string  `json:"title,omitempty"`
	Description    string  `json:"description,omitempty"`
	Impact         string  `json:"impact,omitempty"`
	Severity       string  `json:"severity,omitempty"`
	Confidence     string  `json:"confidence,omitempty"`
	Line           int     `json:"line,omitempty"`
	Confirmed      bool    `json:"confirmed,omitempty"`
	Exploitability float64 `json:"final_exploitability_score,omitempty"`
}

type AnalysisSummary struct {
	Critical int `json:"critical_vulnerabilities"`
	Medium   int `json:"medium_vulnerabilities"`
	Low      int `json:"low_vulnerabilities"`
}

// AnalysisReport is the confirmed-exploit report of the symbolic stage.
type AnalysisReport struct {
	Contract          string          `json:"contract"`
	RunID             string          `json:"run_id"`
	Timestamp         int64           `json:"timestamp"`
	TotalFindings     int             `json:"total_findings"`
	ConfirmedExploits int             `json:"confirmed_exploits"`
	HighConfidence    int             `json:"high_confidence_findings"`
	Findings          []Finding       `json:"findings"`
	Summary           AnalysisSummary `json:"summary"`
}

type OriginalFinding struct {
	Check          string  `json:"check,omitempty"`
	Impact         string  `json:"impact,omitempty"`
	Confidence     string  `json:"confidence,omitempty"`
	Confirmed      bool    `json:"confirmed"`
	Exploitability float64 `json:"exploitability_score"`
}

type Remediation struct {
	VulnerabilityType string          `json:"vulnerability_type"`
	Severity          string          `json:"severity"`
	Description       string          `json:"description"`
	Steps             []string        `json:"remediation_steps"`
	SecureCodeExample string          `json:"secure_code_example,omitempty"`
	FindingID         string          `json:"finding_id,omitempty"`
	Priority          int             `json:"priority"`
	OriginalFinding   OriginalFinding `json:"original_finding"`
}

type RemediationSummary struct {
	Critical int `json:"critical_remediations"`
	High     int `json:"high_remediations"`
	Medium   int `json:"medium_remediations"`
	Low      int `json:"low_remediations"`
}

// RemediationReport is the final stage's fix plan.
type RemediationReport struct {
	Contract          string             `json:"contract"`
	RunID             string             `json:"run_id"`
	Timestamp         int64              `json:"timestamp"`
	TotalFindings     int                `json:"total_findings"`
	TotalRemediations int                `json:"total_remediations"`
	Summary           RemediationSummary `json:"remediation_summary"`
	Remediations      []Remediation      `json:"remediations"`
	Recommendations   []string           `json:"general_recommendations,omitempty"`
}

// Digest decodes raw stdout as the given kind and summarizes it. Counts a
// kind does not carry come back as -1. A document that does not decode as
// its declared kind is a malformed tool output.
func Digest(kind Kind, raw []byte) (domain.ReportDigest, error) {
	d := domain.ReportDigest{Kind: string(kind), Findings: -1, Confirmed: -1, Remediations: -1}
	switch kind {
	case KindFindings:
		var findings []Finding
		if err := json.Unmarshal(raw, &findings); err != nil {
			return d, fmt.Errorf("decode findings report: %w", err)
		}
		d.Findings = len(findings)
		confirmed := 0
		for _, f := range findings {
			if f.Confirmed {
				confirmed++
			}
		}
		d.Confirmed = confirmed
	case KindAnalysis:
		var rep AnalysisReport
		if err := json.Unmarshal(raw, &rep); err != nil {
			return d, fmt.Errorf("decode analysis report: %w", err)
		}
		d.Findings = rep.TotalFindings
		if d.Findings == 0 {
			d.Findings = len(rep.Findings)
		}
		d.Confirmed = rep.ConfirmedExploits
	case KindRemediation:
		var rep RemediationReport
		if err := json.Unmarshal(raw, &rep); err != nil {
			return d, fmt.Errorf("decode remediation report: %w", err)
		}
		d.Findings = rep.TotalFindings
		d.Remediations = rep.TotalRemediations
		if d.Remediations == 0 {
			d.Remediations = len(rep.Remediations)
		}
	default:
		return d, fmt.Errorf("%w: unknown report kind %q", domain.ErrInvalidInput, kind)
	}
	return d, nil
}
