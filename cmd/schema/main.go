// Command schema emits JSON schemas for the tool report formats and the
// audit entry payloads, for validating analyzer output out of band.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/report"
)

func main() {
	var outDir string
	flag.StringVar(&outDir, "out-dir", "", "directory to write the JSON schemas")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out-dir is required")
		os.Exit(1)
	}

	for name, schema := range buildSchemas() {
		if err := writeSchema(filepath.Join(outDir, name+".schema.json"), schema); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s schema: %v\n", name, err)
			os.Exit(1)
		}
	}
}

func buildSchemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}

	findings := reflector.Reflect(new([]report.Finding))
	findings.Title = "Findings Report"
	findings.Description = "Raw finding list emitted by a detection stage"

	analysis := reflector.Reflect(new(report.AnalysisReport))
	analysis.Title = "Analysis Report"
	analysis.Description = "Exploit confirmation output emitted by an analysis stage"

	remediation := reflector.Reflect(new(report.RemediationReport))
	remediation.Title = "Remediation Report"
	remediation.Description = "Fix plan emitted by a remediation stage"

	stageEntry := reflector.Reflect(new(domain.StageAuditPayload))
	stageEntry.Title = "Stage Audit Payload"
	stageEntry.Description = "Per-stage record committed to the audit topic"

	summaryEntry := reflector.Reflect(new(domain.SummaryAuditPayload))
	summaryEntry.Title = "Summary Audit Payload"
	summaryEntry.Description = "Terminal summary record committed to the audit and remediation topics"

	return map[string]*jsonschema.Schema{
		"findings":      findings,
		"analysis":      analysis,
		"remediation":   remediation,
		"stage_entry":   stageEntry,
		"summary_entry": summaryEntry,
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
