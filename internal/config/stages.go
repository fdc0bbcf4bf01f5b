package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/report"
)

type stagesFile struct {
	Stages []stageEntry `yaml:"stages"`
}

type stageEntry struct {
	Name           string   `yaml:"name"`
	Command        []string `yaml:"command"`
	Report         string   `yaml:"report"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// LoadStages reads a pipeline definition from a YAML file. Order in the file
// is execution order.
func LoadStages(path string) ([]domain.StageSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stages file: %w", err)
	}
	var file stagesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse stages file: %w", err)
	}
	stages := make([]domain.StageSpec, 0, len(file.Stages))
	for _, e := range file.Stages {
		if _, err := report.KindFromString(e.Report); err != nil {
			return nil, fmt.Errorf("stage %s: %w", e.Name, err)
		}
		stages = append(stages, domain.StageSpec{
			Name:    e.Name,
			Command: e.Command,
			Report:  e.Report,
			Timeout: time.Duration(e.TimeoutSeconds) * time.Second,
		})
	}
	if err := domain.ValidateStages(stages); err != nil {
		return nil, err
	}
	return stages, nil
}

// DefaultStages is the platform's stock three-stage pipeline: static analysis,
// symbolic exploit confirmation, remediation planning.
func DefaultStages() []domain.StageSpec {
	return []domain.StageSpec{
		{
			Name:    "static",
			Command: []string{"python3", "ai/agent1.py", domain.ArgContract, domain.ArgRunID},
			Report:  string(report.KindFindings),
		},
		{
			Name:    "symbolic",
			Command: []string{"python3", "ai/agent2.py", domain.ArgContract, domain.ArgInput, domain.ArgRunID},
			Report:  string(report.KindAnalysis),
		},
		{
			Name:    "remediation",
			Command: []string{"python3", "ai/agent3.py", domain.ArgContract, domain.ArgInput, domain.ArgRunID},
			Report:  string(report.KindRemediation),
		},
	}
}

// Stages resolves the pipeline: the configured file when set, the stock
// pipeline otherwise.
func (c Config) Stages() ([]domain.StageSpec, error) {
	if c.StagesFile == "" {
		return DefaultStages(), nil
	}
	return LoadStages(c.StagesFile)
}
