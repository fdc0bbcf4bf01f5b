package domain

import (
	"fmt"
	"strings"
	"time"
)

// Command templates name the values substituted per invocation. {input} expands
// to the previous stage's artifact path and must not appear in the first stage.
const (
	ArgContract = "{contract}"
	ArgInput    = "{input}"
	ArgRunID    = "{run_id}"
)

type StageSpec struct {
	Name    string
	Command []string
	Report  string
	Timeout time.Duration
}

// UsesInput reports whether the command template expects a prior-stage
// artifact path.
func (s StageSpec) UsesInput() bool {
	for _, arg := range s.Command {
		if strings.Contains(arg, ArgInput) {
			return true
		}
	}
	return false
}

func (s StageSpec) Validate(first bool) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: stage name empty", ErrInvalidInput)
	}
	if len(s.Command) == 0 {
		return fmt.Errorf("%w: stage %s has no command", ErrInvalidInput, s.Name)
	}
	if first && s.UsesInput() {
		return fmt.Errorf("%w: first stage %s references %s", ErrInvalidInput, s.Name, ArgInput)
	}
	return nil
}

func ValidateStages(stages []StageSpec) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: no stages configured", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(stages))
	for i, st := range stages {
		if err := st.Validate(i == 0); err != nil {
			return err
		}
		if _, dup := seen[st.Name]; dup {
			return fmt.Errorf("%w: duplicate stage name %s", ErrInvalidInput, st.Name)
		}
		seen[st.Name] = struct{}{}
	}
	return nil
}
