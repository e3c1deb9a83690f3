package model

import (
	"errors"
	"fmt"
)

// ErrEmptyInput aborts compilation of a debate whose segment store is missing or empty.
var ErrEmptyInput = errors.New("empty segment store")

// DiagnosticCode classifies a non-fatal condition.
type DiagnosticCode string

const (
	DiagSkipped              DiagnosticCode = "skipped"    // span failed resolution
	DiagClamped              DiagnosticCode = "clamped"    // span clamped into range
	DiagTruncated            DiagnosticCode = "truncated"  // same-kind overlap conflict
	DiagUnanchored           DiagnosticCode = "unanchored" // attached to the root
	DiagClassificationFailed DiagnosticCode = "classification_failed"
	DiagInvariant            DiagnosticCode = "invariant_violation"
)

// Diagnostic is recorded alongside a successful compile or annotation pass.
type Diagnostic struct {
	Code    DiagnosticCode `json:"code"`
	Kind    Kind           `json:"kind,omitempty"`
	Source  string         `json:"source,omitempty"` // annotation ID
	Node    string         `json:"node,omitempty"`   // compiled node ID
	Message string         `json:"message"`
}

func (d Diagnostic) String() string {
	id := d.Source
	if id == "" {
		id = d.Node
	}
	return fmt.Sprintf("%s %s %s: %s", d.Code, d.Kind, id, d.Message)
}

// LayerStats accounts for every input annotation of one layer.
type LayerStats struct {
	Input      int `json:"input"`
	Placed     int `json:"placed"`
	Skipped    int `json:"skipped"`
	Unanchored int `json:"unanchored"`
	Truncated  int `json:"truncated"`
	Clamped    int `json:"clamped"`
}

// Accounted reports whether no annotation was lost.
func (s LayerStats) Accounted() bool {
	return s.Input == s.Placed+s.Skipped+s.Unanchored
}
