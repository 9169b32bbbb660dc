package chunkmodel

import "time"

// PipelineProfile is a named, ordered list of stage configurations. The
// four shipped profiles (fast/balanced/accurate/research) are built from
// this type in internal/pipeline/profiles.go.
type PipelineProfile struct {
	Name   string
	Stages []StageConfig
}

// StageConfig parameterizes one step of a pipeline profile.
type StageConfig struct {
	Name string

	Enabled bool

	// Multiplier sets the stage's target candidate count as
	// ceil(limit * Multiplier) at stage entry.
	Multiplier float64

	// Strategy tags the results this stage produces (see Strategy).
	Strategy Strategy

	// Timeout bounds the stage's execution; on expiry the stage returns
	// its input unchanged and the pipeline continues.
	Timeout time.Duration
}
