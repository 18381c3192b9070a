package run

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"neurodiff/domain/core"
	"neurodiff/domain/dataset"
	"neurodiff/domain/stats"
)

// Status is the lifecycle state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run represents an execution of the analysis pipeline
type Run struct {
	ID          core.RunID       `json:"id" db:"id"`
	DatasetHash core.DatasetHash `json:"dataset_hash" db:"dataset_hash"`
	Fingerprint core.Hash        `json:"fingerprint" db:"fingerprint"`
	Status      Status           `json:"status" db:"status"`
	FailedStage core.Stage       `json:"failed_stage,omitempty" db:"failed_stage"`
	Error       string           `json:"error,omitempty" db:"error"`

	Genes       int `json:"genes" db:"genes"`
	Samples     int `json:"samples" db:"samples"`
	Expressed   int `json:"expressed" db:"expressed"`
	Tested      int `json:"tested" db:"tested"`
	Significant int `json:"significant" db:"significant"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Finish marks the run complete, recording the failing stage when err is set.
func (r *Run) Finish(stage core.Stage, err error) {
	now := time.Now().UTC()
	r.FinishedAt = &now
	if err != nil {
		r.Status = StatusFailed
		r.FailedStage = stage
		r.Error = err.Error()
		return
	}
	r.Status = StatusSucceeded
}

// RunFingerprint ensures deterministic replay
type RunFingerprint struct {
	DatasetHash core.DatasetHash `json:"dataset_hash"`
	DesignKey   string           `json:"design_key"`
	Exclusions  []string         `json:"exclusions"`
	Seed        int64            `json:"seed"`
	HVGCount    int              `json:"hvg_count"`
	CodeVersion string           `json:"code_version"`
	Fingerprint core.Hash        `json:"fingerprint"` // Hash of all above
}

// NewRunFingerprint creates a fingerprint from determinism parameters
func NewRunFingerprint(datasetHash core.DatasetHash, design dataset.Design, exclusions []string,
	seed int64, hvgCount int, codeVersion string) RunFingerprint {

	key := DesignKey(design)
	return RunFingerprint{
		DatasetHash: datasetHash,
		DesignKey:   key,
		Exclusions:  append([]string(nil), exclusions...),
		Seed:        seed,
		HVGCount:    hvgCount,
		CodeVersion: codeVersion,
		Fingerprint: computeRunFingerprint(datasetHash, key, exclusions, seed, hvgCount, codeVersion),
	}
}

// DesignKey renders a design as a stable string.
func DesignKey(d dataset.Design) string {
	return fmt.Sprintf("group=%s;ref=%s;test=%s;cov=%s;fac=%s",
		d.Group, d.Reference, d.Test, strings.Join(d.Covariates, ","), strings.Join(d.Factors, ","))
}

func computeRunFingerprint(datasetHash core.DatasetHash, designKey string, exclusions []string,
	seed int64, hvgCount int, codeVersion string) core.Hash {

	data := fmt.Sprintf("dataset:%s|design:%s|exclude:%s|seed:%d|hvg:%d|code:%s",
		datasetHash, designKey, strings.Join(exclusions, ","), seed, hvgCount, codeVersion)

	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}

// PipelineResult contains the output of a pipeline execution
type PipelineResult struct {
	Run        *Run                      `json:"run"`
	Manifest   *RunManifest              `json:"manifest"`
	Expressed  *dataset.ExpressedGeneSet `json:"expressed"`
	DE         *stats.DEResult           `json:"de"`
	Summary    stats.Summary             `json:"summary"`
	GeneLists  []stats.GeneList          `json:"gene_lists"`
	Enrichment []*stats.EnrichmentReport `json:"enrichment"`
}
