package run

import (
	"time"

	"neurodiff/domain/core"
	"neurodiff/domain/dataset"
	"neurodiff/domain/stats"
)

// RunManifest is the complete specification for a run. It is written before
// any stage output so a run can be replayed.
type RunManifest struct {
	RunID       core.RunID        `json:"run_id"`
	Design      dataset.Design    `json:"design"`
	Thresholds  []stats.Threshold `json:"thresholds"`
	Databases   []string          `json:"databases"`
	Fingerprint RunFingerprint    `json:"fingerprint"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NewRunManifest creates a run manifest from a pipeline request
func NewRunManifest(
	runID core.RunID,
	datasetHash core.DatasetHash,
	design dataset.Design,
	exclusions []string,
	thresholds []stats.Threshold,
	databases []string,
	seed int64,
	hvgCount int,
	codeVersion string,
) *RunManifest {
	return &RunManifest{
		RunID:       runID,
		Design:      design,
		Thresholds:  append([]stats.Threshold(nil), thresholds...),
		Databases:   append([]string(nil), databases...),
		Fingerprint: NewRunFingerprint(datasetHash, design, exclusions, seed, hvgCount, codeVersion),
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks if the manifest is complete
func (m *RunManifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return core.NewValidationError("run_manifest", "run_id cannot be empty")
	}
	if m.Fingerprint.DatasetHash == "" {
		return core.NewValidationError("run_manifest", "dataset_hash cannot be empty")
	}
	if m.Design.Reference == "" {
		return core.NewValidationError("run_manifest", "design reference cannot be empty")
	}
	for _, t := range m.Thresholds {
		if err := t.Validate(); err != nil {
			return core.NewValidationError("run_manifest", err.Error())
		}
	}
	if m.Fingerprint.CodeVersion == "" {
		return core.NewValidationError("run_manifest", "code_version cannot be empty")
	}
	return nil
}
