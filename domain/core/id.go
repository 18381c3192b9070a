package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// RunID identifies one pipeline run.
type RunID ID

func (id RunID) String() string { return ID(id).String() }

// NewRunID creates a time-ordered run identifier.
func NewRunID() RunID { return RunID(NewID()) }

// ParseRunID parses a string into RunID
func ParseRunID(s string) (RunID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	return RunID(s), nil
}

// Stage names used in diagnostics and logs.
type Stage string

const (
	StageLoad       Stage = "load"
	StageValidate   Stage = "validate"
	StageClassify   Stage = "classify"
	StageNormalize  Stage = "normalize"
	StageHVG        Stage = "hvg"
	StagePCA        Stage = "pca"
	StageDiffExpr   Stage = "diffexp"
	StageGeneLists  Stage = "genelists"
	StageEnrichment Stage = "enrichment"
	StageStore      Stage = "store"
)
