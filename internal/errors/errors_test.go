package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"neurodiff/domain/core"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"missing column", core.NewMissingColumnError("rin", "s1"), CodeValidationError},
		{"reference unset", fmt.Errorf("design: %w", core.ErrReferenceLevelUnset), CodeValidationError},
		{"mixture", fmt.Errorf("classify: %w", core.ErrMixtureDegenerate), CodeModelFit},
		{"size factors", core.ErrSizeFactors, CodeModelFit},
		{"run", core.NewNotFoundError("run", "x"), CodeNotFound},
		{"service", core.ErrServiceUnavailable, CodeExternalService},
		{"other", stderrors.New("disk full"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestForStage(t *testing.T) {
	cause := fmt.Errorf("fit: %w", core.ErrMixtureNotConverged)
	err := ForStage(core.StageClassify, cause)

	stage, ok := StageOf(err)
	assert.True(t, ok)
	assert.Equal(t, core.StageClassify, stage)
	assert.ErrorIs(t, err, core.ErrMixtureNotConverged)
	assert.Equal(t, CodeModelFit, GetCode(err))
	assert.Contains(t, err.Error(), "stage classify failed (MODEL_FIT_ERROR)")

	// the innermost stage is kept
	outer := ForStage(core.StageStore, fmt.Errorf("wrapped: %w", err))
	stage, _ = StageOf(outer)
	assert.Equal(t, core.StageClassify, stage)

	assert.Nil(t, ForStage(core.StageLoad, nil))
	_, ok = StageOf(context.Canceled)
	assert.False(t, ok)
}

func TestWrapKeepsCode(t *testing.T) {
	err := Wrap(ConfigInvalid("PORT must be numeric"), "failed to load configuration")
	assert.Equal(t, CodeConfigInvalid, GetCode(err))
	assert.True(t, IsAppError(err))
	assert.Equal(t, CodeDatabaseError, GetCode(WithCode(CodeDatabaseError, stderrors.New("x"))))
}
