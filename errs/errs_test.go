package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductorrun/conductor/errs"
)

func TestWrapNilCauseReturnsNil(t *testing.T) {
	var err *errs.Error = errs.Wrap(errs.KindTimeout, "msg", nil)
	assert.Nil(t, err)
}

func TestIsMatchesKindAcrossChain(t *testing.T) {
	base := errs.New(errs.KindToolSchemaError, "expected integer")
	wrapped := fmt.Errorf("validate: %w", base)

	assert.True(t, errs.Is(wrapped, errs.KindToolSchemaError))
	assert.False(t, errs.Is(wrapped, errs.KindPathEscape))
}

func TestOfReturnsKind(t *testing.T) {
	err := errs.New(errs.KindArtifactMissing, "report.md missing")
	kind, ok := errs.Of(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindArtifactMissing, kind)

	_, ok = errs.Of(errors.New("plain"))
	assert.False(t, ok)
}

func TestRecoverable(t *testing.T) {
	assert.True(t, errs.Recoverable(errs.KindToolSchemaError))
	assert.True(t, errs.Recoverable(errs.KindToolExecutionError))
	assert.False(t, errs.Recoverable(errs.KindPathEscape))
	assert.False(t, errs.Recoverable(errs.KindPlanInvalid))
}

func TestErrorsIsSentinelStyle(t *testing.T) {
	err := errs.Wrap(errs.KindBrainUnavailable, "timeout dialing model", errors.New("dial tcp: timeout"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.New(errs.KindBrainUnavailable, "")))
}
