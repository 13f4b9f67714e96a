// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbft

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuspicionCodePrimaryAttributable(t *testing.T) {
	assert.True(t, PPR_DIGEST_WRONG.primaryAttributable())
	assert.True(t, PPR_TIME_WRONG.primaryAttributable())
}

func TestSuspicionError(t *testing.T) {
	s := newSuspicion(PPR_DIGEST_WRONG, "n2", ThreePCKey{ViewNo: 1, PpSeqNo: 3}, "mismatch")
	assert.Contains(t, s.Error(), "PPR_DIGEST_WRONG")
	assert.Contains(t, s.Error(), "n2")
}

func TestFatalErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	fe := newFatal("watermarks monotonic", cause)

	assert.ErrorIs(t, fe, cause)
	assert.Contains(t, fe.Error(), "watermarks monotonic")
}

func TestFatalErrorWithoutCause(t *testing.T) {
	fe := newFatal("invariant X", nil)
	assert.Nil(t, fe.Unwrap())
	assert.Contains(t, fe.Error(), "invariant X")
}

func TestWrapfNilErrorStillProducesError(t *testing.T) {
	err := wrapf(nil, "context %d", 7)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context 7")
}

func TestWrapfWrapsExistingError(t *testing.T) {
	cause := errors.New("root cause")
	err := wrapf(cause, "while doing X")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "while doing X")
}
