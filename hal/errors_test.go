// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package hal

import (
	"errors"
	"testing"

	"github.com/shoenig/test/must"
)

func TestError_Is(t *testing.T) {
	err := New(ErrTimeout, "acquire exceeded deadline")
	must.True(t, errors.Is(err, Kind(ErrTimeout)))
	must.False(t, errors.Is(err, Kind(ErrContended)))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("device reset")
	err := Wrap(ErrDeviceError, "dma transfer failed", cause)
	must.Eq(t, cause, errors.Unwrap(err))
}

func TestError_WithContext(t *testing.T) {
	base := New(ErrFeatureNotSupported, "hardware dsp required")
	ctxErr := base.WithContext("sw_mixer", "create_effect")

	must.Eq(t, "sw_mixer", ctxErr.Driver)
	must.Eq(t, "create_effect", ctxErr.Operation)
	must.Eq(t, "", base.Driver, must.Sprint("WithContext must not mutate the receiver"))
}

func TestErrorKind_Fatal(t *testing.T) {
	must.True(t, ErrLockOrderViolation.Fatal())
	must.True(t, ErrInternalError.Fatal())
	must.False(t, ErrTimeout.Fatal())
}

func TestKindOf(t *testing.T) {
	must.Eq(t, ErrContended, KindOf(New(ErrContended, "")))
	must.Eq(t, ErrInternalError, KindOf(errors.New("unrelated")))
}
