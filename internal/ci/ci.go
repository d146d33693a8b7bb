// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package ci provides small test-harness helpers shared by every package's
// _test.go files, mirroring the calling convention the teacher's own test
// suite depends on throughout (nomad/ci.Parallel(t)).
package ci

import (
	"os"
	"testing"
)

// Parallel marks t as safe to run in parallel, unless HAL_CI_SERIAL is set
// — useful when debugging a suspected ordering-dependent flake locally
// without editing every test file.
func Parallel(t *testing.T) {
	t.Helper()
	if os.Getenv("HAL_CI_SERIAL") != "" {
		return
	}
	t.Parallel()
}
