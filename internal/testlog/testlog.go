// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package testlog adapts hclog to *testing.T so package tests can pass a
// real logger into constructors without spamming stdout, matching the
// teacher's nomad/helper/testlog.HCLogger(t) convention used across its
// suite.
package testlog

import (
	"testing"

	"github.com/hashicorp/go-hclog"
)

// writer adapts (*testing.T).Logf to io.Writer so hclog can write through
// it; hclog's sink only ever calls Write with one formatted line at a
// time, so a direct t.Logf(string(p)) preserves line-per-call semantics.
type writer struct{ t *testing.T }

func (w writer) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Logf("%s", p)
	return len(p), nil
}

// HCLogger returns an hclog.Logger at Trace level that writes through
// t.Logf, so output only appears when the test fails or -v is passed.
func HCLogger(t *testing.T) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       t.Name(),
		Level:      hclog.Trace,
		Output:     writer{t: t},
		JSONFormat: false,
	})
}
