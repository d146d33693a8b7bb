// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package source defines the platform event source contract from the
// §4.4 supplement: push-based producers that feed a client/event.Bus.
// Grounded on the teacher's drivers/shared/eventer.Eventer lifecycle
// (construct against a context, emit, consumers drain until the context
// is cancelled), generalized from one-shot task events to a
// init/start/stop/shutdown lifecycle a hardware or system source can be
// restarted through.
package source

import "github.com/flight-hal/core/client/event"

// Source is a platform event producer: init allocates resources, start
// begins emitting (via the Sink passed to Start), stop halts emission
// without releasing resources, shutdown releases them. Categories
// declares which event categories this source ever emits, so the
// registry's capability layer can route "is there a hardware source for
// category X" queries without activating it.
type Source interface {
	Init() error
	Start(sink Sink) error
	Stop() error
	Shutdown() error
	Categories() []event.Category
}

// Sink is what Start delivers events through; *event.Bus.Publish
// satisfies it directly.
type Sink interface {
	Publish(event.Event)
}
