// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package event implements the L2 Event System from §4.4: a bounded ring
// queue, subscriber filtering, sync/async delivery, and batching. It is
// grounded on the teacher's drivers/shared/eventer.Eventer (per-consumer
// channel fan-out with drop-on-full) and client/structs.AllocBroadcaster
// (listener registration/close lifecycle), generalized from per-task
// driver events to the closed {Hardware, System, Driver, Application,
// Performance, Resource, Security} category set §3 names.
package event

import "fmt"

// Category is one of the closed set of event categories §3 names.
type Category uint8

const (
	CategoryHardware Category = iota
	CategorySystem
	CategoryDriver
	CategoryApplication
	CategoryPerformance
	CategoryResource
	CategorySecurity
)

func (c Category) String() string {
	switch c {
	case CategoryHardware:
		return "Hardware"
	case CategorySystem:
		return "System"
	case CategoryDriver:
		return "Driver"
	case CategoryApplication:
		return "Application"
	case CategoryPerformance:
		return "Performance"
	case CategoryResource:
		return "Resource"
	case CategorySecurity:
		return "Security"
	default:
		return "Unknown"
	}
}

// Severity is the closed severity ladder §3 names, ordered so numeric
// comparison implements "min_severity" filtering directly.
type Severity uint8

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "Debug"
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	case SeverityCritical:
		return "Critical"
	case SeverityFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Event is the value-typed record §3 describes as
// {id, category, type_code, severity, source, timestamp_ns, payload,
// attrs}. payload's TaggedUnion has no direct Go rendering without an
// interface{} escape hatch that would defeat the "no reference escapes
// the producer once enqueued" invariant for pointer-shaped payloads;
// Attributes (a small string-keyed map of plain values) carries payload
// data instead, same as the teacher's TaskEvent.Annotations /
// DisplayMessage pattern of attaching structured detail to an event
// without a polymorphic payload type.
type Event struct {
	ID          uint64
	Category    Category
	TypeCode    uint16
	Severity    Severity
	Source      string
	TimestampNS int64
	Kind        string
	Attributes  map[string]any
}

func (e Event) String() string {
	return fmt.Sprintf("Event{cat=%s sev=%s source=%s kind=%s}", e.Category, e.Severity, e.Source, e.Kind)
}
