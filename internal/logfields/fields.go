// Package logfields names the structured fields shared by every log line.
package logfields

const (
	// Identifiers

	ProcessID = "pid"
	Segment   = "segment"
	Type      = "type"

	// Addressing

	Page            = "page"
	Frame           = "frame"
	VirtualAddress  = "vaddr"
	PhysicalAddress = "paddr"
	Offset          = "offset"
	Count           = "count"

	// Sizes

	Bytes = "bytes"
	Size  = "size"

	// Swap

	Victim  = "victim"
	Slot    = "slot"
	Backend = "backend"
	Path    = "path"
	Attempt = "attemptNo"

	// Time

	Duration = "duration"
	Timeout  = "timeout"

	// logging and tracing

	Span         = "span"
	Code         = "statusCode"
	TraceID      = "traceID"
	SpanID       = "spanID"
	ParentSpanID = "parentSpanID"
)
