package compio

import "strings"

const (
	EventReadable IOEvent = 1 << iota
	EventWritable
	EventErrored
	EventHangup
)

// IOEvent is a bitmask of descriptor readiness conditions as reported by
// the kernel demultiplexer.
type IOEvent uint8

// Has reports whether at least one of the conditions in mask is set.
func (ev IOEvent) Has(mask IOEvent) bool {
	return ev&mask != 0
}

func (ev IOEvent) String() string {
	if ev == 0 {
		return "none"
	}
	var parts []string
	if ev.Has(EventReadable) {
		parts = append(parts, "readable")
	}
	if ev.Has(EventWritable) {
		parts = append(parts, "writable")
	}
	if ev.Has(EventErrored) {
		parts = append(parts, "errored")
	}
	if ev.Has(EventHangup) {
		parts = append(parts, "hangup")
	}
	return strings.Join(parts, "|")
}

// pollEvent is one kernel notification surfaced by the platform poller.
type pollEvent struct {
	fd     int
	events IOEvent
}
