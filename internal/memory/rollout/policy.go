// Package rollout decides, per session, whether the vector plane
// participates in a search: fully on, fully off, shadow-only (run but
// don't affect results), or canary (on for a deterministic percentage
// of sessions).
package rollout

import "hash/fnv"

// Mode names a rollout stage for the vector plane.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeOn     Mode = "on"
	ModeShadow Mode = "shadow"
	ModeCanary Mode = "canary"
)

// Policy configures which sessions get vector-augmented search.
type Policy struct {
	Mode          Mode
	CanaryPercent int
}

// Decision reports what a session should do this search.
type Decision struct {
	// Fuse reports whether the vector plane's results should be merged
	// into the returned candidates.
	Fuse bool
	// Shadow reports whether the vector plane should still run (for
	// metrics) even though Fuse is false.
	Shadow bool
}

// Evaluate decides a session's treatment for this rollout stage.
func (p Policy) Evaluate(sessionID string) Decision {
	switch p.Mode {
	case ModeOn:
		return Decision{Fuse: true}
	case ModeShadow:
		return Decision{Fuse: false, Shadow: true}
	case ModeCanary:
		if sessionID == "" {
			return Decision{}
		}
		if p.inCanary(sessionID) {
			return Decision{Fuse: true}
		}
		return Decision{Fuse: false}
	default: // ModeOff or unrecognized
		return Decision{}
	}
}

// inCanary reports whether sessionID falls within the canary bucket,
// using FNV-1a32(session_id) mod 100 < canary_percent for deterministic,
// sticky assignment — the same session always lands in the same bucket.
func (p Policy) inCanary(sessionID string) bool {
	if p.CanaryPercent <= 0 {
		return false
	}
	if p.CanaryPercent >= 100 {
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return int(h.Sum32()%100) < p.CanaryPercent
}
