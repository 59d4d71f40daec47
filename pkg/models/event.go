package models

import "time"

// Identity is the stable key of an upstream event: a source may revise the
// same event several times, each revision carrying the same identity.
type Identity struct {
	Source     string
	ExternalID string
}

// Event is the canonical form every upstream payload is normalized into.
// Values are immutable once constructed; a revision produces a new Event.
type Event struct {
	Source     string
	ExternalID string
	Revision   int64
	Magnitude  *float64
	Latitude   float64
	Longitude  float64
	DepthKM    *float64
	OccurredAt time.Time
	Raw        map[string]interface{} // original fields, for template substitution
}

func (e Event) Identity() Identity {
	return Identity{Source: e.Source, ExternalID: e.ExternalID}
}

// HasMagnitude reports whether the source supplied a magnitude at all.
func (e Event) HasMagnitude() bool {
	return e.Magnitude != nil
}
