// Package ids centralizes identifier generation so message, thread and
// tracking ids stay distinguishable and time-ordered.
package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TrackingHeader is the custom header stamped on outbound mail and
// echoed back by well-behaved clients in replies.
const TrackingHeader = "X-Threadline-ID"

// TrackingPrefix prefixes every tracking id so it can be recognized
// inside a References chain.
const TrackingPrefix = "TL_"

// NewMessageID returns a time-ordered UUID v7 for a message record.
func NewMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewThreadID returns a time-ordered UUID v7 for a thread record.
func NewThreadID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewTrackingID returns a fresh tracking id. ULIDs keep the token in
// the [A-Za-z0-9] range the References scanner expects.
func NewTrackingID() string {
	return TrackingPrefix + ulid.Make().String()
}
