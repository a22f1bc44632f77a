package model

import (
	"fmt"

	"github.com/google/uuid"
)

// LocalEventStatus tracks an optimistic local write.
type LocalEventStatus string

// Local event send statuses.
const (
	LocalSending LocalEventStatus = "sending"
	LocalSent    LocalEventStatus = "sent"
	LocalFailed  LocalEventStatus = "failed"
)

// localIDPrefix marks temporary ids so they can never collide with a
// 64-char hex event hash.
const localIDPrefix = "~"

// NewLocalID generates a temporary timeline id for an unsent event.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id is a temporary local id.
func IsLocalID(id string) bool {
	return len(id) > 0 && id[0] == localIDPrefix[0]
}

// LocalEvent is a not-yet-acknowledged optimistic write.
type LocalEvent struct {
	LocalID string
	Payload Payload
	Status  LocalEventStatus
}

// DecryptedContent is cleartext resolved out-of-band for an event.
type DecryptedContent struct {
	Kind    string
	Content string
}

// DecryptionError records a failed decryption attempt for an event.
type DecryptionError struct {
	Kind      string
	SessionID string
	Message   string
}

// Error implements error.
func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt %s (session %s): %s", e.Kind, e.SessionID, e.Message)
}

// TimelineEvent is one entry of a stream's ordered timeline. Exactly
// one of Local and Remote is populated; a local entry transitions in
// place to remote when the server echoes it back. MiniblockNum and
// ConfirmedEventNum are set together or not at all, and once set are
// never changed.
type TimelineEvent struct {
	HashStr          string
	CreatorID        string
	EventNum         int64
	CreatedAtEpochMs int64

	Local  *LocalEvent
	Remote *ParsedEvent

	DecryptedContent      *DecryptedContent
	DecryptedContentError *DecryptionError

	MiniblockNum      *int64
	ConfirmedEventNum *int64
}

// IsLocal reports whether the entry is a pending local write.
func (e *TimelineEvent) IsLocal() bool { return e.Local != nil }

// IsRemote reports whether the entry has a parsed remote event.
func (e *TimelineEvent) IsRemote() bool { return e.Remote != nil }

// IsConfirmed reports whether the entry has a miniblock placement.
func (e *TimelineEvent) IsConfirmed() bool {
	return e.Remote != nil && e.MiniblockNum != nil && e.ConfirmedEventNum != nil
}

// Payload returns the entry's payload from whichever side is populated.
func (e *TimelineEvent) Payload() Payload {
	if e.Remote != nil {
		return e.Remote.Event.Payload
	}
	if e.Local != nil {
		return e.Local.Payload
	}
	return nil
}

// NewRemoteTimelineEvent builds a timeline entry for a parsed remote
// event, optionally already confirmed.
func NewRemoteTimelineEvent(
	parsed *ParsedEvent,
	eventNum int64,
	miniblockNum, confirmedEventNum *int64,
) *TimelineEvent {
	return &TimelineEvent{
		HashStr:           parsed.HashStr,
		CreatorID:         parsed.CreatorID,
		EventNum:          eventNum,
		CreatedAtEpochMs:  parsed.Event.CreatedAtEpochMs,
		Remote:            parsed,
		MiniblockNum:      miniblockNum,
		ConfirmedEventNum: confirmedEventNum,
	}
}
