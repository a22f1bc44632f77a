package view

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// UsernameChecksum fingerprints a username claim within a stream. The
// checksum travels on the wire instead of the cleartext, so uniqueness
// can be enforced without revealing the name.
func UsernameChecksum(username string, streamID model.StreamID) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.ToLower(username)))
	h.Write([]byte(":"))
	h.Write([]byte(streamID))
	return hex.EncodeToString(h.Sum(nil))
}

// metadataTracker tracks one encrypted per-member metadata field
// (username or display name): the pending claim, the confirmed claim,
// a decrypted plaintext cache, and a reverse index from user to the
// claiming event id so superseded claims can be retracted.
type metadataTracker struct {
	name string
	log  *logging.Logger

	pending   map[string]*model.WrappedEncryptedData
	confirmed map[string]*model.WrappedEncryptedData
	plaintext map[string]string

	// eventToUser maps a claiming event id to its user so confirmation
	// and retraction can find the owner.
	eventToUser map[string]string
	// userToEvent is the current claim per user.
	userToEvent map[string]string

	// checksumOwner enforces global uniqueness when enabled; the empty
	// map means the field does not use checksums.
	checksumOwner map[string]string
	useChecksums  bool
}

func newMetadataTracker(name string, useChecksums bool, log *logging.Logger) *metadataTracker {
	return &metadataTracker{
		name:          name,
		log:           log,
		pending:       make(map[string]*model.WrappedEncryptedData),
		confirmed:     make(map[string]*model.WrappedEncryptedData),
		plaintext:     make(map[string]string),
		eventToUser:   make(map[string]string),
		userToEvent:   make(map[string]string),
		checksumOwner: make(map[string]string),
		useChecksums:  useChecksums,
	}
}

// applySnapshot seeds a confirmed claim from a snapshot.
func (t *metadataTracker) applySnapshot(userID string, wrapped *model.WrappedEncryptedData) {
	if wrapped == nil {
		return
	}
	t.confirmed[userID] = wrapped
	t.eventToUser[wrapped.EventHash] = userID
	t.userToEvent[userID] = wrapped.EventHash
	if t.useChecksums && wrapped.Data.Checksum != "" {
		t.checksumOwner[wrapped.Data.Checksum] = userID
	}
}

// ChecksumAvailable reports whether a checksum is unclaimed or already
// owned by userID.
func (t *metadataTracker) ChecksumAvailable(checksum, userID string) bool {
	if !t.useChecksums || checksum == "" {
		return true
	}
	owner, taken := t.checksumOwner[checksum]
	return !taken || owner == userID
}

// setPending records a new claim for a user, retracting any previous
// claim first. Returns false when a checksum collision rejects the
// claim.
func (t *metadataTracker) setPending(userID, eventID string, data model.EncryptedData, eventNum int64) bool {
	if !t.ChecksumAvailable(data.Checksum, userID) {
		t.log.Warn("rejecting claim with duplicate checksum",
			"field", t.name, "user", userID, "checksum", data.Checksum)
		return false
	}
	t.retract(userID)

	t.pending[userID] = &model.WrappedEncryptedData{
		Data:      data,
		EventHash: eventID,
		EventNum:  eventNum,
	}
	t.eventToUser[eventID] = userID
	t.userToEvent[userID] = eventID
	if t.useChecksums && data.Checksum != "" {
		t.checksumOwner[data.Checksum] = userID
	}
	return true
}

// retract frees a user's current claim: reverse index entry and, where
// applicable, the checksum become available again.
func (t *metadataTracker) retract(userID string) {
	eventID, ok := t.userToEvent[userID]
	if !ok {
		return
	}
	delete(t.userToEvent, userID)
	delete(t.eventToUser, eventID)
	if !t.useChecksums {
		return
	}
	for _, w := range []*model.WrappedEncryptedData{t.pending[userID], t.confirmed[userID]} {
		if w != nil && w.EventHash == eventID && w.Data.Checksum != "" {
			delete(t.checksumOwner, w.Data.Checksum)
		}
	}
}

// confirm promotes the pending claim attached to eventID. Returns the
// owning user and whether a promotion happened.
func (t *metadataTracker) confirm(eventID string) (string, bool) {
	userID, ok := t.eventToUser[eventID]
	if !ok {
		return "", false
	}
	w, ok := t.pending[userID]
	if !ok || w.EventHash != eventID {
		return userID, false
	}
	delete(t.pending, userID)
	t.confirmed[userID] = w
	return userID, true
}

// setPlaintext caches the decrypted value keyed by claiming event id.
func (t *metadataTracker) setPlaintext(eventID, cleartext string) {
	userID, ok := t.eventToUser[eventID]
	if !ok {
		return
	}
	t.plaintext[userID] = cleartext
}

// Plaintext returns the decrypted value for a user, if resolved.
func (t *metadataTracker) Plaintext(userID string) (string, bool) {
	v, ok := t.plaintext[userID]
	return v, ok
}

// Current returns the user's claim, preferring the pending one.
func (t *metadataTracker) Current(userID string) *model.WrappedEncryptedData {
	if w, ok := t.pending[userID]; ok {
		return w
	}
	return t.confirmed[userID]
}

// Confirmed returns the user's confirmed claim, if any.
func (t *metadataTracker) Confirmed(userID string) *model.WrappedEncryptedData {
	return t.confirmed[userID]
}
