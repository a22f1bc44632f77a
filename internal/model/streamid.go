package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"streamsync/internal/codec"
)

// StreamKind is the closed set of stream purposes.
type StreamKind byte

// Stream kind prefixes. The first byte of a stream id encodes its kind.
const (
	StreamKindSpace        StreamKind = 0x10
	StreamKindChannel      StreamKind = 0x20
	StreamKindMedia        StreamKind = 0x40
	StreamKindDM           StreamKind = 0x77
	StreamKindGDM          StreamKind = 0x78
	StreamKindUser         StreamKind = 0xa1
	StreamKindUserSettings StreamKind = 0xa5
	StreamKindDeviceKey    StreamKind = 0xad
	StreamKindInbox        StreamKind = 0xa9
	StreamKindUnknown      StreamKind = 0x00
)

// String returns the kind name.
func (k StreamKind) String() string {
	switch k {
	case StreamKindSpace:
		return "space"
	case StreamKindChannel:
		return "channel"
	case StreamKindMedia:
		return "media"
	case StreamKindDM:
		return "dm"
	case StreamKindGDM:
		return "gdm"
	case StreamKindUser:
		return "user"
	case StreamKindUserSettings:
		return "userSettings"
	case StreamKindDeviceKey:
		return "deviceKey"
	case StreamKindInbox:
		return "inbox"
	default:
		return "unknown"
	}
}

// streamIDLength is the byte length of a stream id (64 hex chars).
const streamIDLength = 32

// StreamID is a 32-byte stream identifier rendered as lowercase hex.
// The first byte encodes the stream kind; channel ids embed their
// parent space id in bytes 1..21.
type StreamID string

// Kind returns the stream kind encoded in the id prefix.
func (id StreamID) Kind() StreamKind {
	if len(id) != streamIDLength*2 {
		return StreamKindUnknown
	}
	b, err := hex.DecodeString(string(id[:2]))
	if err != nil {
		return StreamKindUnknown
	}
	switch k := StreamKind(b[0]); k {
	case StreamKindSpace, StreamKindChannel, StreamKindMedia, StreamKindDM,
		StreamKindGDM, StreamKindUser, StreamKindUserSettings,
		StreamKindDeviceKey, StreamKindInbox:
		return k
	default:
		return StreamKindUnknown
	}
}

// Valid reports whether the id is well formed with a known kind.
func (id StreamID) Valid() bool {
	if len(id) != streamIDLength*2 {
		return false
	}
	if _, err := hex.DecodeString(string(id)); err != nil {
		return false
	}
	return id.Kind() != StreamKindUnknown
}

// SpaceID returns the parent space id embedded in a channel id.
func (id StreamID) SpaceID() (StreamID, error) {
	if id.Kind() != StreamKindChannel {
		return "", fmt.Errorf("model: stream %s is not a channel", id)
	}
	raw, err := hex.DecodeString(string(id))
	if err != nil {
		return "", fmt.Errorf("model: decode stream id: %w", err)
	}
	space := make([]byte, streamIDLength)
	space[0] = byte(StreamKindSpace)
	copy(space[1:21], raw[1:21])
	return StreamID(hex.EncodeToString(space)), nil
}

// MakeStreamID generates a random stream id of the given kind.
func MakeStreamID(kind StreamKind) (StreamID, error) {
	raw := make([]byte, streamIDLength)
	if _, err := rand.Read(raw[1:]); err != nil {
		return "", fmt.Errorf("model: generate stream id: %w", err)
	}
	raw[0] = byte(kind)
	return StreamID(hex.EncodeToString(raw)), nil
}

// MakeChannelStreamID generates a channel id under the given space.
func MakeChannelStreamID(spaceID StreamID) (StreamID, error) {
	if spaceID.Kind() != StreamKindSpace {
		return "", fmt.Errorf("model: stream %s is not a space", spaceID)
	}
	spaceRaw, err := hex.DecodeString(string(spaceID))
	if err != nil {
		return "", fmt.Errorf("model: decode space id: %w", err)
	}
	raw := make([]byte, streamIDLength)
	if _, err := rand.Read(raw[21:]); err != nil {
		return "", fmt.Errorf("model: generate channel id: %w", err)
	}
	raw[0] = byte(StreamKindChannel)
	copy(raw[1:21], spaceRaw[1:21])
	return StreamID(hex.EncodeToString(raw)), nil
}

// userDerivedStreamID builds a deterministic per-user stream id: kind
// prefix, the user's address, zero padding.
func userDerivedStreamID(kind StreamKind, user codec.Address) StreamID {
	raw := make([]byte, streamIDLength)
	raw[0] = byte(kind)
	copy(raw[1:21], user[:])
	return StreamID(hex.EncodeToString(raw))
}

// UserStreamID returns the id of a user's own stream.
func UserStreamID(user codec.Address) StreamID {
	return userDerivedStreamID(StreamKindUser, user)
}

// UserSettingsStreamID returns the id of a user's settings stream.
func UserSettingsStreamID(user codec.Address) StreamID {
	return userDerivedStreamID(StreamKindUserSettings, user)
}

// DeviceKeyStreamID returns the id of a user's device-key stream.
func DeviceKeyStreamID(user codec.Address) StreamID {
	return userDerivedStreamID(StreamKindDeviceKey, user)
}

// InboxStreamID returns the id of a user's inbox stream.
func InboxStreamID(user codec.Address) StreamID {
	return userDerivedStreamID(StreamKindInbox, user)
}
