package model

// Snapshot is a full materialized checkpoint of stream state at a given
// miniblock. Snapshots are versioned and upgraded through the migration
// chain in migrate.go before use. Exactly one per-kind content section
// is populated, matching the stream's kind.
type Snapshot struct {
	Version  int      `json:"version"`
	StreamID StreamID `json:"streamId"`

	Members MembersSnapshot `json:"members"`

	Space        *SpaceSnapshot        `json:"space,omitempty"`
	Channel      *ChannelSnapshot      `json:"channel,omitempty"`
	DM           *DMSnapshot           `json:"dm,omitempty"`
	GDM          *GDMSnapshot          `json:"gdm,omitempty"`
	User         *UserSnapshot         `json:"user,omitempty"`
	UserSettings *UserSettingsSnapshot `json:"userSettings,omitempty"`
	DeviceKey    *DeviceKeySnapshot    `json:"deviceKey,omitempty"`
	Inbox        *InboxSnapshot        `json:"inbox,omitempty"`
	Media        *MediaSnapshot        `json:"media,omitempty"`
}

// WrappedEncryptedData is an encrypted value plus the event that set
// it, so the cleartext cache can be consulted by event id.
type WrappedEncryptedData struct {
	Data      EncryptedData `json:"data"`
	EventHash string        `json:"eventHash"`
	EventNum  int64         `json:"eventNum"`
}

// MemberSnapshot is one joined member's snapshotted state.
type MemberSnapshot struct {
	UserID        string                   `json:"userId"`
	MiniblockNum  int64                    `json:"miniblockNum"`
	EventNum      int64                    `json:"eventNum"`
	Username      *WrappedEncryptedData    `json:"username,omitempty"`
	DisplayName   *WrappedEncryptedData    `json:"displayName,omitempty"`
	EnsAddress    []byte                   `json:"ensAddress,omitempty"`
	Nft           *NftPayload              `json:"nft,omitempty"`
	Solicitations []KeySolicitationPayload `json:"solicitations,omitempty"`
}

// MembersSnapshot captures the joined membership of a stream. Joined is
// sorted by user id (canonical order since snapshot version 2).
type MembersSnapshot struct {
	Joined []MemberSnapshot `json:"joined"`
}

// SpaceChannelMeta is one entry of a space's channel registry.
type SpaceChannelMeta struct {
	ChannelID         StreamID `json:"channelId"`
	Op                ChannelOp `json:"op"`
	OriginEventHash   string    `json:"originEventHash,omitempty"`
	UpdatedAtEventNum int64     `json:"updatedAtEventNum"`
}

// SpaceSnapshot is the space-stream content checkpoint.
type SpaceSnapshot struct {
	Inception *SpaceInceptionPayload `json:"inception,omitempty"`
	Channels  []SpaceChannelMeta     `json:"channels,omitempty"`
}

// ChannelSnapshot is the channel-stream content checkpoint.
type ChannelSnapshot struct {
	Inception *ChannelInceptionPayload `json:"inception,omitempty"`
}

// DMSnapshot is the direct-message content checkpoint.
type DMSnapshot struct {
	Inception *DMInceptionPayload `json:"inception,omitempty"`
}

// GDMSnapshot is the group-DM content checkpoint.
type GDMSnapshot struct {
	Inception         *GDMInceptionPayload  `json:"inception,omitempty"`
	ChannelProperties *WrappedEncryptedData `json:"channelProperties,omitempty"`
}

// UserSnapshot is the user-stream content checkpoint.
type UserSnapshot struct {
	Inception   *UserInceptionPayload   `json:"inception,omitempty"`
	Memberships []UserMembershipPayload `json:"memberships,omitempty"`
}

// UserBlockSnapshot tracks the block history for one target user.
type UserBlockSnapshot struct {
	UserID string             `json:"userId"`
	Blocks []UserBlockPayload `json:"blocks,omitempty"`
}

// UserSettingsSnapshot is the settings-stream content checkpoint.
type UserSettingsSnapshot struct {
	Inception        *UserSettingsInceptionPayload `json:"inception,omitempty"`
	FullyReadMarkers []FullyReadMarkersPayload     `json:"fullyReadMarkers,omitempty"`
	UserBlocks       []UserBlockSnapshot           `json:"userBlocks,omitempty"`
}

// DeviceKeySnapshot is the device-key-stream content checkpoint.
type DeviceKeySnapshot struct {
	Inception *DeviceKeyInceptionPayload `json:"inception,omitempty"`
	Devices   []EncryptionDevicePayload  `json:"devices,omitempty"`
}

// InboxDeviceSummary bounds the miniblock range a device still needs to
// process from its inbox.
type InboxDeviceSummary struct {
	DeviceKey         string `json:"deviceKey"`
	LowerBound        int64  `json:"lowerBound"`
	UpperBound        int64  `json:"upperBound"`
}

// InboxSnapshot is the inbox-stream content checkpoint.
type InboxSnapshot struct {
	Inception       *InboxInceptionPayload `json:"inception,omitempty"`
	DeviceSummaries []InboxDeviceSummary   `json:"deviceSummaries,omitempty"`
}

// MediaSnapshot is the media-stream content checkpoint.
type MediaSnapshot struct {
	Inception *MediaInceptionPayload `json:"inception,omitempty"`
}
