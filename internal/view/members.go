package view

import (
	"bytes"
	"sort"

	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// MemberState is the membership projection shared by every stream
// kind. It maintains dual state per operation: a pending set (write
// seen, not yet confirmed) and a confirmed set. Only confirmation moves
// a user between confirmed sets and fires the authoritative
// membership-changed signal; pending transitions fire the weaker
// pending signal.
type MemberState struct {
	streamID model.StreamID
	kind     model.StreamKind
	log      *logging.Logger
	sink     Sink

	pendingInvited map[string]bool
	pendingJoined  map[string]bool
	pendingLeft    map[string]bool

	confirmedInvited map[string]bool
	confirmedJoined  map[string]bool
	confirmedLeft    map[string]bool

	// pendingOps resolves a confirmed membership event hash back to its
	// payload.
	pendingOps map[string]*model.MembershipPayload

	// dmParties entitles both named parties of a DM to key exchange
	// regardless of join state.
	dmParties []string

	usernames     *metadataTracker
	displayNames  *metadataTracker
	ensAddresses  map[string][]byte
	nfts          map[string]*model.NftPayload
	solicitations map[string][]model.KeySolicitationPayload
}

// NewMemberState creates the membership projection for a stream.
func NewMemberState(streamID model.StreamID, sink Sink, log *logging.Logger) *MemberState {
	return &MemberState{
		streamID:         streamID,
		kind:             streamID.Kind(),
		log:              log,
		sink:             sink,
		pendingInvited:   make(map[string]bool),
		pendingJoined:    make(map[string]bool),
		pendingLeft:      make(map[string]bool),
		confirmedInvited: make(map[string]bool),
		confirmedJoined:  make(map[string]bool),
		confirmedLeft:    make(map[string]bool),
		pendingOps:       make(map[string]*model.MembershipPayload),
		usernames:        newMetadataTracker("username", true, log),
		displayNames:     newMetadataTracker("displayName", false, log),
		ensAddresses:     make(map[string][]byte),
		nfts:             make(map[string]*model.NftPayload),
		solicitations:    make(map[string][]model.KeySolicitationPayload),
	}
}

func (m *MemberState) emit(ev StreamEvent) {
	if m.sink != nil {
		m.sink(ev)
	}
}

// ApplySnapshot seeds confirmed membership and metadata from a
// snapshot checkpoint.
func (m *MemberState) ApplySnapshot(snap *model.Snapshot) {
	for _, member := range snap.Members.Joined {
		m.confirmedJoined[member.UserID] = true
		m.usernames.applySnapshot(member.UserID, member.Username)
		m.displayNames.applySnapshot(member.UserID, member.DisplayName)
		if len(member.EnsAddress) > 0 {
			m.ensAddresses[member.UserID] = member.EnsAddress
		}
		if member.Nft != nil {
			m.nfts[member.UserID] = member.Nft
		}
		if len(member.Solicitations) > 0 {
			m.solicitations[member.UserID] = append([]model.KeySolicitationPayload(nil), member.Solicitations...)
		}
	}
	if snap.DM != nil && snap.DM.Inception != nil {
		m.dmParties = []string{snap.DM.Inception.FirstPartyID, snap.DM.Inception.SecondPartyID}
	}
}

// AppendEvent folds one unconfirmed member event into pending state.
// Unrecognized payloads are ignored here; the view logs them once.
func (m *MemberState) AppendEvent(e *model.TimelineEvent) {
	switch p := e.Payload().(type) {
	case *model.MembershipPayload:
		m.applyPendingMembership(e.HashStr, p)
	case *model.UsernamePayload:
		if m.usernames.setPending(e.CreatorID, e.HashStr, p.Data, e.EventNum) {
			m.emit(UsernameUpdated{StreamID: m.streamID, UserID: e.CreatorID})
		}
	case *model.DisplayNamePayload:
		if m.displayNames.setPending(e.CreatorID, e.HashStr, p.Data, e.EventNum) {
			m.emit(DisplayNameUpdated{StreamID: m.streamID, UserID: e.CreatorID})
		}
	case *model.EnsAddressPayload:
		m.ensAddresses[e.CreatorID] = p.Address
		m.emit(EnsAddressUpdated{StreamID: m.streamID, UserID: e.CreatorID, Address: p.Address})
	case *model.NftPayload:
		m.nfts[e.CreatorID] = p
		m.emit(NftUpdated{StreamID: m.streamID, UserID: e.CreatorID, Nft: p})
	case *model.KeySolicitationPayload:
		m.addSolicitation(e.CreatorID, p)
	case *model.KeyFulfillmentPayload:
		m.applyFulfillment(p)
	case *model.DMInceptionPayload:
		m.dmParties = []string{p.FirstPartyID, p.SecondPartyID}
	}
}

// PrependEvent folds an older, already-confirmed member event during
// scrollback. Membership and metadata are snapshot-derived, so only
// bookkeeping that scrollback can extend (DM parties, solicitations
// from before the snapshot) is applied.
func (m *MemberState) PrependEvent(e *model.TimelineEvent) {
	if p, ok := e.Payload().(*model.DMInceptionPayload); ok && len(m.dmParties) == 0 {
		m.dmParties = []string{p.FirstPartyID, p.SecondPartyID}
	}
}

func (m *MemberState) applyPendingMembership(hashStr string, p *model.MembershipPayload) {
	switch p.Op {
	case model.MembershipInvite:
		m.pendingInvited[p.UserID] = true
	case model.MembershipJoin:
		m.pendingJoined[p.UserID] = true
	case model.MembershipLeave:
		m.pendingLeft[p.UserID] = true
	default:
		m.log.Warn("membership event with unspecified op", "user", p.UserID)
		return
	}
	m.pendingOps[hashStr] = p
	m.emit(PendingMembershipChanged{StreamID: m.streamID, UserID: p.UserID, Op: p.Op})
}

// OnConfirmedEvent finalizes a member event once its miniblock lands.
func (m *MemberState) OnConfirmedEvent(e *model.TimelineEvent) {
	switch e.Payload().(type) {
	case *model.MembershipPayload:
		p, ok := m.pendingOps[e.HashStr]
		if !ok {
			// Confirmed without a pending record: scrollback or a
			// delivery gap. Apply directly.
			p, _ = e.Payload().(*model.MembershipPayload)
		}
		delete(m.pendingOps, e.HashStr)
		m.confirmMembership(p)
	case *model.UsernamePayload:
		if userID, promoted := m.usernames.confirm(e.HashStr); promoted {
			m.emit(UsernameUpdated{StreamID: m.streamID, UserID: userID, Confirmed: true})
		}
	case *model.DisplayNamePayload:
		if userID, promoted := m.displayNames.confirm(e.HashStr); promoted {
			m.emit(DisplayNameUpdated{StreamID: m.streamID, UserID: userID, Confirmed: true})
		}
	}
}

func (m *MemberState) confirmMembership(p *model.MembershipPayload) {
	switch p.Op {
	case model.MembershipInvite:
		delete(m.pendingInvited, p.UserID)
		m.confirmedInvited[p.UserID] = true
	case model.MembershipJoin:
		delete(m.pendingJoined, p.UserID)
		delete(m.confirmedInvited, p.UserID)
		delete(m.confirmedLeft, p.UserID)
		m.confirmedJoined[p.UserID] = true
	case model.MembershipLeave:
		delete(m.pendingLeft, p.UserID)
		delete(m.confirmedJoined, p.UserID)
		delete(m.confirmedInvited, p.UserID)
		m.confirmedLeft[p.UserID] = true
	default:
		return
	}
	m.emit(MembershipChanged{StreamID: m.streamID, UserID: p.UserID, Op: p.Op})
}

func (m *MemberState) addSolicitation(userID string, p *model.KeySolicitationPayload) {
	existing := m.solicitations[userID]
	for i, s := range existing {
		if s.DeviceKey == p.DeviceKey {
			existing[i] = *p
			return
		}
	}
	m.solicitations[userID] = append(existing, *p)
}

func (m *MemberState) applyFulfillment(p *model.KeyFulfillmentPayload) {
	existing := m.solicitations[p.UserID]
	fulfilled := make(map[string]bool, len(p.SessionIDs))
	for _, id := range p.SessionIDs {
		fulfilled[id] = true
	}
	for i, s := range existing {
		if s.DeviceKey != p.DeviceKey {
			continue
		}
		var remaining []string
		for _, id := range s.SessionIDs {
			if !fulfilled[id] {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 && !s.IsNewDevice {
			m.solicitations[p.UserID] = append(existing[:i], existing[i+1:]...)
		} else {
			existing[i].SessionIDs = remaining
		}
		return
	}
}

// OnDecryptedContent resolves a username or display name cleartext.
func (m *MemberState) OnDecryptedContent(eventID string, c model.DecryptedContent) {
	switch c.Kind {
	case "username":
		m.usernames.setPlaintext(eventID, c.Content)
	case "displayName":
		m.displayNames.setPlaintext(eventID, c.Content)
	}
}

// IsJoined reports confirmed joined membership.
func (m *MemberState) IsJoined(userID string) bool {
	return m.confirmedJoined[userID]
}

// IsPendingJoined reports a join seen but not yet confirmed.
func (m *MemberState) IsPendingJoined(userID string) bool {
	return m.pendingJoined[userID]
}

// IsInvited reports confirmed invited membership.
func (m *MemberState) IsInvited(userID string) bool {
	return m.confirmedInvited[userID]
}

// IsLeft reports confirmed left membership.
func (m *MemberState) IsLeft(userID string) bool {
	return m.confirmedLeft[userID]
}

// Participants returns joined, invited, and left users: everyone who
// ever took part, which is the audience for key distribution.
func (m *MemberState) Participants() []string {
	seen := make(map[string]bool)
	for _, set := range []map[string]bool{m.confirmedJoined, m.confirmedInvited, m.confirmedLeft} {
		for userID := range set {
			seen[userID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for userID := range seen {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// IsEntitledToKeyExchange applies the per-kind entitlement policy:
// DMs always entitle both named parties so pre-join and self key
// exchange work; everything else requires active joined membership.
func (m *MemberState) IsEntitledToKeyExchange(userID string) bool {
	if m.kind == model.StreamKindDM {
		for _, party := range m.dmParties {
			if party == userID {
				return true
			}
		}
		return false
	}
	return m.confirmedJoined[userID]
}

// UsernameAvailable reports whether a username checksum can be claimed
// by userID, considering both unconfirmed and confirmed claims.
func (m *MemberState) UsernameAvailable(checksum, userID string) bool {
	return m.usernames.ChecksumAvailable(checksum, userID)
}

// Username returns the user's current username claim.
func (m *MemberState) Username(userID string) *model.WrappedEncryptedData {
	return m.usernames.Current(userID)
}

// UsernamePlaintext returns the decrypted username, if resolved.
func (m *MemberState) UsernamePlaintext(userID string) (string, bool) {
	return m.usernames.Plaintext(userID)
}

// DisplayName returns the user's current display name claim.
func (m *MemberState) DisplayName(userID string) *model.WrappedEncryptedData {
	return m.displayNames.Current(userID)
}

// EnsAddress returns the user's ENS address, if set.
func (m *MemberState) EnsAddress(userID string) ([]byte, bool) {
	addr, ok := m.ensAddresses[userID]
	return addr, ok
}

// Nft returns the user's NFT badge, if set.
func (m *MemberState) Nft(userID string) *model.NftPayload {
	return m.nfts[userID]
}

// Solicitations returns a user's outstanding key solicitations.
func (m *MemberState) Solicitations(userID string) []model.KeySolicitationPayload {
	return m.solicitations[userID]
}

// HasEnsAddress reports whether the user's ENS address equals addr.
func (m *MemberState) HasEnsAddress(userID string, addr []byte) bool {
	return bytes.Equal(m.ensAddresses[userID], addr)
}
