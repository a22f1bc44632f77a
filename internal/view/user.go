package view

import (
	"sort"

	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// userProjection maintains a user stream: the user's own membership in
// every other stream, mirrored into their personal log.
type userProjection struct {
	baseProjection
	inception   *model.UserInceptionPayload
	memberships map[model.StreamID]model.MembershipOp
}

func newUserProjection(streamID model.StreamID, log *logging.Logger) *userProjection {
	return &userProjection{
		baseProjection: baseProjection{streamID: streamID, kind: model.StreamKindUser, log: log},
		memberships:    make(map[model.StreamID]model.MembershipOp),
	}
}

func (p *userProjection) ApplySnapshot(snap *model.Snapshot) {
	if snap.User == nil {
		return
	}
	p.inception = snap.User.Inception
	for _, m := range snap.User.Memberships {
		p.memberships[m.StreamID] = m.Op
	}
}

func (p *userProjection) AppendEvent(e *model.TimelineEvent) {
	switch payload := e.Payload().(type) {
	case *model.UserInceptionPayload:
		p.inception = payload
	case *model.UserMembershipPayload:
		if payload.Op == model.MembershipUnspecified {
			p.log.Debug("user membership with unspecified op", "target", string(payload.StreamID))
			return
		}
		p.memberships[payload.StreamID] = payload.Op
	}
}

// Membership returns the user's membership op for a stream, or
// MembershipUnspecified when unknown.
func (p *userProjection) Membership(streamID model.StreamID) model.MembershipOp {
	return p.memberships[streamID]
}

// JoinedStreams returns every stream the user is joined to, sorted.
func (p *userProjection) JoinedStreams() []model.StreamID {
	var out []model.StreamID
	for id, op := range p.memberships {
		if op == model.MembershipJoin {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
