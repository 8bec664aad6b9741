package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tacohub/collab-relay/internal/errs"
	"github.com/tacohub/collab-relay/internal/fanout"
	"github.com/tacohub/collab-relay/internal/model"
	"github.com/tacohub/collab-relay/internal/presence"
	"github.com/tacohub/collab-relay/internal/service"
	"github.com/tacohub/collab-relay/internal/transport/transporttest"
)

type fakeRoles struct{ role model.Role }

var _ RoleChecker = (*fakeRoles)(nil)

func (f *fakeRoles) EnsureRole(_ context.Context, _ *service.RoleCache, _, _ string, min model.Role) (model.Role, error) {
	if !f.role.AtLeast(min) {
		return f.role, errs.New(errs.KindAuthorization, errs.CodePermissionDenied, "User permissions denied", errs.ErrPermissionDenied)
	}
	return f.role, nil
}

type fakePub struct {
	mu   sync.Mutex
	msgs []model.EditMessage
}

var _ fanout.EditPublisher = (*fakePub)(nil)

func (f *fakePub) PublishEdit(m model.EditMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return nil
}

const room = model.RoomKey("w1:p1")

func edit(id string) model.EditMessage {
	return model.EditMessage{
		MessageID:   id,
		MessageType: model.MessageTypeBlock,
		WorkspaceID: "w1",
		Operation:   model.OpUpdate,
		Block:       model.BlockPayload{ID: "b1", PageID: "p1"},
		UserID:      "u1",
	}
}

func setup(t *testing.T, role model.Role) (*Router, *presence.Registry, *transporttest.Fake, *fakePub) {
	t.Helper()
	reg := presence.New()
	tr := transporttest.New()
	pub := &fakePub{}
	return New(reg, tr, &fakeRoles{role: role}, pub, zaptest.NewLogger(t)), reg, tr, pub
}

func TestRoute_SameUserOtherTabAndOtherUser(t *testing.T) {
	t.Parallel()

	r, reg, tr, pub := setup(t, model.RoleMember)
	tr.Open("c1", "c2", "c3", "c4")
	reg.Join(room, "u1", "c1")
	reg.Join(room, "u1", "c2")
	reg.Join(room, "u3", "c3")
	reg.Join("w1:other", "u4", "c4")

	err := r.Route(context.Background(), Origin{ConnID: "c1", UserID: "u1", Roles: &service.RoleCache{}}, room, edit("m1"))
	require.NoError(t, err)

	require.Empty(t, tr.SentTo("c1"), "no echo to origin")
	require.Equal(t, []string{model.EventEditBroadcast}, tr.Events("c2"))
	require.Equal(t, []string{model.EventEditBroadcast}, tr.Events("c3"))
	require.Empty(t, tr.SentTo("c4"), "other rooms untouched")
	require.Equal(t, "m1", tr.SentTo("c3")[0].Payload.(model.EditMessage).MessageID)

	require.Len(t, pub.msgs, 1, "published exactly once")
}

func TestRoute_GuestDenied(t *testing.T) {
	t.Parallel()

	r, reg, tr, pub := setup(t, model.RoleGuest)
	tr.Open("c1", "c2")
	reg.Join(room, "u1", "c1")
	reg.Join(room, "u2", "c2")

	err := r.Route(context.Background(), Origin{ConnID: "c1", UserID: "u1", Roles: &service.RoleCache{}}, room, edit("m1"))
	require.ErrorIs(t, err, errs.ErrPermissionDenied)
	require.Equal(t, errs.CodePermissionDenied, errs.Classify(err).Code)
	require.Empty(t, tr.SentTo("c2"))
	require.Empty(t, pub.msgs)
}

func TestRoute_GoneConnectionSkipped(t *testing.T) {
	t.Parallel()

	r, reg, tr, pub := setup(t, model.RoleOwner)
	tr.Open("c1", "c3")
	reg.Join(room, "u1", "c1")
	reg.Join(room, "u2", "c2") // registered but already gone at the transport
	reg.Join(room, "u3", "c3")

	require.NoError(t, r.Route(context.Background(), Origin{ConnID: "c1", UserID: "u1", Roles: &service.RoleCache{}}, room, edit("m1")))
	require.Len(t, tr.SentTo("c3"), 1)
	require.Len(t, pub.msgs, 1)
}

func TestRoute_EmptyRoomStillPublishes(t *testing.T) {
	t.Parallel()

	r, reg, tr, pub := setup(t, model.RoleMember)
	tr.Open("c1")
	reg.Join(room, "u1", "c1")

	require.NoError(t, r.Route(context.Background(), Origin{ConnID: "c1", UserID: "u1", Roles: &service.RoleCache{}}, room, edit("m1")))
	require.Empty(t, tr.SentTo("c1"))
	require.Len(t, pub.msgs, 1)
}

func TestRoute_PreservesOrderPerOrigin(t *testing.T) {
	t.Parallel()

	r, reg, tr, pub := setup(t, model.RoleMember)
	tr.Open("c1", "c2")
	reg.Join(room, "u1", "c1")
	reg.Join(room, "u2", "c2")

	origin := Origin{ConnID: "c1", UserID: "u1", Roles: &service.RoleCache{}}
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, r.Route(context.Background(), origin, room, edit(id)))
	}

	var got []string
	for _, s := range tr.SentTo("c2") {
		got = append(got, s.Payload.(model.EditMessage).MessageID)
	}
	require.Equal(t, []string{"m1", "m2", "m3"}, got)
	require.Equal(t, "m3", pub.msgs[2].MessageID)
}

func TestDeliverLocal_NoExclusion(t *testing.T) {
	t.Parallel()

	r, reg, tr, _ := setup(t, model.RoleMember)
	tr.Open("c1", "c2")
	reg.Join(room, "u1", "c1")
	reg.Join(room, "u2", "c2")

	require.Equal(t, 2, r.DeliverLocal(room, "", model.EventUserJoined, nil))
}
