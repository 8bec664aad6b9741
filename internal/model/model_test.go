package model

import (
	"testing"
	"time"
)

func TestRoomKey_RoundTrip(t *testing.T) {
	t.Parallel()

	k := NewRoomKey("ws1", "page-9")
	if k != "ws1:page-9" {
		t.Fatalf("room key: %q", k)
	}
	ws, page := k.Split()
	if ws != "ws1" || page != "page-9" {
		t.Fatalf("split: %q %q", ws, page)
	}
}

func TestRole_Ordering(t *testing.T) {
	t.Parallel()

	if !RoleOwner.AtLeast(RoleMember) || !RoleAdmin.AtLeast(RoleMember) || !RoleMember.AtLeast(RoleMember) {
		t.Fatalf("owner/admin/member must edit")
	}
	if RoleGuest.AtLeast(RoleMember) {
		t.Fatalf("guest must not edit")
	}
	if Role("").AtLeast(RoleGuest) || Role("ROOT").Valid() {
		t.Fatalf("unknown roles grant nothing")
	}
	if !RoleGuest.AtLeast(RoleGuest) || RoleGuest.AtLeast(RoleMember) {
		t.Fatalf("guest ordering broken")
	}
}

func TestBlockOperation_Valid(t *testing.T) {
	t.Parallel()

	for _, op := range []BlockOperation{OpCreate, OpUpdate, OpDelete, OpMove, OpDuplicate, OpConvertType, OpIndent, OpOutdent} {
		if !op.Valid() {
			t.Fatalf("%s should be valid", op)
		}
	}
	if BlockOperation("rename").Valid() {
		t.Fatalf("unknown op accepted")
	}
}

func TestEditMessage_RoomAndRoutingKey(t *testing.T) {
	t.Parallel()

	m := EditMessage{MessageType: MessageTypeBlock, WorkspaceID: "w", Operation: OpMove, Block: BlockPayload{PageID: "p"}}
	if m.Room() != "w:p" {
		t.Fatalf("room: %s", m.Room())
	}
	if m.RoutingKey() != "api.block.move" {
		t.Fatalf("routing key: %s", m.RoutingKey())
	}
}

func TestTimestamp_UTCMillis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 7, 25, 10, 4, 5, 123_000_000, time.FixedZone("KST", 9*3600))
	if got := Timestamp(ts); got != "2025-07-25T01:04:05.123Z" {
		t.Fatalf("timestamp: %s", got)
	}
}
