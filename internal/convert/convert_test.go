package convert

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tacohub/collab-relay/internal/errs"
	"github.com/tacohub/collab-relay/internal/model"
)

const (
	wsID   = "0b1e6f4a-3c2d-4e5f-8a9b-1c2d3e4f5a6b"
	pageID = "7f3a2b1c-9d8e-4f6a-b5c4-d3e2f1a0b9c8"
)

func TestEncodeDecodeFrame(t *testing.T) {
	t.Parallel()

	b, err := EncodeFrame(model.EventConnected, Connected{SocketID: "c1", UserID: "u1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(b), `"event":"connected"`) || !strings.Contains(string(b), `"socketId":"c1"`) {
		t.Fatalf("unexpected wire form: %s", b)
	}

	f, err := DecodeFrame(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := DecodeData[Connected](f)
	if err != nil || got.UserID != "u1" {
		t.Fatalf("data: %+v %v", got, err)
	}

	// raw payloads pass through untouched
	raw := json.RawMessage(`{"k":1}`)
	b, _ = EncodeFrame("x", raw)
	if string(b) != `{"event":"x","data":{"k":1}}` {
		t.Fatalf("raw passthrough: %s", b)
	}
}

func TestDecodeFrame_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`not json`, `{"data":{}}`, `[]`} {
		if _, err := DecodeFrame([]byte(in)); !errors.Is(err, errs.ErrInvalidPayload) {
			t.Fatalf("%q: want ErrInvalidPayload, got %v", in, err)
		}
	}
	if _, err := DecodeData[JoinPage](Frame{Event: "page:join"}); !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("empty data must be invalid")
	}
	if _, err := DecodeData[JoinPage](Frame{Event: "page:join", Data: json.RawMessage(`{"pageId":3}`)}); !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("type mismatch must be invalid")
	}
}

func TestJoinPage_Validate(t *testing.T) {
	t.Parallel()

	if err := (JoinPage{WorkspaceID: wsID, PageID: pageID, UserID: "u"}).Validate(); err != nil {
		t.Fatalf("valid: %v", err)
	}
	err := (JoinPage{WorkspaceID: wsID, UserID: "u"}).Validate()
	e := errs.Classify(err)
	if e.Code != errs.CodeInvalidPayload || e.Details["field"] != "pageId" || e.Message != "Invalid page ID" {
		t.Fatalf("unexpected: %+v", e)
	}
}

func TestToEditMessage(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	in := model.EditMessage{
		WorkspaceID: wsID,
		Operation:   model.OpUpdate,
		Block:       model.BlockPayload{ID: "b1", PageID: pageID, Content: "hi"},
	}

	out, err := ToEditMessage(in, "u1", now)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if out.MessageID == "" || out.Timestamp != "2025-01-02T03:04:05.000Z" {
		t.Fatalf("server-assigned fields missing: %+v", out)
	}
	if out.UserID != "u1" || out.Block.LastEditedBy != "u1" || out.MessageType != model.MessageTypeBlock {
		t.Fatalf("authoring fields: %+v", out)
	}
	if in.UserID != "" || in.Block.LastEditedBy != "" {
		t.Fatalf("input must not be mutated")
	}

	in.MessageID = "client-id"
	out, _ = ToEditMessage(in, "u1", now)
	if out.MessageID != "client-id" {
		t.Fatalf("client message id must be kept")
	}

	in.UserID = "someone-else"
	if _, err := ToEditMessage(in, "u1", now); !errors.Is(err, errs.ErrUserMismatch) {
		t.Fatalf("want ErrUserMismatch, got %v", err)
	}

	in.UserID = ""
	in.Operation = "rename"
	if _, err := ToEditMessage(in, "u1", now); !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("want ErrInvalidPayload on bad op, got %v", err)
	}
}

func TestNewNotification(t *testing.T) {
	t.Parallel()

	n, err := NewNotification(NotificationSend{WorkspaceID: wsID, Type: "mention", Message: "hey", UserID: "spoof"}, "u1", time.Now())
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	if n.UserID != "u1" || n.MessageType != model.MessageTypeNotification || n.MessageID == "" {
		t.Fatalf("bad notification: %+v", n)
	}
	if _, err := NewNotification(NotificationSend{WorkspaceID: wsID, Type: "spam"}, "u1", time.Now()); !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("unknown type must be rejected")
	}
}

// Room keys join ids with ':'; ids that could alias another workspace's room are rejected.
func TestIDs_MustBeUUIDs(t *testing.T) {
	t.Parallel()

	aliasing := []JoinPage{
		{WorkspaceID: "a:b", PageID: pageID, UserID: "u"},
		{WorkspaceID: wsID, PageID: "b:c", UserID: "u"},
		{WorkspaceID: "w1", PageID: pageID, UserID: "u"},
	}
	for _, p := range aliasing {
		if err := p.Validate(); !errors.Is(err, errs.ErrInvalidPayload) {
			t.Fatalf("%+v: want ErrInvalidPayload, got %v", p, err)
		}
	}

	if err := (JoinWorkspace{WorkspaceID: "a:b"}).Validate(); !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("workspace join: want ErrInvalidPayload, got %v", err)
	}
	if err := (NotificationSend{WorkspaceID: "a", Type: "mention"}).Validate(); !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("notification: want ErrInvalidPayload, got %v", err)
	}
	if err := (CursorUpdate{PageID: "b:c"}).Validate(); !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("cursor: want ErrInvalidPayload, got %v", err)
	}
	if err := (CursorUpdate{PageID: pageID}).Validate(); err != nil {
		t.Fatalf("cursor valid: %v", err)
	}

	edit := model.EditMessage{
		WorkspaceID: "a",
		Operation:   model.OpUpdate,
		Block:       model.BlockPayload{ID: "b1", PageID: "b:c"},
	}
	if _, err := ToEditMessage(edit, "u1", time.Now()); !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("edit: want ErrInvalidPayload, got %v", err)
	}
}
