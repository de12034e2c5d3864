package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecode_ValidAuth(t *testing.T) {
	f, err := Decode([]byte(`{"type":"AUTH","userId":"alice"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.Type != FrameAuth || f.UserID != "alice" {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err != ErrMalformedFrame {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"TELEPORT"}`)); err != ErrUnknownFrameType {
		t.Errorf("expected ErrUnknownFrameType, got %v", err)
	}
}

func TestValidate_FieldRequirements(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
		want  error
	}{
		{"auth without user", Frame{Type: FrameAuth}, ErrMissingUserID},
		{"chat without target is a valid forwarded frame", Frame{Type: FrameChat}, nil},
		{"status without user", Frame{Type: FrameStatusUpdate, Status: StatusOnline}, ErrMissingUserID},
		{"status with bad value", Frame{Type: FrameStatusUpdate, UserID: "u", Status: "away"}, ErrInvalidStatus},
		{"bare ping", Frame{Type: FramePing}, nil},
		{"bare pong", Frame{Type: FramePong}, nil},
		{"force logout without reason", Frame{Type: FrameForceLogout}, nil},
		{"online users empty", Frame{Type: FrameOnlineUsers}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.frame.Validate(); err != tc.want {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestForwarded_StripsAddressing(t *testing.T) {
	f, err := NewRelay(FrameChat, "bob", map[string]string{"content": "hi"})
	if err != nil {
		t.Fatalf("NewRelay failed: %v", err)
	}

	fwd := f.Forwarded()
	if fwd.TargetUserID != "" {
		t.Error("forwarded frame must not carry targetUserId")
	}
	if fwd.Type != FrameChat {
		t.Errorf("forwarded type = %q, want CHAT", fwd.Type)
	}
	if string(fwd.Payload) != string(f.Payload) {
		t.Error("forwarded payload must be passed through untouched")
	}
}

func TestNewRelay_RejectsNonRelayTypes(t *testing.T) {
	if _, err := NewRelay(FrameAuth, "bob", nil); err != ErrNotRelayable {
		t.Errorf("expected ErrNotRelayable, got %v", err)
	}
}

func TestIsRelayType(t *testing.T) {
	relayable := []FrameType{FrameChat, FrameFriendRequest, FrameFriendAccept, FrameFriendRemove}
	for _, ft := range relayable {
		if !IsRelayType(ft) {
			t.Errorf("%s should be relayable", ft)
		}
	}
	for _, ft := range []FrameType{FrameAuth, FramePing, FramePong, FrameStatusUpdate, FrameOnlineUsers, FrameForceLogout} {
		if IsRelayType(ft) {
			t.Errorf("%s should not be relayable", ft)
		}
	}
}

func TestDecodeChatPayload_RoundTrip(t *testing.T) {
	msg := Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Content:        "hello",
		Type:           MessageText,
		Status:         StatusSent,
		Timestamp:      1700000000000,
	}
	raw, _ := json.Marshal(msg)

	got, err := DecodeChatPayload(raw)
	if err != nil {
		t.Fatalf("DecodeChatPayload failed: %v", err)
	}
	if got.ID != msg.ID || got.SenderID != msg.SenderID || got.Content != msg.Content {
		t.Errorf("payload round-trip mismatch: %+v", got)
	}
}

func TestDecodeChatPayload_MissingFields(t *testing.T) {
	if _, err := DecodeChatPayload(json.RawMessage(`{"content":"x"}`)); err != ErrMalformedPayload {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestDecodeFriendPayloads(t *testing.T) {
	req, err := DecodeFriendRequestPayload(json.RawMessage(`{"fromUser":{"id":"bob","username":"Bob"},"timestamp":1}`))
	if err != nil {
		t.Fatalf("friend request payload: %v", err)
	}
	if req.FromUser.ID != "bob" {
		t.Errorf("fromUser.id = %q", req.FromUser.ID)
	}

	if _, err := DecodeFriendRequestPayload(json.RawMessage(`{}`)); err != ErrMalformedPayload {
		t.Errorf("expected ErrMalformedPayload for empty request, got %v", err)
	}

	rem, err := DecodeFriendRemovePayload(json.RawMessage(`{"userId":"bob"}`))
	if err != nil {
		t.Fatalf("friend remove payload: %v", err)
	}
	if rem.UserID != "bob" {
		t.Errorf("userId = %q", rem.UserID)
	}
}
