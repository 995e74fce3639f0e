package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	hub    *Hub
	sender *fakeSender
	router *Router
	self   *fakeConn
	peer   *fakeConn
	sess   Session
}

func newRouterFixture() *routerFixture {
	self, peer := newFakeConn("self"), newFakeConn("peer")
	hub := newTestHub(self, peer)
	sender := &fakeSender{}
	verifier := fakeVerifier{"tok-u1": "u1", "tok-u2": "u2"}
	return &routerFixture{
		hub:    hub,
		sender: sender,
		router: NewRouter(hub, sender, verifier, logging.Nop()),
		self:   self,
		peer:   peer,
		sess:   Session{ConnID: "self", UserID: "u1"},
	}
}

func (f *routerFixture) dispatch(t *testing.T, event string, data any, ack string) {
	t.Helper()
	in := Inbound{Event: event, Data: mustJSON(t, data)}
	if ack != "" {
		in.Ack = json.RawMessage(ack)
	}
	f.router.Dispatch(context.Background(), f.sess, in)
}

func ackOf(t *testing.T, frames []Inbound) sendAck {
	t.Helper()
	for _, fr := range frames {
		if fr.Event == EventAck {
			var a sendAck
			require.NoError(t, json.Unmarshal(fr.Data, &a))
			return a
		}
	}
	t.Fatalf("no ack frame in %v", frames)
	return sendAck{}
}

func TestRouter_SendMessage_Success(t *testing.T) {
	f := newRouterFixture()

	f.dispatch(t, EventSendMessage, map[string]any{
		"conversation_id":   "conv-1",
		"client_message_id": "cm-1",
		"content":           map[string]any{"text": "hi"},
		"reply_to_message":  map[string]any{"id": "m0"},
		"token":             "tok-u1",
	}, `1`)

	sends := f.sender.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, messages.SendRequest{
		Token:            "cm-1",
		ConversationID:   "conv-1",
		SenderID:         "u1",
		Content:          sends[0].Content,
		ReplyToMessageID: "m0",
		ConnID:           "self",
	}, sends[0])
	assert.Equal(t, "hi", sends[0].Content.Text)

	frames := f.self.received(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "1", string(frames[0].Ack))
	assert.Equal(t, sendAck{Success: true, ServerMsgID: "srv-1"}, ackOf(t, frames))
}

func TestRouter_SendMessage_FlatReplyIDWins(t *testing.T) {
	f := newRouterFixture()

	f.dispatch(t, EventSendMessage, map[string]any{
		"conversation_id":     "conv-1",
		"reply_to_message":    map[string]any{"id": "nested"},
		"reply_to_message_id": "flat",
	}, "")

	require.Len(t, f.sender.sent(), 1)
	assert.Equal(t, "flat", f.sender.sent()[0].ReplyToMessageID)
	assert.Empty(t, f.self.received(t), "no ack requested")
}

func TestRouter_SendMessage_AuthFailure(t *testing.T) {
	tests := []struct {
		name  string
		sess  Session
		token string
	}{
		{name: "invalid token", sess: Session{ConnID: "self", UserID: "u1"}, token: "garbage"},
		{name: "token of another user", sess: Session{ConnID: "self", UserID: "u1"}, token: "tok-u2"},
		{name: "anonymous session", sess: Session{ConnID: "self"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture()
			f.sess = tt.sess

			f.dispatch(t, EventSendMessage, map[string]any{
				"conversation_id": "conv-1",
				"content":         map[string]any{"text": "hi"},
				"token":           tt.token,
			}, `"a1"`)

			assert.Empty(t, f.sender.sent())
			frames := f.self.received(t)
			require.Len(t, frames, 2)
			assert.Equal(t, EventAuthError, frames[0].Event)
			assert.JSONEq(t, `"Authentication failed"`, string(frames[0].Data))
			assert.Equal(t, sendAck{Error: "Authentication failed"}, ackOf(t, frames))
		})
	}
}

func TestRouter_SendMessage_ErrorAcks(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"conversation missing", common.ErrConversationNotFound, "Conversation not found"},
		{"in progress", fmt.Errorf("send: %w", common.ErrInProgress), "request in progress"},
		{"persistence", fmt.Errorf("%w: boom", common.ErrPersistence), "Failed to send message"},
		{"validation", common.ErrorValidation, "Failed to send message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture()
			f.sender.sendErr = tt.err

			f.dispatch(t, EventSendMessage, map[string]any{"conversation_id": "conv-1"}, `2`)

			frames := f.self.received(t)
			require.Len(t, frames, 1)
			assert.Equal(t, sendAck{Error: tt.want}, ackOf(t, frames))
		})
	}
}

func TestRouter_SendMessage_MalformedPayload(t *testing.T) {
	f := newRouterFixture()

	f.router.Dispatch(context.Background(), f.sess, Inbound{
		Event: EventSendMessage,
		Data:  json.RawMessage(`[1,2]`),
		Ack:   json.RawMessage(`3`),
	})

	assert.Empty(t, f.sender.sent())
	assert.Equal(t, sendAck{Error: "Failed to send message"}, ackOf(t, f.self.received(t)))
}

func TestRouter_MessageReadUsesSessionUser(t *testing.T) {
	f := newRouterFixture()

	f.dispatch(t, EventMessageRead, map[string]any{"conversation_id": "conv-1", "user_id": "someone-else"}, "")

	assert.Equal(t, []readCall{{ConversationID: "conv-1", UserID: "u1"}}, f.sender.reads)
}

func TestRouter_MessageReadErrorIsSwallowed(t *testing.T) {
	f := newRouterFixture()
	f.sender.readErr = common.ErrPersistence

	f.dispatch(t, EventMessageRead, map[string]any{"conversation_id": "conv-1"}, "")

	assert.Len(t, f.sender.reads, 1)
	assert.Empty(t, f.self.received(t))
}

func TestRouter_CreateRoomJoinsTopics(t *testing.T) {
	f := newRouterFixture()

	f.dispatch(t, EventCreateRoom, []string{"conv-1", "conv-2"}, "")

	assert.Equal(t, []string{"self"}, f.hub.Members("conv-1"))
	assert.Equal(t, []string{"self"}, f.hub.Members("conv-2"))
}

func TestRouter_PresenceRelays(t *testing.T) {
	tests := []struct {
		event string
		kind  string
	}{
		{EventIsTyping, "typing"},
		{EventIsRecording, "recording"},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			f := newRouterFixture()
			f.hub.Join("self", "conv-1")
			f.hub.Join("peer", "conv-1")

			f.dispatch(t, tt.event, map[string]any{
				"status":  true,
				"convoId": "conv-1",
				"user":    map[string]any{"id": "u1", "name": "Ann"},
			}, "")

			assert.Empty(t, f.self.received(t))
			got := f.peer.received(t)
			require.Len(t, got, 1)
			assert.Equal(t, EventUserIs, got[0].Event)
			assert.JSONEq(t,
				`{"status":true,"convoId":"conv-1","user":{"id":"u1","name":"Ann"},"type":"`+tt.kind+`"}`,
				string(got[0].Data))
		})
	}
}

func TestRouter_ReadMsgReachesWholeRoom(t *testing.T) {
	f := newRouterFixture()
	f.hub.Join("self", "conv-1")
	f.hub.Join("peer", "conv-1")

	f.dispatch(t, EventReadMsg, map[string]any{"msgId": "m9", "convoId": "conv-1"}, "")

	for _, c := range []*fakeConn{f.self, f.peer} {
		got := c.received(t)
		require.Len(t, got, 1)
		assert.Equal(t, EventSomeoneReadMsg, got[0].Event)
		assert.JSONEq(t, `"m9"`, string(got[0].Data))
	}
}

func TestRouter_IgnoresUnknownAndMalformedEvents(t *testing.T) {
	f := newRouterFixture()
	f.hub.Join("peer", "conv-1")

	f.dispatch(t, "dance", map[string]any{}, "")
	f.dispatch(t, EventIsTyping, map[string]any{"status": true}, "")
	f.router.Dispatch(context.Background(), f.sess, Inbound{Event: EventCreateRoom, Data: json.RawMessage(`{}`)})

	assert.Empty(t, f.peer.received(t))
	assert.Empty(t, f.sender.sent())
	assert.Equal(t, []string{"peer"}, f.hub.Members("conv-1"))
}
