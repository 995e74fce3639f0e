package delivery

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/server/messages"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.frames = append(c.frames, payload)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// received decodes every frame delivered so far.
func (c *fakeConn) received(t *testing.T) []Inbound {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Inbound, 0, len(c.frames))
	for _, f := range c.frames {
		var in Inbound
		require.NoError(t, json.Unmarshal(f, &in))
		out = append(out, in)
	}
	return out
}

func (c *fakeConn) events(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, in := range c.received(t) {
		out = append(out, in.Event)
	}
	return out
}

type fakeVerifier map[string]string

func (v fakeVerifier) Verify(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", common.ErrInvalidToken
}

type readCall struct {
	ConversationID string
	UserID         string
}

type fakeSender struct {
	mu      sync.Mutex
	sends   []messages.SendRequest
	reads   []readCall
	sendErr error
	readErr error
	result  *messages.SendResult
}

func (f *fakeSender) HandleSend(_ context.Context, req messages.SendRequest) (*messages.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &messages.SendResult{ServerMessageID: "srv-1"}, nil
}

func (f *fakeSender) MarkRead(_ context.Context, conversationID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, readCall{conversationID, userID})
	return f.readErr
}

func (f *fakeSender) sent() []messages.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]messages.SendRequest(nil), f.sends...)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
