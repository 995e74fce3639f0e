package messages

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/dbx"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/idempotency"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/conversations"
	messagesrepo "github.com/dmitrijs2005/mediarelay/internal/server/repositories/messages"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/participants"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/readmarkers"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/users"
)

// chatState backs the fake repositories. Writes are applied immediately;
// transactions are exercised through sqlmock expectations.
type chatState struct {
	mu           sync.Mutex
	convs        map[string]*models.Conversation
	messages     []*models.Message
	participants map[string]string
	markers      map[string]time.Time
	users        map[string]string

	createErr   error
	lookupErr   error
	userErr     error
	markerCalls int
}

func newChatState() *chatState {
	return &chatState{
		convs:        map[string]*models.Conversation{},
		participants: map[string]string{},
		markers:      map[string]time.Time{},
		users:        map[string]string{},
	}
}

type fakeConversations struct{ s *chatState }

func (f fakeConversations) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.lookupErr != nil {
		return nil, f.s.lookupErr
	}
	c, ok := f.s.convs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (f fakeConversations) GetForUpdate(ctx context.Context, id string) (*models.Conversation, error) {
	return f.GetByID(ctx, id)
}

func (f fakeConversations) UpdateLastMessage(_ context.Context, id, messageID string, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c, ok := f.s.convs[id]
	if !ok {
		return common.ErrorNotFound
	}
	c.LastMessageAt = &at
	c.LastMessageID = &messageID
	return nil
}

type fakeMessages struct{ s *chatState }

func (f fakeMessages) Create(_ context.Context, msg *models.Message) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.createErr != nil {
		return f.s.createErr
	}
	msg.UpdatedAt = msg.SentAt
	f.s.messages = append(f.s.messages, msg)
	return nil
}

func (f fakeMessages) ExistsInConversation(_ context.Context, messageID, conversationID string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, m := range f.s.messages {
		if m.ID == messageID && m.ConversationID == conversationID && !m.IsDeleted {
			return true, nil
		}
	}
	return false, nil
}

type fakeParticipants struct{ s *chatState }

func (f fakeParticipants) FindID(_ context.Context, conversationID, userID string) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	id, ok := f.s.participants[conversationID+"|"+userID]
	if !ok {
		return "", common.ErrorNotFound
	}
	return id, nil
}

type fakeReadMarkers struct{ s *chatState }

func (f fakeReadMarkers) Upsert(_ context.Context, participantID, _ string, readAt time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.markerCalls++
	f.s.markers[participantID] = readAt
	return nil
}

type fakeUsers struct{ s *chatState }

func (f fakeUsers) GetUserName(_ context.Context, userID string) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.userErr != nil {
		return "", f.s.userErr
	}
	name, ok := f.s.users[userID]
	if !ok {
		return "", common.ErrorNotFound
	}
	return name, nil
}

type fakeRepoManager struct{ s *chatState }

func (m fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m fakeRepoManager) Users(dbx.DBTX) users.Repository              { return fakeUsers{m.s} }
func (m fakeRepoManager) Conversations(dbx.DBTX) conversations.Repository {
	return fakeConversations{m.s}
}
func (m fakeRepoManager) Participants(dbx.DBTX) participants.Repository {
	return fakeParticipants{m.s}
}
func (m fakeRepoManager) Messages(dbx.DBTX) messagesrepo.Repository   { return fakeMessages{m.s} }
func (m fakeRepoManager) ReadMarkers(dbx.DBTX) readmarkers.Repository { return fakeReadMarkers{m.s} }

type emitted struct {
	Topic  string
	Except string
	Event  string
	Data   any
}

type fakePublisher struct {
	mu     sync.Mutex
	joins  map[string][]string
	events []emitted
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{joins: map[string][]string{}}
}

func (p *fakePublisher) Join(connID string, topics ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joins[connID] = append(p.joins[connID], topics...)
}

func (p *fakePublisher) Emit(topic, exceptConnID, event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, emitted{Topic: topic, Except: exceptConnID, Event: event, Data: data})
}

func (p *fakePublisher) EmitAll(event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, emitted{Event: event, Data: data})
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	state *chatState
	pub   *fakePublisher
	mem   *idempotency.MemoryStore
	mock  sqlmock.Sqlmock
}

func newFixture(t *testing.T, store idempotency.Store) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{state: newChatState(), pub: newFakePublisher(), mock: mock}
	if store == nil {
		f.mem = idempotency.NewMemoryStore()
		store = f.mem
	}

	f.svc = NewService(db, fakeRepoManager{f.state},
		idempotency.NewRecords(store, idempotency.NamespaceMessage, time.Hour), f.pub, logging.Nop())
	f.svc.now = func() time.Time { return fixedNow }

	var n int
	f.svc.newID = func() string {
		n++
		return fmt.Sprintf("m%d", n)
	}
	return f
}

func (f *fixture) addConversation(id string, typ models.ConversationType, creator string, started bool) {
	c := &models.Conversation{ID: id, Type: typ}
	if creator != "" {
		c.CreatorID = &creator
	}
	if started {
		at := fixedNow.Add(-time.Hour)
		prev := "m0"
		c.LastMessageAt, c.LastMessageID = &at, &prev
	}
	f.state.convs[id] = c
}
