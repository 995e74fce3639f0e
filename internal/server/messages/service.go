// Package messages implements chat sends: deduplication by client token,
// the transactional write of a message together with the conversation's
// last-message pointers and the sender's read marker, and the fan-out of
// the new message to the conversation topic.
package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/dbx"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/idempotency"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
	"github.com/dmitrijs2005/mediarelay/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Events emitted to clients.
const (
	EventNewMessage = "new_msg"
	EventRefresh    = "refresh"
)

const (
	fieldServerMsgID = "serverMsgId"
	statusPending    = "PENDING"
	statusSent       = "SUCCESS"

	unknownCreator = "Unknown User"

	// pendingLease bounds how long an unfinished send holds its token.
	pendingLease = 30 * time.Second
)

// Publisher fans events out to connected clients. exceptConnID, when not
// empty, is skipped.
type Publisher interface {
	Join(connID string, topics ...string)
	Emit(topic, exceptConnID, event string, data any)
	EmitAll(event string, data any)
}

type SendRequest struct {
	Token            string
	ConversationID   string
	SenderID         string
	Content          models.MessageContent
	ReplyToMessageID string
	// ConnID identifies the sender's connection on the publisher.
	ConnID string
}

type SendResult struct {
	ServerMessageID string
	// Duplicate is set when the result was replayed from an earlier send.
	Duplicate bool
}

type Service struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	records *idempotency.Records
	pub     Publisher
	log     logging.Logger
	lease   time.Duration

	now   func() time.Time
	newID func() string
}

func NewService(db *sql.DB, repos repomanager.RepositoryManager, records *idempotency.Records, pub Publisher, log logging.Logger) *Service {
	return &Service{
		db:      db,
		repos:   repos,
		records: records,
		pub:     pub,
		log:     log.With("module", "messages"),
		lease:   pendingLease,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// HandleSend persists and delivers one chat message. A retry carrying the
// token of a completed send returns the original server message id without
// writing anything. Sends without a token are not deduplicated.
func (s *Service) HandleSend(ctx context.Context, req SendRequest) (res *SendResult, err error) {
	if req.SenderID == "" {
		return nil, common.ErrorUnauthorized
	}
	if req.ConversationID == "" {
		return nil, fmt.Errorf("%w: no conversation to send a message to", common.ErrorValidation)
	}

	log := s.log.With("token", req.Token, "conversation_id", req.ConversationID, "sender_id", req.SenderID)

	dedup := req.Token != ""
	if dedup {
		cached, acquired, err := s.claim(ctx, log, req.Token)
		switch {
		case err != nil:
			return nil, err
		case cached != "":
			log.Info(ctx, "duplicate send, returning cached message id", "message_id", cached)
			return &SendResult{ServerMessageID: cached, Duplicate: true}, nil
		}
		dedup = acquired
	}

	if dedup {
		defer func() {
			if err != nil {
				s.release(ctx, log, req.Token)
			}
		}()
	}

	system, msg, err := s.persist(ctx, log, req)
	if err != nil {
		log.Error(ctx, "send failed", "error", err)
		return nil, err
	}

	if system != nil {
		s.pub.Join(req.ConnID, req.ConversationID)
		s.pub.EmitAll(EventRefresh, nil)
		s.pub.Emit(req.ConversationID, req.ConnID, EventNewMessage, system)
	}
	s.pub.Emit(req.ConversationID, req.ConnID, EventNewMessage, msg)

	if dedup {
		s.record(ctx, log, req.Token, msg.ID)
	}

	log.Info(ctx, "message sent", "message_id", msg.ID)
	return &SendResult{ServerMessageID: msg.ID}, nil
}

// claim looks up token and, when absent, acquires it. It returns the
// cached server message id of a completed send, or whether this call now
// owns the token. Store failures disable deduplication for the request.
func (s *Service) claim(ctx context.Context, log logging.Logger, token string) (cached string, acquired bool, err error) {
	fields, err := s.records.Get(ctx, token)
	if err != nil {
		log.Error(ctx, "idempotency store unavailable, sending without deduplication", "error", err)
		return "", false, nil
	}
	if id := fields[fieldServerMsgID]; id != "" {
		return id, false, nil
	}
	if fields != nil {
		return "", false, common.ErrInProgress
	}

	ok, err := s.records.AcquireLease(ctx, token, map[string]string{idempotency.StatusField: statusPending}, s.lease)
	if err != nil {
		log.Error(ctx, "acquiring send token failed, sending without deduplication", "error", err)
		return "", false, nil
	}
	if !ok {
		return "", false, common.ErrInProgress
	}
	return "", true, nil
}

// record stores the server message id under token with the full record TTL.
// The message is already delivered, so the write outlives the request and
// is tried twice. If both attempts fail the pending lease expires and a
// retry of the token sends again.
func (s *Service) record(ctx context.Context, log logging.Logger, token, messageID string) {
	ctx = context.WithoutCancel(ctx)
	fields := map[string]string{
		idempotency.StatusField: statusSent,
		fieldServerMsgID:        messageID,
	}

	err := s.records.Update(ctx, token, fields)
	if err == nil {
		return
	}
	log.Warn(ctx, "recording send failed, retrying", "message_id", messageID, "error", err)

	if err := s.records.Update(ctx, token, fields); err != nil {
		log.Error(ctx, "recording send failed", "message_id", messageID, "error", err)
	}
}

func (s *Service) release(ctx context.Context, log logging.Logger, token string) {
	if err := s.records.Delete(context.WithoutCancel(ctx), token); err != nil {
		log.Error(ctx, "releasing send token failed", "error", err)
	}
}

// persist writes the optional conversation-created system message, the
// user message, the conversation's last pointers and the sender's read
// marker in one transaction.
func (s *Service) persist(ctx context.Context, log logging.Logger, req SendRequest) (system, msg *models.Message, err error) {
	if _, err := s.repos.Conversations(s.db).GetByID(ctx, req.ConversationID); err != nil {
		return nil, nil, conversationError(err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		system, msg = nil, nil

		convRepo := s.repos.Conversations(tx)
		msgRepo := s.repos.Messages(tx)

		conv, err := convRepo.GetForUpdate(ctx, req.ConversationID)
		if err != nil {
			return conversationError(err)
		}

		now := s.now().UTC()
		sentAt := now
		if conv.LastMessageAt == nil {
			system = &models.Message{
				ID:             s.newID(),
				ConversationID: conv.ID,
				SenderType:     models.SenderSystem,
				Content: models.MessageContent{
					Text:          fmt.Sprintf("This %s chat was created by @%s.", conv.Type, s.creatorName(ctx, log, tx, conv)),
					SystemMessage: true,
					Type:          "initial_msg",
				},
				SentAt: now,
			}
			if err := msgRepo.Create(ctx, system); err != nil {
				return fmt.Errorf("%w: create system message: %v", common.ErrPersistence, err)
			}
			// keeps the system message first when ordering by sent_at
			sentAt = now.Add(time.Microsecond)
		}

		var replyTo *string
		if req.ReplyToMessageID != "" {
			ok, err := msgRepo.ExistsInConversation(ctx, req.ReplyToMessageID, conv.ID)
			if err != nil {
				return fmt.Errorf("%w: resolve reply: %v", common.ErrPersistence, err)
			}
			if ok {
				replyTo = &req.ReplyToMessageID
			} else {
				log.Debug(ctx, "dropping unresolvable reply reference", "reply_to", req.ReplyToMessageID)
			}
		}

		content := req.Content
		content.SystemMessage = false
		content.Type = ""

		sender := req.SenderID
		msg = &models.Message{
			ID:               s.newID(),
			ConversationID:   conv.ID,
			SenderID:         &sender,
			SenderType:       models.SenderUser,
			Content:          content,
			ReplyToMessageID: replyTo,
			SentAt:           sentAt,
		}
		if err := msgRepo.Create(ctx, msg); err != nil {
			return fmt.Errorf("%w: create message: %v", common.ErrPersistence, err)
		}

		if err := convRepo.UpdateLastMessage(ctx, conv.ID, msg.ID, msg.SentAt); err != nil {
			return fmt.Errorf("%w: update conversation: %v", common.ErrPersistence, err)
		}

		return s.touchReadMarker(ctx, log, tx, conv.ID, req.SenderID, now)
	})
	if err != nil {
		if !errors.Is(err, common.ErrConversationNotFound) && !errors.Is(err, common.ErrPersistence) {
			err = fmt.Errorf("%w: %v", common.ErrPersistence, err)
		}
		return nil, nil, err
	}
	return system, msg, nil
}

func (s *Service) creatorName(ctx context.Context, log logging.Logger, db dbx.DBTX, conv *models.Conversation) string {
	if conv.CreatorID == nil || *conv.CreatorID == "" {
		return unknownCreator
	}
	name, err := s.repos.Users(db).GetUserName(ctx, *conv.CreatorID)
	if err != nil || name == "" {
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			log.Warn(ctx, "looking up conversation creator failed", "error", err)
		}
		return unknownCreator
	}
	return name
}

// touchReadMarker sets the read marker of userID to at. A user who is not a
// participant has no marker to move.
func (s *Service) touchReadMarker(ctx context.Context, log logging.Logger, db dbx.DBTX, conversationID, userID string, at time.Time) error {
	pid, err := s.repos.Participants(db).FindID(ctx, conversationID, userID)
	if errors.Is(err, common.ErrorNotFound) {
		log.Warn(ctx, "sender is not a participant, read marker not updated", "user_id", userID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: find participant: %v", common.ErrPersistence, err)
	}
	if err := s.repos.ReadMarkers(db).Upsert(ctx, pid, conversationID, at); err != nil {
		return fmt.Errorf("%w: read marker: %v", common.ErrPersistence, err)
	}
	return nil
}

// MarkRead moves the read marker of userID in conversationID to now.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) error {
	if userID == "" {
		return common.ErrorUnauthorized
	}
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id is required", common.ErrorValidation)
	}
	log := s.log.With("conversation_id", conversationID)
	return s.touchReadMarker(ctx, log, s.db, conversationID, userID, s.now().UTC())
}

func conversationError(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrConversationNotFound
	}
	return fmt.Errorf("%w: load conversation: %v", common.ErrPersistence, err)
}
