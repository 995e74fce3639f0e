package delivery

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/auth"
	"github.com/dmitrijs2005/mediarelay/internal/server/messages"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
)

// Ack error strings.
const (
	ackAuthFailed   = "Authentication failed"
	ackConvNotFound = "Conversation not found"
	ackInProgress   = "request in progress"
	ackSendFailed   = "Failed to send message"
)

// Sender is the part of the message service the router drives.
type Sender interface {
	HandleSend(ctx context.Context, req messages.SendRequest) (*messages.SendResult, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// Session is an authenticated connection.
type Session struct {
	ConnID string
	UserID string
}

// Router turns inbound frames into service calls and hub fan-out.
type Router struct {
	hub      *Hub
	sender   Sender
	verifier auth.Verifier
	log      logging.Logger
}

func NewRouter(hub *Hub, sender Sender, verifier auth.Verifier, log logging.Logger) *Router {
	return &Router{hub: hub, sender: sender, verifier: verifier, log: log.With("module", "router")}
}

type replyRef struct {
	ID string `json:"id"`
}

type sendPayload struct {
	ConversationID   string                `json:"conversation_id"`
	ClientMessageID  string                `json:"client_message_id"`
	Content          models.MessageContent `json:"content"`
	ReplyToMessage   *replyRef             `json:"reply_to_message,omitempty"`
	ReplyToMessageID string                `json:"reply_to_message_id,omitempty"`
	// Token re-authenticates the individual send.
	Token string `json:"token,omitempty"`
}

func (p sendPayload) replyTo() string {
	if p.ReplyToMessageID != "" {
		return p.ReplyToMessageID
	}
	if p.ReplyToMessage != nil {
		return p.ReplyToMessage.ID
	}
	return ""
}

type sendAck struct {
	Success     bool   `json:"success"`
	ServerMsgID string `json:"serverMsgId,omitempty"`
	Error       string `json:"error,omitempty"`
}

type readPayload struct {
	ConversationID string `json:"conversation_id"`
}

type presencePayload struct {
	Status  json.RawMessage `json:"status"`
	ConvoID string          `json:"convoId"`
	User    json.RawMessage `json:"user"`
}

type presenceEvent struct {
	Status  json.RawMessage `json:"status"`
	ConvoID string          `json:"convoId"`
	User    json.RawMessage `json:"user"`
	Type    string          `json:"type"`
}

type readMsgPayload struct {
	MsgID   string `json:"msgId"`
	ConvoID string `json:"convoId"`
}

// Dispatch handles one inbound frame.
func (r *Router) Dispatch(ctx context.Context, sess Session, in Inbound) {
	log := r.log.With("conn_id", sess.ConnID, "user_id", sess.UserID, "event", in.Event)

	switch in.Event {
	case EventSendMessage:
		r.send(ctx, log, sess, in)
	case EventMessageRead:
		var p readPayload
		if err := json.Unmarshal(in.Data, &p); err != nil {
			log.Warn(ctx, "malformed payload", "error", err)
			return
		}
		if err := r.sender.MarkRead(ctx, p.ConversationID, sess.UserID); err != nil {
			log.Error(ctx, "marking conversation read failed", "conversation_id", p.ConversationID, "error", err)
		}
	case EventCreateRoom:
		var ids []string
		if err := json.Unmarshal(in.Data, &ids); err != nil {
			log.Warn(ctx, "malformed payload", "error", err)
			return
		}
		r.hub.Join(sess.ConnID, ids...)
	case EventIsTyping, EventIsRecording:
		var p presencePayload
		if err := json.Unmarshal(in.Data, &p); err != nil || p.ConvoID == "" {
			log.Warn(ctx, "malformed payload", "error", err)
			return
		}
		kind := "typing"
		if in.Event == EventIsRecording {
			kind = "recording"
		}
		r.hub.Emit(p.ConvoID, sess.ConnID, EventUserIs, presenceEvent{
			Status: p.Status, ConvoID: p.ConvoID, User: p.User, Type: kind,
		})
	case EventReadMsg:
		var p readMsgPayload
		if err := json.Unmarshal(in.Data, &p); err != nil || p.ConvoID == "" {
			log.Warn(ctx, "malformed payload", "error", err)
			return
		}
		r.hub.Emit(p.ConvoID, "", EventSomeoneReadMsg, p.MsgID)
	default:
		log.Debug(ctx, "ignoring unknown event")
	}
}

func (r *Router) send(ctx context.Context, log logging.Logger, sess Session, in Inbound) {
	var p sendPayload
	if err := json.Unmarshal(in.Data, &p); err != nil {
		log.Warn(ctx, "malformed payload", "error", err)
		r.ack(sess, in, sendAck{Error: ackSendFailed})
		return
	}

	sender := sess.UserID
	if p.Token != "" {
		userID, err := r.verifier.Verify(p.Token)
		if err != nil || (sender != "" && userID != sender) {
			sender = ""
		} else {
			sender = userID
		}
	}
	if sender == "" {
		log.Warn(ctx, "send rejected, authentication failed")
		r.hub.SendTo(sess.ConnID, Frame{Event: EventAuthError, Data: ackAuthFailed})
		r.ack(sess, in, sendAck{Error: ackAuthFailed})
		return
	}

	res, err := r.sender.HandleSend(ctx, messages.SendRequest{
		Token:            p.ClientMessageID,
		ConversationID:   p.ConversationID,
		SenderID:         sender,
		Content:          p.Content,
		ReplyToMessageID: p.replyTo(),
		ConnID:           sess.ConnID,
	})
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			r.hub.SendTo(sess.ConnID, Frame{Event: EventAuthError, Data: ackAuthFailed})
		}
		r.ack(sess, in, sendAck{Error: ackError(err)})
		return
	}
	r.ack(sess, in, sendAck{Success: true, ServerMsgID: res.ServerMessageID})
}

func (r *Router) ack(sess Session, in Inbound, a sendAck) {
	if len(in.Ack) == 0 {
		return
	}
	r.hub.SendTo(sess.ConnID, Frame{Event: EventAck, Ack: in.Ack, Data: a})
}

func ackError(err error) string {
	switch {
	case errors.Is(err, common.ErrorUnauthorized):
		return ackAuthFailed
	case errors.Is(err, common.ErrConversationNotFound):
		return ackConvNotFound
	case errors.Is(err, common.ErrInProgress):
		return ackInProgress
	default:
		return ackSendFailed
	}
}
