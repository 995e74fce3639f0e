package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/dmitrijs2005/mediarelay/internal/server/delivery"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	chatServiceName = "mediarelay.chat.v1.ChatService"
	connectMethod   = "/" + chatServiceName + "/Connect"
)

type chatServer interface {
	Connect(stream grpc.ServerStream) error
}

var chatServiceDesc = grpc.ServiceDesc{
	ServiceName: chatServiceName,
	HandlerType: (*chatServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "mediarelay/chat/v1/chat.proto",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(chatServer).Connect(stream)
}

// Connect registers the stream on the hub and dispatches every received
// frame until the client half-closes, the stream breaks, or the hub drops
// the connection.
func (s *GRPCServer) Connect(stream grpc.ServerStream) error {
	ctx := stream.Context()

	userID := userIDFromContext(ctx)
	if userID == "" {
		return status.Error(codes.Unauthenticated, "missing token")
	}

	out := delivery.NewOutbox(uuid.NewString())
	s.hub.Register(out)
	s.logger.Info(ctx, "stream connected", "conn_id", out.ID(), "user_id", userID)

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeLoop(ctx, stream, out)
	}()

	defer func() {
		s.hub.Unregister(out.ID())
		out.Close()
		<-written
		s.logger.Info(ctx, "stream disconnected", "conn_id", out.ID())
	}()

	sess := delivery.Session{ConnID: out.ID(), UserID: userID}
	received := make(chan error, 1)
	go func() { received <- s.readLoop(ctx, stream, sess) }()

	select {
	case err := <-received:
		return err
	case <-out.Done():
		return status.Error(codes.ResourceExhausted, "connection dropped")
	}
}

// readLoop dispatches received frames until the client half-closes or the
// stream breaks.
func (s *GRPCServer) readLoop(ctx context.Context, stream grpc.ServerStream, sess delivery.Session) error {
	for {
		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		in, err := decodeFrame(msg)
		if err != nil {
			s.logger.Warn(ctx, "failed to parse frame", "conn_id", sess.ConnID, "error", err)
			continue
		}
		s.router.Dispatch(ctx, sess, in)
	}
}

// writeLoop is the only goroutine calling SendMsg on the stream. Frames
// still queued when the outbox closes are flushed.
func (s *GRPCServer) writeLoop(ctx context.Context, stream grpc.ServerStream, out *delivery.Outbox) {
	send := func(payload []byte) bool {
		msg, err := encodeFrame(payload)
		if err != nil {
			s.logger.Error(ctx, "encoding frame failed", "conn_id", out.ID(), "error", err)
			return true
		}
		if err := stream.SendMsg(msg); err != nil {
			s.logger.Warn(ctx, "failed to write frame", "conn_id", out.ID(), "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-out.Done():
			for _, p := range out.Pending() {
				if !send(p) {
					return
				}
			}
			return
		case p := <-out.Frames():
			if !send(p) {
				out.Close()
				return
			}
		}
	}
}

func decodeFrame(msg *structpb.Struct) (delivery.Inbound, error) {
	var in delivery.Inbound
	raw, err := protojson.Marshal(msg)
	if err != nil {
		return in, err
	}
	err = json.Unmarshal(raw, &in)
	return in, err
}

func encodeFrame(payload []byte) (*structpb.Struct, error) {
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(payload, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
