package feed

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ FeedServer = (*Server)(nil)

// Server implements FeedServer on top of a Publisher.
type Server struct {
	publisher *Publisher
}

func NewServer(p *Publisher) *Server {
	return &Server{publisher: p}
}

func (s *Server) StreamResults(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	opts := optionsFromRequest(req)
	c, err := s.publisher.addClient(opts)
	if errors.Is(err, ErrTooManyClients) {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	if err != nil {
		return err
	}
	defer s.publisher.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case f := <-c.frameCh:
			if err := stream.Send(encodeFrame(f, c.opts)); err != nil {
				return err
			}
		}
	}
}

func (s *Server) GetState(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f, ok := s.publisher.Latest()
	if !ok {
		return nil, status.Error(codes.Unavailable, "no frame published yet")
	}
	opts := optionsFromRequest(req)
	opts.IncludeState = true
	return encodeFrame(f, opts), nil
}
