package network

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/VanDung-dev/stellar-gateway/arrow"
	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// Subscriber reads workflow events from a Publisher.
type Subscriber struct {
	socket zmq4.Socket
	codec  *arrow.IPCCodec
	cancel context.CancelFunc
}

// NewSubscriber connects to endpoint and subscribes to topic.
func NewSubscriber(ctx context.Context, endpoint, topic string) (*Subscriber, error) {
	ctx, cancel := context.WithCancel(ctx)
	socket := zmq4.NewSub(ctx)

	if err := socket.Dial(endpoint); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	if err := socket.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		_ = socket.Close()
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %q: %w", topic, err)
	}

	return &Subscriber{socket: socket, codec: arrow.NewIPCCodec(), cancel: cancel}, nil
}

// Next blocks until the next batch of events arrives.
func (s *Subscriber) Next() (topic string, events []gateway.Event, err error) {
	msg, err := s.socket.Recv()
	if err != nil {
		return "", nil, err
	}
	if len(msg.Frames) != 2 {
		return "", nil, fmt.Errorf("expected 2 frames, got %d", len(msg.Frames))
	}

	events, err = s.codec.DecodeEvents(msg.Frames[1])
	if err != nil {
		return "", nil, fmt.Errorf("decoding events: %w", err)
	}
	return string(msg.Frames[0]), events, nil
}

// Close disconnects the subscriber.
func (s *Subscriber) Close() error {
	err := s.socket.Close()
	s.cancel()
	return err
}
