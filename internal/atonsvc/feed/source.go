package feed

import (
	"context"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

type MessageKind int

const (
	MessageChanged MessageKind = iota + 1
	MessageRemoved
)

func (k MessageKind) String() string {
	switch k {
	case MessageChanged:
		return "changed"
	case MessageRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Message is one event from the feed. Changed messages carry an S-125
// payload; removed messages carry the AtoN numbers that went away.
type Message struct {
	Kind        MessageKind
	Payload     []byte
	AtonNumbers []string
}

// Handler is called once per message, in delivery order.
type Handler func(m Message)

// Source is a change stream the listener can attach to.
type Source interface {
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}

// Subscription is an attached consumer. Done yields the error that ended the
// stream when the connection is lost and is closed after a clean Close.
type Subscription interface {
	Close() error
	Done() <-chan error
}

// DecodeEnvelope reads the JSON envelope the feed publishes:
//
//	{"event":"changed","payload":"<Dataset>...</Dataset>"}
//	{"event":"removed","ids":["AtoN-1","AtoN-2"]}
func DecodeEnvelope(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, ErrEnvelope.Msg("envelope is not valid json")
	}
	env := gjson.ParseBytes(data)
	switch strings.ToLower(env.Get("event").String()) {
	case "changed":
		payload := env.Get("payload").String()
		if strings.TrimSpace(payload) == "" {
			return Message{}, ErrEnvelope.Msg("changed event without payload")
		}
		return Message{Kind: MessageChanged, Payload: []byte(payload)}, nil
	case "removed":
		var numbers []string
		env.Get("ids").ForEach(func(_, v gjson.Result) bool {
			if n := strings.TrimSpace(v.String()); n != "" {
				numbers = append(numbers, n)
			}
			return true
		})
		if len(numbers) == 0 {
			return Message{}, ErrEnvelope.Msg("removed event without ids")
		}
		return Message{Kind: MessageRemoved, AtonNumbers: numbers}, nil
	default:
		return Message{}, ErrEnvelope.Msg("unknown event " + env.Get("event").String())
	}
}

// ChannelSource feeds messages pushed with Send. It is used in tests and for
// replaying captured traffic.
type ChannelSource struct {
	messages chan Message
	failures chan error
}

// NewChannelSource returns an in-process source with the given buffer.
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{
		messages: make(chan Message, buffer),
		failures: make(chan error, 1),
	}
}

func (s *ChannelSource) Send(m Message) {
	s.messages <- m
}

// Fail ends the stream as if the connection had been lost.
func (s *ChannelSource) Fail(err error) {
	s.failures <- err
}

func (s *ChannelSource) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	sub := &channelSubscription{stop: make(chan struct{}), done: make(chan error, 1)}
	go func() {
		defer close(sub.done)
		for {
			select {
			case m := <-s.messages:
				h(m)
			case err := <-s.failures:
				sub.done <- err
				return
			case <-sub.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

type channelSubscription struct {
	once sync.Once
	stop chan struct{}
	done chan error
}

func (s *channelSubscription) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *channelSubscription) Done() <-chan error {
	return s.done
}
