package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alfredjeanlab/leasebridge/internal/events"
)

// chanSubscriber replays a fixed set of messages and then ends the
// subscription.
type chanSubscriber struct {
	msgs      []events.Message
	err       error
	topic     string
	cancelled bool
}

func (s *chanSubscriber) SubscribeMessages(topic string) (<-chan events.Message, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	s.topic = topic
	ch := make(chan events.Message, len(s.msgs))
	for _, m := range s.msgs {
		ch <- m
	}
	close(ch)
	return ch, func() { s.cancelled = true }, nil
}

func (s *chanSubscriber) Close() error { return nil }

func TestWatchSubscriber_Filters(t *testing.T) {
	msgs := []events.Message{
		{Topic: events.TopicAgreementActivated, Data: []byte(`{"agreement":{"id":"ag-1"}}`)},
		{Topic: events.TopicAgreementActivated, Data: []byte(`{"agreement":{"id":"ag-2"}}`)},
		{Topic: events.TopicConflictRaised, Data: []byte(`{"agreement_id":"ag-1","reason":"drift"}`)},
		{Topic: events.TopicWalletConnected, Data: []byte(`{"generation":2}`)},
	}
	for _, tc := range []struct {
		name      string
		topics    []string
		agreement string
		want      []string
	}{
		{"agreement", nil, "ag-1", []string{"agreement.activated ag-1", "agreement.conflict ag-1", "wallet.connected"}},
		{"topic", []string{"lease.wallet.*"}, "", []string{"wallet.connected"}},
		{"both", []string{"lease.agreement.activated"}, "ag-2", []string{"agreement.activated ag-2"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sub := &chanSubscriber{msgs: msgs}
			var buf bytes.Buffer
			if err := watchSubscriber(context.Background(), &buf, sub, tc.topics, tc.agreement); err != nil {
				t.Fatalf("watch: %v", err)
			}
			if sub.topic != "lease.>" || !sub.cancelled {
				t.Errorf("subscription topic = %q, cancelled = %v", sub.topic, sub.cancelled)
			}
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if len(lines) != len(tc.want) {
				t.Fatalf("printed %d events, want %d:\n%s", len(lines), len(tc.want), buf.String())
			}
			for i, want := range tc.want {
				if !strings.Contains(lines[i], want) {
					t.Errorf("line %d = %q, want %q", i, lines[i], want)
				}
			}
		})
	}
}

func TestWatchSubscriber_SubscribeError(t *testing.T) {
	sub := &chanSubscriber{err: errors.New("nats: connection closed")}
	err := watchSubscriber(context.Background(), &bytes.Buffer{}, sub, nil, "")
	if err == nil || !strings.Contains(err.Error(), "subscribing to events") {
		t.Errorf("err = %v", err)
	}
}

func TestWatchSubscriber_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := &blockingSubscriber{}
	if err := watchSubscriber(ctx, &bytes.Buffer{}, block, nil, ""); err != nil {
		t.Fatalf("watch: %v", err)
	}
}

// blockingSubscriber never delivers anything.
type blockingSubscriber struct{}

func (blockingSubscriber) SubscribeMessages(string) (<-chan events.Message, func(), error) {
	return make(chan events.Message), func() {}, nil
}

func (blockingSubscriber) Close() error { return nil }
