package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leasebridge/internal/client"
	"github.com/alfredjeanlab/leasebridge/internal/events"
	"github.com/alfredjeanlab/leasebridge/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch [agreement-id]",
	Short: "Stream agreement and wallet events",
	Long: `Stream agreement and wallet events as they happen.

Events come from NATS when LEASE_NATS_URL (or the profile's nats_url) is set,
otherwise from the server's event stream.`,
	GroupID: "agreements",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var agreementID string
		if len(args) == 1 {
			agreementID = args[0]
		}
		topics, _ := cmd.Flags().GetStringSlice("topic")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		w := cmd.OutOrStdout()
		if natsURL := watchNATSURL(); natsURL != "" {
			return watchNATS(ctx, w, natsURL, topics, agreementID)
		}
		return leaseClient.StreamEvents(ctx, &client.StreamRequest{
			Topics:      topics,
			AgreementID: agreementID,
		}, func(ev client.Event) error {
			printEvent(w, ev.Topic, ev.Data, time.Now())
			return nil
		})
	},
}

func watchNATSURL() string {
	if s := os.Getenv("LEASE_NATS_URL"); s != "" {
		return s
	}
	return activeProfile().NATSURL
}

// watchNATS connects to the bus and streams events from it.
func watchNATS(ctx context.Context, w io.Writer, natsURL string, topics []string, agreementID string) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()
	return watchSubscriber(ctx, w, sub, topics, agreementID)
}

// watchSubscriber prints every lease.> message that passes the topic and
// agreement filters until ctx is done or the subscription ends.
func watchSubscriber(ctx context.Context, w io.Writer, sub events.Subscriber, topics []string, agreementID string) error {
	ch, cancel, err := sub.SubscribeMessages("lease.>")
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !wantEvent(msg.Topic, msg.Data, topics, agreementID) {
				continue
			}
			printEvent(w, msg.Topic, msg.Data, time.Now())
		}
	}
}

// wantEvent applies the watch filters. Events that do not name an
// agreement, such as wallet changes, pass the agreement filter.
func wantEvent(topic string, data []byte, topics []string, agreementID string) bool {
	if len(topics) > 0 {
		matched := false
		for _, p := range topics {
			if events.MatchTopic(p, topic) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if agreementID == "" {
		return true
	}
	id, ok := events.AgreementOf(data)
	return !ok || id == agreementID
}

func printEvent(w io.Writer, topic string, data []byte, at time.Time) {
	if jsonOutput {
		line, _ := json.Marshal(struct {
			Topic string          `json:"topic"`
			Time  time.Time       `json:"time"`
			Data  json.RawMessage `json:"data"`
		}{topic, at.UTC(), json.RawMessage(data)})
		fmt.Fprintln(w, string(line))
		return
	}
	label := strings.TrimPrefix(topic, "lease.")
	switch {
	case strings.HasSuffix(topic, ".conflict"), strings.HasSuffix(topic, ".failed"):
		label = ui.RenderFail(label)
	case strings.HasPrefix(topic, "lease.wallet."):
		label = ui.RenderAccent(label)
	default:
		label = ui.RenderOK(label)
	}
	subject := ""
	if id, ok := events.AgreementOf(data); ok {
		subject = id + " "
	}
	fmt.Fprintf(w, "%s %s %s%s\n", ui.RenderMuted(at.Format(time.TimeOnly)), label, subject, ui.RenderMuted(string(data)))
}

func init() {
	watchCmd.Flags().StringSlice("topic", nil, "topic patterns to include, e.g. lease.agreement.* (default all)")
}
