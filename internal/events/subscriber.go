package events

// Message is a payload together with the topic it was published on.
type Message struct {
	Topic string
	Data  []byte
}

// Subscriber delivers bus messages. NATSSubscriber is the implementation;
// leasectl watch consumes it.
type Subscriber interface {
	SubscribeMessages(topic string) (<-chan Message, func(), error)
	Close() error
}

var _ Subscriber = (*NATSSubscriber)(nil)
