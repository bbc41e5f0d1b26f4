package types

import "github.com/pithecene-io/sluice/packet"

// MessageKind is the closed set of messages delivered to worker and
// reporter callbacks.
type MessageKind string

// Message kinds.
const (
	MessagePacket       MessageKind = "packet"
	MessageResult       MessageKind = "result"
	MessageStarting     MessageKind = "starting"
	MessagePausing      MessageKind = "pausing"
	MessageResuming     MessageKind = "resuming"
	MessageStopping     MessageKind = "stopping"
	MessageTickInterval MessageKind = "tick_interval"
	MessageTickCount    MessageKind = "tick_count"
)

// IsLifecycle returns true for the control-plane lifecycle messages.
func (k MessageKind) IsLifecycle() bool {
	switch k {
	case MessageStarting, MessagePausing, MessageResuming, MessageStopping:
		return true
	}
	return false
}

// IsTick returns true for tick notifications.
func (k MessageKind) IsTick() bool {
	return k == MessageTickInterval || k == MessageTickCount
}

// TraceSender is the Sender of messages posted by the trace itself
// rather than by a worker.
const TraceSender = -1

// Message is delivered to a callback on the goroutine it pertains to.
type Message struct {
	// Kind selects which of the payload fields is meaningful.
	Kind MessageKind
	// Packet is set for MessagePacket. The worker callback owns it until
	// it publishes or releases it.
	Packet *packet.Packet
	// Result is set for MessageResult. The reporter callback owns it.
	Result *Result
	// Tick is the tick timestamp (unix nanos) or count for tick messages.
	Tick uint64
	// Sender is the originating worker id, or TraceSender.
	Sender int
}
