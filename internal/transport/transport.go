// Package transport declares the pub/sub transport interface MerkleKV
// depends on (spec §1, §6). The transport itself — an MQTT broker
// connection with QoS>=1 delivery — is an external collaborator consumed
// only through this interface; no concrete MQTT client ships in this
// repository (no MQTT client library appears anywhere in the retrieval
// pack this module was grounded on; see DESIGN.md). A production binary
// plugs a real client (e.g. eclipse/paho.mqtt.golang) behind Transport.
package transport

import "context"

// ConnState is the transport's connectivity state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
)

// Handler receives messages delivered on a subscribed topic.
type Handler func(topic string, payload []byte)

// Transport is the narrow pub/sub contract the Event Publisher and Command
// Correlator depend on.
type Transport interface {
	// Publish sends payload on topic at the given QoS with retain semantics.
	// QoS=1 is "at least once" — the level this spec assumes throughout.
	Publish(ctx context.Context, topic string, payload []byte, qos int, retain bool) error

	// Subscribe registers handler for messages arriving on topic.
	Subscribe(topic string, handler Handler) error

	// ConnectionState returns a channel that emits every connectivity
	// transition. Implementations must close it when the transport is
	// disposed.
	ConnectionState() <-chan ConnState
}
