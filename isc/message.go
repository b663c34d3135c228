// Package isc implements the inter-service communication primitives used by
// FieldEdge microservices to coordinate over a local MQTT broker: correlated
// request tasks, the pending-task queue with its blocking gate, the property
// freshness cache, and the shared topic layout.
package isc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
)

// TopicRoot prefixes every FieldEdge ISC topic.
const TopicRoot = "fieldedge"

// Method distinguishes property request kinds on the wire.
type Method string

const (
	// MethodGet requests a read of one or more properties.
	MethodGet Method = "get"
	// MethodSet requests a write of one or more properties.
	MethodSet Method = "set"
)

// Topic builders for the shared bus layout. Every service owns the subtree
// fieldedge/{tag}/... and addresses peers by their tag.
func ServiceTopic(tag string) string {
	return fmt.Sprintf("%s/%s", TopicRoot, tag)
}

// RollcallTopic is where a service asks who is present on the bus.
func RollcallTopic(tag string) string {
	return fmt.Sprintf("%s/%s/rollcall", TopicRoot, tag)
}

// RollcallResponseTopic is where a service announces itself.
func RollcallResponseTopic(tag string) string {
	return fmt.Sprintf("%s/%s/rollcall/response", TopicRoot, tag)
}

// RequestTopic addresses a property get or set at the service owning
// targetTag.
func RequestTopic(targetTag string, method Method) string {
	return fmt.Sprintf("%s/%s/request/properties/%s", TopicRoot, targetTag, method)
}

// ResponseTopic is where a service publishes property values, both as query
// responses and unsolicited notifications.
func ResponseTopic(tag string) string {
	return fmt.Sprintf("%s/%s/info/properties/values", TopicRoot, tag)
}

// EventWildcard and InfoWildcard are the subscriptions a proxy holds on its
// remote service's subtree.
func EventWildcard(tag string) string {
	return fmt.Sprintf("%s/%s/event/#", TopicRoot, tag)
}

func InfoWildcard(tag string) string {
	return fmt.Sprintf("%s/%s/info/#", TopicRoot, tag)
}

// TopicTag extracts the owning service tag from an ISC topic, or "" if the
// topic is not under the FieldEdge root.
func TopicTag(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != TopicRoot {
		return ""
	}
	return parts[1]
}

// Message is a decoded ISC payload. All ISC messages are JSON objects; the
// keys of interest are "uid" for correlation, "properties" for values or
// names, and "ts" for the sender's epoch-millisecond timestamp.
type Message map[string]any

// Well-known message keys.
const (
	KeyUID        = "uid"
	KeyProperties = "properties"
	KeyTimestamp  = "ts"
	// KeyRaw carries a non-JSON payload passed through undecoded.
	KeyRaw = "raw"
)

// PropertyAll is the wire keyword that, as the sole entry of a get request's
// properties list, asks for every property.
const PropertyAll = "all"

// UID returns the correlation id, or "" if absent.
func (m Message) UID() string {
	uid, _ := m[KeyUID].(string)
	return uid
}

// Properties returns the properties mapping of a response or set request,
// or nil if the message carries none (or carries a list instead).
func (m Message) Properties() map[string]any {
	props, _ := m[KeyProperties].(map[string]any)
	return props
}

// PropertyList returns the requested property names of a get request. A
// missing or empty list means "all properties".
func (m Message) PropertyList() []string {
	raw, ok := m[KeyProperties].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, entry := range raw {
		if name, ok := entry.(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// RawMessage wraps an undecodable payload so non-JSON traffic still reaches
// subscribers instead of being dropped.
func RawMessage(payload []byte) Message {
	return Message{KeyRaw: string(payload)}
}

// Raw returns the passthrough text of a non-JSON payload, or "" for decoded
// JSON messages.
func (m Message) Raw() string {
	raw, _ := m[KeyRaw].(string)
	return raw
}

// DecodeMessage parses a JSON payload received from the bus.
func DecodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, errors.WrapInvalid(err, "isc", "DecodeMessage", "malformed payload")
	}
	return m, nil
}

// Encode serializes the message for publication.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapInvalid(err, "isc", "Encode", "marshal failed")
	}
	return data, nil
}

// MessageHandler receives inbound bus traffic. Handlers run on the
// transport's callback goroutine and must not block it for long.
type MessageHandler func(topic string, message Message)

// Transport is the publish/subscribe surface the ISC layer requires from the
// underlying broker client. Implementations must support MQTT-style
// wildcard subscriptions ("#" and "+").
type Transport interface {
	Publish(ctx context.Context, topic string, message Message) error
	Subscribe(ctx context.Context, filter string, handler MessageHandler) error
	Unsubscribe(ctx context.Context, filter string) error
	IsConnected() bool
}
