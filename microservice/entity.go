// Package microservice provides the two halves of FieldEdge inter-service
// property coordination: the Entity, which exposes a service's properties on
// the bus, and the Proxy, which queries a remote service's properties with
// correlation, caching and timeouts.
package microservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/inmarsat-enterprise/fieldedge-utilities/errors"
	"github.com/inmarsat-enterprise/fieldedge-utilities/inspect"
	"github.com/inmarsat-enterprise/fieldedge-utilities/isc"
	"github.com/inmarsat-enterprise/fieldedge-utilities/pkg/timestamp"
	"github.com/inmarsat-enterprise/fieldedge-utilities/propname"
)

// Entity exposes a service's property table on the FieldEdge bus. It answers
// property get/set requests addressed to its tag, participates in rollcall
// discovery, and publishes best-effort notifications.
//
// The property table itself is read from the transport callback goroutine
// and written by the owning application; getter and setter thread safety is
// the table author's responsibility.
type Entity struct {
	tag    string
	props  *inspect.PropertySet
	tagged bool

	// listMu guards the visibility lists, which the application mutates
	// while the transport callback goroutine resolves requests.
	listMu    sync.RWMutex
	hidden    []string
	iscIgnore []string
	rollcall  []string

	transport isc.Transport
	logger    *slog.Logger
}

// EntityOption customizes Entity construction.
type EntityOption func(*Entity)

// WithTagging qualifies wire property names with the entity's tag, e.g.
// modemPowerMode instead of powerMode.
func WithTagging() EntityOption {
	return func(e *Entity) {
		e.tagged = true
	}
}

// WithHidden pre-hides properties from local listings.
func WithHidden(names ...string) EntityOption {
	return func(e *Entity) {
		e.hidden = append(e.hidden, names...)
	}
}

// WithISCIgnore pre-hides properties from the wire.
func WithISCIgnore(names ...string) EntityOption {
	return func(e *Entity) {
		e.iscIgnore = append(e.iscIgnore, names...)
	}
}

// WithRollcallProperties selects properties whose values accompany every
// rollcall response.
func WithRollcallProperties(names ...string) EntityOption {
	return func(e *Entity) {
		e.rollcall = append(e.rollcall, names...)
	}
}

// WithEntityLogger sets the entity's logger.
func WithEntityLogger(logger *slog.Logger) EntityOption {
	return func(e *Entity) {
		e.logger = logger
	}
}

// NewEntity binds a property table to the bus under the given service tag.
func NewEntity(tag string, props *inspect.PropertySet, transport isc.Transport,
	opts ...EntityOption) (*Entity, error) {
	if tag == "" || props == nil || transport == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidInput, "microservice", "NewEntity",
			"tag, property set and transport are required")
	}
	e := &Entity{
		tag:       tag,
		props:     props,
		transport: transport,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("service", tag)
	return e, nil
}

// Tag returns the entity's service tag.
func (e *Entity) Tag() string {
	return e.tag
}

// Start subscribes the entity to its request and rollcall topics. The
// subscriptions live until the transport disconnects.
func (e *Entity) Start(ctx context.Context) error {
	filters := []string{
		isc.RequestTopic(e.tag, isc.MethodGet),
		isc.RequestTopic(e.tag, isc.MethodSet),
		fmt.Sprintf("%s/+/rollcall", isc.TopicRoot),
	}
	for _, filter := range filters {
		if err := e.transport.Subscribe(ctx, filter, e.OnISCMessage); err != nil {
			return errors.Wrap(err, "microservice", "Entity.Start", "subscribe failed")
		}
	}
	return nil
}

// ListProperties returns the locally visible property names.
func (e *Entity) ListProperties() []string {
	return e.props.List(e.hiddenNames()...)
}

// ListISCProperties returns the wire-visible property names, either as a
// flat tag-qualified list or categorized by read_only/read_write when tagged
// is set.
func (e *Entity) ListISCProperties(tagged bool) (any, error) {
	opts := e.tagOptions()
	if !tagged {
		names, err := inspect.TaggedNames(e.props, opts)
		if err != nil {
			return nil, errors.Wrap(err, "microservice", "Entity.ListISCProperties", "tagging failed")
		}
		return names, nil
	}
	grouped, err := inspect.TaggedByClass(e.props, opts)
	if err != nil {
		return nil, errors.Wrap(err, "microservice", "Entity.ListISCProperties", "tagging failed")
	}
	return grouped, nil
}

// GetByWireName resolves a wire name to the matching exposed property and
// returns its current value.
func (e *Entity) GetByWireName(wireName string) (any, error) {
	name, err := e.resolveWireName(wireName)
	if err != nil {
		return nil, err
	}
	value, err := e.props.Get(name)
	if err != nil {
		return nil, errors.Wrap(err, "microservice", "Entity.GetByWireName", "read failed")
	}
	return value, nil
}

// SetByWireName resolves a wire name and writes the property. Fails with
// errors.ErrReadOnlyProperty if the property has no setter.
func (e *Entity) SetByWireName(wireName string, value any) error {
	name, err := e.resolveWireName(wireName)
	if err != nil {
		return err
	}
	if err := e.props.Set(name, value); err != nil {
		return errors.Wrap(err, "microservice", "Entity.SetByWireName", "write failed")
	}
	return nil
}

// Hide removes a property from local listings. Unhide restores it.
func (e *Entity) Hide(name string) error {
	if !e.props.Has(name) {
		return errors.WrapInvalid(errors.ErrUnknownProperty, "microservice", "Entity.Hide", name)
	}
	e.listMu.Lock()
	defer e.listMu.Unlock()
	if !containsName(e.hidden, name) {
		e.hidden = append(e.hidden, name)
	}
	return nil
}

// Unhide restores a property to local listings.
func (e *Entity) Unhide(name string) error {
	if !e.props.Has(name) {
		return errors.WrapInvalid(errors.ErrUnknownProperty, "microservice", "Entity.Unhide", name)
	}
	e.listMu.Lock()
	defer e.listMu.Unlock()
	e.hidden = removeName(e.hidden, name)
	return nil
}

// ISCHide removes a property from the wire. ISCUnhide restores it. Wire
// visibility is independent of local visibility.
func (e *Entity) ISCHide(name string) error {
	if !e.props.Has(name) {
		return errors.WrapInvalid(errors.ErrUnknownProperty, "microservice", "Entity.ISCHide", name)
	}
	e.listMu.Lock()
	defer e.listMu.Unlock()
	if !containsName(e.iscIgnore, name) {
		e.iscIgnore = append(e.iscIgnore, name)
	}
	return nil
}

// ISCUnhide restores a property to the wire.
func (e *Entity) ISCUnhide(name string) error {
	if !e.props.Has(name) {
		return errors.WrapInvalid(errors.ErrUnknownProperty, "microservice", "Entity.ISCUnhide", name)
	}
	e.listMu.Lock()
	defer e.listMu.Unlock()
	e.iscIgnore = removeName(e.iscIgnore, name)
	return nil
}

// AddRollcallProperty includes a property's value in rollcall responses.
func (e *Entity) AddRollcallProperty(name string) error {
	if !e.props.Has(name) {
		return errors.WrapInvalid(errors.ErrUnknownProperty, "microservice",
			"Entity.AddRollcallProperty", name)
	}
	e.listMu.Lock()
	defer e.listMu.Unlock()
	if !containsName(e.rollcall, name) {
		e.rollcall = append(e.rollcall, name)
	}
	return nil
}

// RemoveRollcallProperty stops including a property in rollcall responses.
func (e *Entity) RemoveRollcallProperty(name string) {
	e.listMu.Lock()
	defer e.listMu.Unlock()
	e.rollcall = removeName(e.rollcall, name)
}

// BroadcastRollcall asks who is present on the bus. Responders reply on
// their own rollcall/response topics carrying the correlation id.
func (e *Entity) BroadcastRollcall(ctx context.Context) (string, error) {
	uid := uuid.NewString()
	message := isc.Message{isc.KeyUID: uid}
	if err := e.transport.Publish(ctx, isc.RollcallTopic(e.tag), message); err != nil {
		return "", errors.Wrap(err, "microservice", "Entity.BroadcastRollcall", "publish failed")
	}
	return uid, nil
}

// OnRollcallReceived answers a rollcall unless the entity itself sent it.
func (e *Entity) OnRollcallReceived(ctx context.Context, topic string, message isc.Message) {
	if isc.TopicTag(topic) == e.tag {
		return
	}
	e.RespondToRollcall(ctx, message)
}

// RespondToRollcall announces the entity with the request's correlation id
// and the current rollcall property values. A request without a uid is
// answered anyway, with a warning.
func (e *Entity) RespondToRollcall(ctx context.Context, request isc.Message) {
	uid := request.UID()
	if uid == "" {
		e.logger.Warn("rollcall request missing uid")
	}
	response := isc.Message{isc.KeyUID: uid}
	for _, name := range e.rollcallNames() {
		value, err := e.props.Get(name)
		if err != nil {
			e.logger.Warn("rollcall property read failed", "property", name, "error", err)
			continue
		}
		wireName, err := propname.Tag(name, e.wireTag(), true)
		if err != nil {
			e.logger.Warn("rollcall property tag failed", "property", name, "error", err)
			continue
		}
		response[wireName] = inspect.WireSafe(value, true, true)
	}
	if err := e.transport.Publish(ctx, isc.RollcallResponseTopic(e.tag), response); err != nil {
		e.logger.Warn("rollcall response publish failed", "error", err)
	}
}

// Notify publishes a wire-safe message to the entity's base topic, or to
// topic (optionally suffixed with subtopic) when given. A millisecond
// timestamp is injected under ts if absent. Delivery is best effort: when
// the transport is down the failure is logged, not returned.
func (e *Entity) Notify(ctx context.Context, message isc.Message, topic, subtopic string) {
	if topic == "" {
		topic = isc.ServiceTopic(e.tag)
	}
	if subtopic != "" {
		topic = topic + "/" + subtopic
	}
	if message == nil {
		message = isc.Message{}
	}
	if _, ok := message[isc.KeyTimestamp]; !ok {
		message[isc.KeyTimestamp] = timestamp.Now()
	}
	if !e.transport.IsConnected() {
		e.logger.Warn("notify skipped, transport not connected", "topic", topic)
		return
	}
	if err := e.transport.Publish(ctx, topic, message); err != nil {
		e.logger.Warn("notify publish failed", "topic", topic, "error", err)
	}
}

// OnISCMessage routes inbound bus traffic for the entity: rollcalls and
// property requests. Unrecognized topics are ignored.
func (e *Entity) OnISCMessage(topic string, message isc.Message) {
	ctx := context.Background()
	switch {
	case topic == isc.RequestTopic(e.tag, isc.MethodGet):
		e.handlePropertyRequest(ctx, message, isc.MethodGet)
	case topic == isc.RequestTopic(e.tag, isc.MethodSet):
		e.handlePropertyRequest(ctx, message, isc.MethodSet)
	case isRollcallTopic(topic):
		e.OnRollcallReceived(ctx, topic, message)
	}
}

// handlePropertyRequest answers a get or set request with the current
// wire-safe values of the referenced properties. Setters run before the
// read-back, so the response reflects the authoritative post-write state.
func (e *Entity) handlePropertyRequest(ctx context.Context, request isc.Message, method isc.Method) {
	uid := request.UID()
	if uid == "" {
		e.logger.Warn("property request missing uid", "method", method)
		return
	}

	var wireNames []string
	if method == isc.MethodSet {
		values := request.Properties()
		if len(values) == 0 {
			e.logger.Warn("set request with no properties", "uid", uid)
			return
		}
		for wireName, value := range values {
			if err := e.SetByWireName(wireName, value); err != nil {
				e.logger.Warn("set request failed", "uid", uid, "property", wireName, "error", err)
				continue
			}
			wireNames = append(wireNames, wireName)
		}
	} else {
		wireNames = request.PropertyList()
		if isFullRead(wireNames) {
			wireNames = e.allWireNames()
		}
	}

	values := make(map[string]any, len(wireNames))
	for _, wireName := range wireNames {
		value, err := e.GetByWireName(wireName)
		if err != nil {
			e.logger.Warn("get request failed", "uid", uid, "property", wireName, "error", err)
			continue
		}
		values[wireName] = inspect.WireSafe(value, true, true)
	}

	response := isc.Message{
		isc.KeyUID:        uid,
		isc.KeyProperties: values,
		isc.KeyTimestamp:  timestamp.Now(),
	}
	if err := e.transport.Publish(ctx, isc.ResponseTopic(e.tag), response); err != nil {
		e.logger.Warn("property response publish failed", "uid", uid, "error", err)
	}
}

// allWireNames renders every wire-visible property name.
func (e *Entity) allWireNames() []string {
	names, err := inspect.TaggedNames(e.props, e.tagOptions())
	if err != nil {
		e.logger.Warn("property tagging failed", "error", err)
		return nil
	}
	return names
}

func (e *Entity) tagOptions() inspect.TagOptions {
	return inspect.TagOptions{
		Tag:      e.wireTag(),
		WireCase: true,
		Ignore:   e.iscIgnoreNames(),
	}
}

// wireTag is the prefix applied to wire names, empty when tagging is off.
func (e *Entity) wireTag() string {
	if e.tagged {
		return e.tag
	}
	return ""
}

// resolveWireName maps a wire name back to an exposed internal property.
func (e *Entity) resolveWireName(wireName string) (string, error) {
	name, tag, err := propname.Untag(wireName, e.tagged)
	if err != nil {
		return "", errors.WrapInvalid(err, "microservice", "Entity.resolveWireName", wireName)
	}
	if e.tagged && tag != e.tag {
		return "", errors.WrapInvalid(errors.ErrUnknownProperty, "microservice",
			"Entity.resolveWireName", fmt.Sprintf("%s addresses tag %s", wireName, tag))
	}
	if !e.props.Has(name) || containsName(e.iscIgnoreNames(), name) {
		return "", errors.WrapInvalid(errors.ErrUnknownProperty, "microservice",
			"Entity.resolveWireName", wireName)
	}
	return name, nil
}

func (e *Entity) hiddenNames() []string {
	e.listMu.RLock()
	defer e.listMu.RUnlock()
	return append([]string(nil), e.hidden...)
}

func (e *Entity) iscIgnoreNames() []string {
	e.listMu.RLock()
	defer e.listMu.RUnlock()
	return append([]string(nil), e.iscIgnore...)
}

func (e *Entity) rollcallNames() []string {
	e.listMu.RLock()
	defer e.listMu.RUnlock()
	return append([]string(nil), e.rollcall...)
}

// isFullRead reports whether a get request asks for every property: a
// missing or empty list, or the single keyword "all".
func isFullRead(wireNames []string) bool {
	return len(wireNames) == 0 ||
		(len(wireNames) == 1 && wireNames[0] == isc.PropertyAll)
}

func isRollcallTopic(topic string) bool {
	return strings.HasSuffix(topic, "/rollcall")
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func removeName(names []string, name string) []string {
	kept := names[:0]
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}
	return kept
}
