// Package fwupdtest provides an in-memory daemon for exercising the fwupd
// client without a system bus.
package fwupdtest

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/ydb-platform/fwupd-client/internal/fwupd"
)

type Call struct {
	Method string
	Args   []interface{}
}

// Bus implements fwupd.Bus. Replies and errors are keyed by method name,
// property values by property name. A missing property answers like the
// real bus does for an unknown property.
type Bus struct {
	mu         sync.Mutex
	properties map[string]interface{}
	replies    map[string][]interface{}
	errors     map[string]error
	calls      []Call
	signals    chan<- *dbus.Signal
	watching   chan struct{}
	watchOnce  sync.Once
	stopped    chan struct{}
	closed     bool
}

var _ fwupd.Bus = &Bus{}

func NewBus() *Bus {
	return &Bus{
		properties: make(map[string]interface{}),
		replies:    make(map[string][]interface{}),
		errors:     make(map[string]error),
		watching:   make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (b *Bus) SetProperty(name string, value interface{}) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.properties[name] = value
	return b
}

func (b *Bus) SetReply(method string, body ...interface{}) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[method] = body
	return b
}

func (b *Bus) SetError(method string, err error) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors[method] = err
	return b
}

// Calls returns the method calls received so far.
func (b *Bus) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

func (b *Bus) Call(_ context.Context, method string, args ...interface{}) ([]interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Method: method, Args: args})
	if err, ok := b.errors[method]; ok {
		return nil, err
	}
	if body, ok := b.replies[method]; ok {
		return body, nil
	}
	return nil, DaemonError("org.freedesktop.DBus.Error.UnknownMethod", "No such method "+method)
}

func (b *Bus) Property(_ context.Context, name string) (dbus.Variant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.properties[name]
	if !ok {
		return dbus.Variant{}, DaemonError("org.freedesktop.DBus.Error.UnknownProperty", "No such property "+name)
	}
	if err, isErr := value.(error); isErr {
		return dbus.Variant{}, err
	}
	return dbus.MakeVariant(value), nil
}

func (b *Bus) Watch(ch chan<- *dbus.Signal) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = ch
	b.watchOnce.Do(func() { close(b.watching) })
	var once sync.Once
	return func() {
		once.Do(func() { close(b.stopped) })
	}, nil
}

// Watching is closed once a listener subscribed.
func (b *Bus) Watching() <-chan struct{} {
	return b.watching
}

// Stopped is closed once the listener released its subscription.
func (b *Bus) Stopped() <-chan struct{} {
	return b.stopped
}

// Emit delivers a signal to the subscribed listener. It must be called after
// Watching is closed.
func (b *Bus) Emit(sig *dbus.Signal) {
	b.mu.Lock()
	ch := b.signals
	b.mu.Unlock()
	ch <- sig
}

// Close drops the connection, ending any signal subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.signals != nil {
		close(b.signals)
	}
	return nil
}

func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// DaemonError builds an error reply the way the bus delivers it.
func DaemonError(name, message string) error {
	return dbus.Error{Name: name, Body: []interface{}{message}}
}

// Dict builds an a{sv} dictionary from alternating keys and values.
func Dict(kv ...interface{}) map[string]dbus.Variant {
	res := make(map[string]dbus.Variant, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		res[kv[i].(string)] = dbus.MakeVariant(kv[i+1])
	}
	return res
}

func DeviceDict(id, name, vendor string, flags fwupd.DeviceFlags) map[string]dbus.Variant {
	return Dict(
		"DeviceId", id,
		"Name", name,
		"Vendor", vendor,
		"Flags", uint64(flags),
	)
}

// Signal builds a daemon signal message.
func Signal(member string, body ...interface{}) *dbus.Signal {
	iface := fwupd.Interface
	if member == "PropertiesChanged" {
		iface = fwupd.PropertiesInterface
	}
	return &dbus.Signal{
		Sender: fwupd.BusName,
		Path:   fwupd.ObjectPath,
		Name:   iface + "." + member,
		Body:   body,
	}
}
