package fwupd

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"k8s.io/klog/v2"
)

const (
	BusName    = "org.freedesktop.fwupd"
	ObjectPath = dbus.ObjectPath("/")
	Interface  = "org.freedesktop.fwupd"

	PropertiesInterface = "org.freedesktop.DBus.Properties"
)

// Bus is the part of a bus connection the client talks through.
type Bus interface {
	// Call invokes a method of the daemon interface and returns the reply body.
	Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
	// Property reads a property of the daemon interface.
	Property(ctx context.Context, name string) (dbus.Variant, error)
	// Watch starts delivering daemon signals to ch. The returned func stops delivery.
	Watch(ch chan<- *dbus.Signal) (func(), error)
	Close() error
}

var signalMatches = [][]dbus.MatchOption{
	{
		dbus.WithMatchSender(BusName),
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface(Interface),
	},
	{
		dbus.WithMatchSender(BusName),
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface(PropertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	},
}

type systemBus struct {
	conn   *dbus.Conn
	object dbus.BusObject
}

// ConnectSystemBus opens a private connection to the system bus and binds it
// to the daemon object.
func ConnectSystemBus(ctx context.Context) (Bus, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return &systemBus{
		conn:   conn,
		object: conn.Object(BusName, ObjectPath),
	}, nil
}

func (b *systemBus) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	call := b.object.CallWithContext(ctx, Interface+"."+method, 0, args...)
	if call.Err != nil {
		return nil, call.Err
	}
	return call.Body, nil
}

func (b *systemBus) Property(ctx context.Context, name string) (dbus.Variant, error) {
	var value dbus.Variant
	err := b.object.CallWithContext(ctx, PropertiesInterface+".Get", 0, Interface, name).Store(&value)
	return value, err
}

func (b *systemBus) Watch(ch chan<- *dbus.Signal) (func(), error) {
	for i, match := range signalMatches {
		if err := b.conn.AddMatchSignal(match...); err != nil {
			for _, added := range signalMatches[:i] {
				b.conn.RemoveMatchSignal(added...)
			}
			return nil, fmt.Errorf("failed to add signal match: %w", err)
		}
	}
	b.conn.Signal(ch)

	return func() {
		b.conn.RemoveSignal(ch)
		for _, match := range signalMatches {
			if err := b.conn.RemoveMatchSignal(match...); err != nil {
				klog.V(2).Infof("failed to remove signal match: %v", err)
			}
		}
	}, nil
}

func (b *systemBus) Close() error {
	return b.conn.Close()
}
