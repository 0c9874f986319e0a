package fwupd

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"k8s.io/klog/v2"
)

const (
	KindChanged           = "changed"
	KindDeviceAdded       = "device-added"
	KindDeviceChanged     = "device-changed"
	KindDeviceRemoved     = "device-removed"
	KindPropertiesChanged = "properties-changed"
)

// Kinds lists every signal kind.
var Kinds = []string{
	KindChanged,
	KindDeviceAdded,
	KindDeviceChanged,
	KindDeviceRemoved,
	KindPropertiesChanged,
}

// Signal is a notification emitted by the daemon. The set of
// implementations is closed.
type Signal interface {
	Kind() string
	signalSealed()
}

// Changed means the daemon's device or remote list changed in some way.
type Changed struct{}

func (Changed) Kind() string  { return KindChanged }
func (Changed) signalSealed() {}

type DeviceAdded struct {
	Device
}

func (DeviceAdded) Kind() string  { return KindDeviceAdded }
func (DeviceAdded) signalSealed() {}

type DeviceChanged struct {
	Device
}

func (DeviceChanged) Kind() string  { return KindDeviceChanged }
func (DeviceChanged) signalSealed() {}

type DeviceRemoved struct {
	Device
}

func (DeviceRemoved) Kind() string  { return KindDeviceRemoved }
func (DeviceRemoved) signalSealed() {}

type PropertiesChanged struct {
	Interface   string
	Changed     map[string]dbus.Variant
	Invalidated []string
}

func (PropertiesChanged) Kind() string  { return KindPropertiesChanged }
func (PropertiesChanged) signalSealed() {}

func signalDevice(msg *dbus.Signal) (Device, error) {
	var raw map[string]dbus.Variant
	if err := dbus.Store(msg.Body, &raw); err != nil {
		return Device{}, fmt.Errorf("malformed %s signal: %w", msg.Name, err)
	}
	return decodeDevice(dict(raw)), nil
}

func decodeSignal(msg *dbus.Signal) (Signal, error) {
	switch msg.Name {
	case Interface + ".Changed":
		return Changed{}, nil
	case Interface + ".DeviceAdded":
		dev, err := signalDevice(msg)
		if err != nil {
			return nil, err
		}
		return DeviceAdded{dev}, nil
	case Interface + ".DeviceChanged":
		dev, err := signalDevice(msg)
		if err != nil {
			return nil, err
		}
		return DeviceChanged{dev}, nil
	case Interface + ".DeviceRemoved":
		dev, err := signalDevice(msg)
		if err != nil {
			return nil, err
		}
		return DeviceRemoved{dev}, nil
	case PropertiesInterface + ".PropertiesChanged":
		sig := PropertiesChanged{}
		if err := dbus.Store(msg.Body, &sig.Interface, &sig.Changed, &sig.Invalidated); err != nil {
			return nil, fmt.Errorf("malformed %s signal: %w", msg.Name, err)
		}
		return sig, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, msg.Name)
}

const signalBuffer = 16

// ListenSignals streams daemon signals until ctx is done or the connection
// drops, then closes the returned channel. The context is checked between
// reads, so a read already in flight is still delivered.
func (c *Client) ListenSignals(ctx context.Context) (<-chan Signal, error) {
	raw := make(chan *dbus.Signal, signalBuffer)
	stop, err := c.bus.Watch(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to daemon signals: %w", err)
	}

	out := make(chan Signal)
	go func() {
		defer close(out)
		defer stop()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					klog.V(2).Info("bus connection closed, signal stream ends")
					return
				}
				if msg == nil {
					continue
				}
				sig, err := decodeSignal(msg)
				if err != nil {
					klog.V(5).Infof("ignoring signal from %s: %v", msg.Sender, err)
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
