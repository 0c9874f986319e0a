package listener

import (
	"github.com/godbus/dbus/v5"

	"github.com/ydb-platform/fwupd-client/internal/fwupd"
	"github.com/ydb-platform/fwupd-client/internal/mux"
)

// Handler receives daemon signals, one method per variant.
type Handler interface {
	Changed()
	DeviceAdded(fwupd.Device)
	DeviceChanged(fwupd.Device)
	DeviceRemoved(fwupd.Device)
	PropertiesChanged(iface string, changed map[string]dbus.Variant, invalidated []string)
}

// Dispatch calls the Handler method matching the signal variant.
func Dispatch(sig fwupd.Signal, h Handler) {
	switch s := sig.(type) {
	case fwupd.Changed:
		h.Changed()
	case fwupd.DeviceAdded:
		h.DeviceAdded(s.Device)
	case fwupd.DeviceChanged:
		h.DeviceChanged(s.Device)
	case fwupd.DeviceRemoved:
		h.DeviceRemoved(s.Device)
	case fwupd.PropertiesChanged:
		h.PropertiesChanged(s.Interface, s.Changed, s.Invalidated)
	}
}

// HandlerSink subscribes a Handler to a signal source.
func HandlerSink(h Handler) mux.Sink[fwupd.Signal] {
	return mux.SinkFunc[fwupd.Signal](func(sig fwupd.Signal) error {
		Dispatch(sig, h)
		return nil
	})
}

// KindFilter accepts signals of the given kinds.
func KindFilter(kinds ...string) mux.FilterFunc[fwupd.Signal] {
	filters := make([]mux.FilterFunc[fwupd.Signal], 0, len(kinds))
	for _, kind := range kinds {
		kind := kind
		filters = append(filters, func(sig fwupd.Signal) bool {
			return sig.Kind() == kind
		})
	}
	return mux.Or(filters...)
}
