package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/ydb-platform/fwupd-client/internal/fwupd"
	"github.com/ydb-platform/fwupd-client/internal/listener"
)

// syncWriter serializes writes from the report and the signal printer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type printer struct {
	out io.Writer
}

var _ listener.Handler = &printer{}

func (p *printer) Changed() {
	fmt.Fprintln(p.out, "changed")
}

func (p *printer) DeviceAdded(d fwupd.Device) {
	fmt.Fprintf(p.out, "device added: %s\n", describe(d))
}

func (p *printer) DeviceChanged(d fwupd.Device) {
	fmt.Fprintf(p.out, "device changed: %s\n", describe(d))
}

func (p *printer) DeviceRemoved(d fwupd.Device) {
	fmt.Fprintf(p.out, "device removed: %s\n", describe(d))
}

func (p *printer) PropertiesChanged(iface string, changed map[string]dbus.Variant, invalidated []string) {
	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]string, 0, len(names))
	for _, name := range names {
		values = append(values, fmt.Sprintf("%s=%v", name, changed[name].Value()))
	}

	fmt.Fprintf(p.out, "Properties of %s changed:\n changed: [%s]\n invalidated: [%s]\n",
		iface, strings.Join(values, " "), strings.Join(invalidated, " "))
}

func describe(d fwupd.Device) string {
	name := strings.TrimSpace(d.Vendor + " " + d.Name)
	if name == "" {
		return d.ID
	}
	return fmt.Sprintf("%s (%s) flags=%s", name, d.ID, d.Flags)
}
