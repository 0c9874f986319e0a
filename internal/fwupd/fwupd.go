// Package fwupd is a client for the fwupd firmware update daemon on the
// system bus. It maps the daemon's methods, properties and signals onto typed
// calls; all update logic stays in the daemon.
package fwupd

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

const DefaultCacheDir = "/var/cache/fwupd-client"

type Client struct {
	bus      Bus
	cacheDir string
}

type Option interface {
	apply(*Client)
}

type cacheDir string

func (d cacheDir) apply(c *Client) {
	if d != "" {
		c.cacheDir = string(d)
	}
}

// WithCacheDir sets where downloaded remote metadata is kept.
func WithCacheDir(dir string) Option {
	return cacheDir(dir)
}

// New connects to the system bus.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	bus, err := ConnectSystemBus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return NewWithBus(bus, opts...), nil
}

// NewWithBus creates a client on top of an established bus connection.
func NewWithBus(bus Bus, opts ...Option) *Client {
	c := &Client{
		bus:      bus,
		cacheDir: DefaultCacheDir,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(c)
	}
	return c
}

func (c *Client) Close() error {
	return c.bus.Close()
}

func (c *Client) property(ctx context.Context, name string, dest interface{}) error {
	value, err := c.bus.Property(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to read property %s: %w", name, translate(err))
	}
	if err := dbus.Store([]interface{}{value.Value()}, dest); err != nil {
		return fmt.Errorf("unexpected value of property %s: %w", name, err)
	}
	return nil
}

func (c *Client) DaemonVersion(ctx context.Context) (string, error) {
	var version string
	err := c.property(ctx, "DaemonVersion", &version)
	return version, err
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var status uint32
	err := c.property(ctx, "Status", &status)
	return Status(status), err
}

// Tainted reports whether the daemon loaded unsupported plugins.
func (c *Client) Tainted(ctx context.Context) (bool, error) {
	var tainted bool
	err := c.property(ctx, "Tainted", &tainted)
	return tainted, err
}

// Percentage is the progress of the current operation. Daemons that do not
// expose it return an error wrapping ErrNotSupported.
func (c *Client) Percentage(ctx context.Context) (uint32, error) {
	var percentage uint32
	err := c.property(ctx, "Percentage", &percentage)
	return percentage, err
}

func (c *Client) HostProduct(ctx context.Context) (string, error) {
	var product string
	err := c.property(ctx, "HostProduct", &product)
	return product, err
}

func (c *Client) HostMachineID(ctx context.Context) (string, error) {
	var id string
	err := c.property(ctx, "HostMachineId", &id)
	return id, err
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	body, err := c.bus.Call(ctx, method, args...)
	if err != nil {
		return nil, translate(err)
	}
	return body, nil
}

func (c *Client) dicts(ctx context.Context, method string, args ...interface{}) ([]map[string]dbus.Variant, error) {
	body, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	var res []map[string]dbus.Variant
	if err := dbus.Store(body, &res); err != nil {
		return nil, fmt.Errorf("unexpected %s reply: %w", method, err)
	}
	return res, nil
}

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	raw, err := c.dicts(ctx, "GetDevices")
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}
	return decodeAll(raw, decodeDevice), nil
}

func (c *Client) releases(ctx context.Context, method string, device *Device) ([]Release, error) {
	raw, err := c.dicts(ctx, method, device.ID)
	if err != nil {
		return nil, err
	}
	return decodeAll(raw, decodeRelease), nil
}

// Upgrades lists releases newer than the installed version. The daemon
// answers ErrNothingToDo when there are none.
func (c *Client) Upgrades(ctx context.Context, device *Device) ([]Release, error) {
	res, err := c.releases(ctx, "GetUpgrades", device)
	if err != nil {
		return nil, fmt.Errorf("failed to get upgrades for %s: %w", device.ID, err)
	}
	return res, nil
}

func (c *Client) Downgrades(ctx context.Context, device *Device) ([]Release, error) {
	res, err := c.releases(ctx, "GetDowngrades", device)
	if err != nil {
		return nil, fmt.Errorf("failed to get downgrades for %s: %w", device.ID, err)
	}
	return res, nil
}

func (c *Client) Releases(ctx context.Context, device *Device) ([]Release, error) {
	res, err := c.releases(ctx, "GetReleases", device)
	if err != nil {
		return nil, fmt.Errorf("failed to get releases for %s: %w", device.ID, err)
	}
	return res, nil
}

func (c *Client) Remotes(ctx context.Context) ([]Remote, error) {
	raw, err := c.dicts(ctx, "GetRemotes")
	if err != nil {
		return nil, fmt.Errorf("failed to get remotes: %w", err)
	}
	return decodeAll(raw, decodeRemote), nil
}

// Remote looks up a single remote by ID.
func (c *Client) Remote(ctx context.Context, id string) (*Remote, error) {
	remotes, err := c.Remotes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range remotes {
		if remotes[i].ID == id {
			return &remotes[i], nil
		}
	}
	return nil, fmt.Errorf("remote %q: %w", id, ErrNotFound)
}

// Results returns the device as recorded after its last update.
func (c *Client) Results(ctx context.Context, device *Device) (*Device, error) {
	body, err := c.call(ctx, "GetResults", device.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get results for %s: %w", device.ID, err)
	}
	var raw map[string]dbus.Variant
	if err := dbus.Store(body, &raw); err != nil {
		return nil, fmt.Errorf("unexpected GetResults reply: %w", err)
	}
	res := decodeDevice(dict(raw))
	return &res, nil
}

func (c *Client) deviceAction(ctx context.Context, method string, device *Device) error {
	if _, err := c.call(ctx, method, device.ID); err != nil {
		return fmt.Errorf("%s %s: %w", method, device.ID, err)
	}
	return nil
}

func (c *Client) ClearResults(ctx context.Context, device *Device) error {
	return c.deviceAction(ctx, "ClearResults", device)
}

// Activate switches a device to firmware that was staged by an earlier update.
func (c *Client) Activate(ctx context.Context, device *Device) error {
	return c.deviceAction(ctx, "Activate", device)
}

func (c *Client) Unlock(ctx context.Context, device *Device) error {
	return c.deviceAction(ctx, "Unlock", device)
}

// Verify checks the device firmware against the stored checksums.
func (c *Client) Verify(ctx context.Context, device *Device) error {
	return c.deviceAction(ctx, "Verify", device)
}

// VerifyUpdate stores the current firmware checksums for later Verify calls.
func (c *Client) VerifyUpdate(ctx context.Context, device *Device) error {
	return c.deviceAction(ctx, "VerifyUpdate", device)
}

// ModifyRemote changes one key of a remote's configuration, e.g. "Enabled".
func (c *Client) ModifyRemote(ctx context.Context, remoteID, key, value string) error {
	if _, err := c.call(ctx, "ModifyRemote", remoteID, key, value); err != nil {
		return fmt.Errorf("failed to set %s=%s on remote %q: %w", key, value, remoteID, err)
	}
	return nil
}

// UpdateMetadata hands downloaded metadata and its detached signature to the
// daemon.
func (c *Client) UpdateMetadata(ctx context.Context, remoteID string, data, signature *os.File) error {
	_, err := c.call(ctx, "UpdateMetadata",
		remoteID,
		dbus.UnixFD(data.Fd()),
		dbus.UnixFD(signature.Fd()),
	)
	if err != nil {
		return fmt.Errorf("daemon rejected metadata for remote %q: %w", remoteID, err)
	}
	return nil
}
