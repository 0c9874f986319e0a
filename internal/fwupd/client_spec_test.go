package fwupd_test

import (
	"context"
	"errors"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/ydb-platform/fwupd-client/internal/fwupd"
	"github.com/ydb-platform/fwupd-client/internal/fwupd/fwupdtest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		bus    *fwupdtest.Bus
		client *fwupd.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		bus = fwupdtest.NewBus()
		client = fwupd.NewWithBus(bus)
	})

	Context("properties", func() {
		It("should read daemon properties", func() {
			bus.SetProperty("DaemonVersion", "1.9.12").
				SetProperty("Status", uint32(fwupd.StatusDownloading)).
				SetProperty("Tainted", true).
				SetProperty("Percentage", uint32(42)).
				SetProperty("HostProduct", "ThinkPad X1").
				SetProperty("HostMachineId", "abc123")

			version, err := client.DaemonVersion(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal("1.9.12"))

			status, err := client.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(fwupd.StatusDownloading))
			Expect(status.String()).To(Equal("downloading"))

			tainted, err := client.Tainted(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tainted).To(BeTrue())

			percentage, err := client.Percentage(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(percentage).To(BeEquivalentTo(42))

			product, err := client.HostProduct(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(product).To(Equal("ThinkPad X1"))

			machineID, err := client.HostMachineID(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(machineID).To(Equal("abc123"))
		})

		It("should report an unsupported percentage as ErrNotSupported", func() {
			_, err := client.Percentage(ctx)
			Expect(err).To(MatchError(fwupd.ErrNotSupported))

			var daemonErr *fwupd.DaemonError
			Expect(errors.As(err, &daemonErr)).To(BeTrue())
			Expect(daemonErr.Name).To(Equal("org.freedesktop.DBus.Error.UnknownProperty"))
		})

		It("should surface transport errors", func() {
			bus.SetProperty("DaemonVersion", errors.New("connection reset"))
			_, err := client.DaemonVersion(ctx)
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
			Expect(err).To(MatchError(ContainSubstring("DaemonVersion")))
		})

		It("should reject a property of the wrong type", func() {
			bus.SetProperty("Tainted", "yes")
			_, err := client.Tainted(ctx)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("devices", func() {
		It("should decode devices", func() {
			bus.SetReply("GetDevices", []map[string]dbus.Variant{
				fwupdtest.Dict(
					"DeviceId", "d1",
					"Name", "System Firmware",
					"Vendor", "Lenovo",
					"Version", "0.1.24",
					"Flags", uint64(fwupd.DeviceFlagInternal|fwupd.DeviceFlagUpdatable),
					"Guid", []string{"230c8b18-8d9b-53ec-838b-6cfc0383493a"},
					"Created", uint64(1700000000),
					"InstallDuration", uint32(120),
				),
				fwupdtest.DeviceDict("d2", "Keyboard", "Logitech", 0),
			})

			devices, err := client.Devices(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).To(HaveLen(2))

			Expect(devices[0].ID).To(Equal("d1"))
			Expect(devices[0].Vendor).To(Equal("Lenovo"))
			Expect(devices[0].Version).To(Equal("0.1.24"))
			Expect(devices[0].GUIDs).To(ConsistOf("230c8b18-8d9b-53ec-838b-6cfc0383493a"))
			Expect(devices[0].IsUpdatable()).To(BeTrue())
			Expect(devices[0].Flags.String()).To(Equal("internal|updatable"))
			Expect(devices[0].Created).To(Equal(time.Unix(1700000000, 0).UTC()))
			Expect(devices[0].InstallDuration).To(Equal(2 * time.Minute))

			Expect(devices[1].IsUpdatable()).To(BeFalse())
			Expect(devices[1].Flags.String()).To(Equal("none"))
		})

		It("should query releases by device ID", func() {
			device := &fwupd.Device{ID: "d1"}
			bus.SetReply("GetUpgrades", []map[string]dbus.Variant{
				fwupdtest.Dict(
					"Version", "0.1.25",
					"RemoteId", "lvfs",
					"Locations", []string{"https://fwupd.org/downloads/a.cab"},
					"Size", uint64(2048),
					"Urgency", uint32(fwupd.UrgencyHigh),
					"Checksum", []string{"deadbeef"},
				),
			})
			bus.SetReply("GetDowngrades", []map[string]dbus.Variant{
				fwupdtest.Dict("Version", "0.1.23", "Uri", "https://fwupd.org/downloads/b.cab"),
			})
			bus.SetReply("GetReleases", []map[string]dbus.Variant{
				fwupdtest.Dict("Version", "0.1.23"),
				fwupdtest.Dict("Version", "0.1.25"),
			})

			upgrades, err := client.Upgrades(ctx, device)
			Expect(err).NotTo(HaveOccurred())
			Expect(upgrades).To(HaveLen(1))
			Expect(upgrades[0].Version).To(Equal("0.1.25"))
			Expect(upgrades[0].URI).To(Equal("https://fwupd.org/downloads/a.cab"))
			Expect(upgrades[0].Size).To(BeEquivalentTo(2048))
			Expect(upgrades[0].Urgency.String()).To(Equal("high"))
			Expect(upgrades[0].Checksums).To(Equal([]string{"deadbeef"}))

			downgrades, err := client.Downgrades(ctx, device)
			Expect(err).NotTo(HaveOccurred())
			Expect(downgrades[0].URI).To(Equal("https://fwupd.org/downloads/b.cab"))

			releases, err := client.Releases(ctx, device)
			Expect(err).NotTo(HaveOccurred())
			Expect(releases).To(HaveLen(2))

			for _, call := range bus.Calls() {
				Expect(call.Args).To(Equal([]interface{}{"d1"}))
			}
		})

		It("should map daemon errors to sentinels", func() {
			bus.SetError("GetUpgrades", fwupdtest.DaemonError("org.freedesktop.fwupd.NothingToDo", "No upgrades for System Firmware"))

			_, err := client.Upgrades(ctx, &fwupd.Device{ID: "d1"})
			Expect(err).To(MatchError(fwupd.ErrNothingToDo))
			Expect(err.Error()).To(ContainSubstring("No upgrades for System Firmware"))
			Expect(err.Error()).To(ContainSubstring("d1"))
		})

		It("should map pointer error replies as well", func() {
			bus.SetError("GetDevices", dbus.NewError("org.freedesktop.DBus.Error.ServiceUnknown", []interface{}{"not activatable"}))

			_, err := client.Devices(ctx)
			Expect(err).To(MatchError(fwupd.ErrDaemonUnavailable))
		})

		It("should keep unknown daemon errors inspectable", func() {
			bus.SetError("Verify", fwupdtest.DaemonError("org.freedesktop.fwupd.Brand.New", "whatever"))

			err := client.Verify(ctx, &fwupd.Device{ID: "d1"})
			var daemonErr *fwupd.DaemonError
			Expect(errors.As(err, &daemonErr)).To(BeTrue())
			Expect(daemonErr.Name).To(Equal("org.freedesktop.fwupd.Brand.New"))
			Expect(errors.Unwrap(daemonErr)).To(BeNil())
		})

		It("should pass device actions through", func() {
			device := &fwupd.Device{ID: "d1"}
			for _, method := range []string{"Activate", "ClearResults", "Unlock", "Verify", "VerifyUpdate"} {
				bus.SetReply(method)
			}

			Expect(client.Activate(ctx, device)).To(Succeed())
			Expect(client.ClearResults(ctx, device)).To(Succeed())
			Expect(client.Unlock(ctx, device)).To(Succeed())
			Expect(client.Verify(ctx, device)).To(Succeed())
			Expect(client.VerifyUpdate(ctx, device)).To(Succeed())

			methods := []string{}
			for _, call := range bus.Calls() {
				methods = append(methods, call.Method)
			}
			Expect(methods).To(Equal([]string{"Activate", "ClearResults", "Unlock", "Verify", "VerifyUpdate"}))
		})

		It("should decode update results", func() {
			bus.SetReply("GetResults", fwupdtest.Dict(
				"DeviceId", "d1",
				"UpdateState", uint32(fwupd.UpdateStateFailed),
				"UpdateError", "device was unplugged",
			))

			res, err := client.Results(ctx, &fwupd.Device{ID: "d1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.UpdateState).To(Equal(fwupd.UpdateStateFailed))
			Expect(res.UpdateError).To(Equal("device was unplugged"))
		})
	})

	Context("remotes", func() {
		BeforeEach(func() {
			bus.SetReply("GetRemotes", []map[string]dbus.Variant{
				fwupdtest.Dict(
					"RemoteId", "lvfs",
					"Title", "Linux Vendor Firmware Service",
					"Type", uint32(fwupd.RemoteKindDownload),
					"Keyring", uint32(fwupd.KeyringKindJcat),
					"Enabled", true,
					"Priority", int32(5),
					"Uri", "https://cdn.fwupd.org/downloads/firmware.xml.gz",
				),
				fwupdtest.Dict(
					"RemoteId", "vendor-directory",
					"Type", uint32(fwupd.RemoteKindDirectory),
					"Keyring", uint32(fwupd.KeyringKindNone),
				),
			})
		})

		It("should decode remotes", func() {
			remotes, err := client.Remotes(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(remotes).To(HaveLen(2))

			Expect(remotes[0].ID).To(Equal("lvfs"))
			Expect(remotes[0].Kind).To(Equal(fwupd.RemoteKindDownload))
			Expect(remotes[0].Enabled).To(BeTrue())
			Expect(remotes[0].Priority).To(BeEquivalentTo(5))
			Expect(remotes[0].SignatureURI()).To(Equal("https://cdn.fwupd.org/downloads/firmware.xml.gz.jcat"))

			Expect(remotes[1].Kind.String()).To(Equal("directory"))
			Expect(remotes[1].SignatureURI()).To(BeEmpty())
		})

		It("should look up a remote by ID", func() {
			remote, err := client.Remote(ctx, "lvfs")
			Expect(err).NotTo(HaveOccurred())
			Expect(remote.Title).To(Equal("Linux Vendor Firmware Service"))

			_, err = client.Remote(ctx, "missing")
			Expect(err).To(MatchError(fwupd.ErrNotFound))
		})

		It("should modify a remote", func() {
			bus.SetReply("ModifyRemote")
			Expect(client.ModifyRemote(ctx, "lvfs", "Enabled", "false")).To(Succeed())

			calls := bus.Calls()
			Expect(calls[len(calls)-1]).To(Equal(fwupdtest.Call{
				Method: "ModifyRemote",
				Args:   []interface{}{"lvfs", "Enabled", "false"},
			}))
		})
	})

	It("should close the bus", func() {
		Expect(client.Close()).To(Succeed())
		Expect(bus.Closed()).To(BeTrue())
	})
})

var _ = Describe("DeviceFlags", func() {
	It("should name unknown bits", func() {
		flags := fwupd.DeviceFlagUpdatable | fwupd.DeviceFlags(1)<<40
		Expect(flags.Names()).To(Equal([]string{"updatable", "0x10000000000"}))
	})

	It("should render enums out of range", func() {
		Expect(fwupd.Status(99).String()).To(Equal("unknown(99)"))
	})
})
