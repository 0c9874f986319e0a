package fwupd

import (
	"time"
)

// Device is the client-side view of a device known to the daemon.
type Device struct {
	ID                string        `json:"id" yaml:"id"`
	ParentID          string        `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Name              string        `json:"name" yaml:"name"`
	Vendor            string        `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	VendorID          string        `json:"vendorId,omitempty" yaml:"vendorId,omitempty"`
	Summary           string        `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description       string        `json:"description,omitempty" yaml:"description,omitempty"`
	Plugin            string        `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Protocol          string        `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Serial            string        `json:"serial,omitempty" yaml:"serial,omitempty"`
	Version           string        `json:"version,omitempty" yaml:"version,omitempty"`
	VersionLowest     string        `json:"versionLowest,omitempty" yaml:"versionLowest,omitempty"`
	VersionBootloader string        `json:"versionBootloader,omitempty" yaml:"versionBootloader,omitempty"`
	Flags             DeviceFlags   `json:"flags" yaml:"flags"`
	GUIDs             []string      `json:"guids,omitempty" yaml:"guids,omitempty"`
	Icons             []string      `json:"icons,omitempty" yaml:"icons,omitempty"`
	Checksums         []string      `json:"checksums,omitempty" yaml:"checksums,omitempty"`
	FlashesLeft       uint32        `json:"flashesLeft,omitempty" yaml:"flashesLeft,omitempty"`
	InstallDuration   time.Duration `json:"installDuration,omitempty" yaml:"installDuration,omitempty"`
	Created           time.Time     `json:"created,omitempty" yaml:"created,omitempty"`
	Modified          time.Time     `json:"modified,omitempty" yaml:"modified,omitempty"`
	UpdateState       UpdateState   `json:"updateState,omitempty" yaml:"updateState,omitempty"`
	UpdateError       string        `json:"updateError,omitempty" yaml:"updateError,omitempty"`
	UpdateMessage     string        `json:"updateMessage,omitempty" yaml:"updateMessage,omitempty"`
}

// IsUpdatable reports whether the daemon can update the device.
func (d Device) IsUpdatable() bool {
	return d.Flags.Has(DeviceFlagUpdatable)
}

func decodeDevice(d dict) Device {
	return Device{
		ID:                d.str("DeviceId"),
		ParentID:          d.str("ParentDeviceId"),
		Name:              d.str("Name"),
		Vendor:            d.str("Vendor"),
		VendorID:          d.str("VendorId"),
		Summary:           d.str("Summary"),
		Description:       d.str("Description"),
		Plugin:            d.str("Plugin"),
		Protocol:          d.str("Protocol"),
		Serial:            d.str("Serial"),
		Version:           d.str("Version"),
		VersionLowest:     d.str("VersionLowest"),
		VersionBootloader: d.str("VersionBootloader"),
		Flags:             DeviceFlags(d.u64("Flags")),
		GUIDs:             d.strs("Guid"),
		Icons:             d.strs("Icon"),
		Checksums:         d.strs("Checksum"),
		FlashesLeft:       d.u32("FlashesLeft"),
		InstallDuration:   d.seconds("InstallDuration"),
		Created:           d.timestamp("Created"),
		Modified:          d.timestamp("Modified"),
		UpdateState:       UpdateState(d.u32("UpdateState")),
		UpdateError:       d.str("UpdateError"),
		UpdateMessage:     d.str("UpdateMessage"),
	}
}
