package fwupd

import (
	"fmt"
	"strings"
)

// Status is the daemon's current activity.
type Status uint32

const (
	StatusUnknown Status = iota
	StatusIdle
	StatusLoading
	StatusDecompressing
	StatusDeviceRestart
	StatusDeviceWrite
	StatusDeviceVerify
	StatusScheduling
	StatusDownloading
	StatusDeviceRead
	StatusDeviceErase
	StatusWaitingForAuth
	StatusDeviceBusy
	StatusShutdown
	StatusWaitingForUser
)

var statusNames = []string{
	"unknown",
	"idle",
	"loading",
	"decompressing",
	"device-restart",
	"device-write",
	"device-verify",
	"scheduling",
	"downloading",
	"device-read",
	"device-erase",
	"waiting-for-auth",
	"device-busy",
	"shutdown",
	"waiting-for-user",
}

func (s Status) String() string {
	return enumName(statusNames, uint32(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UpdateState is the outcome of the last update of a device.
type UpdateState uint32

const (
	UpdateStateUnknown UpdateState = iota
	UpdateStatePending
	UpdateStateSuccess
	UpdateStateFailed
	UpdateStateNeedsReboot
	UpdateStateFailedTransient
)

var updateStateNames = []string{
	"unknown",
	"pending",
	"success",
	"failed",
	"needs-reboot",
	"failed-transient",
}

func (s UpdateState) String() string {
	return enumName(updateStateNames, uint32(s))
}

func (s UpdateState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Urgency of a release as rated by the vendor.
type Urgency uint32

const (
	UrgencyUnknown Urgency = iota
	UrgencyLow
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

var urgencyNames = []string{"unknown", "low", "medium", "high", "critical"}

func (u Urgency) String() string {
	return enumName(urgencyNames, uint32(u))
}

func (u Urgency) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func enumName(names []string, v uint32) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("unknown(%d)", v)
}

// DeviceFlags is the device flag bitset.
type DeviceFlags uint64

const (
	DeviceFlagInternal DeviceFlags = 1 << iota
	DeviceFlagUpdatable
	DeviceFlagOnlyOffline
	DeviceFlagRequireAC
	DeviceFlagLocked
	DeviceFlagSupported
	DeviceFlagNeedsBootloader
	DeviceFlagRegistered
	DeviceFlagNeedsReboot
	DeviceFlagReported
	DeviceFlagNotified
	DeviceFlagUseRuntimeVersion
	DeviceFlagInstallParentFirst
	DeviceFlagIsBootloader
	DeviceFlagWaitForReplug
	DeviceFlagIgnoreValidation
	DeviceFlagTrusted
	DeviceFlagNeedsShutdown
	DeviceFlagAnotherWriteRequired
	DeviceFlagNoAutoInstanceIDs
	DeviceFlagNeedsActivation
	DeviceFlagEnsureSemver
	DeviceFlagHistorical
	DeviceFlagOnlySupported
	DeviceFlagWillDisappear
	DeviceFlagCanVerify
	DeviceFlagCanVerifyImage
	DeviceFlagDualImage
	DeviceFlagSelfRecovery
	DeviceFlagUsableDuringUpdate
	DeviceFlagVersionCheckRequired
	DeviceFlagInstallAllReleases
)

var deviceFlagNames = []string{
	"internal",
	"updatable",
	"only-offline",
	"require-ac",
	"locked",
	"supported",
	"needs-bootloader",
	"registered",
	"needs-reboot",
	"reported",
	"notified",
	"use-runtime-version",
	"install-parent-first",
	"is-bootloader",
	"wait-for-replug",
	"ignore-validation",
	"trusted",
	"needs-shutdown",
	"another-write-required",
	"no-auto-instance-ids",
	"needs-activation",
	"ensure-semver",
	"historical",
	"only-supported",
	"will-disappear",
	"can-verify",
	"can-verify-image",
	"dual-image",
	"self-recovery",
	"usable-during-update",
	"version-check-required",
	"install-all-releases",
}

func (f DeviceFlags) Has(flag DeviceFlags) bool {
	return f&flag == flag
}

// Names lists set flags, lowest bit first. Bits without a known name are
// rendered as hex.
func (f DeviceFlags) Names() []string {
	var res []string
	for i := 0; i < 64; i++ {
		bit := DeviceFlags(1) << i
		if f&bit == 0 {
			continue
		}
		if i < len(deviceFlagNames) {
			res = append(res, deviceFlagNames[i])
		} else {
			res = append(res, fmt.Sprintf("0x%x", uint64(bit)))
		}
	}
	return res
}

func (f DeviceFlags) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}

func (f DeviceFlags) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// TrustFlags describe how a release payload was verified.
type TrustFlags uint64

const (
	TrustFlagPayload TrustFlags = 1 << iota
	TrustFlagMetadata
)

func (f TrustFlags) Has(flag TrustFlags) bool {
	return f&flag == flag
}
