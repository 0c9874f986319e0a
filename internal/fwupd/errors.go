package fwupd

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

var (
	ErrInternal           = errors.New("internal daemon error")
	ErrVersionNewer       = errors.New("installed version is newer")
	ErrVersionSame        = errors.New("installed version is the same")
	ErrAlreadyPending     = errors.New("update already pending")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrRead               = errors.New("read failed")
	ErrWrite              = errors.New("write failed")
	ErrInvalidFile        = errors.New("invalid file")
	ErrNotFound           = errors.New("not found")
	ErrNothingToDo        = errors.New("nothing to do")
	ErrNotSupported       = errors.New("not supported")
	ErrSignatureInvalid   = errors.New("signature invalid")
	ErrAcPowerRequired    = errors.New("AC power required")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrBrokenSystem       = errors.New("broken system")
	ErrBatteryLevelTooLow = errors.New("battery level too low")
	ErrNeedsUserAction    = errors.New("user action required")
	ErrAuthExpired        = errors.New("authentication expired")

	// ErrDaemonUnavailable means nothing owns the daemon's bus name.
	ErrDaemonUnavailable = errors.New("daemon is not running")

	ErrUnknownSignal = errors.New("unknown signal")
)

var errorKinds = map[string]error{
	Interface + ".Internal":           ErrInternal,
	Interface + ".VersionNewer":       ErrVersionNewer,
	Interface + ".VersionSame":        ErrVersionSame,
	Interface + ".AlreadyPending":     ErrAlreadyPending,
	Interface + ".AuthFailed":         ErrAuthFailed,
	Interface + ".Read":               ErrRead,
	Interface + ".Write":              ErrWrite,
	Interface + ".InvalidFile":        ErrInvalidFile,
	Interface + ".NotFound":           ErrNotFound,
	Interface + ".NothingToDo":        ErrNothingToDo,
	Interface + ".NotSupported":       ErrNotSupported,
	Interface + ".SignatureInvalid":   ErrSignatureInvalid,
	Interface + ".AcPowerRequired":    ErrAcPowerRequired,
	Interface + ".PermissionDenied":   ErrPermissionDenied,
	Interface + ".BrokenSystem":       ErrBrokenSystem,
	Interface + ".BatteryLevelTooLow": ErrBatteryLevelTooLow,
	Interface + ".NeedsUserAction":    ErrNeedsUserAction,
	Interface + ".AuthExpired":        ErrAuthExpired,

	"org.freedesktop.DBus.Error.UnknownProperty": ErrNotSupported,
	"org.freedesktop.DBus.Error.InvalidArgs":     ErrNotSupported,
	"org.freedesktop.DBus.Error.ServiceUnknown":  ErrDaemonUnavailable,
	"org.freedesktop.DBus.Error.NameHasNoOwner":  ErrDaemonUnavailable,
}

// DaemonError is an error reply received over the bus. It unwraps to one of
// the package sentinels when the error name is known.
type DaemonError struct {
	Name    string
	Message string

	kind error
}

func (e *DaemonError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func (e *DaemonError) Unwrap() error {
	return e.kind
}

func newDaemonError(name string, body []interface{}) *DaemonError {
	e := &DaemonError{
		Name: name,
		kind: errorKinds[name],
	}
	if len(body) > 0 {
		e.Message, _ = body[0].(string)
	}
	return e
}

// translate turns bus error replies into *DaemonError and passes every other
// error through.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return newDaemonError(ptr.Name, ptr.Body)
	}
	var val dbus.Error
	if errors.As(err, &val) {
		return newDaemonError(val.Name, val.Body)
	}
	return err
}
