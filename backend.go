package main

import (
	"context"
	"fmt"
)

// Method selects how the image is exposed to the host.
type Method int

const (
	// MethodAuto tries ConfigFS, then Legacy, then Loopback.
	MethodAuto Method = iota
	// MethodConfigFS composes a gadget under the configfs usb_gadget tree.
	MethodConfigFS
	// MethodLegacy drives the fixed android_usb sysfs tree.
	MethodLegacy
	// MethodLoopback only attaches the image to a loop device, no USB
	// exposure. Used for local testing.
	MethodLoopback
	// MethodVendor drives a vendor kernel's prebuilt gadget under
	// /sys/class/udc. Never part of the auto chain.
	MethodVendor
)

func (m Method) String() string {
	switch m {
	case MethodAuto:
		return "auto"
	case MethodConfigFS:
		return "configfs"
	case MethodLegacy:
		return "legacy"
	case MethodLoopback:
		return "loopback"
	case MethodVendor:
		return "vendor"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// ParseMethod maps a CLI method name onto a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "auto":
		return MethodAuto, nil
	case "configfs":
		return MethodConfigFS, nil
	case "legacy", "sysfs":
		return MethodLegacy, nil
	case "loopback":
		return MethodLoopback, nil
	case "vendor", "udc":
		return MethodVendor, nil
	}
	return MethodAuto, fmt.Errorf("unknown method %q (valid: auto, configfs, legacy, loopback, vendor)", s)
}

// Mode is the presentation policy for the exposed logical unit.
type Mode int

const (
	// ModeReadOnlyDisk exposes the image as a read-only disk (ro=1, cdrom=0).
	ModeReadOnlyDisk Mode = iota
	// ModeOptical exposes the image as a CD-ROM (ro=1, cdrom=1).
	//
	// Deprecated: optical presentation is kept for existing invocations
	// and will be removed.
	ModeOptical
)

func (m Mode) String() string {
	if m == ModeOptical {
		return "optical"
	}
	return "read-only disk"
}

// MountRequest describes one mount attempt.
type MountRequest struct {
	ImagePath string
	Method    Method
	Mode      Mode
	LUN       int
}

// MountOutcome is always returned from a mount or unmount attempt. Expected
// failures (missing binaries, missing controller, command failure) are
// Success=false with a diagnostic message, never a Go error.
type MountOutcome struct {
	Message    string
	LoopDevice string
	Success    bool
}

func failure(format string, args ...any) MountOutcome {
	return MountOutcome{Message: fmt.Sprintf(format, args...)}
}

// ResolvedEnvironment is what the probe discovered for a single mount
// attempt. Kernel state can change between calls, so it is produced fresh
// per attempt and never cached.
type ResolvedEnvironment struct {
	ConfigfsRoot string
	GadgetPath   string
	FunctionPath string
	LunPath      string
	UDCName      string
	LosetupBin   string
}

// configurator is the common contract each mount method implements. It
// emits and executes the method's privileged command sequence.
type configurator interface {
	name() string
	configure(ctx context.Context, env ResolvedEnvironment, req MountRequest) MountOutcome
}
