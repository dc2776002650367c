package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// legacyGadgetDir is the fixed android_usb sysfs tree predating ConfigFS.
// It exposes a single composition with one mass-storage LUN, so no dynamic
// path resolution is needed.
const legacyGadgetDir = "/sys/devices/virtual/android_usb/android0"

type legacyConfigurator struct {
	fs    afero.Fs
	run   Runner
	alloc *LoopAllocator
	clean *Cleaner
	clock clockwork.Clock
	cfg   Config
}

func (l *legacyConfigurator) name() string { return "legacy" }

func (l *legacyConfigurator) configure(ctx context.Context, env ResolvedEnvironment, req MountRequest) MountOutcome {
	if !fileExists(l.fs, filepath.Join(legacyGadgetDir, "enable")) {
		return failure("legacy android_usb gadget not present")
	}
	if env.UDCName == "" {
		return failure("no USB device controller found under %s", udcClassDir)
	}
	if env.LosetupBin == "" {
		return failure("no working loop-setup binary found")
	}
	loopDevice := l.alloc.Acquire(ctx, env.LosetupBin)
	if loopDevice == "" {
		return failure("no free loop device available")
	}

	fileNode := filepath.Join(legacyGadgetDir, "f_mass_storage", "lun", "file")

	prepare := []Step{
		step("echo 0 > %s", shellQuote(filepath.Join(legacyGadgetDir, "enable"))),
		tolerant("echo '' > %s", shellQuote(fileNode)),
		// The ro node is read-only on some builds until re-chmodded.
		tolerant("chmod 0644 %s", shellQuote(filepath.Join(legacyGadgetDir, "f_mass_storage", "lun", "ro"))),
		tolerant("echo 1 > %s", shellQuote(filepath.Join(legacyGadgetDir, "f_mass_storage", "lun", "ro"))),
	}
	if res := l.run.Run(ctx, prepare); !res.OK {
		return cleanupAndFail(ctx, l.clean, loopDevice, "prepare legacy gadget: %s", res.Output())
	}

	b := &binder{run: l.run, alloc: l.alloc}
	bound := b.bind(ctx, fileNode, req.ImagePath, env.LosetupBin, loopDevice)
	if bound.kind == bindFailed {
		return cleanupAndFail(ctx, l.clean, loopDevice, "bind image: %s", bound.diag)
	}
	if err := verifyBind(l.fs, fileNode, req.ImagePath, bound); err != nil {
		return cleanupAndFail(ctx, l.clean, loopDevice, "verify bind: %v", err)
	}

	activate := []Step{
		step("echo mass_storage > %s", shellQuote(filepath.Join(legacyGadgetDir, "functions"))),
		step("sync"),
	}
	if res := l.run.Run(ctx, activate); !res.OK {
		return cleanupAndFail(ctx, l.clean, loopDevice, "set mass_storage composition: %s", res.Output())
	}

	l.clock.Sleep(time.Duration(l.cfg.SettleMillis) * time.Millisecond)

	if res := runOne(ctx, l.run, "echo 1 > "+shellQuote(filepath.Join(legacyGadgetDir, "enable"))); !res.OK {
		return cleanupAndFail(ctx, l.clean, loopDevice, "enable legacy gadget: %s", res.Output())
	}

	outcome := MountOutcome{
		Success: true,
		Message: "mounted " + req.ImagePath + " via legacy android_usb",
	}
	if bound.kind == bindLoop {
		outcome.LoopDevice = bound.loopDevice
	}
	return outcome
}
