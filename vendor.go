package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"
)

// vendorConfigurator drives a vendor kernel's prebuilt gadget, exposed as a
// fixed layout under /sys/class/udc/<udc>/device/gadget. There is nothing
// to compose; only the backing file and the soft-connect state are ours to
// touch, and the LUN flags are whatever the vendor baked in.
type vendorConfigurator struct {
	fs    afero.Fs
	run   Runner
	alloc *LoopAllocator
	clean *Cleaner
}

func (v *vendorConfigurator) name() string { return "vendor" }

func (v *vendorConfigurator) configure(ctx context.Context, env ResolvedEnvironment, req MountRequest) MountOutcome {
	if env.UDCName == "" {
		return failure("no USB device controller found under %s", udcClassDir)
	}
	gadgetDir := filepath.Join(udcClassDir, env.UDCName, "device", "gadget")
	fileNode := filepath.Join(gadgetDir, "lun0", "file")
	if !fileExists(v.fs, fileNode) {
		return failure("no vendor gadget LUN at %s", fileNode)
	}
	if env.LosetupBin == "" {
		return failure("no working loop-setup binary found")
	}
	loopDevice := v.alloc.Acquire(ctx, env.LosetupBin)
	if loopDevice == "" {
		return failure("no free loop device available")
	}

	softConnect := filepath.Join(udcClassDir, env.UDCName, "soft_connect")
	prepare := []Step{
		tolerant("echo disconnect > %s", shellQuote(softConnect)),
		step("echo '' > %s", shellQuote(fileNode)),
	}
	if res := v.run.Run(ctx, prepare); !res.OK {
		return cleanupAndFail(ctx, v.clean, loopDevice, "prepare vendor gadget: %s", res.Output())
	}

	b := &binder{run: v.run, alloc: v.alloc}
	bound := b.bind(ctx, fileNode, req.ImagePath, env.LosetupBin, loopDevice)
	if bound.kind == bindFailed {
		return cleanupAndFail(ctx, v.clean, loopDevice, "bind image: %s", bound.diag)
	}
	if err := verifyBind(v.fs, fileNode, req.ImagePath, bound); err != nil {
		return cleanupAndFail(ctx, v.clean, loopDevice, "verify bind: %v", err)
	}

	if res := runOne(ctx, v.run, "echo connect > "+shellQuote(softConnect)); !res.OK {
		return cleanupAndFail(ctx, v.clean, loopDevice, "reconnect controller: %s", res.Output())
	}

	outcome := MountOutcome{
		Success: true,
		Message: "mounted " + req.ImagePath + " via vendor gadget",
	}
	if bound.kind == bindLoop {
		outcome.LoopDevice = bound.loopDevice
	}
	return outcome
}
