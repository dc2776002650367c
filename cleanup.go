package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Cleaner reverses gadget state defensively. It runs on explicit unmount
// and after any failed mount attempt, and it tears down every known kernel
// facility, not just the one the active method used: a previous run may
// have left inconsistent state behind via a different method.
//
// Every step tolerates failure, which makes the whole sequence idempotent.
type Cleaner struct {
	run Runner
}

func NewCleaner(run Runner) *Cleaner {
	return &Cleaner{run: run}
}

// Run executes the full teardown. loopDevice is the best-known loop device
// to detach; empty means no loop device was involved (the detach steps are
// skipped rather than issued against nothing).
func (c *Cleaner) Run(ctx context.Context, loopDevice string) RunResult {
	steps := c.steps(loopDevice)
	log.Debug().Int("steps", len(steps)).Str("loopDevice", loopDevice).Msg("running cleanup")
	return c.run.Run(ctx, steps)
}

func (c *Cleaner) steps(loopDevice string) []Step {
	var steps []Step

	// ConfigFS gadgets under every known root: unbind the controller,
	// unlink the function from every configuration, remove the function
	// directories.
	for _, root := range configfsRoots {
		gadgets := filepath.Join(root, "usb_gadget")
		steps = append(steps,
			tolerant("for g in %s/*; do echo '' > \"$g\"/UDC; done", gadgets),
		)
		for _, fn := range functionNames {
			steps = append(steps,
				tolerant("rm -f %s/*/configs/*/%s", gadgets, fn),
				tolerant("rmdir %s/*/functions/%s", gadgets, fn),
			)
		}
	}

	// Legacy android_usb tree: disable, clear the backing file, restore
	// the default composition (storage plus debug bridge), re-enable.
	steps = append(steps,
		tolerant("echo 0 > %s/enable", legacyGadgetDir),
		tolerant("echo '' > %s/f_mass_storage/lun/file", legacyGadgetDir),
		tolerant("echo mass_storage,adb > %s/functions", legacyGadgetDir),
		tolerant("echo 1 > %s/enable", legacyGadgetDir),
	)

	// Vendor fixed-layout gadgets: clear every lun0 backing file and
	// reconnect the controller.
	steps = append(steps,
		tolerant("for u in %s/*; do echo '' > \"$u\"/device/gadget/lun0/file; done", udcClassDir),
		tolerant("for u in %s/*; do echo connect > \"$u\"/soft_connect; done", udcClassDir),
	)

	// Detach the loop device under every known loop-utility name; only
	// one of them exists on any given device.
	if loopDevice != "" {
		for _, bin := range losetupCandidates {
			steps = append(steps, tolerant("%s -d %s", bin, loopDevice))
		}
	}

	return steps
}

// cleanupAndFail runs the cleaner and wraps a diagnostic into a failed
// outcome. Used by configurators after an execution failure so no orphaned
// gadget or loop state survives the attempt.
func cleanupAndFail(ctx context.Context, c *Cleaner, loopDevice, format string, args ...any) MountOutcome {
	c.Run(ctx, loopDevice)
	return failure("%s", fmt.Sprintf(format, args...))
}
