package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

const gadgetLang = "0x409"

// configfsConfigurator composes a mass-storage gadget under the configfs
// usb_gadget tree: clean slate, descriptors, per-LUN flags, backing-store
// bind, then function link and controller activation.
type configfsConfigurator struct {
	fs    afero.Fs
	run   Runner
	alloc *LoopAllocator
	clean *Cleaner
	clock clockwork.Clock
	cfg   Config
}

func (c *configfsConfigurator) name() string { return "configfs" }

func (c *configfsConfigurator) configure(ctx context.Context, env ResolvedEnvironment, req MountRequest) MountOutcome {
	// Prerequisites are checked before any mutation so a failed attempt
	// here never needs cleanup.
	if env.ConfigfsRoot == "" {
		return failure("no usable configfs root found")
	}
	if env.GadgetPath == "" || env.FunctionPath == "" || env.LunPath == "" {
		return failure("could not resolve gadget paths under %s", env.ConfigfsRoot)
	}
	if env.UDCName == "" {
		return failure("no USB device controller found under %s", udcClassDir)
	}
	if env.LosetupBin == "" {
		return failure("no working loop-setup binary found")
	}
	loopDevice := c.alloc.Acquire(ctx, env.LosetupBin)
	if loopDevice == "" {
		return failure("no free loop device available")
	}

	if res := c.run.Run(ctx, c.prepareSteps(env, req)); !res.OK {
		return cleanupAndFail(ctx, c.clean, loopDevice, "configure gadget: %s", res.Output())
	}

	fileNode := filepath.Join(env.LunPath, "file")
	b := &binder{run: c.run, alloc: c.alloc}
	bound := b.bind(ctx, fileNode, req.ImagePath, env.LosetupBin, loopDevice)
	if bound.kind == bindFailed {
		return cleanupAndFail(ctx, c.clean, loopDevice, "bind image: %s", bound.diag)
	}
	if err := verifyBind(c.fs, fileNode, req.ImagePath, bound); err != nil {
		return cleanupAndFail(ctx, c.clean, loopDevice, "verify bind: %v", err)
	}

	if res := c.run.Run(ctx, c.linkSteps(env)); !res.OK {
		return cleanupAndFail(ctx, c.clean, loopDevice, "link function: %s", res.Output())
	}

	// The kernel registers the linked function asynchronously; give it a
	// moment to settle before binding the controller.
	c.clock.Sleep(time.Duration(c.cfg.SettleMillis) * time.Millisecond)

	if res := runOne(ctx, c.run, "echo "+env.UDCName+" > "+shellQuote(filepath.Join(env.GadgetPath, "UDC"))); !res.OK {
		return cleanupAndFail(ctx, c.clean, loopDevice, "activate controller %s: %s", env.UDCName, res.Output())
	}

	outcome := MountOutcome{
		Success: true,
		Message: "mounted " + req.ImagePath + " via configfs",
	}
	if bound.kind == bindLoop {
		outcome.LoopDevice = bound.loopDevice
	}
	return outcome
}

// prepareSteps tears down any stale gadget function and recreates the
// directory skeleton, descriptors and per-LUN flags. Teardown steps
// tolerate failure: there may be nothing to tear down.
func (c *configfsConfigurator) prepareSteps(env ResolvedEnvironment, req MountRequest) []Step {
	gadget := env.GadgetPath
	function := env.FunctionPath
	fnName := filepath.Base(function)
	configDir := filepath.Join(gadget, "configs", "c.1")

	steps := []Step{
		// Clean slate regardless of prior state.
		tolerant("echo '' > %s", shellQuote(filepath.Join(gadget, "UDC"))),
		tolerant("rm -f %s/configs/*/%s", gadget, fnName),
		tolerant("rmdir %s", shellQuote(function)),

		step("mkdir -p %s", shellQuote(filepath.Join(gadget, "strings", gadgetLang))),
		step("mkdir -p %s", shellQuote(filepath.Join(configDir, "strings", gadgetLang))),
		step("mkdir -p %s", shellQuote(function)),
		step("mkdir -p %s", shellQuote(env.LunPath)),
	}

	steps = append(steps, c.descriptorSteps(gadget, configDir)...)

	// Per-LUN policy: always removable and read-only; optical presentation
	// additionally raises the cdrom flag.
	cdrom := "0"
	if req.Mode == ModeOptical {
		cdrom = "1"
	}
	lun := env.LunPath
	steps = append(steps,
		step("echo %s > %s", cdrom, shellQuote(filepath.Join(lun, "cdrom"))),
		step("echo 1 > %s", shellQuote(filepath.Join(lun, "ro"))),
		step("echo 1 > %s", shellQuote(filepath.Join(lun, "removable"))),
		tolerant("echo 1 > %s", shellQuote(filepath.Join(lun, "nofua"))),
	)

	return steps
}

// descriptorSteps writes device descriptor fields only when they are not
// already populated, to avoid overwriting descriptors set by other tooling.
func (c *configfsConfigurator) descriptorSteps(gadget, configDir string) []Step {
	var steps []Step

	descriptors := []struct {
		node  string
		value string
	}{
		{filepath.Join(gadget, "idVendor"), c.cfg.Gadget.VendorID},
		{filepath.Join(gadget, "idProduct"), c.cfg.Gadget.ProductID},
		{filepath.Join(gadget, "strings", gadgetLang, "manufacturer"), c.cfg.Gadget.Manufacturer},
		{filepath.Join(gadget, "strings", gadgetLang, "product"), c.cfg.Gadget.Product},
		{filepath.Join(gadget, "strings", gadgetLang, "serialnumber"), c.cfg.Gadget.Serial},
		{filepath.Join(configDir, "strings", gadgetLang, "configuration"), "Config 1"},
	}

	for _, d := range descriptors {
		if value, err := readSysFile(c.fs, d.node); err == nil && value != "" && value != "0x0000" {
			continue
		}
		steps = append(steps, tolerant("echo %s > %s", shellQuote(d.value), shellQuote(d.node)))
	}

	return steps
}

// linkSteps symlinks the function into the gadget configuration and syncs
// the filesystem ahead of controller activation.
func (c *configfsConfigurator) linkSteps(env ResolvedEnvironment) []Step {
	configLink := filepath.Join(env.GadgetPath, "configs", "c.1", filepath.Base(env.FunctionPath))
	return []Step{
		tolerant("rm -f %s", shellQuote(configLink)),
		step("ln -s %s %s", shellQuote(env.FunctionPath), shellQuote(configLink)),
		step("sync"),
	}
}
