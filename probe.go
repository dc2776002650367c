package main

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Well-known ConfigFS mount points, in probe order. Android mounts configfs
// at /config on most devices; mainline kernels use /sys/kernel/config.
var configfsRoots = []string{
	"/sys/kernel/config",
	"/config",
	"/mnt/config",
}

// Mass-storage function directory names, in probe order. Kernel and vendor
// variants disagree on the instance suffix.
var functionNames = []string{
	"mass_storage.0",
	"mass_storage.usb0",
	"mass_storage.ms0",
}

// Loop-setup binary candidates, in probe order.
var losetupCandidates = []string{
	"losetup",
	"/system/bin/losetup",
	"busybox losetup",
	"toybox losetup",
}

const (
	udcClassDir   = "/sys/class/udc"
	gadgetDirName = "isodrive"
)

// Probe discovers which kernel facilities are available for a mount
// attempt. It is read-mostly: its only side effects are idempotent
// directory creation and mounting configfs when absent.
type Probe struct {
	fs  afero.Fs
	run Runner
}

func NewProbe(fs afero.Fs, run Runner) *Probe {
	return &Probe{fs: fs, run: run}
}

// Resolve produces a fresh environment snapshot. Every field is best-effort;
// absence is reported as an empty string and judged fatal (or not) by the
// method that consumes it.
func (p *Probe) Resolve(ctx context.Context, lun int) ResolvedEnvironment {
	var env ResolvedEnvironment

	env.ConfigfsRoot = p.FindConfigfsRoot(ctx)
	if env.ConfigfsRoot != "" {
		env.GadgetPath = p.ResolveGadgetPath(ctx, env.ConfigfsRoot)
		if env.GadgetPath != "" {
			env.FunctionPath = p.ResolveFunctionPath(env.GadgetPath)
			env.LunPath = p.ResolveLunPath(env.FunctionPath, lun)
		}
	}
	env.UDCName = p.ResolveUDCName()
	env.LosetupBin = p.ResolveLoopSetupBinary(ctx)

	log.Debug().
		Str("configfsRoot", env.ConfigfsRoot).
		Str("gadgetPath", env.GadgetPath).
		Str("functionPath", env.FunctionPath).
		Str("lunPath", env.LunPath).
		Str("udc", env.UDCName).
		Str("losetup", env.LosetupBin).
		Msg("environment resolved")

	return env
}

// FindConfigfsRoot returns the first usable ConfigFS root, mounting configfs
// at the first candidate if no candidate is usable as-is. Empty string means
// no root could be made available.
func (p *Probe) FindConfigfsRoot(ctx context.Context) string {
	if root := p.mountedConfigfs(); root != "" {
		return root
	}

	for _, root := range configfsRoots {
		if dirExists(p.fs, filepath.Join(root, "usb_gadget")) {
			return root
		}
	}

	// Not mounted anywhere. Try mounting it at the first candidate.
	root := configfsRoots[0]
	res := p.run.Run(ctx, []Step{
		tolerant("mkdir -p %s", shellQuote(root)),
		step("mount -t configfs none %s", shellQuote(root)),
	})
	if !res.OK {
		log.Debug().Str("root", root).Str("output", res.Output()).Msg("mounting configfs failed")
		return ""
	}
	if dirExists(p.fs, filepath.Join(root, "usb_gadget")) || dirExists(p.fs, root) {
		return root
	}
	return ""
}

// mountedConfigfs scans /proc/mounts for an existing configfs mount.
func (p *Probe) mountedConfigfs() string {
	file, err := p.fs.Open("/proc/mounts")
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 3 && fields[2] == "configfs" {
			return fields[1]
		}
	}
	return ""
}

// ResolveGadgetPath reuses an existing gadget directory under
// root/usb_gadget if one is present; reusing avoids colliding with state
// left by other gadget software. A gadget with a populated UDC node is the
// active one and wins over leftover inactive directories. Otherwise it
// creates a gadget directory with a fixed name.
func (p *Probe) ResolveGadgetPath(ctx context.Context, root string) string {
	gadgetRoot := filepath.Join(root, "usb_gadget")

	entries, err := afero.ReadDir(p.fs, gadgetRoot)
	if err == nil {
		first := ""
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			path := filepath.Join(gadgetRoot, entry.Name())
			if first == "" {
				first = path
			}
			if udc, err := readSysFile(p.fs, filepath.Join(path, "UDC")); err == nil && udc != "" {
				return path
			}
		}
		if first != "" {
			return first
		}
	}

	gadgetPath := filepath.Join(gadgetRoot, gadgetDirName)
	res := p.run.Run(ctx, []Step{step("mkdir -p %s", shellQuote(gadgetPath))})
	if !res.OK {
		log.Debug().Str("path", gadgetPath).Str("output", res.Output()).Msg("creating gadget directory failed")
		return ""
	}
	return gadgetPath
}

// ResolveFunctionPath returns the mass-storage function directory to use:
// the first known name that already exists, else the first candidate (to be
// created by the configurator).
func (p *Probe) ResolveFunctionPath(gadgetPath string) string {
	functionsDir := filepath.Join(gadgetPath, "functions")
	for _, name := range functionNames {
		if dirExists(p.fs, filepath.Join(functionsDir, name)) {
			return filepath.Join(functionsDir, name)
		}
	}
	return filepath.Join(functionsDir, functionNames[0])
}

// ResolveLunPath prefers the indexed lun.N layout and falls back to the
// flat "lun" directory some kernels expose instead.
func (p *Probe) ResolveLunPath(functionPath string, lun int) string {
	indexed := filepath.Join(functionPath, fmt.Sprintf("lun.%d", lun))
	if dirExists(p.fs, indexed) {
		return indexed
	}
	flat := filepath.Join(functionPath, "lun")
	if dirExists(p.fs, flat) {
		return flat
	}
	return indexed
}

// ResolveUDCName returns the first bound USB Device Controller, or empty.
// Absence is fatal for the configfs and legacy methods but irrelevant for
// loopback-only mounting.
func (p *Probe) ResolveUDCName() string {
	entries, err := afero.ReadDir(p.fs, udcClassDir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		return entry.Name()
	}
	return ""
}

// ResolveLoopSetupBinary probes candidate loop-setup binaries by invoking
// each with a help flag and checking the combined output for loop-related
// text. Help output often lands on stderr with a non-zero exit, so the
// probe inspects output rather than exit status.
func (p *Probe) ResolveLoopSetupBinary(ctx context.Context) string {
	for _, candidate := range losetupCandidates {
		res := p.run.Run(ctx, []Step{tolerant("%s --help 2>&1", candidate)})
		combined := strings.ToLower(res.Stdout + res.Stderr)
		if strings.Contains(combined, "loop") {
			return candidate
		}
	}
	return ""
}
