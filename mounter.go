package main

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Mounter is the orchestration core: it sequences probe, method selection,
// gadget configuration, record persistence and cleanup. It assumes the
// caller runs at most one mount or unmount at a time; the CLI upholds that
// by running one process per action.
type Mounter struct {
	fs    afero.Fs
	run   Runner
	store *Store
	clean *Cleaner
	alloc *LoopAllocator
	probe *Probe
	clock clockwork.Clock
	cfg   Config
}

func NewMounter(fs afero.Fs, run Runner, store *Store, clock clockwork.Clock, cfg Config) *Mounter {
	return &Mounter{
		fs:    fs,
		run:   run,
		store: store,
		clean: NewCleaner(run),
		alloc: NewLoopAllocator(run, cfg.Loop.MaxNodes),
		probe: NewProbe(fs, run),
		clock: clock,
		cfg:   cfg,
	}
}

// Mount exposes the requested image to the host. All expected failures are
// reported as an unsuccessful outcome; the persisted record is only written
// once a method has fully succeeded.
func (m *Mounter) Mount(ctx context.Context, req MountRequest) MountOutcome {
	// Pre-flight checks run before any privileged command so a rejected
	// request has no state to clean up.
	if err := validateImage(m.fs, req.ImagePath); err != nil {
		return failure("invalid image: %v", err)
	}
	if req.LUN < 0 {
		return failure("invalid logical unit index %d", req.LUN)
	}

	current, err := m.store.Load()
	if err != nil {
		return failure("read mount state: %v", err)
	}
	if current != nil {
		if current.ImagePath == req.ImagePath {
			return failure("%s is already mounted, unmount it first", req.ImagePath)
		}
		return failure("another image is mounted (%s), unmount it first", current.ImagePath)
	}

	// Kernel state may have changed since the last attempt; resolve fresh.
	env := m.probe.Resolve(ctx, req.LUN)

	var outcome MountOutcome
	if req.Method == MethodAuto {
		outcome = m.mountAuto(ctx, env, req)
	} else {
		c, ok := m.configurators()[req.Method]
		if !ok {
			return failure("unknown mount method %s", req.Method)
		}
		log.Info().Str("method", c.name()).Str("image", req.ImagePath).Msg("mounting")
		outcome = c.configure(ctx, env, req)
	}

	if !outcome.Success {
		return outcome
	}

	// Writing the record is the transition into Active and the last step.
	rec := MountRecord{
		ImagePath:  req.ImagePath,
		LoopDevice: outcome.LoopDevice,
		LUN:        strconv.Itoa(req.LUN),
		MountedAt:  m.clock.Now().UnixMilli(),
	}
	if err := m.store.Save(rec); err != nil {
		m.clean.Run(ctx, outcome.LoopDevice)
		return failure("persist mount record: %v", err)
	}

	log.Info().Str("image", req.ImagePath).Str("loopDevice", outcome.LoopDevice).Msg("mount complete")
	return outcome
}

// mountAuto walks the fixed fallback chain and returns the first success,
// or the last failure when every method fails. The vendor method is never
// part of the chain; it must be requested explicitly.
func (m *Mounter) mountAuto(ctx context.Context, env ResolvedEnvironment, req MountRequest) MountOutcome {
	chain := []Method{MethodConfigFS, MethodLegacy, MethodLoopback}
	configurators := m.configurators()

	var outcome MountOutcome
	for _, method := range chain {
		c := configurators[method]
		log.Info().Str("method", c.name()).Str("image", req.ImagePath).Msg("mounting")
		outcome = c.configure(ctx, env, req)
		if outcome.Success {
			return outcome
		}
		log.Warn().Str("method", c.name()).Str("reason", outcome.Message).Msg("method failed, trying next")
	}
	return outcome
}

// Unmount tears down whatever the persisted record says is active and
// clears the record. Without a record there is nothing to do and no
// commands are issued.
func (m *Mounter) Unmount(ctx context.Context) MountOutcome {
	rec, err := m.store.Load()
	if err != nil {
		return failure("read mount state: %v", err)
	}
	if rec == nil {
		return failure("nothing mounted")
	}

	log.Info().Str("image", rec.ImagePath).Str("loopDevice", rec.LoopDevice).Msg("unmounting")
	m.clean.Run(ctx, rec.LoopDevice)

	if err := m.store.Clear(); err != nil {
		return failure("clear mount record: %v", err)
	}

	return MountOutcome{
		Success:    true,
		Message:    "unmounted " + rec.ImagePath,
		LoopDevice: rec.LoopDevice,
	}
}

// Status reports the persisted record, if any.
func (m *Mounter) Status() (*MountRecord, error) {
	return m.store.Load()
}

func (m *Mounter) configurators() map[Method]configurator {
	return map[Method]configurator{
		MethodConfigFS: &configfsConfigurator{
			fs: m.fs, run: m.run, alloc: m.alloc, clean: m.clean, clock: m.clock, cfg: m.cfg,
		},
		MethodLegacy: &legacyConfigurator{
			fs: m.fs, run: m.run, alloc: m.alloc, clean: m.clean, clock: m.clock, cfg: m.cfg,
		},
		MethodLoopback: &loopbackConfigurator{
			run: m.run, alloc: m.alloc, clean: m.clean,
		},
		MethodVendor: &vendorConfigurator{
			fs: m.fs, run: m.run, alloc: m.alloc, clean: m.clean,
		},
	}
}

// ListImages enumerates the images directory, the conventional place the
// storage collaborator drops ISO/IMG files.
func (m *Mounter) ListImages() ([]string, error) {
	entries, err := afero.ReadDir(m.fs, m.cfg.ImagesDir())
	if err != nil {
		return nil, err
	}
	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".iso" || ext == ".img" || ext == ".ISO" || ext == ".IMG" {
			images = append(images, filepath.Join(m.cfg.ImagesDir(), entry.Name()))
		}
	}
	return images, nil
}
