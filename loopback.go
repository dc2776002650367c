package main

import "context"

// loopbackConfigurator only attaches the image to a loop device read-only.
// No gadget is composed and nothing is exposed over USB; it exists for
// local testing and as the last rung of the auto fallback chain.
type loopbackConfigurator struct {
	run   Runner
	alloc *LoopAllocator
	clean *Cleaner
}

func (l *loopbackConfigurator) name() string { return "loopback" }

func (l *loopbackConfigurator) configure(ctx context.Context, env ResolvedEnvironment, req MountRequest) MountOutcome {
	if env.LosetupBin == "" {
		return failure("no working loop-setup binary found")
	}
	loopDevice := l.alloc.Acquire(ctx, env.LosetupBin)
	if loopDevice == "" {
		return failure("no free loop device available")
	}

	if res := l.alloc.Attach(ctx, env.LosetupBin, loopDevice, req.ImagePath); !res.OK {
		return cleanupAndFail(ctx, l.clean, loopDevice, "attach loop device: %s", res.Output())
	}

	return MountOutcome{
		Success:    true,
		Message:    "attached " + req.ImagePath + " to " + loopDevice + " (no USB exposure)",
		LoopDevice: loopDevice,
	}
}
