package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// LoopAllocator finds a free loop device through the resolved loop-setup
// binary. On some kernels loop nodes are not auto-created at boot, so a
// failed first ask is followed by one provision-and-retry pass that
// materializes the loop-control node and block nodes 0..maxNodes-1.
type LoopAllocator struct {
	run      Runner
	maxNodes int
}

func NewLoopAllocator(run Runner, maxNodes int) *LoopAllocator {
	if maxNodes <= 0 {
		maxNodes = 8
	}
	return &LoopAllocator{run: run, maxNodes: maxNodes}
}

// Acquire returns the first free loop device node, or an empty string if
// none could be found even after provisioning.
func (a *LoopAllocator) Acquire(ctx context.Context, losetupBin string) string {
	if dev := a.ask(ctx, losetupBin); dev != "" {
		return dev
	}

	log.Debug().Msg("no free loop device reported, provisioning loop nodes")
	a.provision(ctx)

	return a.ask(ctx, losetupBin)
}

func (a *LoopAllocator) ask(ctx context.Context, losetupBin string) string {
	res := runOne(ctx, a.run, fmt.Sprintf("%s -f", losetupBin))
	if !res.OK {
		return ""
	}
	dev := strings.TrimSpace(res.Stdout)
	if !strings.HasPrefix(dev, "/dev/") {
		return ""
	}
	// Some builds print extra lines; take the first.
	if i := strings.IndexByte(dev, '\n'); i >= 0 {
		dev = strings.TrimSpace(dev[:i])
	}
	return dev
}

// provision recreates loop device nodes. Every step tolerates failure
// because the nodes may already exist.
func (a *LoopAllocator) provision(ctx context.Context) {
	steps := []Step{
		tolerant("mknod /dev/loop-control c 10 237"),
	}
	for i := 0; i < a.maxNodes; i++ {
		steps = append(steps, tolerant("mknod /dev/loop%d b 7 %d", i, i))
	}
	a.run.Run(ctx, steps)
}

// Attach binds image read-only to the given loop device.
func (a *LoopAllocator) Attach(ctx context.Context, losetupBin, device, image string) RunResult {
	return runOne(ctx, a.run, fmt.Sprintf("%s -r %s %s", losetupBin, device, shellQuote(image)))
}
