package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// bindKind classifies how the backing store ended up bound to the gadget's
// logical unit.
type bindKind int

const (
	bindFailed bindKind = iota
	bindDirect
	bindLoop
)

// bindResult is the typed outcome of the direct-then-loop bind attempt, so
// the decision is testable without inspecting raw command exit codes.
type bindResult struct {
	kind       bindKind
	loopDevice string
	diag       string
}

// binder implements the central data-path decision: write the plain image
// path into the LUN file node first; if the kernel rejects it (some builds
// require a block device rather than a regular file), attach the image to
// the pre-acquired loop device read-only and write the loop path instead.
// Direct binding avoids loop-device exhaustion and latency where supported;
// loop binding is the portable fallback.
type binder struct {
	run   Runner
	alloc *LoopAllocator
}

func (b *binder) bind(ctx context.Context, fileNode, imagePath, losetupBin, loopDevice string) bindResult {
	res := runOne(ctx, b.run, "echo "+shellQuote(imagePath)+" > "+shellQuote(fileNode))
	if res.OK {
		log.Debug().Str("file", fileNode).Msg("bound image directly")
		return bindResult{kind: bindDirect}
	}
	log.Debug().Str("output", res.Output()).Msg("direct bind rejected, falling back to loop device")

	if res := b.alloc.Attach(ctx, losetupBin, loopDevice, imagePath); !res.OK {
		return bindResult{diag: "attach loop device: " + res.Output()}
	}

	if res := runOne(ctx, b.run, "echo "+shellQuote(loopDevice)+" > "+shellQuote(fileNode)); !res.OK {
		return bindResult{diag: "bind loop device: " + res.Output(), loopDevice: loopDevice}
	}

	return bindResult{kind: bindLoop, loopDevice: loopDevice}
}

// verifyBind reads the LUN file node back and compares it with the backing
// store that was just bound. Any readable content that differs — including
// an empty node — means the kernel did not accept the bind and the mount
// must fail. An unreadable node is inconclusive and accepted: configfs
// reads can be restricted in ways the writes were not.
func verifyBind(fs afero.Fs, fileNode, imagePath string, bound bindResult) error {
	want := imagePath
	if bound.kind == bindLoop {
		want = bound.loopDevice
	}
	got, err := readSysFile(fs, fileNode)
	if err != nil {
		log.Debug().Str("file", fileNode).Err(err).Msg("LUN file not readable, skipping readback check")
		return nil
	}
	if got != want {
		return fmt.Errorf("LUN file reads back %q, want %q", got, want)
	}
	return nil
}
