package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopAllocator_Acquire(t *testing.T) {
	t.Parallel()

	t.Run("returns_first_free_device", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		run.on("losetup -f", fakeResponse{stdout: "/dev/loop3\n"})
		alloc := NewLoopAllocator(run, 8)

		dev := alloc.Acquire(context.Background(), "losetup")

		assert.Equal(t, "/dev/loop3", dev)
		assert.False(t, run.ran("mknod"), "no provisioning when a device is free")
	})

	t.Run("provisions_nodes_and_retries_once", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		// Both asks report no free device; the interesting part is the
		// provisioning pass and the single retry in between.
		run.on("losetup -f", fakeResponse{stdout: ""})
		alloc := NewLoopAllocator(run, 4)

		dev := alloc.Acquire(context.Background(), "losetup")

		assert.Empty(t, dev)
		assert.True(t, run.ran("mknod /dev/loop-control c 10 237"))
		assert.True(t, run.ran("mknod /dev/loop0 b 7 0"))
		assert.True(t, run.ran("mknod /dev/loop3 b 7 3"))
		assert.False(t, run.ran("mknod /dev/loop4"), "provisioning is bounded by max nodes")

		asks := 0
		for _, cmd := range run.executed {
			if cmd == "losetup -f" {
				asks++
			}
		}
		assert.Equal(t, 2, asks, "exactly one retry after provisioning")
	})

	t.Run("rejects_output_that_is_not_a_device_path", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		run.on("losetup -f", fakeResponse{stdout: "losetup: applet not found\n"})
		alloc := NewLoopAllocator(run, 2)

		dev := alloc.Acquire(context.Background(), "losetup")

		assert.Empty(t, dev)
	})

	t.Run("takes_first_line_of_multi_line_output", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		run.on("losetup -f", fakeResponse{stdout: "/dev/loop0\nsome trailing noise\n"})
		alloc := NewLoopAllocator(run, 2)

		dev := alloc.Acquire(context.Background(), "losetup")

		assert.Equal(t, "/dev/loop0", dev)
	})
}

func TestLoopAllocator_Attach(t *testing.T) {
	t.Parallel()

	run := &fakeRunner{}
	alloc := NewLoopAllocator(run, 8)

	res := alloc.Attach(context.Background(), "losetup", "/dev/loop0", "/images/ubuntu.iso")

	require.True(t, res.OK)
	assert.True(t, run.ran("losetup -r /dev/loop0 '/images/ubuntu.iso'"))
}
