package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleaner_Run(t *testing.T) {
	t.Parallel()

	t.Run("tears_down_every_known_facility", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		c := NewCleaner(run)

		res := c.Run(context.Background(), "/dev/loop1")

		assert.True(t, res.OK)
		// All configfs roots, not just the one a mount used.
		assert.True(t, run.ran("/sys/kernel/config/usb_gadget"))
		assert.True(t, run.ran("/config/usb_gadget"))
		assert.True(t, run.ran("/mnt/config/usb_gadget"))
		// Legacy tree restored to the default composition.
		assert.True(t, run.ran("echo 0 > "+legacyGadgetDir+"/enable"))
		assert.True(t, run.ran("echo mass_storage,adb > "+legacyGadgetDir+"/functions"))
		assert.True(t, run.ran("echo 1 > "+legacyGadgetDir+"/enable"))
		// Vendor gadgets reconnected.
		assert.True(t, run.ran("soft_connect"))
		// Loop detach issued under every known utility name.
		assert.True(t, run.ran("losetup -d /dev/loop1"))
		assert.True(t, run.ran("busybox losetup -d /dev/loop1"))
		assert.True(t, run.ran("toybox losetup -d /dev/loop1"))
	})

	t.Run("skips_loop_detach_without_a_device", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		c := NewCleaner(run)

		res := c.Run(context.Background(), "")

		assert.True(t, res.OK)
		assert.False(t, run.ran("losetup -d"))
	})

	t.Run("every_step_tolerates_failure", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		c := NewCleaner(run)

		c.Run(context.Background(), "/dev/loop1")

		require.Len(t, run.batches, 1)
		for _, st := range run.batches[0] {
			assert.True(t, st.Tolerant, "cleanup step must tolerate failure: %s", st.Cmd)
		}
	})

	t.Run("is_idempotent", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		run.failOn("rmdir", "rmdir: no such file or directory")
		c := NewCleaner(run)

		first := c.Run(context.Background(), "/dev/loop1")
		second := c.Run(context.Background(), "/dev/loop1")

		assert.True(t, first.OK)
		assert.True(t, second.OK)
		require.Len(t, run.batches, 2)
		assert.Equal(t, run.batches[0], run.batches[1], "repeated cleanup issues the identical sequence")
	})
}
