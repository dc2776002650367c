package main

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVendorConfigurator(t *testing.T) {
	t.Parallel()

	const udc = "dwc3-gadget"
	lunFile := udcClassDir + "/" + udc + "/device/gadget/lun0/file"
	softConnect := udcClassDir + "/" + udc + "/soft_connect"

	// The fake runner never touches the filesystem, so the fixture seeds
	// the LUN node with the value the kernel would expose after a
	// successful bind.
	vendorFs := func(t *testing.T) afero.Fs {
		t.Helper()
		fs := afero.NewMemMapFs()
		writeFileT(t, fs, lunFile, "/images/ubuntu.iso\n")
		return fs
	}

	newConfigurator := func(fs afero.Fs, run Runner) *vendorConfigurator {
		return &vendorConfigurator{
			fs:    fs,
			run:   run,
			alloc: NewLoopAllocator(run, 8),
			clean: NewCleaner(run),
		}
	}

	vendorEnv := func() ResolvedEnvironment {
		env := testEnv()
		env.UDCName = udc
		return env
	}

	t.Run("disconnect_bind_reconnect_in_order", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		run.on("losetup -f", fakeResponse{stdout: "/dev/loop0\n"})
		c := newConfigurator(vendorFs(t), run)

		outcome := c.configure(context.Background(), vendorEnv(), MountRequest{ImagePath: "/images/ubuntu.iso"})

		require.True(t, outcome.Success, outcome.Message)

		disconnect := run.indexOf("echo disconnect > '" + softConnect + "'")
		bind := run.indexOf("echo '/images/ubuntu.iso' > '" + lunFile + "'")
		reconnect := run.indexOf("echo connect > '" + softConnect + "'")

		require.GreaterOrEqual(t, disconnect, 0)
		require.GreaterOrEqual(t, bind, 0)
		require.GreaterOrEqual(t, reconnect, 0)
		assert.Less(t, disconnect, bind)
		assert.Less(t, bind, reconnect)
	})

	t.Run("missing_vendor_lun_fails_without_commands", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		c := newConfigurator(afero.NewMemMapFs(), run)

		outcome := c.configure(context.Background(), vendorEnv(), MountRequest{ImagePath: "/images/ubuntu.iso"})

		assert.False(t, outcome.Success)
		assert.Contains(t, outcome.Message, "vendor gadget")
		assert.Empty(t, run.executed)
	})

	t.Run("missing_udc_fails_without_commands", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		env := vendorEnv()
		env.UDCName = ""
		c := newConfigurator(vendorFs(t), run)

		outcome := c.configure(context.Background(), env, MountRequest{ImagePath: "/images/ubuntu.iso"})

		assert.False(t, outcome.Success)
		assert.Empty(t, run.executed)
	})

	t.Run("mismatched_readback_fails_before_reconnect", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		writeFileT(t, fs, lunFile, "/something/else.iso\n")
		run := &fakeRunner{}
		run.on("losetup -f", fakeResponse{stdout: "/dev/loop0\n"})
		c := newConfigurator(fs, run)

		outcome := c.configure(context.Background(), vendorEnv(), MountRequest{ImagePath: "/images/ubuntu.iso"})

		require.False(t, outcome.Success)
		assert.Contains(t, outcome.Message, "reads back")
		assert.False(t, run.ran("echo connect > '"+softConnect+"'"), "gadget must stay disconnected")
		assert.True(t, run.ran("losetup -d /dev/loop0"))
	})

	t.Run("bind_failure_triggers_cleanup", func(t *testing.T) {
		t.Parallel()

		run := &fakeRunner{}
		run.on("losetup -f", fakeResponse{stdout: "/dev/loop0\n"})
		run.failOn("echo '/images/ubuntu.iso' >", "write error")
		run.failOn("losetup -r", "device busy")
		c := newConfigurator(vendorFs(t), run)

		outcome := c.configure(context.Background(), vendorEnv(), MountRequest{ImagePath: "/images/ubuntu.iso"})

		require.False(t, outcome.Success)
		assert.Contains(t, outcome.Message, "device busy")
		assert.True(t, run.ran("losetup -d /dev/loop0"))
	})
}
