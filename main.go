// Isodrive presents a disk image to a USB host as a bootable mass-storage
// drive, on rooted Android and other Linux devices with USB gadget support.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var version = "dev" // Injected at build time via -ldflags

var (
	flagConfig  string
	flagVerbose bool

	// mount flags
	mountMethod string
	mountCDROM  bool
	mountLUN    int
	mountDryRun bool
)

var rootCmd = &cobra.Command{
	Use:   "isodrive",
	Short: "Mount disk images as USB mass storage",
	Long:  "Isodrive exposes a disk image to a USB host as a bootable mass-storage drive.",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print isodrive version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("isodrive version %s\n", version)
	},
}

var mountCmd = &cobra.Command{
	Use:   "mount [flags] <image>",
	Short: "Mount a disk image as a USB device",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(_ *cobra.Command, _ []string) error {
		if os.Geteuid() != 0 {
			return fmt.Errorf("must run as root")
		}
		return nil
	},
	RunE: func(_ *cobra.Command, args []string) error {
		method, err := ParseMethod(mountMethod)
		if err != nil {
			return err
		}

		mode := ModeReadOnlyDisk
		if mountCDROM {
			mode = ModeOptical
		}

		req := MountRequest{
			ImagePath: args[0],
			Method:    method,
			Mode:      mode,
			LUN:       mountLUN,
		}

		if mountDryRun {
			fmt.Printf("Dry run: would mount with the following settings:\n")
			fmt.Printf("  Image:  %s\n", req.ImagePath)
			fmt.Printf("  Method: %s\n", req.Method)
			fmt.Printf("  Mode:   %s\n", req.Mode)
			fmt.Printf("  LUN:    %d\n", req.LUN)
			return nil
		}

		m, err := newMounter()
		if err != nil {
			return err
		}
		outcome := m.Mount(context.Background(), req)
		return report(outcome)
	},
}

var unmountCmd = &cobra.Command{
	Use:   "unmount",
	Short: "Unmount the currently mounted image",
	Args:  cobra.NoArgs,
	PreRunE: func(_ *cobra.Command, _ []string) error {
		if os.Geteuid() != 0 {
			return fmt.Errorf("must run as root")
		}
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		m, err := newMounter()
		if err != nil {
			return err
		}
		outcome := m.Unmount(context.Background())
		return report(outcome)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current mount status",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		m, err := newMounter()
		if err != nil {
			return err
		}
		rec, err := m.Status()
		if err != nil {
			return fmt.Errorf("read mount state: %w", err)
		}
		if rec == nil {
			fmt.Println("Status: Not mounted")
			return nil
		}
		fmt.Println("Status: Mounted")
		fmt.Printf("Image: %s\n", rec.ImagePath)
		if rec.LoopDevice != "" {
			fmt.Printf("Loop device: %s\n", rec.LoopDevice)
		}
		fmt.Printf("LUN: %s\n", rec.LUN)
		fmt.Printf("Mounted at: %s\n", time.UnixMilli(rec.MountedAt).Format(time.RFC3339))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List disk images in the images directory",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		m, err := newMounter()
		if err != nil {
			return err
		}
		images, err := m.ListImages()
		if err != nil {
			return fmt.Errorf("list images: %w", err)
		}
		if len(images) == 0 {
			fmt.Println("No images found")
			return nil
		}
		for _, image := range images {
			fmt.Println(image)
		}
		return nil
	},
}

func newMounter() (*Mounter, error) {
	cfgPath := flagConfig
	if cfgPath == "" {
		cfgPath = DefaultConfigPath()
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := InitLogging(cfg, flagVerbose); err != nil {
		return nil, err
	}

	store, err := NewStore(cfg.DataDir())
	if err != nil {
		return nil, err
	}

	return NewMounter(afero.NewOsFs(), &ShellRunner{}, store, clockwork.NewRealClock(), cfg), nil
}

func report(outcome MountOutcome) error {
	if !outcome.Success {
		return fmt.Errorf("%s", outcome.Message)
	}
	fmt.Println(outcome.Message)
	return nil
}

func main() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")

	mountCmd.Flags().SortFlags = false
	mountCmd.Flags().StringVarP(&mountMethod, "method", "m", "auto", "mount method: auto, configfs, legacy, loopback, vendor")
	mountCmd.Flags().BoolVar(&mountCDROM, "cdrom", false, "present as CD-ROM (deprecated)")
	mountCmd.Flags().IntVar(&mountLUN, "lun", 0, "logical unit index")
	mountCmd.Flags().BoolVarP(&mountDryRun, "dry-run", "n", false, "preview operation without executing")

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
