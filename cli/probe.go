package main

import (
	"fmt"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sliverarmory/drvinject"
	"github.com/sliverarmory/drvinject/internal/sysprop"
	"github.com/sliverarmory/drvinject/namespace"
	"github.com/sliverarmory/drvinject/resolver"
)

var (
	probeDriver    string
	probeBootstrap bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report linker namespace support and optionally run the injection sequence",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		level := apiLevel
		if level == 0 {
			detected, err := sysprop.APILevel()
			if err != nil {
				log.WithError(err).Debug("api level unavailable")
			}
			level = detected
		}
		fmt.Fprintf(out, "api level:   %d (namespaces need %d)\n", level, resolver.MinNamespaceAPILevel)
		if arch, err := resolver.HostArch(); err != nil {
			fmt.Fprintf(out, "host arch:   %s\n", color.YellowString("%v", err))
		} else {
			fmt.Fprintf(out, "host arch:   %s\n", arch)
		}

		m := namespace.NewManager(namespace.NewPlatformBackend(level), log.Log)
		if m.Supported() {
			fmt.Fprintf(out, "namespaces:  %s\n", color.GreenString("available"))
		} else {
			fmt.Fprintf(out, "namespaces:  %s (%v)\n", color.YellowString("unavailable"), m.Err())
		}
		if !probeBootstrap {
			return nil
		}

		cfg := drvinject.DefaultConfig()
		cfg.LibraryDir = libraryDir
		cfg.CacheDir = cacheDir
		cfg.APILevel = level
		if probeDriver != "" {
			cfg.DriverName = probeDriver
		}
		d, err := drvinject.Bootstrap(cfg)
		if err != nil {
			fmt.Fprintf(out, "injection:   %s\n", color.RedString("%v", err))
			return nil
		}
		fmt.Fprintf(out, "injection:   %s\n", color.GreenString("active"))
		fmt.Fprintf(out, "  loader:    %#x (token %s)\n", uintptr(d.LoaderHandle), d.LoaderToken)
		fmt.Fprintf(out, "  driver:    %#x (%s)\n", uintptr(d.DriverHandle), d.DriverPath)
		fmt.Fprintf(out, "  %s: %#x\n", d.ProcAddrName, d.ProcAddr)
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeDriver, "driver", "", "Replacement driver file name inside --library-dir")
	probeCmd.Flags().BoolVar(&probeBootstrap, "bootstrap", false, "Run the full injection sequence")
}
