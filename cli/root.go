package main

import (
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
)

var (
	libraryDir string
	cacheDir   string
	apiLevel   int
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "drvinject",
	Short:        "Inspect and exercise GPU driver substitution through linker namespaces",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetHandler(cli.New(cmd.ErrOrStderr()))
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&libraryDir, "library-dir", "", "Directory holding the replacement driver")
	flags.StringVar(&cacheDir, "cache-dir", "", "Directory for patched library copies (default: anonymous memory files)")
	flags.IntVar(&apiLevel, "api-level", 0, "Override the detected Android API level")
	flags.BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")

	rootCmd.AddCommand(probeCmd, sonameCmd, patchCmd)
}
