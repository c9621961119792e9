package main

import (
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sliverarmory/drvinject/soname"
)

var patchToken string

var sonameCmd = &cobra.Command{
	Use:   "soname <shared library>",
	Short: "Print the SONAME recorded in a shared library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		name, err := soname.ReadSoname(image)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), name)
		return nil
	},
}

var patchCmd = &cobra.Command{
	Use:   "patch <src> <dst>",
	Short: "Write a copy of a shared library with its SONAME replaced by a token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, dst := args[0], args[1]
		token := patchToken
		if token == "" {
			next, err := soname.NextToken()
			if err != nil {
				return err
			}
			token = next
		}
		out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o755)
		if err != nil {
			return err
		}
		defer out.Close()

		if err := soname.PatchSoname(src, out, token); err != nil {
			_ = os.Remove(dst)
			return err
		}
		log.WithFields(log.Fields{"src": src, "dst": dst}).Debug("patched")
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("patched"), token)
		return nil
	},
}

func init() {
	patchCmd.Flags().StringVar(&patchToken, "token", "", "Replacement SONAME (default: next 4-digit token)")
}
