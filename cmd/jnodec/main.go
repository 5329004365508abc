// Package main implements jnodec, a driver for the x86 native code backend:
// it compiles methods and interface method tables described in YAML files
// and prints their code.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information
const Version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line args and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		noColor, _ := root.PersistentFlags().GetBool(keyNoColor)
		fmt.Fprintf(stderr, "%s\n", newPalette(noColor).red("error: "+err.Error()))
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jnodec",
		Short:         "x86 native code compiler driver",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	addGlobalFlags(root)
	root.AddCommand(newMethodCmd(), newIMTCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jnodec version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "go version %s\n", runtime.Version())
		},
	}
}
