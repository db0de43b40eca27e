// fold-emu is an example linker that never jumps: the start phase is
// replaced by a module that copies the loaded image into a Unicorn VM and
// emulates the entry point, forwarding write and exit syscalls.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zboralski/fold/internal/config"
	"github.com/zboralski/fold/internal/filter"
	glog "github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/sysv"
)

const loaderName = "fold-emu"

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "fold-emu [target]",
		Short: "Load a program and emulate it under Unicorn",
		Long: `fold-emu runs the default pipeline up to and including the init arrays,
then replaces the jump to the entry point with x86-64 emulation: the loaded
segments are copied into a Unicorn VM at their real addresses, a fresh stack
is built inside the VM, and execution proceeds instruction by instruction
with write and exit syscalls forwarded to the host.`,
		Args:                  cobra.ArbitraryArgs,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		RunE:                  run,
	}
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	procEnv := manifold.FromProcess()
	cfg, err := config.Load(procEnv, loaderName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	glog.Init(verbose || cfg.Verbose)

	f := sysv.DefaultChain(cfg, glog.L)
	cur, err := f.Select("start")
	if err != nil {
		return err
	}
	cur.Replace("emulated start", &EmuStart{}, filter.AnyObject())

	if err := f.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
