// fold-trampoline is an example linker that diverts selected imported
// functions through generated trampoline stubs: a hooked JUMP_SLOT points at
// machine code that announces the call, then falls through to the real
// function.
package main

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zboralski/fold/internal/config"
	"github.com/zboralski/fold/internal/filter"
	"github.com/zboralski/fold/internal/hooks"
	glog "github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/sysv"
)

const loaderName = "fold-trampoline"

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "fold-trampoline [target]",
		Short: "Load a program with hooked library calls",
		Long: `fold-trampoline loads the target like fold does, then rewrites the GOT
entries of hooked symbols to point at generated stubs. The built-in hook
announces calls to puts before chaining to the real implementation.`,
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

	// The general relocator fills every GOT slot first; the installer then
	// re-points the hooked ones at its stubs.
	cur, err := f.Select("relocation")
	if err != nil {
		return err
	}
	cur.After().Register("trampoline", NewInstaller(hooks.DefaultRegistry), filter.SectionType(elf.SHT_RELA))

	if err := f.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
