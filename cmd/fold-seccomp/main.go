// fold-seccomp is an example linker: the default chain plus a phase that
// inventories the target's imports (its undefined dynamic symbols) and a phase that locks
// the process behind a seccomp filter right before control transfer.
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

const loaderName = "fold-seccomp"

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "fold-seccomp [target]",
		Short: "Load a program behind a seccomp filter denying write",
		Long: `fold-seccomp loads the target like fold does, but splices two extra
phases into the pipeline: a front phase that lists every undefined dynamic
symbol the target imports, and a phase after the init arrays that installs
a seccomp BPF filter denying the write syscall. The loaded program runs
until its first write, then dies.`,
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
	f.Front().Register("syscall collect", &SyscallCollect{}, filter.Manifold())

	cur, err := f.Select("fini array")
	if err != nil {
		return err
	}
	cur.After().Register("syscall restriction", &Seccomp{DenySyscalls: []uint32{sysWrite}}, filter.Manifold())

	if err := f.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
