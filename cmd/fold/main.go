package main

import (
	"debug/elf"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/arch/x86/x86asm"

	"github.com/zboralski/fold/internal/config"
	"github.com/zboralski/fold/internal/elfview"
	glog "github.com/zboralski/fold/internal/log"
	"github.com/zboralski/fold/internal/manifold"
	"github.com/zboralski/fold/internal/mem"
	"github.com/zboralski/fold/internal/share"
	"github.com/zboralski/fold/internal/sysv"
	"github.com/zboralski/fold/internal/trace"
	"github.com/zboralski/fold/internal/ui/colorize"
)

// loaderName is what argv[0] is compared against to detect interpreter
// invocation.
const loaderName = "fold"

var (
	verbose bool
	maxInsn int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fold [target]",
		Short: "Load and run dynamically-linked ELF64 programs in user space",
		Long: `Fold is a user-space dynamic linker for ELF64 x86-64 Linux.

It maps the target program and its shared-library dependencies, resolves
symbols, applies relocations (including thread-local storage), sets final
page protections, runs initializers, and jumps to the program entry point
without involving the kernel's built-in interpreter.

Loading is a pipeline of modules over a shared representation of all loaded
objects, so hosts can replace any stage: collect, load, tls, relocation,
protect, init arrays, start.

Examples:
  fold ./hello              # Load and run ./hello
  fold info ./hello         # Inspect ./hello without running it
  FOLD_DEBUG=1 fold ./hello # Verbose pipeline trace`,
		Args:                  cobra.ArbitraryArgs,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		RunE:                  runLink,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")

	infoCmd := &cobra.Command{
		Use:   "info <binary>",
		Short: "Show binary information",
		Args:  cobra.ExactArgs(1),
		RunE:  showInfo,
	}
	infoCmd.Flags().IntVarP(&maxInsn, "num", "n", 16, "entry instructions to disassemble")
	rootCmd.AddCommand(infoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runLink(cmd *cobra.Command, args []string) error {
	procEnv := manifold.FromProcess()
	cfg, err := config.Load(procEnv, loaderName)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorize.Error(err.Error()))
		return err
	}

	glog.Init(verbose || cfg.Verbose)

	f := sysv.DefaultChain(cfg, glog.L)
	err = f.Run()

	// The trace only reaches the terminal when the pipeline hands control
	// back: after a failure, or when a custom chain finishes without
	// jumping. A successful start phase never returns.
	if verbose || cfg.Verbose {
		printTrace(f.Trace())
	}

	if err != nil {
		// The driver already logged phase, module and object context.
		fmt.Fprintln(os.Stderr, colorize.Error(err.Error()))
		return err
	}
	return nil
}

// printTrace renders the pipeline's recorded events, one tagged line each.
func printTrace(rec *trace.Recorder) {
	events := rec.Events()
	if len(events) == 0 {
		return
	}

	fmt.Printf("%s %s\n",
		colorize.Header("Pipeline Trace"),
		colorize.Detail("run "+rec.Run().String()))
	for _, e := range events {
		detail := e.Detail
		if detail != "" {
			detail = colorize.Symbol(detail)
		}
		fmt.Printf("  %s %s %s %s %s\n",
			colorize.Detail(e.Timestamp.Format("15:04:05.000")),
			colorize.Address(fmt.Sprintf("%-12s", "#"+string(e.Tags.Primary()))),
			colorize.Border(e.Phase),
			colorize.Detail(e.Module),
			detail)
	}
}

func showInfo(cmd *cobra.Command, args []string) error {
	glog.Init(verbose)

	fd, err := mem.OpenFileRO(args[0])
	if err != nil {
		return err
	}
	mapping, err := mem.MapFile(fd)
	if err != nil {
		return err
	}

	m := manifold.New(manifold.FromProcess(), share.Map{}, glog.L)
	h, err := m.AddELFFile(mapping, args[0])
	if err != nil {
		return err
	}
	obj := m.Objects.MustGet(h)

	fmt.Println(colorize.Header("ELF Header"))
	fmt.Printf("  Type:     %v\n", obj.Type)
	fmt.Printf("  Machine:  %v\n", obj.Machine)
	fmt.Printf("  Entry:    %s\n", colorize.Address(fmt.Sprintf("%#x", obj.Entry)))
	fmt.Printf("  Segments: %d   Sections: %d\n", obj.Phnum, obj.Shnum)

	printSegments(m, obj)
	printNeeded(m, obj)
	printSymbols(m, obj)
	printEntryDisasm(obj)
	return nil
}

func printSegments(m *manifold.Manifold, obj *manifold.Object) {
	fmt.Println(colorize.Header("\nProgram Headers"))
	for _, hs := range obj.Segments {
		seg := m.Segments.Get(hs)
		if seg == nil {
			continue
		}
		fmt.Printf("  %-12s %s vaddr=%s filesz=%#x memsz=%#x align=%#x\n",
			progTypeName(seg.Tag),
			flagString(seg.Flags),
			colorize.Address(fmt.Sprintf("%#010x", seg.Vaddr)),
			seg.FileSize, seg.MemSize, seg.Align)
	}
}

func printNeeded(m *manifold.Manifold, obj *manifold.Object) {
	fmt.Println(colorize.Header("\nNeeded Libraries"))
	for _, hs := range obj.Sections {
		sec := m.Sections.Get(hs)
		if sec == nil || sec.Tag != elf.SHT_DYNAMIC {
			continue
		}
		linked, err := sec.Linked(m)
		if err != nil {
			continue
		}
		strtab, err := linked.AsStringTable()
		if err != nil {
			continue
		}
		dyns, err := manifold.SectionTable(sec, elfview.DynSize, elfview.DecodeDyn)
		if err != nil {
			continue
		}
		for _, d := range dyns.All() {
			if d.Tag != int64(elf.DT_NEEDED) {
				continue
			}
			if name, err := strtab.Lookup(int(d.Val)); err == nil {
				fmt.Printf("  %s\n", colorize.Symbol(name))
			}
		}
	}
}

func printSymbols(m *manifold.Manifold, obj *manifold.Object) {
	fmt.Println(colorize.Header("\nDynamic Symbols"))
	for _, hs := range obj.Sections {
		sec := m.Sections.Get(hs)
		if sec == nil || sec.Tag != elf.SHT_DYNSYM {
			continue
		}
		symtab, err := sec.AsDynamicSymbolTable()
		if err != nil {
			continue
		}
		for sym, name := range symtab.Symbols(m) {
			if name == "" {
				continue
			}
			kind := "UND"
			if sym.Shndx != uint16(elf.SHN_UNDEF) {
				kind = fmt.Sprintf("%3d", sym.Shndx)
			}
			fmt.Printf("  %s %s %s %s\n",
				colorize.Address(fmt.Sprintf("%#016x", sym.Value)),
				colorize.Detail(fmt.Sprintf("%-6v", elf.ST_BIND(sym.Info))),
				colorize.Detail(kind),
				colorize.Symbol(name))
		}
	}
}

// printEntryDisasm decodes the first instructions at the entry point.
func printEntryDisasm(obj *manifold.Object) {
	code, addr, ok := entryBytes(obj)
	if !ok {
		return
	}

	fmt.Println(colorize.Header("\nEntry Point"))
	pc := addr
	for i := 0; i < maxInsn && len(code) > 0; i++ {
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			break
		}
		text := strings.ToLower(x86asm.IntelSyntax(inst, pc, nil))
		fmt.Printf("  %s  %s\n",
			colorize.Address(fmt.Sprintf("%08x", pc)),
			colorize.Instruction(text))
		code = code[inst.Len:]
		pc += uint64(inst.Len)
	}
}

// entryBytes maps e_entry back to a file offset through the containing
// segment.
func entryBytes(obj *manifold.Object) ([]byte, uint64, bool) {
	phdrs, err := obj.ProgramHeaders()
	if err != nil {
		return nil, 0, false
	}
	for _, ph := range phdrs.All() {
		if elf.ProgType(ph.Type) != elf.PT_LOAD {
			continue
		}
		if obj.Entry < ph.Vaddr || obj.Entry >= ph.Vaddr+ph.Filesz {
			continue
		}
		off := ph.Off + (obj.Entry - ph.Vaddr)
		end := ph.Off + ph.Filesz
		if off >= uint64(len(obj.Raw())) {
			return nil, 0, false
		}
		if end > uint64(len(obj.Raw())) {
			end = uint64(len(obj.Raw()))
		}
		return obj.Raw()[off:end], obj.Entry, true
	}
	return nil, 0, false
}

func progTypeName(t elf.ProgType) string {
	switch t {
	case elf.PT_LOAD:
		return "LOAD"
	case elf.PT_DYNAMIC:
		return "DYNAMIC"
	case elf.PT_INTERP:
		return "INTERP"
	case elf.PT_TLS:
		return "TLS"
	case elf.PT_PHDR:
		return "PHDR"
	case elf.PT_NOTE:
		return "NOTE"
	case elf.PT_GNU_STACK:
		return "GNU_STACK"
	case elf.PT_GNU_RELRO:
		return "GNU_RELRO"
	case elf.PT_GNU_EH_FRAME:
		return "GNU_EH_FRAME"
	default:
		return fmt.Sprintf("%#x", uint32(t))
	}
}

func flagString(f elf.ProgFlag) string {
	b := [3]byte{'-', '-', '-'}
	if f&elf.PF_R != 0 {
		b[0] = 'r'
	}
	if f&elf.PF_W != 0 {
		b[1] = 'w'
	}
	if f&elf.PF_X != 0 {
		b[2] = 'x'
	}
	return string(b[:])
}
