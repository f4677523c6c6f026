package kmain

import (
	"strconv"
	"strings"

	"soliloquy/kernel"
	"soliloquy/kernel/cmdline"
	"soliloquy/kernel/kfmt"
	"soliloquy/kernel/mm"
	"soliloquy/kernel/mm/hostmem"
	"soliloquy/kernel/mm/pmm"
	"soliloquy/kernel/mm/vmm"
	"soliloquy/kernel/mm/vmo"
)

const (
	defaultArenaBase = 0x100000
	defaultArenaSize = 64 * mm.Kb
	defaultVmoSize   = 16 * mm.Kb
	defaultVmoName   = "boot"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errBadFaultSpec = &kernel.Error{Module: "kmain", Message: "malformed fault spec; expected addr:flags", Kind: kernel.InvalidArgument}
	errBadFaultFlag = &kernel.Error{Module: "kmain", Message: "unknown fault flag; expected one of r, w, x, u", Kind: kernel.InvalidArgument}
	errPagesLeaked  = &kernel.Error{Module: "kmain", Message: "arena pages still allocated after teardown", Kind: kernel.Internal}
)

// faultSpec describes a fault that is replayed against the boot VMO.
type faultSpec struct {
	addr  uintptr
	flags vmm.FaultFlag
}

// config holds the settings extracted from the boot command line.
type config struct {
	arenaBase uintptr
	arenaSize mm.Size
	vmoSize   mm.Size
	vmoName   string
	prefault  mm.Size
	faults    []faultSpec
	quiet     bool
}

// Kmain brings up the memory subsystem using the settings in cmdLine,
// replays the requested faults and tears everything down again. Any error
// is treated as unrecoverable and passed to kfmt.Panic.
func Kmain(cmdLine string) {
	if err := Boot(cmdLine); err != nil {
		panicFn(err)
	}
}

// Boot performs the same steps as Kmain but returns errors to the caller.
func Boot(cmdLine string) *kernel.Error {
	cfg, err := parseConfig(cmdline.Parse(cmdLine))
	if err != nil {
		return err
	}

	region, err := hostmem.Map(cfg.arenaBase, uintptr(cfg.arenaSize))
	if err != nil {
		return err
	}
	defer func() {
		if err := region.Unmap(); err != nil {
			kfmt.Printf("[kmain] unable to release host memory: %s\n", err.Message)
		}
	}()

	mm.SetPageZeroer(region.ZeroPage)
	defer mm.SetPageZeroer(nil)

	arena, err := pmm.NewArena(cfg.arenaBase, uintptr(cfg.arenaSize))
	if err != nil {
		return err
	}

	bootVmo, err := vmo.Create(arena, uint64(cfg.vmoSize), cfg.vmoName)
	if err != nil {
		return err
	}
	defer bootVmo.Destroy()

	handler, err := vmm.NewFaultHandler(bootVmo, arena)
	if err != nil {
		return err
	}

	if !cfg.quiet {
		kfmt.Printf("[kmain] arena [0x%x - 0x%x], vmo %q: %d bytes\n", cfg.arenaBase, cfg.arenaBase+uintptr(cfg.arenaSize), cfg.vmoName, bootVmo.Size())
	}

	if cfg.prefault != 0 {
		if err = vmm.NewPrefaulter(handler).Prefault(0, uintptr(cfg.prefault)); err != nil {
			return err
		}
	}

	for _, f := range cfg.faults {
		if err = handler.HandleFault(f.addr, f.flags); err != nil && !cfg.quiet {
			kfmt.Printf("[kmain] fault at 0x%x (%s) not resolved: %s\n", f.addr, f.flags, err.Message)
		}
	}

	if !cfg.quiet {
		stats := handler.Stats()
		kfmt.Printf("[kmain] faults handled: %d, failed: %d\n", stats.Handled, stats.Failed)
		kfmt.Printf("[kmain] vmo %q: %d/%d pages committed\n", bootVmo.Name(), bootVmo.CommittedCount(), bootVmo.PageCount())
		arena.Dump(sinkWriter{})
	}

	if err = arena.CheckInvariants(); err != nil {
		return err
	}

	bootVmo.Destroy()
	if arena.FreeCount() != arena.TotalPages() {
		return errPagesLeaked
	}

	return arena.CheckInvariants()
}

func parseConfig(cl cmdline.CmdLine) (*config, *kernel.Error) {
	var (
		cfg = &config{vmoName: cl.String("vmo.name", defaultVmoName)}
		err *kernel.Error
	)

	base, err := cl.Uint("arena.base", defaultArenaBase)
	if err != nil {
		return nil, err
	}
	cfg.arenaBase = uintptr(base)

	if cfg.arenaSize, err = cl.Size("arena.size", defaultArenaSize); err != nil {
		return nil, err
	}

	if cfg.vmoSize, err = cl.Size("vmo.size", defaultVmoSize); err != nil {
		return nil, err
	}

	if cfg.prefault, err = cl.Size("prefault", 0); err != nil {
		return nil, err
	}

	if cfg.quiet, err = cl.Bool("quiet", false); err != nil {
		return nil, err
	}

	if cfg.faults, err = parseFaults(cl.String("faults", "")); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseFaults parses a comma-separated list of addr:flags entries.
func parseFaults(list string) ([]faultSpec, *kernel.Error) {
	var faults []faultSpec

	for _, entry := range strings.Split(list, ",") {
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 2)
		addr, err := strconv.ParseUint(parts[0], 0, 64)
		if err != nil {
			return nil, errBadFaultSpec
		}

		var flags vmm.FaultFlag
		if len(parts) == 2 {
			for _, ch := range parts[1] {
				switch ch {
				case 'r':
					flags |= vmm.FaultRead
				case 'w':
					flags |= vmm.FaultWrite
				case 'x':
					flags |= vmm.FaultExec
				case 'u':
					flags |= vmm.FaultUser
				case '-':
				default:
					return nil, errBadFaultFlag
				}
			}
		}

		faults = append(faults, faultSpec{addr: uintptr(addr), flags: flags})
	}

	return faults, nil
}

// sinkWriter adapts kfmt.Printf to the io.Writer interface.
type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	kfmt.Printf("%s", p)
	return len(p), nil
}
