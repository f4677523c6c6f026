package main

import (
	"os"
	"strings"

	"soliloquy/kernel/kfmt"
	"soliloquy/kernel/kmain"
)

// main is a host trampoline for the kernel entrypoint. The program arguments
// are joined into a boot command line (e.g. "arena.size=1m faults=0x0:r")
// and passed to kmain.Kmain. Output is written to stdout.
func main() {
	kfmt.SetOutputSink(os.Stdout)
	kmain.Kmain(strings.Join(os.Args[1:], " "))
}
