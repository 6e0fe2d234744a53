// Command slvm runs a compiled SL bytecode image on the stack machine
// interpreter: spec.md §6's CLI contract, `slvm <bytecode-file>`.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/chazu/slvm/pkg/bytecode"
	"github.com/chazu/slvm/pkg/config"
	"github.com/chazu/slvm/pkg/heap"
	"github.com/chazu/slvm/pkg/vm"
)

func main() {
	verbose := flag.Bool("v", false, "print image header stats before running")
	trace := flag.Bool("trace", false, "print a trace line per executed instruction")
	configPath := flag.String("config", "", "path to a slvm.toml overriding stack sizes and trace default")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: slvm [options] <bytecode-file>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(255)
	}

	img, err := bytecode.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(255)
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "image: %d public symbols, code %d bytes, globals %d words, entrypoint 0x%04X\n",
			img.PublicCount(), img.CodeSize(), img.GlobalAreaSize(), img.EntrypointOffset())
	}

	h := heap.New()
	m := vm.NewMachineWithStacks(h, img.GlobalAreaSize(), cfg.Stack.ValueWords, cfg.Stack.CallWords)
	if err := m.Bootstrap(img.CodeSize()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(255)
	}

	ip := vm.NewInterpreter(img, m, h)
	if *trace || cfg.Run.Trace {
		ip.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "slvm", Level: log.DebugLevel})
	}

	if err := ip.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(255)
	}
}
