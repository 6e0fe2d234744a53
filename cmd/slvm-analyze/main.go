// Command slvm-analyze is the companion static-analysis tool from
// spec.md §4.F: it walks every instruction reachable from a bytecode
// image's public entrypoints and reports the most frequent instruction
// idioms (1- and 2-instruction byte-exact sequences).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chazu/slvm/pkg/analyzer"
	"github.com/chazu/slvm/pkg/bytecode"
)

func main() {
	top := flag.Int("top", 20, "limit the idiom report to the top N entries")
	format := flag.String("format", "text", "report format: text, json, or cbor")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: slvm-analyze [options] <bytecode-file>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)

	img, err := bytecode.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(255)
	}

	report, err := analyzer.Walk(img)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(255)
	}
	idioms := analyzer.MineIdioms(report, img)

	switch *format {
	case "text":
		printText(img, report, idioms, *top)
	case "json":
		data, err := analyzer.EncodeJSON(analyzer.BuildTopIdioms(img, report, idioms, *top))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(255)
		}
		os.Stdout.Write(data)
		fmt.Println()
	case "cbor":
		data, err := analyzer.EncodeCBOR(analyzer.BuildTopIdioms(img, report, idioms, *top))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(255)
		}
		os.Stdout.Write(data)
	default:
		fmt.Fprintf(os.Stderr, "unrecognized -format %q (want text, json, or cbor)\n", *format)
		os.Exit(1)
	}
}

func printText(img *bytecode.Image, report *analyzer.Report, idioms []analyzer.Idiom, top int) {
	fmt.Printf("visited %d reachable instructions from %d public symbol(s)\n", report.VisitedCount, img.PublicCount())
	fmt.Printf("%-8s %s\n", "count", "idiom")
	if top > 0 && top < len(idioms) {
		idioms = idioms[:top]
	}
	for _, idiom := range idioms {
		fmt.Printf("%-8d %s\n", idiom.Count, idiom.Disassemble(img))
	}
}
