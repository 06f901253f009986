package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"hackchain/pkg/build"
	"hackchain/pkg/cpu"
	"hackchain/pkg/utils"
)

const stepChunk = 100_000

// startProgressTicker signals on the returned channel every interval until
// stop is closed. A tick that is not consumed in time is dropped.
func startProgressTicker(interval time.Duration, stop <-chan struct{}) <-chan struct{} {
	ticks := make(chan struct{}, 1)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case ticks <- struct{}{}:
				default:
				}
			case <-stop:
				return
			}
		}
	}()
	return ticks
}

// run executes at most maxSteps instructions in chunks, calling report
// whenever a tick arrives between chunks.
func run(vm *cpu.CPU, maxSteps int, ticks <-chan struct{}, report func()) int {
	total := 0
	for total < maxSteps && !vm.Halted && vm.Fault == nil {
		n := stepChunk
		if rest := maxSteps - total; rest < n {
			n = rest
		}
		ran := vm.RunSteps(n)
		total += ran
		if ran == 0 {
			break
		}
		select {
		case <-ticks:
			report()
		default:
		}
	}
	return total
}

// renderScreen draws the screen as text, one character per cell×cell block
// of pixels. A block with any pixel set is drawn as '#'.
func renderScreen(w io.Writer, vm *cpu.CPU, cell int) error {
	if cell < 1 {
		cell = 1
	}
	bw := bufio.NewWriter(w)
	line := make([]byte, 0, cpu.ScreenWidth/cell+1)
	for by := 0; by < cpu.ScreenHeight; by += cell {
		line = line[:0]
		for bx := 0; bx < cpu.ScreenWidth; bx += cell {
			ch := byte('.')
		block:
			for y := by; y < by+cell; y++ {
				for x := bx; x < bx+cell; x++ {
					if vm.Pixel(x, y) {
						ch = '#'
						break block
					}
				}
			}
			line = append(line, ch)
		}
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func main() {
	maxSteps := flag.Int("steps", 50_000_000, "maximum number of instructions to execute")
	every := flag.Duration("every", 2*time.Second, "progress report interval")
	cell := flag.Int("cell", 4, "pixels per character side when printing the screen")
	showAsm := flag.Bool("show-asm", false, "print the generated assembly")
	noScreen := flag.Bool("no-screen", false, "do not print the screen")
	bootstrap := flag.Bool("bootstrap", false, "emit the bootstrap when running a single .vm file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] PROGRAM (.hack, .asm, .vm or directory)\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	fullPath, baseDir, err := utils.GetPathInfo(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to resolve %s: %v", flag.Arg(0), err)
	}
	log.Printf("Loading %s (base directory %s)", fullPath, baseDir)

	opts := build.Options{}
	if *bootstrap {
		opts.Bootstrap = build.BootstrapOn
	}
	r, err := build.Load(fullPath, opts)
	if err != nil {
		log.Fatalf("Build failed: %v", err)
	}
	if *showAsm && r.Assembly != "" {
		fmt.Print("Generated Assembly:\n", r.Assembly, "\n")
	}

	vm := cpu.NewCPU()
	if len(r.Units) > 0 {
		vm.Poke(cpu.AddrSP, int16(cpu.StackBase))
	}
	if err := vm.Load(r.Words); err != nil {
		log.Fatal(err)
	}

	stop := make(chan struct{})
	ticks := startProgressTicker(*every, stop)
	start := time.Now()
	ran := run(vm, *maxSteps, ticks, func() {
		log.Printf("%d steps, PC=%d SP=%d", vm.Steps, vm.PC, vm.SP())
	})
	close(stop)

	log.Printf("Executed %d steps in %v", ran, time.Since(start).Round(time.Millisecond))
	if !*noScreen {
		if err := renderScreen(os.Stdout, vm, *cell); err != nil {
			log.Fatal(err)
		}
	}
	switch {
	case vm.Fault != nil:
		log.Fatalf("Fault at PC=%d: %v", vm.PC, vm.Fault)
	case vm.Halted:
		log.Printf("Halted at PC=%d SP=%d", vm.PC, vm.SP())
	default:
		log.Printf("Still running at PC=%d after the step limit", vm.PC)
	}
	if top, ok := vm.StackTop(); ok {
		log.Printf("Stack top: %d", top)
	}
}
