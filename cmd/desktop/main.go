package main

import (
	"flag"
	"fmt"
	"image"
	"image/draw"
	"log"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"hackchain/pkg/build"
	"hackchain/pkg/cpu"
	"hackchain/pkg/utils"
)

const statusHeight = 16

// Key codes of the keyboard register for keys without a printable character.
var specialKeys = map[ebiten.Key]uint16{
	ebiten.KeyEnter:     128,
	ebiten.KeyBackspace: 129,
	ebiten.KeyLeft:      130,
	ebiten.KeyUp:        131,
	ebiten.KeyRight:     132,
	ebiten.KeyDown:      133,
	ebiten.KeyHome:      134,
	ebiten.KeyEnd:       135,
	ebiten.KeyPageUp:    136,
	ebiten.KeyPageDown:  137,
	ebiten.KeyInsert:    138,
	ebiten.KeyDelete:    139,
	ebiten.KeyEscape:    140,
	ebiten.KeyF1:        141,
	ebiten.KeyF2:        142,
	ebiten.KeyF3:        143,
	ebiten.KeyF4:        144,
	ebiten.KeyF5:        145,
	ebiten.KeyF6:        146,
	ebiten.KeyF7:        147,
	ebiten.KeyF8:        148,
	ebiten.KeyF9:        149,
	ebiten.KeyF10:       150,
	ebiten.KeyF11:       151,
	ebiten.KeyF12:       152,
}

// keyCode picks the register value for the keys held this frame. A special
// key wins over the last typed character; nothing held means zero.
func keyCode(pressed []ebiten.Key, lastChar rune) uint16 {
	if len(pressed) == 0 {
		return 0
	}
	for _, k := range pressed {
		if code, ok := specialKeys[k]; ok {
			return code
		}
	}
	if lastChar > 0 && lastChar < 128 {
		return uint16(lastChar)
	}
	return 0
}

type Game struct {
	vm            *cpu.CPU
	stepsPerFrame int
	title         string

	screenImg  *ebiten.Image // reused 512x256 framebuffer
	statusImg  *ebiten.Image
	statusRGBA *image.RGBA
	lastChar   rune
	pressed    []ebiten.Key
}

func newGame(vm *cpu.CPU, stepsPerFrame int, title string) *Game {
	return &Game{
		vm:            vm,
		stepsPerFrame: stepsPerFrame,
		title:         title,
	}
}

func (g *Game) pollKeyboard() {
	for _, r := range ebiten.AppendInputChars(nil) {
		g.lastChar = r
	}
	g.pressed = inpututil.AppendPressedKeys(g.pressed[:0])
	if len(g.pressed) == 0 {
		g.lastChar = 0
	}
	g.vm.SetKey(keyCode(g.pressed, g.lastChar))
}

// stepFrame runs one frame's worth of instructions.
func (g *Game) stepFrame() int {
	return g.vm.RunSteps(g.stepsPerFrame)
}

func (g *Game) Update() error {
	g.pollKeyboard()
	g.stepFrame()
	return nil
}

func (g *Game) status() string {
	state := "running"
	switch {
	case g.vm.Fault != nil:
		state = "fault"
	case g.vm.Halted:
		state = "halted"
	}
	s := fmt.Sprintf("%s  %s  PC=%d SP=%d steps=%d", g.title, state, g.vm.PC, g.vm.SP(), g.vm.Steps)
	if top, ok := g.vm.StackTop(); ok {
		s += fmt.Sprintf(" top=%d", top)
	}
	return s
}

func (g *Game) Draw(screen *ebiten.Image) {
	if g.screenImg == nil {
		g.screenImg = ebiten.NewImage(cpu.ScreenWidth, cpu.ScreenHeight)
	}
	g.screenImg.WritePixels(g.vm.ScreenRGBA())
	screen.DrawImage(g.screenImg, nil)

	if g.statusImg == nil {
		g.statusImg = ebiten.NewImage(cpu.ScreenWidth, statusHeight)
	}
	g.statusImg.WritePixels(g.renderStatus().Pix)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(0, cpu.ScreenHeight)
	screen.DrawImage(g.statusImg, op)
}

// renderStatus draws the status line in white on black.
func (g *Game) renderStatus() *image.RGBA {
	if g.statusRGBA == nil {
		g.statusRGBA = image.NewRGBA(image.Rect(0, 0, cpu.ScreenWidth, statusHeight))
	}
	draw.Draw(g.statusRGBA, g.statusRGBA.Bounds(), image.Black, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  g.statusRGBA,
		Src:  image.White,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, basicfont.Face7x13.Ascent+1),
	}
	d.DrawString(g.status())
	return g.statusRGBA
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return cpu.ScreenWidth, cpu.ScreenHeight + statusHeight
}

func main() {
	stepsPerFrame := flag.Int("steps-per-frame", 100000, "instructions executed per rendered frame")
	scale := flag.Int("scale", 2, "window scale factor")
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

	fullPath, _, err := utils.GetPathInfo(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to resolve %s: %v", flag.Arg(0), err)
	}

	opts := build.Options{}
	if *bootstrap {
		opts.Bootstrap = build.BootstrapOn
	}
	r, err := build.Load(fullPath, opts)
	if err != nil {
		log.Fatalf("Build failed: %v", err)
	}

	vm := cpu.NewCPU()
	if len(r.Units) > 0 {
		vm.Poke(cpu.AddrSP, int16(cpu.StackBase))
	}
	if err := vm.Load(r.Words); err != nil {
		log.Fatal(err)
	}

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(cpu.ScreenWidth**scale, (cpu.ScreenHeight+statusHeight)**scale)
	ebiten.SetWindowTitle("hackchain: " + utils.UnitName(fullPath))

	game := newGame(vm, *stepsPerFrame, utils.UnitName(fullPath))
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}
