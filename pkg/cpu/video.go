package cpu

import (
	"bytes"
	"image"
	"image/png"

	"hackchain/pkg/grid"
	"hackchain/pkg/utils"
)

var (
	pixelOn  = [4]byte{0x00, 0x00, 0x00, 0xFF}
	pixelOff = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}
)

// ScreenRGBA decodes the memory-mapped screen into a 512×256 RGBA8888 byte
// slice. Each RAM word covers 16 horizontal pixels, least significant bit
// leftmost; a set bit is a black pixel.
func (c *CPU) ScreenRGBA() []byte {
	pixels := make([]byte, ScreenWidth*ScreenHeight*4)
	words := ScreenWordsPerRow * ScreenHeight
	for w := 0; w < words; w++ {
		col, row := grid.GetGridCoords(w, ScreenWordsPerRow)
		word := c.RAM[int(AddrSCREEN)+w]
		for bit := 0; bit < 16; bit++ {
			px := grid.GetIndex(col*16+bit, row, ScreenWidth) * 4
			color := pixelOff
			if word&(1<<bit) != 0 {
				color = pixelOn
			}
			copy(pixels[px:px+4], color[:])
		}
	}
	return pixels
}

// ScreenImage returns the screen as an *image.RGBA.
func (c *CPU) ScreenImage() *image.RGBA {
	return &image.RGBA{
		Pix:    c.ScreenRGBA(),
		Stride: ScreenWidth * 4,
		Rect:   image.Rect(0, 0, ScreenWidth, ScreenHeight),
	}
}

// SaveScreenshot encodes the current screen as a PNG and writes it to filename.
func (c *CPU) SaveScreenshot(filename string) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.ScreenImage()); err != nil {
		return err
	}
	return utils.WriteFileAtomic(filename, buf.Bytes(), 0o644)
}

// Pixel reports whether the screen pixel at (x, y) is set. Coordinates
// outside the screen read as clear.
func (c *CPU) Pixel(x, y int) bool {
	if x < 0 || y < 0 || x >= ScreenWidth || y >= ScreenHeight {
		return false
	}
	word := c.RAM[int(AddrSCREEN)+grid.GetIndex(x/16, y, ScreenWordsPerRow)]
	return word&(1<<(x%16)) != 0
}
