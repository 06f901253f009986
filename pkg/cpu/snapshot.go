package cpu

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"hackchain/pkg/utils"
)

// snapshotState is the JSON part of a snapshot archive.
type snapshotState struct {
	A          uint16 `json:"a"`
	D          uint16 `json:"d"`
	PC         uint16 `json:"pc"`
	SP         uint16 `json:"sp"`
	Steps      uint64 `json:"steps"`
	Halted     bool   `json:"halted"`
	Fault      string `json:"fault,omitempty"`
	ProgramLen int    `json:"program_len"`
}

// SnapshotToBytes serialises the machine into an in-memory ZIP archive holding
// cpu_state.json, ram.bin and rom.bin (little-endian words).
func (c *CPU) SnapshotToBytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	state := snapshotState{
		A:          c.A,
		D:          c.D,
		PC:         c.PC,
		SP:         c.SP(),
		Steps:      c.Steps,
		Halted:     c.Halted,
		ProgramLen: c.ProgramLen,
	}
	if c.Fault != nil {
		state.Fault = c.Fault.Error()
	}

	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cpu_state: %w", err)
	}
	if err := writeZipEntry(zw, "cpu_state.json", jsonData); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "ram.bin", uint16SliceToLE(c.RAM[:])); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "rom.bin", uint16SliceToLE(c.ROM[:c.ProgramLen])); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreFromBytes applies an archive produced by SnapshotToBytes.
func (c *CPU) RestoreFromBytes(data []byte) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "cpu_state.json")
	if err != nil {
		return err
	}
	var state snapshotState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return fmt.Errorf("unmarshal cpu_state: %w", err)
	}
	if state.ProgramLen < 0 || state.ProgramLen > MemorySize {
		return fmt.Errorf("snapshot program length %d out of range", state.ProgramLen)
	}

	rom, err := readZipEntry(fileMap, "rom.bin")
	if err != nil {
		return err
	}
	ram, err := readZipEntry(fileMap, "ram.bin")
	if err != nil {
		return err
	}

	c.ROM = [MemorySize]uint16{}
	leToUint16Slice(rom, c.ROM[:state.ProgramLen])
	c.RAM = [MemorySize]uint16{}
	leToUint16Slice(ram, c.RAM[:])

	c.A = state.A
	c.D = state.D
	c.PC = state.PC
	c.Steps = state.Steps
	c.Halted = state.Halted
	c.ProgramLen = state.ProgramLen
	c.Fault = nil
	if state.Fault != "" {
		c.Fault = errors.New(state.Fault)
	}
	return nil
}

// SnapshotToFile writes the snapshot archive to path. The file is replaced
// atomically, so a failed write never leaves a truncated archive.
func (c *CPU) SnapshotToFile(path string) error {
	data, err := c.SnapshotToBytes()
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// RestoreFromFile reads a snapshot archive from path.
func (c *CPU) RestoreFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.RestoreFromBytes(data)
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func uint16SliceToLE(src []uint16) []byte {
	out := make([]byte, len(src)*2)
	for i, v := range src {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func leToUint16Slice(src []byte, dst []uint16) {
	for i := range dst {
		if i*2+1 < len(src) {
			dst[i] = binary.LittleEndian.Uint16(src[i*2:])
		}
	}
}
