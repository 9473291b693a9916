package maxutils

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

// BinaryKind classifies a Mach-O file.
type BinaryKind int

const (
	KindUnknown BinaryKind = iota
	KindExecutable
	KindDylib
	KindBundle
)

func (k BinaryKind) String() string {
	switch k {
	case KindExecutable:
		return "executable"
	case KindDylib:
		return "dynamic-library"
	case KindBundle:
		return "bundle"
	default:
		return "unknown"
	}
}

// Mach-O cputype values for the architectures Max products ship.
const (
	cpuI386  uint32 = 0x7
	cpuAmd64 uint32 = 0x01000007
	cpuArm64 uint32 = 0x0100000c
)

// IsMachO reports whether the file at path starts with a Mach-O or fat
// magic number.
func IsMachO(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}

	// MH_MAGIC_64 (little endian), MH_MAGIC (little endian),
	// FAT_MAGIC / FAT_MAGIC_64 (big endian).
	return bytes.Equal(magic, []byte{0xcf, 0xfa, 0xed, 0xfe}) ||
		bytes.Equal(magic, []byte{0xce, 0xfa, 0xed, 0xfe}) ||
		bytes.Equal(magic, []byte{0xca, 0xfe, 0xba, 0xbe}) ||
		bytes.Equal(magic, []byte{0xca, 0xfe, 0xba, 0xbf})
}

// IsFat reports whether the file at path is a fat (multi-architecture)
// binary.
func IsFat(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return bytes.Equal(magic, []byte{0xca, 0xfe, 0xba, 0xbe}) ||
		bytes.Equal(magic, []byte{0xca, 0xfe, 0xba, 0xbf})
}

// Kind parses the Mach-O file at path and returns its kind. Fat binaries
// are classified by their first architecture slice.
func Kind(path string) (BinaryKind, error) {
	m, err := openMachO(path)
	if err != nil {
		return KindUnknown, err
	}
	defer m.Close()

	switch m.FileHeader.Type {
	case types.MH_EXECUTE:
		return KindExecutable, nil
	case types.MH_DYLIB:
		return KindDylib, nil
	case types.MH_BUNDLE:
		return KindBundle, nil
	default:
		return KindUnknown, nil
	}
}

// Architectures returns the architecture names contained in the Mach-O
// file at path, e.g. ["x86_64", "arm64"] for a dual binary.
func Architectures(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if fat, err := macho.NewFatFile(bytes.NewReader(data)); err == nil {
		defer fat.Close()
		var arches []string
		for _, arch := range fat.Arches {
			arches = append(arches, archName(uint32(arch.CPU)))
		}
		return arches, nil
	}

	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("not a Mach-O file: %w", err)
	}
	defer m.Close()
	return []string{archName(uint32(m.FileHeader.CPU))}, nil
}

// HasSignature reports whether the Mach-O file at path carries an
// LC_CODE_SIGNATURE load command.
func HasSignature(path string) (bool, error) {
	m, err := openMachO(path)
	if err != nil {
		return false, err
	}
	defer m.Close()
	return m.CodeSignature() != nil, nil
}

// openMachO opens the file at path as a thin Mach-O, taking the first
// slice of a fat binary.
func openMachO(path string) (*macho.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if fat, err := macho.NewFatFile(bytes.NewReader(data)); err == nil {
		defer fat.Close()
		if len(fat.Arches) == 0 {
			return nil, fmt.Errorf("fat binary with no architectures: %s", path)
		}
		arch := fat.Arches[0]
		end := uint64(arch.Offset) + uint64(arch.Size)
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("fat slice extends past end of file: %s", path)
		}
		slice := data[uint64(arch.Offset):end]
		return macho.NewFile(bytes.NewReader(slice))
	}

	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("not a Mach-O file: %w", err)
	}
	return m, nil
}

func archName(cpu uint32) string {
	switch cpu {
	case cpuI386:
		return "i386"
	case cpuAmd64:
		return "x86_64"
	case cpuArm64:
		return "arm64"
	default:
		return fmt.Sprintf("cputype-0x%x", cpu)
	}
}
