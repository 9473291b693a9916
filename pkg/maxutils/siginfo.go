package maxutils

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.mozilla.org/pkcs7"
)

// Code signature blob magics and slot numbers, from the csblob kernel
// headers.
const (
	fatMagic uint32 = 0xcafebabe

	csmagicEmbeddedSignature = 0xfade0cc0
	csmagicCodeDirectory     = 0xfade0c02

	csslotCodeDirectory     = 0
	csslotRequirements      = 2
	csslotEntitlements      = 5
	csslotAlternateCodeDirs = 0x1000
	csslotCMSSignature      = 0x10000

	csHashSHA1   = 1
	csHashSHA256 = 2
)

// SignatureSummary describes the embedded code signature of a binary.
type SignatureSummary struct {
	BinaryPath   string
	Identifier   string
	TeamID       string
	HashType     string
	Flags        uint32
	CodeLimit    uint32
	BlobCount    uint32
	CDHash       []byte
	SignerCN     string
	SignerTeamID string
	Entitlements string
	Adhoc        bool
}

// ReadSignature parses the embedded code signature of the Mach-O binary
// at path. Fat binaries are inspected via their first slice.
func ReadSignature(path string) (*SignatureSummary, error) {
	m, err := openMachO(path)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	cs := m.CodeSignature()
	if cs == nil {
		return nil, fmt.Errorf("%s has no code signature", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	slice, err := firstSlice(data)
	if err != nil {
		return nil, err
	}
	start, size := uint64(cs.Offset), uint64(cs.Size)
	if start+size > uint64(len(slice)) {
		return nil, fmt.Errorf("code signature extends past end of %s", path)
	}
	return parseSuperBlob(slice[start:start+size], path)
}

// firstSlice returns the thin Mach-O image: the input itself for thin
// binaries, the first architecture for fat ones.
func firstSlice(data []byte) ([]byte, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("file too short for a Mach-O image")
	}
	if binary.BigEndian.Uint32(data[:4]) != fatMagic {
		return data, nil
	}
	offset := binary.BigEndian.Uint32(data[16:20])
	size := binary.BigEndian.Uint32(data[20:24])
	if uint64(offset)+uint64(size) > uint64(len(data)) {
		return nil, fmt.Errorf("fat arch slice extends past end of file")
	}
	return data[offset : offset+size], nil
}

func parseSuperBlob(sig []byte, path string) (*SignatureSummary, error) {
	if len(sig) < 12 {
		return nil, fmt.Errorf("signature data too short")
	}
	if binary.BigEndian.Uint32(sig[0:4]) != csmagicEmbeddedSignature {
		return nil, fmt.Errorf("bad SuperBlob magic 0x%x", binary.BigEndian.Uint32(sig[0:4]))
	}

	summary := &SignatureSummary{
		BinaryPath: path,
		BlobCount:  binary.BigEndian.Uint32(sig[8:12]),
		Adhoc:      true,
	}

	// Index and blob bounds are computed in uint64 so hostile 32-bit
	// lengths cannot wrap past the guards.
	size := uint64(len(sig))
	for i := uint64(0); i < uint64(summary.BlobCount); i++ {
		entry := 12 + i*8
		if entry+8 > size {
			return nil, fmt.Errorf("blob index entry %d extends past signature data", i)
		}
		blobType := binary.BigEndian.Uint32(sig[entry:])
		blobOffset := uint64(binary.BigEndian.Uint32(sig[entry+4:]))
		if blobOffset+8 > size {
			return nil, fmt.Errorf("blob %d offset %d out of range", i, blobOffset)
		}
		blobSize := uint64(binary.BigEndian.Uint32(sig[blobOffset+4:]))
		if blobOffset+blobSize > size {
			return nil, fmt.Errorf("blob %d size %d extends past signature data", i, blobSize)
		}
		blob := sig[blobOffset : blobOffset+blobSize]

		switch blobType {
		case csslotCodeDirectory, csslotAlternateCodeDirs:
			parseDirectory(blob, blobType, summary)
		case csslotEntitlements:
			if len(blob) > 8 {
				summary.Entitlements = string(blob[8:])
			}
		case csslotCMSSignature:
			if len(blob) > 8 {
				summary.Adhoc = false
				parseCMS(blob[8:], summary)
			}
		}
	}
	return summary, nil
}

func parseDirectory(blob []byte, slot uint32, summary *SignatureSummary) {
	if len(blob) < 40 || binary.BigEndian.Uint32(blob[0:4]) != csmagicCodeDirectory {
		return
	}
	version := binary.BigEndian.Uint32(blob[8:12])
	flags := binary.BigEndian.Uint32(blob[12:16])
	identOffset := binary.BigEndian.Uint32(blob[20:24])
	codeLimit := binary.BigEndian.Uint32(blob[32:36])
	hashType := blob[37]

	// Prefer the SHA-256 directory when both are present.
	if summary.Identifier != "" && slot == csslotCodeDirectory {
		return
	}

	summary.Flags = flags
	summary.CodeLimit = codeLimit
	summary.Identifier = cstring(blob, identOffset)
	switch hashType {
	case csHashSHA1:
		summary.HashType = "sha1"
		h := sha1.Sum(blob)
		summary.CDHash = h[:]
	case csHashSHA256:
		summary.HashType = "sha256"
		h := sha256.Sum256(blob)
		summary.CDHash = h[:20]
	}
	if version >= 0x20200 && len(blob) >= 52 {
		teamOffset := binary.BigEndian.Uint32(blob[48:52])
		if teamOffset > 0 {
			summary.TeamID = cstring(blob, teamOffset)
		}
	}
}

func parseCMS(cms []byte, summary *SignatureSummary) {
	p7, err := pkcs7.Parse(cms)
	if err != nil || len(p7.Signers) == 0 {
		return
	}
	signer := p7.Signers[0]
	for _, cert := range p7.Certificates {
		if cert.SerialNumber.Cmp(signer.IssuerAndSerialNumber.SerialNumber) != 0 {
			continue
		}
		summary.SignerCN = cert.Subject.CommonName
		for _, ou := range cert.Subject.OrganizationalUnit {
			if len(ou) == 10 {
				summary.SignerTeamID = ou
				break
			}
		}
		break
	}
}

func cstring(data []byte, offset uint32) string {
	if offset >= uint32(len(data)) {
		return ""
	}
	end := offset
	for end < uint32(len(data)) && data[end] != 0 {
		end++
	}
	return string(data[offset:end])
}

// PrintSignature writes a readable summary of a binary's signature.
func PrintSignature(w io.Writer, s *SignatureSummary) {
	fmt.Fprintf(w, "=== %s ===\n", filepath.Base(s.BinaryPath))
	if s.Identifier != "" {
		fmt.Fprintf(w, "Identifier: %s\n", s.Identifier)
	}
	if s.TeamID != "" {
		fmt.Fprintf(w, "Team ID:    %s\n", s.TeamID)
	}
	if s.Adhoc {
		fmt.Fprintf(w, "Signature:  adhoc\n")
	} else if s.SignerCN != "" {
		fmt.Fprintf(w, "Signer:     %s\n", s.SignerCN)
	}
	if s.HashType != "" {
		fmt.Fprintf(w, "Hash:       %s\n", s.HashType)
	}
	if len(s.CDHash) > 0 {
		fmt.Fprintf(w, "CDHash:     %s\n", hex.EncodeToString(s.CDHash))
	}
	fmt.Fprintf(w, "Blobs:      %d\n", s.BlobCount)
	fmt.Fprintf(w, "Code Limit: %d\n", s.CodeLimit)
}

// InspectBundle prints signature summaries for the bundle executable and
// any nested frameworks.
func InspectBundle(w io.Writer, bundle string) error {
	product, err := DetectProduct(bundle, "")
	if err != nil {
		return err
	}
	exe, err := ExecutablePath(product.Path)
	if err != nil {
		return err
	}
	summary, err := ReadSignature(exe)
	if err != nil {
		return err
	}
	PrintSignature(w, summary)

	frameworks := filepath.Join(product.Path, "Contents", "Frameworks")
	entries, err := os.ReadDir(frameworks)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		path := filepath.Join(frameworks, entry.Name())
		if entry.IsDir() || !IsMachO(path) {
			continue
		}
		nested, err := ReadSignature(path)
		if err != nil {
			fmt.Fprintf(w, "=== %s ===\nunsigned (%v)\n", entry.Name(), err)
			continue
		}
		PrintSignature(w, nested)
	}
	return nil
}
