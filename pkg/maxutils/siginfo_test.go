package maxutils

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildCodeDirectory assembles a minimal version 0x20200 CodeDirectory
// with an identifier and team ID.
func buildCodeDirectory(identifier, teamID string) []byte {
	const headerLen = 52
	identOffset := uint32(headerLen)
	teamOffset := identOffset + uint32(len(identifier)) + 1
	total := teamOffset + uint32(len(teamID)) + 1

	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:4], csmagicCodeDirectory)
	binary.BigEndian.PutUint32(blob[4:8], total)
	binary.BigEndian.PutUint32(blob[8:12], 0x20200) // version with teamOffset
	binary.BigEndian.PutUint32(blob[12:16], 0x2)    // flags: adhoc
	binary.BigEndian.PutUint32(blob[20:24], identOffset)
	binary.BigEndian.PutUint32(blob[32:36], 0x4000) // codeLimit
	blob[36] = 32                                   // hash size
	blob[37] = csHashSHA256
	binary.BigEndian.PutUint32(blob[48:52], teamOffset)
	copy(blob[identOffset:], identifier)
	copy(blob[teamOffset:], teamID)
	return blob
}

// buildSuperBlob wraps blobs into an embedded-signature SuperBlob.
func buildSuperBlob(slots []uint32, blobs [][]byte) []byte {
	count := uint32(len(blobs))
	indexEnd := 12 + count*8

	offset := indexEnd
	var offsets []uint32
	total := indexEnd
	for _, blob := range blobs {
		offsets = append(offsets, offset)
		offset += uint32(len(blob))
		total += uint32(len(blob))
	}

	out := make([]byte, total)
	binary.BigEndian.PutUint32(out[0:4], csmagicEmbeddedSignature)
	binary.BigEndian.PutUint32(out[4:8], total)
	binary.BigEndian.PutUint32(out[8:12], count)
	for i := range blobs {
		entry := 12 + uint32(i)*8
		binary.BigEndian.PutUint32(out[entry:], slots[i])
		binary.BigEndian.PutUint32(out[entry+4:], offsets[i])
		copy(out[offsets[i]:], blobs[i])
	}
	return out
}

// TestParseSuperBlob verifies identifier, team and hash extraction from
// a synthetic signature.
func TestParseSuperBlob(t *testing.T) {
	cd := buildCodeDirectory("com.acme.chorus", "ABCDE12345")
	sig := buildSuperBlob([]uint32{csslotCodeDirectory}, [][]byte{cd})

	summary, err := parseSuperBlob(sig, "/b/chorus")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if summary.Identifier != "com.acme.chorus" {
		t.Errorf("Identifier = %q", summary.Identifier)
	}
	if summary.TeamID != "ABCDE12345" {
		t.Errorf("TeamID = %q", summary.TeamID)
	}
	if summary.HashType != "sha256" {
		t.Errorf("HashType = %q", summary.HashType)
	}
	if summary.CodeLimit != 0x4000 {
		t.Errorf("CodeLimit = %d", summary.CodeLimit)
	}
	if !summary.Adhoc {
		t.Error("a signature without a CMS blob is ad-hoc")
	}
	if len(summary.CDHash) != 20 {
		t.Errorf("SHA-256 CDHash must be truncated to 20 bytes, got %d", len(summary.CDHash))
	}
}

// TestParseSuperBlobPrefersSHA256 verifies that the alternate SHA-256
// directory wins over the legacy SHA-1 one.
func TestParseSuperBlobPrefersSHA256(t *testing.T) {
	sha1CD := buildCodeDirectory("com.acme.legacy", "ABCDE12345")
	sha1CD[36] = 20
	sha1CD[37] = csHashSHA1
	sha256CD := buildCodeDirectory("com.acme.modern", "ABCDE12345")

	sig := buildSuperBlob(
		[]uint32{csslotCodeDirectory, csslotAlternateCodeDirs},
		[][]byte{sha1CD, sha256CD},
	)
	summary, err := parseSuperBlob(sig, "/b/chorus")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if summary.Identifier != "com.acme.modern" {
		t.Errorf("expected the SHA-256 directory to win, got %q", summary.Identifier)
	}
	if summary.HashType != "sha256" {
		t.Errorf("HashType = %q", summary.HashType)
	}
}

// TestParseSuperBlobRejectsBadMagic verifies the magic check.
func TestParseSuperBlobRejectsBadMagic(t *testing.T) {
	sig := make([]byte, 12)
	binary.BigEndian.PutUint32(sig[0:4], 0xdeadbeef)
	if _, err := parseSuperBlob(sig, "/b/chorus"); err == nil {
		t.Error("expected an error for a bad SuperBlob magic")
	}
}

// TestParseSuperBlobRejectsWrappingBlobSize verifies that a blob size
// crafted to overflow 32-bit offset arithmetic is rejected instead of
// slicing past the signature data.
func TestParseSuperBlobRejectsWrappingBlobSize(t *testing.T) {
	sig := make([]byte, 24)
	binary.BigEndian.PutUint32(sig[0:4], csmagicEmbeddedSignature)
	binary.BigEndian.PutUint32(sig[4:8], 24)
	binary.BigEndian.PutUint32(sig[8:12], 1)
	binary.BigEndian.PutUint32(sig[12:16], csslotCodeDirectory)
	binary.BigEndian.PutUint32(sig[16:20], 16)         // blob offset
	binary.BigEndian.PutUint32(sig[20:24], 0xFFFFFFF0) // 16 + size wraps to 0

	if _, err := parseSuperBlob(sig, "/b/chorus"); err == nil {
		t.Error("expected an error for a blob size past the signature data")
	}
}

// TestParseSuperBlobRejectsTruncatedIndex verifies that a blob count
// exceeding the index data is an error.
func TestParseSuperBlobRejectsTruncatedIndex(t *testing.T) {
	sig := make([]byte, 16)
	binary.BigEndian.PutUint32(sig[0:4], csmagicEmbeddedSignature)
	binary.BigEndian.PutUint32(sig[4:8], 16)
	binary.BigEndian.PutUint32(sig[8:12], 4)

	if _, err := parseSuperBlob(sig, "/b/chorus"); err == nil {
		t.Error("expected an error for a blob count past the index data")
	}
}

// TestFirstSlice verifies fat header handling.
func TestFirstSlice(t *testing.T) {
	thin := append([]byte{0xcf, 0xfa, 0xed, 0xfe}, make([]byte, 28)...)
	got, err := firstSlice(thin)
	if err != nil {
		t.Fatalf("firstSlice failed on thin data: %v", err)
	}
	if !bytes.Equal(got, thin) {
		t.Error("thin input must be returned unchanged")
	}

	// A fat header pointing at a 8-byte slice at offset 32.
	fat := make([]byte, 40)
	binary.BigEndian.PutUint32(fat[0:4], fatMagic)
	binary.BigEndian.PutUint32(fat[4:8], 1) // arch count
	binary.BigEndian.PutUint32(fat[16:20], 32)
	binary.BigEndian.PutUint32(fat[20:24], 8)
	copy(fat[32:], "machomac")
	got, err = firstSlice(fat)
	if err != nil {
		t.Fatalf("firstSlice failed on fat data: %v", err)
	}
	if string(got) != "machomac" {
		t.Errorf("unexpected slice: %q", got)
	}

	// A slice extending past the file must be rejected.
	binary.BigEndian.PutUint32(fat[20:24], 64)
	if _, err := firstSlice(fat); err == nil {
		t.Error("expected an error for an out-of-range slice")
	}
}

// TestCstring verifies NUL-terminated string extraction bounds.
func TestCstring(t *testing.T) {
	data := []byte("hello\x00world")
	if got := cstring(data, 0); got != "hello" {
		t.Errorf("cstring(0) = %q", got)
	}
	if got := cstring(data, 6); got != "world" {
		t.Errorf("cstring(6) = %q", got)
	}
	if got := cstring(data, 99); got != "" {
		t.Errorf("out-of-range offset must yield empty, got %q", got)
	}
}
