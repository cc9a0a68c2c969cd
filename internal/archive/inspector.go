// Package archive recognizes RAR4/RAR5/7z container signatures in a byte
// prefix and classifies the archive as stored (safe to stream) or
// compressed/encrypted/solid/unsupported (spec §4.3).
package archive

import "encoding/binary"

// Status is the closed set of outcomes the Archive Inspector can produce.
type Status string

const (
	StatusRARStored           Status = "rar-stored"
	StatusRARCompressed       Status = "rar-compressed"
	StatusRAREncrypted        Status = "rar-encrypted"
	StatusRARSolid            Status = "rar-solid"
	StatusRARCorruptHeader    Status = "rar-corrupt-header"
	StatusRARInsufficientData Status = "rar-insufficient-data"
	StatusRARHeaderNotFound   Status = "rar-header-not-found"
	StatusSevenZipStored           Status = "sevenzip-stored"
	StatusSevenZipUnsupported      Status = "sevenzip-unsupported"
	StatusSevenZipInsufficientData Status = "sevenzip-insufficient-data"
)

var (
	rar4Signature = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}
	rar5Signature = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00}
)

// RAR4 block header flags (per the RAR 1.5-4.x format).
const (
	fileHeaderType = 0x74
	flagEncrypted  = 0x0004
	flagSolid      = 0x0010
	flagLarge      = 0x0100 // adds 8-byte HIGH_PACK_SIZE/HIGH_UNP_SIZE before the name
	flagUnicode    = 0x0200 // name field carries ANSI;UNICODE pair, doesn't move the offset
	storedMethod   = 0x30
)

// Result is the outcome of inspecting a byte buffer, with enough detail
// for callers to log or surface "details" the spec requires for the
// sevenzip-unsupported case.
type Result struct {
	Status  Status
	Details string // e.g. the 7z method byte, in hex, for sevenzip-unsupported
}

// Inspect classifies buffer B per spec §4.3. B may be any length,
// including empty or truncated mid-header.
func Inspect(b []byte) Result {
	switch {
	case hasPrefix(b, rar5Signature):
		return Result{Status: StatusRARStored}
	case hasPrefix(b, rar4Signature):
		return inspectRAR4(b)
	case len(b) >= 6 && b[0] == 0x37 && b[1] == 0x7A:
		return inspectSevenZip(b)
	default:
		return Result{Status: StatusRARHeaderNotFound}
	}
}

func hasPrefix(b, sig []byte) bool {
	return len(b) >= len(sig) && string(b[:len(sig)]) == string(sig)
}

// inspectRAR4 walks RAR4 block headers starting at offset 7, looking for
// the first file header (type 0x74) to inspect.
func inspectRAR4(b []byte) Result {
	offset := len(rar4Signature)

	for offset+7 <= len(b) {
		blockType := b[offset+2]
		flags := binary.LittleEndian.Uint16(b[offset+3 : offset+5])
		size := int(binary.LittleEndian.Uint16(b[offset+5 : offset+7]))

		if size < 7 {
			return Result{Status: StatusRARCorruptHeader}
		}
		if offset+size > len(b) {
			return Result{Status: StatusRARInsufficientData}
		}

		if blockType == fileHeaderType {
			return inspectRARFileHeader(b, offset, flags)
		}

		offset += size
	}

	return Result{Status: StatusRARHeaderNotFound}
}

// inspectRARFileHeader parses the fixed-offset fields of a RAR4 file
// header (spec §4.3) to recover methodByte and the encryption/solid/
// large flags, returning the corresponding classification.
func inspectRARFileHeader(b []byte, base int, flags uint16) Result {
	const methodOffset = 25
	const nameSizeOffset = 26
	const nameBaseOffset = 32

	if base+methodOffset+1 > len(b) || base+nameSizeOffset+2 > len(b) {
		return Result{Status: StatusRARInsufficientData}
	}
	methodByte := b[base+methodOffset]

	nameOffset := base + nameBaseOffset
	if flags&flagLarge != 0 {
		nameOffset += 8
	}
	// flagUnicode widens the name payload (ANSI;UNICODE pair) but doesn't move nameOffset.
	nameSize := int(binary.LittleEndian.Uint16(b[base+nameSizeOffset : base+nameSizeOffset+2]))
	if nameOffset+nameSize > len(b) {
		return Result{Status: StatusRARInsufficientData}
	}

	switch {
	case flags&flagEncrypted != 0:
		return Result{Status: StatusRAREncrypted}
	case flags&flagSolid != 0:
		return Result{Status: StatusRARSolid}
	case methodByte != storedMethod:
		return Result{Status: StatusRARCompressed}
	default:
		return Result{Status: StatusRARStored}
	}
}

// inspectSevenZip reads the 7z signature header's method byte at offset 6
// (spec §4.3); 7z requires the full 32-byte signature header to be present.
func inspectSevenZip(b []byte) Result {
	if len(b) < 32 {
		return Result{Status: StatusSevenZipInsufficientData}
	}
	if b[6] == 0x00 {
		return Result{Status: StatusSevenZipStored}
	}
	return Result{Status: StatusSevenZipUnsupported, Details: hexByte(b[6])}
}

func hexByte(b byte) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0x0F]})
}
