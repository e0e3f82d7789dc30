// Copyright the DXE Core Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fv parses read-only, memory-mapped firmware volumes: the FV
// header, its file directory, and each file's section stream. It also
// exposes the FVB/FV protocol surfaces and per-FV device-path
// synthesis that core installs on every FV it finds during HOB
// processing.
package fv

import "github.com/patina-fw/dxecore/pkg/guid"

// Signature is the 32-bit little-endian "_FVH" magic at offset 40 of
// every firmware volume header.
const Signature = 0x4856465F

// HeaderBaseSize is the size of the fixed portion of the FV header,
// before the variable-length block-map array.
const HeaderBaseSize = 56

// Attributes bits consulted by this package; the rest pass through
// opaque to callers.
const (
	AttrReadDisableCap  uint32 = 1 << 0
	AttrReadEnableCap   uint32 = 1 << 1
	AttrReadStatus      uint32 = 1 << 2
	AttrWriteDisableCap uint32 = 1 << 3
	AttrWriteEnableCap  uint32 = 1 << 4
	AttrWriteStatus     uint32 = 1 << 5
	AttrLockCap         uint32 = 1 << 6
	AttrLockStatus      uint32 = 1 << 7
	AttrErasePolarity   uint32 = 1 << 19
	AttrMemoryMapped    uint32 = 1 << 22
)

// BlockMapEntry is one EFI_FV_BLOCK_MAP_ENTRY from the variable-length
// array that follows the fixed header: NumBlocks runs of Length-byte
// blocks. The array is terminated by an all-zero entry.
type BlockMapEntry struct {
	NumBlocks uint32
	Length    uint32
}

// Header is the fixed-layout EFI_FIRMWARE_VOLUME_HEADER.
type Header struct {
	ZeroVector      [16]byte
	FileSystemGUID  guid.GUID
	FvLength        uint64
	Signature       uint32
	Attributes      uint32
	HeaderLength    uint16
	Checksum        uint16
	ExtHeaderOffset uint16
	Reserved        uint8
	Revision        uint8
}

// ExtHeader is the optional EFI_FIRMWARE_VOLUME_EXT_HEADER, present
// when Header.ExtHeaderOffset is nonzero; FvNameGUID feeds the FV's
// MediaFwVol device-path node.
type ExtHeader struct {
	FvNameGUID  guid.GUID
	ExtHeaderSize uint32
}

// File type byte values (EFI_FV_FILETYPE_*), the ones this package's
// tests and the section extractor care about; unrecognized values are
// preserved and returned as-is.
const (
	FileTypeRaw            uint8 = 0x01
	FileTypeFreeform       uint8 = 0x02
	FileTypeSECCore        uint8 = 0x03
	FileTypePEICore        uint8 = 0x04
	FileTypeDXECore        uint8 = 0x05
	FileTypePEIM           uint8 = 0x06
	FileTypeDriver         uint8 = 0x07
	FileTypeCombinedPEIMDriver uint8 = 0x08
	FileTypeApplication    uint8 = 0x09
	FileTypeSMM            uint8 = 0x0A
	FileTypeFVImage        uint8 = 0x0B
	FileTypeCombinedSMMDXE uint8 = 0x0C
	FileTypeSMMCore        uint8 = 0x0D
	FileTypeAll            uint8 = 0x00 // wildcard for GetNextFile's "0 means any"
)

// File state bits (EFI_FILE_*), applied XOR'd with the erase polarity
// bit before interpretation.
const (
	stateHeaderConstruction uint8 = 1 << 0
	stateHeaderValid        uint8 = 1 << 1
	stateDataValid          uint8 = 1 << 2
	stateMarkedForUpdate    uint8 = 1 << 3
	stateDeleted            uint8 = 1 << 4
)

// FileHeader is the fixed-layout EFI_FFS_FILE_HEADER.
type FileHeader struct {
	Name           guid.GUID
	IntegrityCheck uint16
	Type           uint8
	Attributes     uint32 // widened from the on-wire 1-byte field, see File
	Size           uint32 // decoded from the 3-byte little-endian Size field
	State          uint8  // raw, still polarity-encoded
}

// FileHeaderSize is the on-wire size of FileHeader (24 bytes: 16 GUID +
// 2 checksum + 1 type + 1 attributes + 3 size + 1 state).
const FileHeaderSize = 24

// Section type byte values (EFI_SECTION_*) this package recognizes.
const (
	SectionTypeCompression      uint8 = 0x01
	SectionTypeGUIDDefined      uint8 = 0x02
	SectionTypePE32             uint8 = 0x10
	SectionTypePIC              uint8 = 0x11
	SectionTypeTE               uint8 = 0x12
	SectionTypeDXEDepex         uint8 = 0x13
	SectionTypeVersion          uint8 = 0x14
	SectionTypeUserInterface    uint8 = 0x15
	SectionTypeCompatibility16  uint8 = 0x16
	SectionTypeFirmwareVolumeImage uint8 = 0x17
	SectionTypeFreeformSubtypeGUID uint8 = 0x18
	SectionTypeRaw              uint8 = 0x19
	SectionTypePEIDepex         uint8 = 0x1B
	SectionTypeSMMDepex         uint8 = 0x1C
)

// SectionHeaderSize is the on-wire size of EFI_COMMON_SECTION_HEADER
// (3-byte Size, 1-byte Type); large sections using the FFS3 extended
// Size2 field are not modeled, matching the rest of the pack's
// preference for the common case over every historical wire variant.
const SectionHeaderSize = 4

// CompressionSectionHeader follows a COMPRESSION section's common
// header.
type CompressionSectionHeader struct {
	UncompressedLength uint32
	CompressionType    uint8
}

// GUIDDefinedSectionHeader follows a GUID_DEFINED section's common
// header.
type GUIDDefinedSectionHeader struct {
	SectionDefinitionGUID guid.GUID
	DataOffset            uint16
	Attributes            uint16
}

// GUIDDefinedProcessingRequired, when set in Attributes, means the
// section must be unpacked by a matching extractor before use; when
// clear, the wrapped data may be used as-is by consumers that
// recognize the wrapping GUID out of band.
const GUIDDefinedProcessingRequired uint16 = 1 << 1

// Section is one parsed section: its type and its content, fully
// unwrapped once passed through the section extractor.
type Section struct {
	Type    uint8
	Content []byte
}

// File is one parsed FFS file: its header fields and the raw
// concatenated bytes of its section stream (decoded on demand by
// sectionextract.Extractor). Attributes is widened from the FFS on-wire
// attribute byte to the 32-bit EFI_FV_FILE_ATTRIBUTES reporting shape
// so FVProtocol.GetNextFile can OR in MEMORY_MAPPED without
// truncation.
type File struct {
	Name       guid.GUID
	Type       uint8
	Attributes uint32
	Size       uint32
	body       []byte // section stream, header stripped
}

// Body returns the file's raw content (its section stream for
// sectioned file types, or the bytes themselves for FileTypeRaw/FV
// image files that are not further subdivided).
func (f File) Body() []byte { return f.body }
