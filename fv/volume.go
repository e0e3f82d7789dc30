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

package fv

import (
	"encoding/binary"

	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
)

// Volume is a parsed, read-only view over a memory-mapped firmware
// volume image. It never copies the underlying bytes except when
// handing content out to a caller: pointers into firmware-owned
// memory are handed out as freshly materialised byte slices at the
// API boundary.
type Volume struct {
	Header    Header
	ExtHeader *ExtHeader
	BlockMap  []BlockMapEntry
	raw       []byte // the full FV image, length == Header.FvLength
	files     []File
	baseAddr  uint64 // physical base address, set by the caller via SetBaseAddress
}

// alignUp8 rounds v up to the next 8-byte boundary; FFS files are
// 8-byte aligned within the volume.
func alignUp8(v int) int { return (v + 7) &^ 7 }

// Parse decodes a firmware volume image starting at the beginning of
// data. Parsing never reads past Header.FvLength.
func Parse(data []byte) (*Volume, error) {
	if len(data) < HeaderBaseSize {
		return nil, status.New("fv.Parse", status.VolumeCorrupted, "image too short for an FV header")
	}
	var h Header
	copy(h.ZeroVector[:], data[0:16])
	g, err := guid.FromBytes(data[16:32])
	if err != nil {
		return nil, status.Wrap("fv.Parse", status.VolumeCorrupted, err)
	}
	h.FileSystemGUID = g
	h.FvLength = binary.LittleEndian.Uint64(data[32:40])
	h.Signature = binary.LittleEndian.Uint32(data[40:44])
	h.Attributes = binary.LittleEndian.Uint32(data[44:48])
	h.HeaderLength = binary.LittleEndian.Uint16(data[48:50])
	h.Checksum = binary.LittleEndian.Uint16(data[50:52])
	h.ExtHeaderOffset = binary.LittleEndian.Uint16(data[52:54])
	h.Reserved = data[54]
	h.Revision = data[55]

	if h.Signature != Signature {
		return nil, status.New("fv.Parse", status.VolumeCorrupted, "bad FV signature")
	}
	if h.FvLength == 0 || uint64(len(data)) < h.FvLength {
		return nil, status.New("fv.Parse", status.VolumeCorrupted, "image shorter than declared FvLength")
	}
	if uint64(h.HeaderLength) > h.FvLength || int(h.HeaderLength) < HeaderBaseSize {
		return nil, status.New("fv.Parse", status.VolumeCorrupted, "bad HeaderLength")
	}

	raw := data[:h.FvLength]
	if !validHeaderChecksum(raw[:h.HeaderLength]) {
		return nil, status.New("fv.Parse", status.VolumeCorrupted, "FV header checksum does not validate")
	}

	v := &Volume{Header: h, raw: raw}

	// The block-map array fills the space between the fixed header and
	// HeaderLength, terminated by an all-zero entry.
	for off := HeaderBaseSize; off+8 <= int(h.HeaderLength); off += 8 {
		e := BlockMapEntry{
			NumBlocks: binary.LittleEndian.Uint32(raw[off : off+4]),
			Length:    binary.LittleEndian.Uint32(raw[off+4 : off+8]),
		}
		if e.NumBlocks == 0 && e.Length == 0 {
			break
		}
		v.BlockMap = append(v.BlockMap, e)
	}

	if h.ExtHeaderOffset != 0 {
		off := int(h.ExtHeaderOffset)
		if off+20 > len(raw) {
			return nil, status.New("fv.Parse", status.VolumeCorrupted, "ext header offset out of range")
		}
		eg, err := guid.FromBytes(raw[off : off+16])
		if err != nil {
			return nil, status.Wrap("fv.Parse", status.VolumeCorrupted, err)
		}
		v.ExtHeader = &ExtHeader{
			FvNameGUID:    eg,
			ExtHeaderSize: binary.LittleEndian.Uint32(raw[off+16 : off+20]),
		}
	}

	if err := v.parseFiles(); err != nil {
		return nil, err
	}
	return v, nil
}

// validHeaderChecksum sums the header as a stream of little-endian
// uint16s; a valid header sums to zero mod 2^16 (standard UEFI FV
// header checksum algorithm).
func validHeaderChecksum(header []byte) bool {
	if len(header)%2 != 0 {
		return false
	}
	var sum uint16
	for i := 0; i < len(header); i += 2 {
		sum += binary.LittleEndian.Uint16(header[i : i+2])
	}
	return sum == 0
}

// erasePolarityMask is the state-byte XOR mask implied by the FV's
// erase polarity attribute bit.
func (v *Volume) erasePolarityMask() uint8 {
	if v.Header.Attributes&AttrErasePolarity != 0 {
		return 0xFF
	}
	return 0
}

func (v *Volume) parseFiles() error {
	pos := alignUp8(int(v.Header.HeaderLength))
	pad := v.erasePolarityMask()

	for pos+FileHeaderSize <= len(v.raw) {
		nameBytes := v.raw[pos : pos+16]
		// An all-erased-polarity region (all bytes == pad) marks the end
		// of the file directory: there is no more content past it.
		if allBytesEqual(v.raw[pos:pos+FileHeaderSize], pad) {
			break
		}

		name, err := guid.FromBytes(nameBytes)
		if err != nil {
			return status.Wrap("fv.parseFiles", status.VolumeCorrupted, err)
		}
		integrity := binary.LittleEndian.Uint16(v.raw[pos+16 : pos+18])
		typ := v.raw[pos+18]
		attrs := uint32(v.raw[pos+19])
		size := uint32(v.raw[pos+20]) | uint32(v.raw[pos+21])<<8 | uint32(v.raw[pos+22])<<16
		state := v.raw[pos+23] ^ pad

		if state&stateHeaderValid == 0 || state&stateDataValid == 0 {
			return status.New("fv.parseFiles", status.VolumeCorrupted, "file header/data not valid per state byte")
		}
		if int(size) < FileHeaderSize || pos+int(size) > len(v.raw) {
			return status.New("fv.parseFiles", status.VolumeCorrupted, "file size out of range")
		}
		if state&stateDeleted != 0 {
			pos += alignUp8(int(size))
			continue
		}

		body := v.raw[pos+FileHeaderSize : pos+int(size)]
		v.files = append(v.files, File{
			Name:       name,
			Type:       typ,
			Attributes: attrs,
			Size:       size,
			body:       body,
		})
		_ = integrity // integrity checksum is validated at the FFS layer in real firmware; not re-derived here

		pos += alignUp8(int(size))
	}
	return nil
}

func allBytesEqual(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}

// SetBaseAddress records the physical address this volume is mapped
// at, used by FVB.GetPhysicalAddress and the device-path builder. Core
// calls this once at install time.
func (v *Volume) SetBaseAddress(addr uint64) { v.baseAddr = addr }

// BaseAddress returns the address set by SetBaseAddress.
func (v *Volume) BaseAddress() uint64 { return v.baseAddr }

// EndAddress returns BaseAddress()+FvLength.
func (v *Volume) EndAddress() uint64 { return v.baseAddr + v.Header.FvLength }

// FindFile returns the file whose name matches, or NotFound.
func (v *Volume) FindFile(name guid.GUID) (File, error) {
	for _, f := range v.files {
		if f.Name.Equal(name) {
			return f, nil
		}
	}
	return File{}, status.New("fv.FindFile", status.NotFound, "no file with that name in this volume")
}

// Files returns every file in directory order.
func (v *Volume) Files() []File {
	out := make([]File, len(v.files))
	copy(out, v.files)
	return out
}

// FileAt returns the index-th file and whether that index exists,
// supporting GetNextFile's cursor-by-index contract.
func (v *Volume) FileAt(idx int) (File, bool) {
	if idx < 0 || idx >= len(v.files) {
		return File{}, false
	}
	return v.files[idx], true
}
