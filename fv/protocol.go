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
	"github.com/patina-fw/dxecore/fv/sectionextract"
	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
)

// FVBProtocol is the read-only Firmware Volume Block surface:
// block-level read, physical address, and block-size queries.
// Writes and erases are unconditionally Unsupported because the core
// treats FVs as read-only.
type FVBProtocol struct {
	v *Volume
}

// NewFVBProtocol wraps v for installation on its handle.
func NewFVBProtocol(v *Volume) *FVBProtocol { return &FVBProtocol{v: v} }

// GetAttributes returns the FV header's raw attributes bitmask.
func (p *FVBProtocol) GetAttributes() uint32 { return p.v.Header.Attributes }

// GetPhysicalAddress returns the volume's mapped base address.
func (p *FVBProtocol) GetPhysicalAddress() uint64 { return p.v.BaseAddress() }

// GetBlockSize resolves lba through the volume's block map, returning
// the size of that block and how many consecutive blocks (this one
// included) share it. A volume whose header carries no block map is
// treated as one block spanning the whole image.
func (p *FVBProtocol) GetBlockSize(lba uint64) (blockSize uint32, remaining uint64, err error) {
	if len(p.v.BlockMap) == 0 {
		if lba != 0 {
			return 0, 0, status.New("fv.GetBlockSize", status.InvalidParameter, "lba beyond the last block")
		}
		return uint32(p.v.Header.FvLength), 1, nil
	}
	var first uint64
	for _, e := range p.v.BlockMap {
		if lba < first+uint64(e.NumBlocks) {
			return e.Length, first + uint64(e.NumBlocks) - lba, nil
		}
		first += uint64(e.NumBlocks)
	}
	return 0, 0, status.New("fv.GetBlockSize", status.InvalidParameter, "lba beyond the last block")
}

// blockStart returns the byte offset of the lba-th block within the
// volume image.
func (p *FVBProtocol) blockStart(lba uint64) (uint64, error) {
	if len(p.v.BlockMap) == 0 {
		if lba != 0 {
			return 0, status.New("fv.blockStart", status.InvalidParameter, "lba beyond the last block")
		}
		return 0, nil
	}
	var first, off uint64
	for _, e := range p.v.BlockMap {
		if lba < first+uint64(e.NumBlocks) {
			return off + (lba-first)*uint64(e.Length), nil
		}
		first += uint64(e.NumBlocks)
		off += uint64(e.NumBlocks) * uint64(e.Length)
	}
	return 0, status.New("fv.blockStart", status.InvalidParameter, "lba beyond the last block")
}

// ReadBlock returns length bytes of the lba-th block's content,
// starting at offset within it, copied into a freshly materialised
// slice.
func (p *FVBProtocol) ReadBlock(lba uint64, offset, length uint32) ([]byte, error) {
	if p.v.Header.Attributes&AttrReadStatus == 0 {
		return nil, status.New("fv.ReadBlock", status.AccessDenied, "FV read status bit is clear")
	}
	base, err := p.blockStart(lba)
	if err != nil {
		return nil, err
	}
	start := base + uint64(offset)
	end := start + uint64(length)
	if end > p.v.Header.FvLength {
		return nil, status.New("fv.ReadBlock", status.InvalidParameter, "block read out of range")
	}
	out := make([]byte, length)
	copy(out, p.v.raw[start:end])
	return out, nil
}

// WriteBlock and EraseBlocks are Unsupported; the core never mutates
// an FV image.
func (p *FVBProtocol) WriteBlock([]byte) error {
	return status.New("fv.WriteBlock", status.Unsupported, "firmware volumes are read-only in this core")
}

func (p *FVBProtocol) EraseBlocks() error {
	return status.New("fv.EraseBlocks", status.Unsupported, "firmware volumes are read-only in this core")
}

// FVProtocol is the read-only file-level Firmware Volume surface:
// ReadFile, ReadSection, GetNextFile, and volume attributes.
type FVProtocol struct {
	v         *Volume
	extractor *sectionextract.Extractor
	// fvbAttrs carries the owning FVB's attributes so GetNextFile can
	// OR in MEMORY_MAPPED when the volume is memory mapped.
	fvbAttrs uint32
}

// NewFVProtocol wraps v, using extractor to walk GUID-DEFINED/
// COMPRESSION sections on ReadSection.
func NewFVProtocol(v *Volume, extractor *sectionextract.Extractor, fvbAttrs uint32) *FVProtocol {
	return &FVProtocol{v: v, extractor: extractor, fvbAttrs: fvbAttrs}
}

// GetVolumeAttributes returns the FV-level attributes reported to
// callers of ReadFile.
func (p *FVProtocol) GetVolumeAttributes() uint32 { return p.v.Header.Attributes }

// ReadFile locates the file with the given name, returning its full
// content, type, and FV-level attributes. ACCESS_DENIED if the
// volume's READ_STATUS bit is clear.
func (p *FVProtocol) ReadFile(name guid.GUID) (content []byte, fileType uint8, attrs uint32, err error) {
	if p.v.Header.Attributes&AttrReadStatus == 0 {
		return nil, 0, 0, status.New("fv.ReadFile", status.AccessDenied, "FV read status bit is clear")
	}
	f, err := p.v.FindFile(name)
	if err != nil {
		return nil, 0, 0, err
	}
	out := make([]byte, len(f.body))
	copy(out, f.body)
	return out, f.Type, p.v.Header.Attributes, nil
}

// ReadSection locates the named file, walks its section stream through
// the configured extractor, and returns the n-th section of the
// requested type. bufLen, if nonzero,
// caps the amount of content copied out; a shorter cap than the
// section's actual size returns WARN_BUFFER_TOO_SMALL alongside the
// truncated content, mirroring the UEFI calling convention where the
// caller's buffer may be smaller than the data.
func (p *FVProtocol) ReadSection(name guid.GUID, sectionType uint8, index int, bufLen int) (content []byte, truncated bool, err error) {
	if p.v.Header.Attributes&AttrReadStatus == 0 {
		return nil, false, status.New("fv.ReadSection", status.AccessDenied, "FV read status bit is clear")
	}
	f, err := p.v.FindFile(name)
	if err != nil {
		return nil, false, err
	}
	sec, err := p.extractor.Select(f.body, sectionType, index)
	if err != nil {
		return nil, false, err
	}
	if bufLen <= 0 || bufLen >= len(sec.Content) {
		out := make([]byte, len(sec.Content))
		copy(out, sec.Content)
		return out, false, nil
	}
	out := make([]byte, bufLen)
	copy(out, sec.Content[:bufLen])
	return out, true, nil
}

// GetNextFile advances cursor past the file it returns (or returns
// NotFound once the directory is exhausted), filtering by fileType
// (FileTypeAll means "any"). Attributes OR in AttrMemoryMapped from
// the owning FVB's attributes when applicable.
func (p *FVProtocol) GetNextFile(cursor *int, fileType uint8) (File, error) {
	for {
		f, ok := p.v.FileAt(*cursor)
		if !ok {
			return File{}, status.New("fv.GetNextFile", status.NotFound, "no more files")
		}
		*cursor++
		if fileType != FileTypeAll && f.Type != fileType {
			continue
		}
		if p.fvbAttrs&AttrMemoryMapped != 0 {
			f.Attributes |= AttrMemoryMapped
		}
		return f, nil
	}
}
