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

// Package sectionextract walks an FFS file's section stream, expanding
// COMPRESSION and GUID_DEFINED encapsulation sections through a
// pluggable Decompressor/GUIDDecoder registry. The decompression
// algorithms themselves are external collaborators; this package only
// owns the walk and the extension point.
package sectionextract

import (
	"encoding/binary"

	"github.com/patina-fw/dxecore/fv"
	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
)

// maxNestingDepth bounds GUID_DEFINED/COMPRESSION recursion, guarding
// against a section that wraps itself. A fixed recursion ceiling is
// simpler and cheaper than tracking visited section offsets.
const maxNestingDepth = 16

// ErrSectionNestingTooDeep is returned when encapsulation sections
// nest past maxNestingDepth.
var ErrSectionNestingTooDeep = status.New("sectionextract", status.VolumeCorrupted, "section nesting exceeds the recursion limit")

// Decompressor implements one EFI_SECTION_COMPRESSION algorithm,
// selected by its CompressionType byte (1 = EFI_STANDARD_COMPRESSION,
// 2 = EFI_CUSTOMIZED_COMPRESSION in the UEFI PI specification).
type Decompressor interface {
	Decompress(uncompressedLen uint32, data []byte) ([]byte, error)
}

// GUIDDecoder unwraps an EFI_SECTION_GUID_DEFINED section whose
// SectionDefinitionGUID matches the GUID it is registered under.
type GUIDDecoder interface {
	Decode(data []byte) ([]byte, error)
}

// Extractor owns the registries of decompression/GUID-unwrap
// collaborators and performs the recursive section walk.
type Extractor struct {
	decompressors map[uint8]Decompressor
	guidDecoders  map[guid.GUID]GUIDDecoder
}

// New constructs an Extractor with no collaborators registered; calls
// to RegisterDecompressor/RegisterGUIDDecoder wire in concrete codecs.
// The default flate/zstd codecs are registered by core.New via
// RegisterDefaultCodecs.
func New() *Extractor {
	return &Extractor{
		decompressors: make(map[uint8]Decompressor),
		guidDecoders:  make(map[guid.GUID]GUIDDecoder),
	}
}

// RegisterDecompressor wires compressionType to d.
func (e *Extractor) RegisterDecompressor(compressionType uint8, d Decompressor) {
	e.decompressors[compressionType] = d
}

// RegisterGUIDDecoder wires sectionGUID to d.
func (e *Extractor) RegisterGUIDDecoder(sectionGUID guid.GUID, d GUIDDecoder) {
	e.guidDecoders[sectionGUID] = d
}

// Walk parses body's section stream into a flat list of fully
// unwrapped leaf sections, recursively expanding COMPRESSION and
// GUID_DEFINED sections whose processing is required.
func (e *Extractor) Walk(body []byte) ([]fv.Section, error) {
	return e.walk(body, 0)
}

func alignUp4(v int) int { return (v + 3) &^ 3 }

func (e *Extractor) walk(body []byte, depth int) ([]fv.Section, error) {
	if depth > maxNestingDepth {
		return nil, ErrSectionNestingTooDeep
	}
	var out []fv.Section
	pos := 0
	for pos+fv.SectionHeaderSize <= len(body) {
		size := int(body[pos]) | int(body[pos+1])<<8 | int(body[pos+2])<<16
		typ := body[pos+3]
		if size < fv.SectionHeaderSize || pos+size > len(body) {
			return nil, status.New("sectionextract.Walk", status.VolumeCorrupted, "section size out of range")
		}
		payload := body[pos+fv.SectionHeaderSize : pos+size]

		switch typ {
		case fv.SectionTypeCompression:
			nested, err := e.expandCompression(payload, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)

		case fv.SectionTypeGUIDDefined:
			nested, err := e.expandGUIDDefined(payload, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)

		default:
			out = append(out, fv.Section{Type: typ, Content: payload})
		}

		pos += alignUp4(size)
	}
	return out, nil
}

func (e *Extractor) expandCompression(payload []byte, depth int) ([]fv.Section, error) {
	if len(payload) < 5 {
		return nil, status.New("sectionextract.expandCompression", status.VolumeCorrupted, "truncated compression section header")
	}
	uncompressedLen := binary.LittleEndian.Uint32(payload[0:4])
	compressionType := payload[4]
	compressed := payload[5:]

	if compressionType == 0 {
		return e.walk(compressed, depth+1)
	}
	d, ok := e.decompressors[compressionType]
	if !ok {
		return nil, status.New("sectionextract.expandCompression", status.Unsupported, "no decompressor registered for this compression type")
	}
	plain, err := d.Decompress(uncompressedLen, compressed)
	if err != nil {
		return nil, status.Wrap("sectionextract.expandCompression", status.DeviceError, err)
	}
	return e.walk(plain, depth+1)
}

func (e *Extractor) expandGUIDDefined(payload []byte, depth int) ([]fv.Section, error) {
	if len(payload) < 20 {
		return nil, status.New("sectionextract.expandGUIDDefined", status.VolumeCorrupted, "truncated GUID_DEFINED section header")
	}
	sectionGUID, err := guid.FromBytes(payload[0:16])
	if err != nil {
		return nil, status.Wrap("sectionextract.expandGUIDDefined", status.VolumeCorrupted, err)
	}
	dataOffset := binary.LittleEndian.Uint16(payload[16:18])
	attrs := binary.LittleEndian.Uint16(payload[18:20])

	if int(dataOffset) > len(payload) {
		return nil, status.New("sectionextract.expandGUIDDefined", status.VolumeCorrupted, "data offset out of range")
	}
	wrapped := payload[dataOffset:]

	if attrs&fv.GUIDDefinedProcessingRequired == 0 {
		// Not required to unwrap; hand it back as a single opaque leaf
		// section tagged with the outer GUID_DEFINED type.
		return []fv.Section{{Type: fv.SectionTypeGUIDDefined, Content: wrapped}}, nil
	}
	d, ok := e.guidDecoders[sectionGUID]
	if !ok {
		return nil, status.New("sectionextract.expandGUIDDefined", status.Unsupported, "no decoder registered for this GUID_DEFINED section")
	}
	plain, err := d.Decode(wrapped)
	if err != nil {
		return nil, status.Wrap("sectionextract.expandGUIDDefined", status.DeviceError, err)
	}
	return e.walk(plain, depth+1)
}

// Select returns the n-th (0-indexed) leaf section of the requested
// type found in body's fully-unwrapped section stream.
func (e *Extractor) Select(body []byte, sectionType uint8, n int) (fv.Section, error) {
	sections, err := e.Walk(body)
	if err != nil {
		return fv.Section{}, err
	}
	count := 0
	for _, s := range sections {
		if s.Type != sectionType {
			continue
		}
		if count == n {
			return s, nil
		}
		count++
	}
	return fv.Section{}, status.New("sectionextract.Select", status.NotFound, "no matching section at that index")
}
