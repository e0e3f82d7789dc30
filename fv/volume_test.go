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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/pkg/guid"
)

// buildSection builds one section (header + content), 4-byte aligned
// by the caller via appendPadded.
func buildSection(typ uint8, content []byte) []byte {
	size := SectionHeaderSize + len(content)
	out := make([]byte, 0, size)
	out = append(out, byte(size), byte(size>>8), byte(size>>16), typ)
	out = append(out, content...)
	return out
}

func appendPadded(buf []byte, section []byte) []byte {
	buf = append(buf, section...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// buildFile builds one FFS file with State already erase-polarity
// encoded for polarity 0 (valid bits set directly, no XOR needed).
func buildFile(name guid.GUID, typ uint8, body []byte) []byte {
	size := FileHeaderSize + len(body)
	out := make([]byte, FileHeaderSize, size)
	nb, _ := name.MarshalBinary()
	copy(out[0:16], nb)
	binary.LittleEndian.PutUint16(out[16:18], 0) // integrity check, unused by this parser
	out[18] = typ
	out[19] = 0 // attributes
	out[20] = byte(size)
	out[21] = byte(size >> 8)
	out[22] = byte(size >> 16)
	out[23] = stateHeaderValid | stateDataValid
	out = append(out, body...)
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	return out
}

func headerChecksum(header []byte) uint16 {
	var sum uint16
	for i := 0; i+1 < len(header); i += 2 {
		if i == 50 {
			continue // skip the checksum field itself
		}
		sum += binary.LittleEndian.Uint16(header[i : i+2])
	}
	return -sum
}

func buildVolume(files [][]byte) []byte {
	fsGUID := guid.New4()
	headerLen := uint16(HeaderBaseSize)
	var body []byte
	for _, f := range files {
		body = append(body, f...)
	}
	fvLength := uint64(headerLen) + uint64(len(body))

	header := make([]byte, headerLen)
	// ZeroVector left zero.
	fb, _ := fsGUID.MarshalBinary()
	copy(header[16:32], fb)
	binary.LittleEndian.PutUint64(header[32:40], fvLength)
	binary.LittleEndian.PutUint32(header[40:44], Signature)
	binary.LittleEndian.PutUint32(header[44:48], AttrReadStatus|AttrReadEnableCap|AttrReadDisableCap)
	binary.LittleEndian.PutUint16(header[48:50], headerLen)
	binary.LittleEndian.PutUint16(header[52:54], 0) // no ext header
	header[54] = 0
	header[55] = 2

	cs := headerChecksum(header)
	binary.LittleEndian.PutUint16(header[50:52], cs)

	return append(header, body...)
}

func TestParseRoundTripsHeaderAndFiles(t *testing.T) {
	name1 := guid.New4()
	name2 := guid.New4()
	sec := buildSection(SectionTypeRaw, []byte("hello section"))
	f1 := buildFile(name1, FileTypeDriver, appendPadded(nil, sec))
	f2 := buildFile(name2, FileTypeFreeform, []byte("raw body"))

	data := buildVolume([][]byte{f1, f2})

	v, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), v.Header.FvLength)
	require.Len(t, v.Files(), 2)

	found, err := v.FindFile(name1)
	require.NoError(t, err)
	require.Equal(t, FileTypeDriver, found.Type)
}

func TestParseRejectsBadSignature(t *testing.T) {
	data := buildVolume(nil)
	binary.LittleEndian.PutUint32(data[40:44], 0xDEADBEEF)
	_, err := Parse(data)
	require.Error(t, err)
}

func TestParseRejectsBadChecksum(t *testing.T) {
	data := buildVolume(nil)
	data[50] ^= 0xFF
	_, err := Parse(data)
	require.Error(t, err)
}

func TestFindFileNotFound(t *testing.T) {
	data := buildVolume(nil)
	v, err := Parse(data)
	require.NoError(t, err)
	_, err = v.FindFile(guid.New4())
	require.Error(t, err)
}

func TestFVProtocolReadFileAccessDenied(t *testing.T) {
	fsGUID := guid.New4()
	_ = fsGUID
	data := buildVolume(nil)
	// Clear the read-status bit.
	attrs := binary.LittleEndian.Uint32(data[44:48])
	binary.LittleEndian.PutUint32(data[44:48], attrs&^AttrReadStatus)
	// Recompute checksum after mutating attributes.
	header := data[:HeaderBaseSize]
	binary.LittleEndian.PutUint16(header[50:52], 0)
	binary.LittleEndian.PutUint16(header[50:52], headerChecksum(header))

	v, err := Parse(data)
	require.NoError(t, err)
	p := NewFVProtocol(v, nil, 0)
	_, _, _, err = p.ReadFile(guid.New4())
	require.Error(t, err)
}

func TestGetNextFileFiltersByTypeAndAdvancesCursor(t *testing.T) {
	name1 := guid.New4()
	name2 := guid.New4()
	f1 := buildFile(name1, FileTypeDriver, []byte("a"))
	f2 := buildFile(name2, FileTypeFreeform, []byte("b"))
	data := buildVolume([][]byte{f1, f2})
	v, err := Parse(data)
	require.NoError(t, err)

	p := NewFVProtocol(v, nil, AttrMemoryMapped)
	cursor := 0
	got, err := p.GetNextFile(&cursor, FileTypeFreeform)
	require.NoError(t, err)
	require.Equal(t, name2, got.Name)
	require.True(t, got.Attributes&AttrMemoryMapped != 0)

	_, err = p.GetNextFile(&cursor, FileTypeFreeform)
	require.Error(t, err)
}

func buildVolumeWithBlockMap(numBlocks, blockLen uint32) []byte {
	headerLen := uint16(HeaderBaseSize + 16) // one entry + all-zero terminator
	fvLength := uint64(numBlocks) * uint64(blockLen)

	header := make([]byte, headerLen)
	fb, _ := guid.New4().MarshalBinary()
	copy(header[16:32], fb)
	binary.LittleEndian.PutUint64(header[32:40], fvLength)
	binary.LittleEndian.PutUint32(header[40:44], Signature)
	binary.LittleEndian.PutUint32(header[44:48], AttrReadStatus)
	binary.LittleEndian.PutUint16(header[48:50], headerLen)
	header[55] = 2
	binary.LittleEndian.PutUint32(header[56:60], numBlocks)
	binary.LittleEndian.PutUint32(header[60:64], blockLen)
	// header[64:72] is the zero terminator entry.

	cs := headerChecksum(header)
	binary.LittleEndian.PutUint16(header[50:52], cs)

	data := make([]byte, fvLength)
	copy(data, header)
	return data
}

func TestParseBlockMapAndFVBBlockQueries(t *testing.T) {
	data := buildVolumeWithBlockMap(4, 0x1000)
	v, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, []BlockMapEntry{{NumBlocks: 4, Length: 0x1000}}, v.BlockMap)

	fvb := NewFVBProtocol(v)
	size, remaining, err := fvb.GetBlockSize(1)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1000), size)
	require.Equal(t, uint64(3), remaining)

	_, _, err = fvb.GetBlockSize(4)
	require.Error(t, err)

	got, err := fvb.ReadBlock(0, 40, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("_FVH"), got)

	_, err = fvb.ReadBlock(3, 0x1000, 1)
	require.Error(t, err, "a read past the last block's end must be rejected")
}

func TestDevicePathMemoryMappedForHeaderlessVolume(t *testing.T) {
	data := buildVolume(nil)
	v, err := Parse(data)
	require.NoError(t, err)
	v.SetBaseAddress(0x1000)
	path := v.DevicePath()
	require.NotEmpty(t, path)
	require.Equal(t, uint8(0x01), path[0]) // TypeHardware
}
