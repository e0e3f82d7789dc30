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

// Package devpath builds and inspects UEFI device path byte streams:
// the node format shared by the driver model's remaining-device-path
// parameter and the firmware-volume device-path protocol every
// installed FV gets. A device path is a sequence of
// {type, subtype, length} nodes terminated by an End-of-entire node.
package devpath

import "encoding/binary"

// Node type and subtype bytes, matching the UEFI device path node
// header layout bit-exact.
const (
	TypeHardware = 0x01
	TypeMedia    = 0x04
	TypeEnd      = 0x7F

	SubTypeMemoryMapped = 0x03 // under TypeHardware
	SubTypeFwVol        = 0x07 // under TypeMedia (MediaFwVolDevicePath)
	SubTypeFwFile        = 0x06 // under TypeMedia (MediaFwVolFilePath)
	SubTypeEndEntire     = 0xFF // under TypeEnd
)

const headerSize = 4 // type(1) + subtype(1) + length(2), little-endian

func appendNode(path []byte, typ, subtype byte, payload []byte) []byte {
	length := uint16(headerSize + len(payload))
	node := make([]byte, 0, length)
	node = append(node, typ, subtype)
	var lenBytes [2]byte
	binary.LittleEndian.PutUint16(lenBytes[:], length)
	node = append(node, lenBytes[:]...)
	node = append(node, payload...)
	return append(path, node...)
}

// EndNode returns the 4-byte End-Entire-Device-Path node that
// terminates every complete device path.
func EndNode() []byte {
	return appendNode(nil, TypeEnd, SubTypeEndEntire, nil)
}

// MemoryMappedNode builds a hardware Memory Mapped device path node
// spanning [startAddr, endAddr) for a header-less FV.
func MemoryMappedNode(memoryType uint32, startAddr, endAddr uint64) []byte {
	payload := make([]byte, 20)
	binary.LittleEndian.PutUint32(payload[0:4], memoryType)
	binary.LittleEndian.PutUint64(payload[4:12], startAddr)
	binary.LittleEndian.PutUint64(payload[12:20], endAddr)
	return appendNode(nil, TypeHardware, SubTypeMemoryMapped, payload)
}

// FirmwareVolumeNode builds a MediaFwVol device path node bearing the
// FV's extended-header GUID.
func FirmwareVolumeNode(fvNameGUID [16]byte) []byte {
	return appendNode(nil, TypeMedia, SubTypeFwVol, fvNameGUID[:])
}

// FirmwareFileNode builds a MediaFwFile device path node for a single
// file inside an FV, appended to its volume's node to form a child
// path.
func FirmwareFileNode(fileGUID [16]byte) []byte {
	return appendNode(nil, TypeMedia, SubTypeFwFile, fileGUID[:])
}

// Append concatenates node onto path (without the terminator) and
// returns the combined, still-unterminated path.
func Append(path, node []byte) []byte {
	return append(append([]byte{}, path...), node...)
}

// Terminate appends an End-Entire node, producing a complete device
// path ready to install as a protocol interface.
func Terminate(path []byte) []byte {
	return Append(path, EndNode())
}

// IsEnd reports whether path's first node is an End-Entire node, the
// check driver connect uses to treat an exhausted remaining path as
// success. A nil or empty path is not itself an End node: it means "no
// remaining device path was given", a distinct case callers must check
// for separately.
func IsEnd(path []byte) bool {
	if len(path) < headerSize {
		return false
	}
	return path[0] == TypeEnd && path[1] == SubTypeEndEntire
}
