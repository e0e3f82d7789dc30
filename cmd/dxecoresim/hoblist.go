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

package main

import "encoding/binary"

// HOB type ordinals, duplicated from the hob package's unexported
// wire constants: this simulator plays the part of the platform code
// that hands the core its HOB list, and hob exports only Parse, not
// an encoder.
const (
	hobTypeHandoff       = 0x0001
	hobTypeFirmwareVolume = 0x0005
	hobTypeEndOfHobList  = 0xFFFF
)

// appendHOB writes one EFI_HOB_GENERIC_HEADER-prefixed record, padding
// body to a multiple of 8 bytes as the UEFI PI spec requires of every
// HOB.
func appendHOB(buf []byte, hobType uint16, body []byte) []byte {
	for len(body)%8 != 0 {
		body = append(body, 0)
	}
	length := 8 + len(body)
	header := make([]byte, 8)
	binary.LittleEndian.PutUint16(header[0:2], hobType)
	binary.LittleEndian.PutUint16(header[2:4], uint16(length))
	buf = append(buf, header...)
	buf = append(buf, body...)
	return buf
}

// buildHOBList constructs the minimal HOB stream core.Init expects:
// a handoff HOB (required to open the list, though hob.Parse does not
// decode it and only counts it in Skipped), one firmware-volume HOB
// naming fvBase/fvLength, and the terminating end-of-list HOB.
func buildHOBList(fvBase, fvLength uint64) []byte {
	var buf []byte
	buf = appendHOB(buf, hobTypeHandoff, make([]byte, 32))

	fvBody := make([]byte, 16)
	binary.LittleEndian.PutUint64(fvBody[0:8], fvBase)
	binary.LittleEndian.PutUint64(fvBody[8:16], fvLength)
	buf = appendHOB(buf, hobTypeFirmwareVolume, fvBody)

	buf = appendHOB(buf, hobTypeEndOfHobList, nil)
	return buf
}
