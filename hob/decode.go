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

package hob

import (
	"encoding/binary"

	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
)

// memoryAllocationHeaderSize is Name(16) + Base(8) + Length(8) + Type(4)
// + Reserved(4).
const memoryAllocationHeaderSize = 40

// Parse walks data as a sequence of HOBs starting at offset 0, stopping
// at TypeEndOfHobList or the end of data, whichever comes first. Every
// HOB type outside the six memory-init consumes is counted in
// List.Skipped and otherwise ignored.
func Parse(data []byte) (*List, error) {
	l := &List{}
	pos := 0
	for pos+headerSize <= len(data) {
		typ := Type(binary.LittleEndian.Uint16(data[pos : pos+2]))
		length := int(binary.LittleEndian.Uint16(data[pos+2 : pos+4]))
		if length < headerSize || pos+length > len(data) {
			return nil, status.New("hob.Parse", status.DeviceError, "HOB length out of range")
		}
		body := data[pos+headerSize : pos+length]

		switch typ {
		case TypeEndOfHobList:
			return l, nil
		case TypeFirmwareVolume:
			fv, err := decodeFirmwareVolume(body)
			if err != nil {
				return nil, err
			}
			l.FirmwareVolumes = append(l.FirmwareVolumes, fv)
		case TypeFirmwareVolume2:
			fv, err := decodeFirmwareVolume2(body)
			if err != nil {
				return nil, err
			}
			l.FirmwareVolumes2 = append(l.FirmwareVolumes2, fv)
		case TypeFirmwareVolume3:
			fv, err := decodeFirmwareVolume3(body)
			if err != nil {
				return nil, err
			}
			l.FirmwareVolumes3 = append(l.FirmwareVolumes3, fv)
		case TypeMemoryAllocation:
			ma, module, err := decodeMemoryAllocation(body)
			if err != nil {
				return nil, err
			}
			if module != nil {
				l.MemoryAllocationModules = append(l.MemoryAllocationModules, *module)
			} else {
				l.MemoryAllocations = append(l.MemoryAllocations, ma)
			}
		case TypeGUIDExtension:
			if entries, ok, err := decodeMemoryTypeInfo(body); err != nil {
				return nil, err
			} else if ok {
				l.MemoryTypeInfo = append(l.MemoryTypeInfo, entries...)
			} else {
				l.Skipped++
			}
		default:
			l.Skipped++
		}

		pos += length
	}
	return l, nil
}

func decodeFirmwareVolume(body []byte) (FirmwareVolume, error) {
	if len(body) < 16 {
		return FirmwareVolume{}, status.New("hob.decodeFirmwareVolume", status.DeviceError, "FV HOB truncated")
	}
	return FirmwareVolume{
		BaseAddress: binary.LittleEndian.Uint64(body[0:8]),
		Length:      binary.LittleEndian.Uint64(body[8:16]),
	}, nil
}

func decodeFirmwareVolume2(body []byte) (FirmwareVolume2, error) {
	if len(body) < 48 {
		return FirmwareVolume2{}, status.New("hob.decodeFirmwareVolume2", status.DeviceError, "FV2 HOB truncated")
	}
	fvName, err := guid.FromBytes(body[16:32])
	if err != nil {
		return FirmwareVolume2{}, status.Wrap("hob.decodeFirmwareVolume2", status.DeviceError, err)
	}
	fileName, err := guid.FromBytes(body[32:48])
	if err != nil {
		return FirmwareVolume2{}, status.Wrap("hob.decodeFirmwareVolume2", status.DeviceError, err)
	}
	return FirmwareVolume2{
		BaseAddress: binary.LittleEndian.Uint64(body[0:8]),
		Length:      binary.LittleEndian.Uint64(body[8:16]),
		FvName:      fvName,
		FileName:    fileName,
	}, nil
}

func decodeFirmwareVolume3(body []byte) (FirmwareVolume3, error) {
	// Layout: BaseAddress(8) Length(8) AuthenticationStatus(4)
	// ExtractedAsIs(1) + 3 bytes of C-struct alignment padding before
	// the 4-byte-aligned GUID fields, FvName(16) FileName(16).
	if len(body) < 56 {
		return FirmwareVolume3{}, status.New("hob.decodeFirmwareVolume3", status.DeviceError, "FV3 HOB truncated")
	}
	fvName, err := guid.FromBytes(body[24:40])
	if err != nil {
		return FirmwareVolume3{}, status.Wrap("hob.decodeFirmwareVolume3", status.DeviceError, err)
	}
	fileName, err := guid.FromBytes(body[40:56])
	if err != nil {
		return FirmwareVolume3{}, status.Wrap("hob.decodeFirmwareVolume3", status.DeviceError, err)
	}
	return FirmwareVolume3{
		BaseAddress:          binary.LittleEndian.Uint64(body[0:8]),
		Length:               binary.LittleEndian.Uint64(body[8:16]),
		AuthenticationStatus: binary.LittleEndian.Uint32(body[16:20]),
		ExtractedAsIs:        body[20] != 0,
		FvName:               fvName,
		FileName:             fileName,
	}, nil
}

func decodeMemoryAllocation(body []byte) (MemoryAllocation, *MemoryAllocationModule, error) {
	if len(body) < memoryAllocationHeaderSize {
		return MemoryAllocation{}, nil, status.New("hob.decodeMemoryAllocation", status.DeviceError, "memory allocation HOB truncated")
	}
	name, err := guid.FromBytes(body[0:16])
	if err != nil {
		return MemoryAllocation{}, nil, status.Wrap("hob.decodeMemoryAllocation", status.DeviceError, err)
	}
	ma := MemoryAllocation{
		Name:        name,
		BaseAddress: binary.LittleEndian.Uint64(body[16:24]),
		Length:      binary.LittleEndian.Uint64(body[24:32]),
		MemoryType:  binary.LittleEndian.Uint32(body[32:36]),
	}

	rest := body[memoryAllocationHeaderSize:]
	if len(rest) < 24 {
		return ma, nil, nil
	}
	moduleName, err := guid.FromBytes(rest[0:16])
	if err != nil {
		return MemoryAllocation{}, nil, status.Wrap("hob.decodeMemoryAllocation", status.DeviceError, err)
	}
	return ma, &MemoryAllocationModule{
		MemoryAllocation: ma,
		ModuleName:       moduleName,
		EntryPoint:       binary.LittleEndian.Uint64(rest[16:24]),
	}, nil
}

// decodeMemoryTypeInfo recognizes the memory-type-information GUID HOB
// variant; any other GUID extension HOB is reported unrecognized so the
// caller counts it as skipped.
func decodeMemoryTypeInfo(body []byte) ([]MemoryTypeInfoEntry, bool, error) {
	if len(body) < 16 {
		return nil, false, status.New("hob.decodeMemoryTypeInfo", status.DeviceError, "GUID extension HOB truncated")
	}
	name, err := guid.FromBytes(body[0:16])
	if err != nil {
		return nil, false, status.Wrap("hob.decodeMemoryTypeInfo", status.DeviceError, err)
	}
	if !name.Equal(MemoryTypeInfoGUID) {
		return nil, false, nil
	}
	data := body[16:]
	entries := make([]MemoryTypeInfoEntry, 0, len(data)/8)
	for i := 0; i+8 <= len(data); i += 8 {
		entries = append(entries, MemoryTypeInfoEntry{
			MemoryType:    binary.LittleEndian.Uint32(data[i : i+4]),
			NumberOfPages: binary.LittleEndian.Uint32(data[i+4 : i+8]),
		})
	}
	return entries, true, nil
}
