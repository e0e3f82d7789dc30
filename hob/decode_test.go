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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pkg/guid"
)

func hobHeader(typ Type, bodyLen int) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(typ))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(headerSize+bodyLen))
	return buf
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func endOfList() []byte { return hobHeader(TypeEndOfHobList, 0) }

func TestParseDecodesFirmwareVolumeHob(t *testing.T) {
	body := append(u64(0x1000), u64(0x2000)...)
	data := append(hobHeader(TypeFirmwareVolume, len(body)), body...)
	data = append(data, endOfList()...)

	l, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, l.FirmwareVolumes, 1)
	require.Equal(t, uint64(0x1000), l.FirmwareVolumes[0].BaseAddress)
	require.Equal(t, uint64(0x2000), l.FirmwareVolumes[0].Length)
}

func TestParseDecodesMemoryAllocationAndModule(t *testing.T) {
	name := guid.New4()
	nb, _ := name.MarshalBinary()
	body := append(append([]byte{}, nb...), u64(0x10000)...)
	body = append(body, u64(0x1000)...)
	body = append(body, u32(4)...) // BootServicesData
	body = append(body, 0, 0, 0, 0)
	data := append(hobHeader(TypeMemoryAllocation, len(body)), body...)
	data = append(data, endOfList()...)

	l, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, l.MemoryAllocations, 1)
	require.Equal(t, uint64(0x10000), l.MemoryAllocations[0].BaseAddress)

	moduleName := guid.New4()
	mb, _ := moduleName.MarshalBinary()
	moduleBody := append(append([]byte{}, body...), mb...)
	moduleBody = append(moduleBody, u64(0x10100)...)
	data2 := append(hobHeader(TypeMemoryAllocation, len(moduleBody)), moduleBody...)
	data2 = append(data2, endOfList()...)

	l2, err := Parse(data2)
	require.NoError(t, err)
	require.Empty(t, l2.MemoryAllocations)
	require.Len(t, l2.MemoryAllocationModules, 1)
	require.True(t, moduleName.Equal(l2.MemoryAllocationModules[0].ModuleName))
	require.Equal(t, uint64(0x10100), l2.MemoryAllocationModules[0].EntryPoint)
}

func TestParseCountsUnrecognizedHobsAsSkipped(t *testing.T) {
	data := append(hobHeader(TypeCPU, 8), make([]byte, 8)...)
	data = append(data, endOfList()...)

	l, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 1, l.Skipped)
}

func TestParseDecodesMemoryTypeInfoGuidHob(t *testing.T) {
	gb, _ := MemoryTypeInfoGUID.MarshalBinary()
	body := append([]byte{}, gb...)
	body = append(body, u32(4)...)   // BootServicesData
	body = append(body, u32(16)...)  // 16 pages
	body = append(body, u32(6)...)   // RuntimeServicesData
	body = append(body, u32(4)...)   // 4 pages
	data := append(hobHeader(TypeGUIDExtension, len(body)), body...)
	data = append(data, endOfList()...)

	l, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, l.MemoryTypeInfo, 2)

	hints := l.MemoryTypeHints()
	require.Len(t, hints, 2)
}

func TestReserveMemoryAllocationsSkipsConventionalAndZeroRanges(t *testing.T) {
	m := gcd.NewMap(nil)
	require.NoError(t, m.AddMemorySpace(gcd.SystemMemory, 0, 1<<20, gcd.CapWB))

	l := &List{
		MemoryAllocations: []MemoryAllocation{
			{BaseAddress: 0x1000, Length: 0x1000, MemoryType: 7}, // conventional: skipped
			{BaseAddress: 0, Length: 0x1000, MemoryType: 4},      // zero base: skipped
			{BaseAddress: 0x2000, Length: 0, MemoryType: 4},      // zero length: skipped
			{BaseAddress: 0x3000, Length: 0x1000, MemoryType: 4}, // reserved
		},
	}
	require.NoError(t, l.ReserveMemoryAllocations(m, gcd.Handle(7), nil))

	d, err := m.GetMemoryDescriptorForAddress(0x3000)
	require.NoError(t, err)
	require.Equal(t, gcd.Handle(7), d.Owner)

	free, err := m.GetMemoryDescriptorForAddress(0x1000)
	require.NoError(t, err)
	require.Equal(t, gcd.Unallocated, free.Owner)
}

func TestReserveNullPageAllocatesPageZeroWhenFree(t *testing.T) {
	m := gcd.NewMap(nil)
	require.NoError(t, m.AddMemorySpace(gcd.SystemMemory, 0, 1<<20, gcd.CapWB))

	require.NoError(t, ReserveNullPage(m, gcd.Handle(9)))
	d, err := m.GetMemoryDescriptorForAddress(0)
	require.NoError(t, err)
	require.Equal(t, gcd.Handle(9), d.Owner)
}
