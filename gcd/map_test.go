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

package gcd

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSplitMergeRoundTrip(t *testing.T) {
	// add system memory [0, 0x400000);
	// allocate 0x10000 at 0x100000 owned by H1; free it; expect a
	// single descriptor covering [0, 0x400000) owned by Unallocated,
	// followed only by the Nonexistent remainder of the address space.
	m := NewMap(zap.NewNop())
	require.NoError(t, m.AddMemorySpace(SystemMemory, 0, 0x400000, CapWB))

	base, err := m.AllocateMemorySpace(AtAddress(0x100000), SystemMemory, 0, 0x10000, Handle(1), Unallocated)
	require.NoError(t, err)
	require.EqualValues(t, 0x100000, base)

	require.NoError(t, m.FreeMemorySpace(0x100000, 0x10000))

	descs := m.GetMemoryDescriptors()
	require.Len(t, descs, 2)
	require.EqualValues(t, 0, descs[0].BaseAddress)
	require.EqualValues(t, 0x400000, descs[0].Length)
	require.Equal(t, Unallocated, descs[0].Owner)
	require.Equal(t, SystemMemory, descs[0].Type)
	require.Equal(t, Nonexistent, descs[1].Type)
}

func TestAddOverlapRejected(t *testing.T) {
	m := NewMap(zap.NewNop())
	require.NoError(t, m.AddMemorySpace(SystemMemory, 0, 0x10000, CapWB))
	err := m.AddMemorySpace(SystemMemory, 0x8000, 0x10000, CapWB)
	require.Error(t, err)
}

func TestBottomUpAndTopDown(t *testing.T) {
	m := NewMap(zap.NewNop())
	require.NoError(t, m.AddMemorySpace(SystemMemory, 0, 0x100000, CapWB))

	lowBase, err := m.AllocateMemorySpace(BottomUp(0, false), SystemMemory, 12, 0x1000, Handle(1), Unallocated)
	require.NoError(t, err)
	require.EqualValues(t, 0, lowBase)

	highBase, err := m.AllocateMemorySpace(TopDown(0, false), SystemMemory, 12, 0x1000, Handle(2), Unallocated)
	require.NoError(t, err)
	require.EqualValues(t, 0x100000-0x1000, highBase)
}

func TestAllocateWrongTypeFails(t *testing.T) {
	m := NewMap(zap.NewNop())
	require.NoError(t, m.AddMemorySpace(Reserved, 0, 0x10000, CapWB))
	_, err := m.AllocateMemorySpace(AtAddress(0), SystemMemory, 0, 0x1000, Handle(1), Unallocated)
	require.Error(t, err)
}

func TestFreePreservingOwnership(t *testing.T) {
	m := NewMap(zap.NewNop())
	require.NoError(t, m.AddMemorySpace(SystemMemory, 0, 0x10000, CapWB))
	_, err := m.AllocateMemorySpace(AtAddress(0), SystemMemory, 0, 0x10000, Handle(7), Unallocated)
	require.NoError(t, err)

	require.NoError(t, m.FreeMemorySpacePreservingOwnership(0, 0x10000))
	d, err := m.GetMemoryDescriptorForAddress(0)
	require.NoError(t, err)
	require.Equal(t, Handle(7), d.Owner)
	require.False(t, d.Allocated)

	// The preserved range is invisible to generic searches by other
	// owners...
	_, err = m.AllocateMemorySpace(BottomUp(0, false), SystemMemory, 0, 0x1000, Handle(8), Unallocated)
	require.Error(t, err)
	_, err = m.AllocateMemorySpace(AtAddress(0), SystemMemory, 0, 0x1000, Handle(8), Unallocated)
	require.Error(t, err)

	// ...but the owner itself may re-claim it at a fixed address.
	base, err := m.AllocateMemorySpace(AtAddress(0), SystemMemory, 0, 0x1000, Handle(7), Unallocated)
	require.NoError(t, err)
	require.EqualValues(t, 0, base)
}

func TestSetMemorySpaceAttributesRequiresCapability(t *testing.T) {
	m := NewMap(zap.NewNop())
	require.NoError(t, m.AddMemorySpace(SystemMemory, 0, 0x10000, CapWB))
	require.NoError(t, m.SetMemorySpaceAttributes(0, 0x10000, CapWB))
	err := m.SetMemorySpaceAttributes(0, 0x10000, CapXP)
	require.Error(t, err)
}

func TestMemoryDescriptorCount(t *testing.T) {
	m := NewMap(zap.NewNop())
	require.Equal(t, 1, m.MemoryDescriptorCount())
	require.NoError(t, m.AddMemorySpace(SystemMemory, 0, 0x10000, CapWB))
	require.Equal(t, 2, m.MemoryDescriptorCount())
}

func TestAllocateAtAddressNotFree(t *testing.T) {
	m := NewMap(zap.NewNop())
	require.NoError(t, m.AddMemorySpace(SystemMemory, 0, 0x10000, CapWB))
	_, err := m.AllocateMemorySpace(AtAddress(0), SystemMemory, 0, 0x10000, Handle(1), Unallocated)
	require.NoError(t, err)
	_, err = m.AllocateMemorySpace(AtAddress(0), SystemMemory, 0, 0x1000, Handle(2), Unallocated)
	require.Error(t, err)
}
