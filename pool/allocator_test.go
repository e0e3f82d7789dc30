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

package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/gcd"
)

func newTestGCD(t *testing.T) *gcd.Map {
	t.Helper()
	m := gcd.NewMap(zap.NewNop())
	// Map memory above 1 MiB so address 0 never comes back as a valid
	// allocation in assertions.
	require.NoError(t, m.AddMemorySpace(gcd.SystemMemory, 0x100000, 0x10000000, gcd.CapWB))
	return m
}

func TestAllocateFreeSmallBlock(t *testing.T) {
	gm := newTestGCD(t)
	a, err := New(BootServicesData, gm, gcd.Handle(1), PageSize4K, 0, zap.NewNop())
	require.NoError(t, err)

	addr, err := a.Allocate(24, 8)
	require.NoError(t, err)
	require.NotZero(t, addr)

	require.NoError(t, a.Free(addr, 24))

	// The freed block should come back out of the same free list.
	addr2, err := a.Allocate(24, 8)
	require.NoError(t, err)
	require.Equal(t, addr, addr2)
}

func TestReservedRangeStability(t *testing.T) {
	// reserve 0x200 pages for a memory
	// type; allocate 0x10 pages; free them; reserved_used returns to
	// 0; claimed_pages stays at 0x200.
	gm := newTestGCD(t)
	const reservedPages = 0x200
	a, err := New(LoaderData, gm, gcd.Handle(2), PageSize4K, reservedPages, zap.NewNop())
	require.NoError(t, err)

	stats := a.StatsSnapshot()
	require.EqualValues(t, reservedPages, stats.ClaimedPages)
	require.EqualValues(t, reservedPages*PageSize4K, stats.ReservedSize)
	require.EqualValues(t, 0, stats.ReservedUsed)

	addr, err := a.Allocate(0x10*PageSize4K, PageSize4K)
	require.NoError(t, err)
	stats = a.StatsSnapshot()
	require.NotZero(t, stats.ReservedUsed)

	require.NoError(t, a.Free(addr, 0x10*PageSize4K))
	stats = a.StatsSnapshot()
	require.EqualValues(t, 0, stats.ReservedUsed)
	require.EqualValues(t, reservedPages, stats.ClaimedPages)
}

func TestExpansionOnExhaustion(t *testing.T) {
	gm := newTestGCD(t)
	a, err := New(BootServicesData, gm, gcd.Handle(3), PageSize4K, 0, zap.NewNop())
	require.NoError(t, err)

	addr, err := a.Allocate(2048, 8)
	require.NoError(t, err)
	require.NotZero(t, addr)
	stats := a.StatsSnapshot()
	require.EqualValues(t, 1, stats.PageAllocationCalls)
}

func TestFreeUnknownAddress(t *testing.T) {
	gm := newTestGCD(t)
	a, err := New(BootServicesData, gm, gcd.Handle(4), PageSize4K, 0, zap.NewNop())
	require.NoError(t, err)
	err = a.Free(0xdeadbeef, 2048)
	require.Error(t, err)
}

func TestBlockIndexSelectsSmallestFit(t *testing.T) {
	require.Equal(t, 0, blockIndex(1))
	require.Equal(t, 0, blockIndex(8))
	require.Equal(t, 1, blockIndex(9))
	require.Equal(t, 9, blockIndex(4096))
	require.Equal(t, -1, blockIndex(4097))
}

func TestRegistryLazyCreatesOnce(t *testing.T) {
	gm := newTestGCD(t)
	reg := NewRegistry(gm, nil, false, zap.NewNop())
	a1, err := reg.Get(BootServicesData, gcd.Handle(1))
	require.NoError(t, err)
	a2, err := reg.Get(BootServicesData, gcd.Handle(1))
	require.NoError(t, err)
	require.Same(t, a1, a2)
}
