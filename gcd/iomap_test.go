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

func TestIoMapSplitMerge(t *testing.T) {
	m := NewIoMap(zap.NewNop())
	require.NoError(t, m.AddIoSpace(IoSpace, 0, 0x10000))

	base, err := m.AllocateIoSpace(AtAddress(0x100), IoSpace, 0x10, Handle(3))
	require.NoError(t, err)
	require.EqualValues(t, 0x100, base)

	require.NoError(t, m.FreeIoSpace(0x100, 0x10))

	d, err := m.GetIoDescriptorForAddress(0x100)
	require.NoError(t, err)
	require.Equal(t, Unallocated, d.Owner)
	require.EqualValues(t, 0, d.BaseAddress)
	require.EqualValues(t, 0x10000, d.Length)
}

func TestIoMapAllocateAnyPicksFirstFree(t *testing.T) {
	m := NewIoMap(zap.NewNop())
	require.NoError(t, m.AddIoSpace(IoSpace, 0, 0x1000))
	base, err := m.AllocateIoSpace(Any(), IoSpace, 0x10, Handle(1))
	require.NoError(t, err)
	require.EqualValues(t, 0, base)
}
