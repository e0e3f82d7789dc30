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

package perf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pkg/guid"
)

func TestNewTableEncodesSignatureAndBasicBootRecord(t *testing.T) {
	tbl := NewTable(BasicBootRecord{ResetEnd: 100, ExitBootServicesExit: 900})
	b := tbl.Bytes()

	require.Equal(t, Signature, binary.LittleEndian.Uint32(b[0:4]))
	require.Equal(t, uint32(len(b)), binary.LittleEndian.Uint32(b[4:8]))

	// type=2, length=0x38, revision=2.
	require.Equal(t, []byte{0x02, 0x00, 0x38, 0x02}, b[8:12])

	rec, err := DecodeBasicBootRecord(b[8:])
	require.NoError(t, err)
	require.Equal(t, uint64(100), rec.ResetEnd)
	require.Equal(t, uint64(900), rec.ExitBootServicesExit)
}

func TestAddRecordUpdatesLengthInPlace(t *testing.T) {
	tbl := NewTable(BasicBootRecord{})
	before := tbl.Len()

	rec := ExtendedRecord{Type: RecordGUID, Revision: 1, GUID1: guid.New4()}
	require.NoError(t, tbl.AddExtendedRecord(rec))

	b := tbl.Bytes()
	require.Equal(t, uint32(len(b)), binary.LittleEndian.Uint32(b[4:8]))
	require.Greater(t, tbl.Len(), before)

	got, n, err := DecodeExtendedRecord(b[before:])
	require.NoError(t, err)
	require.Equal(t, len(b)-before, n)
	require.True(t, rec.GUID1.Equal(got.GUID1))
}

func TestExtendedRecordRoundTripsEveryShape(t *testing.T) {
	g1, g2 := guid.New4(), guid.New4()
	cases := []ExtendedRecord{
		{Type: RecordGUID, Revision: 1, GUID1: g1},
		{Type: RecordGUIDString, Revision: 1, GUID1: g1, Label: "stage-a"},
		{Type: RecordDualGUIDString, Revision: 1, GUID1: g1, GUID2: g2, Label: "stage-b"},
		{Type: RecordGUIDQword, Revision: 1, GUID1: g1, Qword: 0xDEADBEEF},
		{Type: RecordGUIDQwordString, Revision: 1, GUID1: g1, Qword: 12345, Label: "stage-c"},
	}
	for _, c := range cases {
		enc, err := c.Encode()
		require.NoError(t, err)
		got, n, err := DecodeExtendedRecord(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, c.Type, got.Type)
		require.True(t, c.GUID1.Equal(got.GUID1))
		require.True(t, c.GUID2.Equal(got.GUID2))
		require.Equal(t, c.Qword, got.Qword)
		require.Equal(t, c.Label, got.Label)
	}
}

func TestPublishFallsBackBelowFourGiBWhenNoPreviousAddress(t *testing.T) {
	m := gcd.NewMap(nil)
	require.NoError(t, m.AddMemorySpace(gcd.SystemMemory, 0, 1<<30, gcd.CapWB))

	tbl := NewTable(BasicBootRecord{ResetEnd: 1})
	addr, err := Publish(m, gcd.Handle(1), tbl, 0)
	require.NoError(t, err)
	require.Less(t, addr, uint64(belowFourGiB))
}

func TestPublishReusesPreviousAddressWhenStillFree(t *testing.T) {
	m := gcd.NewMap(nil)
	require.NoError(t, m.AddMemorySpace(gcd.SystemMemory, 0, 1<<30, gcd.CapWB))

	tbl := NewTable(BasicBootRecord{})
	first, err := Publish(m, gcd.Handle(1), tbl, 0)
	require.NoError(t, err)
	require.NoError(t, m.FreeMemorySpace(first, gcd.PageSize*pagesFor(uint64(tbl.Len())+fbptPageHeadroom)))

	second, err := Publish(m, gcd.Handle(2), tbl, first)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestVariableRoundTripsPreviousTableAddress(t *testing.T) {
	store := NewMemStore()
	require.Equal(t, uint64(0), FindPreviousTableAddress(store))

	require.NoError(t, RecordTableAddress(store, 0xABCD0000))
	require.Equal(t, uint64(0xABCD0000), FindPreviousTableAddress(store))
}
