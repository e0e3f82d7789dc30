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

package guid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripBytes(t *testing.T) {
	g := New(0xc095791a, 0x3001, 0x47b2, [8]byte{0x80, 0xc9, 0xea, 0xc7, 0x31, 0x9f, 0x2f, 0xa4})
	b := g.Bytes()
	got, err := FromBytes(b[:])
	require.NoError(t, err)
	require.Equal(t, g, got)
}

func TestStringRoundTrip(t *testing.T) {
	const s = "c095791a-3001-47b2-80c9-eac7319f2fa4"
	g, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, s, g.String())
}

func TestFromBytesShort(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestZeroAndEqual(t *testing.T) {
	require.True(t, Zero.IsZero())
	a := New4()
	b := New4()
	require.False(t, a.Equal(b))
	require.True(t, a.Equal(a))
}

func TestMustParsePanics(t *testing.T) {
	require.Panics(t, func() {
		MustParse("not-a-guid")
	})
}
