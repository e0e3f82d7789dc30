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

package devpath

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsEndOnEmptyAndTerminator(t *testing.T) {
	require.False(t, IsEnd(nil), "an absent path is not an End node")
	require.True(t, IsEnd(EndNode()))
}

func TestIsEndFalseForRealNode(t *testing.T) {
	node := MemoryMappedNode(0, 0x1000, 0x2000)
	require.False(t, IsEnd(node))
}

func TestMemoryMappedNodeLayout(t *testing.T) {
	node := MemoryMappedNode(5, 0x1000, 0x2000)
	require.Equal(t, byte(TypeHardware), node[0])
	require.Equal(t, byte(SubTypeMemoryMapped), node[1])
	require.Len(t, node, headerSize+20)
}

func TestFirmwareFileNodeAppendsToVolumeNode(t *testing.T) {
	var fvGUID, fileGUID [16]byte
	fvGUID[0] = 0xAA
	fileGUID[0] = 0xBB

	path := FirmwareVolumeNode(fvGUID)
	path = Append(path, FirmwareFileNode(fileGUID))
	full := Terminate(path)

	require.True(t, IsEnd(full[len(full)-headerSize:]))
	require.Equal(t, byte(TypeMedia), path[0])
}
