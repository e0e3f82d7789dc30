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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/hob"
)

func TestBuildHOBListRoundTripsThroughParse(t *testing.T) {
	data := buildHOBList(0x100000, 0x10000)

	list, err := hob.Parse(data)
	require.NoError(t, err)
	require.Len(t, list.FirmwareVolumes, 1)
	require.Equal(t, uint64(0x100000), list.FirmwareVolumes[0].BaseAddress)
	require.Equal(t, uint64(0x10000), list.FirmwareVolumes[0].Length)
	require.Equal(t, 1, list.Skipped, "the handoff HOB isn't one of the six variants hob.Parse decodes, so it is counted rather than dropped")
}

func TestAppendHOBPadsBodyToEightBytes(t *testing.T) {
	buf := appendHOB(nil, hobTypeFirmwareVolume, []byte{1, 2, 3})
	require.Equal(t, 16, len(buf), "header(8) + body padded up to 8 bytes")
}
