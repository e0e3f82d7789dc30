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

package fv

import "github.com/patina-fw/dxecore/pkg/devpath"

// DevicePath builds v's device-path protocol value: a MediaFwVol node
// bearing the volume's extended-header GUID when present, or, for
// header-less volumes, a MemoryMapped hardware node spanning its
// base/end addresses.
func (v *Volume) DevicePath() []byte {
	if v.ExtHeader != nil {
		return devpath.Terminate(devpath.FirmwareVolumeNode(v.ExtHeader.FvNameGUID.Bytes()))
	}
	return devpath.Terminate(devpath.MemoryMappedNode(0, v.BaseAddress(), v.EndAddress()))
}

// FileDevicePath appends a MediaFwVolFile node naming fileGUID onto
// v's own (untruncated) volume device path, producing a child path for
// a single file within it.
func (v *Volume) FileDevicePath(fileGUID [16]byte) []byte {
	var base []byte
	if v.ExtHeader != nil {
		base = devpath.FirmwareVolumeNode(v.ExtHeader.FvNameGUID.Bytes())
	} else {
		base = devpath.MemoryMappedNode(0, v.BaseAddress(), v.EndAddress())
	}
	return devpath.Terminate(devpath.Append(base, devpath.FirmwareFileNode(fileGUID)))
}
