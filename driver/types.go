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

// Package driver implements connect/disconnect controller orchestration:
// override-precedence candidate assembly, the supported/start inner
// loop, and disconnect's BY_DRIVER/BY_CHILD_CONTROLLER usage walk.
package driver

import (
	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pkg/guid"
)

// Well-known protocol GUIDs this package looks up through the handle
// database. Values are placeholders stable within this module; at the
// FFI boundary they would be replaced with the UEFI-assigned GUIDs.
var (
	BindingProtocol        = guid.MustParse("18a031ab-b443-4d1a-a5c0-0c09261e9f71")
	PlatformOverrideGUID   = guid.MustParse("6b30c738-a391-11d4-9a3b-0090273fc14d")
	FamilyOverrideGUID     = guid.MustParse("b1ee129e-da36-4181-91f8-04a4923766a7")
	BusOverrideGUID        = guid.MustParse("3bc1b285-8a15-4a82-aabf-4d7d13fb3265")
	DevicePathProtocol     = guid.MustParse("09576e91-6d3f-11d2-8e39-00a0c969723b")
	Security2ArchProtocol  = guid.MustParse("94ab2f58-1438-4ef1-9152-18941a3a0e68")
)

// Binding is the driver-binding protocol contract. Supported returns
// nil when the driver can manage controller;
// Start attempts to do so; Stop tears down the driver's hold on
// controller for the given child handles (empty means "stop entirely").
type Binding interface {
	Supported(controller gcd.Handle, remainingPath []byte) error
	Start(controller gcd.Handle, remainingPath []byte) error
	Stop(controller gcd.Handle, childHandles []gcd.Handle) error
	// Version is the driver's own declared binding version, used to
	// rank the global fallback candidate list.
	Version() uint32
}

// FamilyOverride is installed alongside a Binding on the same driver
// image handle; its GetVersion ranks same-family drivers against each
// other in the candidate list.
type FamilyOverride interface {
	GetVersion() uint32
}

// PlatformOverride and BusOverride return driver image handles for a
// controller, in the override's own preferred order.
type PlatformOverride interface {
	GetDriver(controller gcd.Handle) ([]gcd.Handle, error)
}

// BusOverride is installed on the controller handle itself.
type BusOverride interface {
	GetDriver(controller gcd.Handle) ([]gcd.Handle, error)
}

// Security2 gates driver dispatch behind file authentication when
// installed.
type Security2 interface {
	FileAuthentication(devicePath []byte) error
}
