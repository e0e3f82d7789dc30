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

// Package handledb implements the handle/protocol database: the
// boundary the driver model and every protocol consumer goes through
// to install, look up, and tear down protocol interfaces on a
// handle. It is the second link in the core's mutex ordering chain,
// acquired after the GCD/pool allocators and before the FV layer.
package handledb

import (
	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pkg/guid"
)

// Attribute is the bitmask recorded against one usage entry of a
// protocol interface.
type Attribute uint32

const (
	ByDriver          Attribute = 1 << iota // installed by a driver via OpenProtocol
	ByChildController                       // held on behalf of a child controller the driver created
	Exclusive                               // no other agent may hold BY_DRIVER concurrently
	GetProtocol                             // a bare interface lookup, no lifetime implication
	TestProtocol                            // probing only, never recorded as a durable usage
	ByHandleProtocol                        // legacy unrestricted open
)

// Usage records one agent's claim on a protocol interface.
type Usage struct {
	AgentHandle      gcd.Handle
	ControllerHandle gcd.Handle // zero (gcd.Unallocated) when not applicable
	Attributes       Attribute
}

type protocolEntry struct {
	interfaceValue any
	usages         []Usage
}

type handleEntry struct {
	protocols map[guid.GUID]*protocolEntry
	// order preserves install order for stable iteration and for
	// ProtocolsOnHandle.
	order []guid.GUID
}
