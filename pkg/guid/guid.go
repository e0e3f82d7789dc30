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

// Package guid implements the UEFI EFI_GUID value type: a 128-bit
// identifier with a C-ABI-compatible, mixed-endian binary layout that
// differs from the big-endian RFC 4122 layout google/uuid assumes. GUID
// is the identity type threaded through the handle/protocol database,
// firmware volume file/section headers, and event groups.
package guid

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Size is the on-the-wire byte size of an EFI_GUID.
const Size = 16

// GUID is {Data1 uint32, Data2 uint16, Data3 uint16, Data4 [8]byte},
// matching the UEFI specification's EFI_GUID layout bit-exact.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// Zero is the all-zero GUID, used as a wildcard in some FV/protocol
// lookups.
var Zero = GUID{}

// New builds a GUID from its five conventional fields.
func New(d1 uint32, d2, d3 uint16, d4 [8]byte) GUID {
	return GUID{Data1: d1, Data2: d2, Data3: d3, Data4: d4}
}

// FromBytes decodes a GUID from its 16-byte little-endian wire
// representation, as it appears embedded in FV/FFS headers.
func FromBytes(b []byte) (GUID, error) {
	if len(b) < Size {
		return GUID{}, fmt.Errorf("guid: need %d bytes, got %d", Size, len(b))
	}
	var g GUID
	g.Data1 = binary.LittleEndian.Uint32(b[0:4])
	g.Data2 = binary.LittleEndian.Uint16(b[4:6])
	g.Data3 = binary.LittleEndian.Uint16(b[6:8])
	copy(g.Data4[:], b[8:16])
	return g, nil
}

// Bytes returns the 16-byte little-endian wire representation.
func (g GUID) Bytes() [Size]byte {
	var b [Size]byte
	binary.LittleEndian.PutUint32(b[0:4], g.Data1)
	binary.LittleEndian.PutUint16(b[4:6], g.Data2)
	binary.LittleEndian.PutUint16(b[6:8], g.Data3)
	copy(b[8:16], g.Data4[:])
	return b
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (g GUID) MarshalBinary() ([]byte, error) {
	b := g.Bytes()
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (g *GUID) UnmarshalBinary(b []byte) error {
	v, err := FromBytes(b)
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// toUUID reinterprets g's bytes as a big-endian uuid.UUID so that
// formatting/parsing can be delegated to google/uuid. The first three
// fields are byte-swapped because EFI_GUID stores them little-endian
// while RFC 4122 text form is big-endian.
func (g GUID) toUUID() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], g.Data1)
	binary.BigEndian.PutUint16(u[4:6], g.Data2)
	binary.BigEndian.PutUint16(u[6:8], g.Data3)
	copy(u[8:16], g.Data4[:])
	return u
}

func fromUUID(u uuid.UUID) GUID {
	var g GUID
	g.Data1 = binary.BigEndian.Uint32(u[0:4])
	g.Data2 = binary.BigEndian.Uint16(u[4:6])
	g.Data3 = binary.BigEndian.Uint16(u[6:8])
	copy(g.Data4[:], u[8:16])
	return g
}

// String renders the canonical dashed hex form, e.g.
// "c095791a-3001-47b2-80c9-eac7319f2fa4".
func (g GUID) String() string {
	return g.toUUID().String()
}

// Parse parses the canonical dashed hex form.
func Parse(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GUID{}, fmt.Errorf("guid: %w", err)
	}
	return fromUUID(u), nil
}

// MustParse is like Parse but panics on error; intended for package-level
// well-known GUID constants.
func MustParse(s string) GUID {
	g, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return g
}

// New4 generates a random (version 4) GUID, used for ephemeral ids
// that have no fixed, UEFI-assigned value.
func New4() GUID {
	return fromUUID(uuid.New())
}

// Equal reports whether two GUIDs are identical.
func (g GUID) Equal(other GUID) bool { return g == other }

// IsZero reports whether g is the all-zero GUID.
func (g GUID) IsZero() bool { return g == Zero }
