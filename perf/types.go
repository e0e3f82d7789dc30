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

// Package perf implements the Firmware Basic Boot Performance Table
// (FBPT): a fixed-layout binary record buffer recording early-boot
// timing. The table is published once per boot at the
// address recorded in one small non-volatile variable, so the OS and
// tooling can find it at the same place across warm boots.
package perf

import "github.com/patina-fw/dxecore/pkg/guid"

// Signature is the 32-bit little-endian 'FBPT' magic at offset 0 of
// the table; the bytes read "FBPT" in wire order.
const Signature uint32 = 0x54504246

// tableHeaderSize is signature(4) + length(4).
const tableHeaderSize = 8

// BasicBootRecordType and BasicBootRecordRevision identify the first,
// mandatory record every FBPT carries.
const (
	BasicBootRecordType     uint16 = 2
	BasicBootRecordRevision uint8  = 2
	// basicBootRecordLength is the Length byte the UEFI-defined basic
	// boot performance record declares in its own header: a fixed wire
	// constant (0x38), not derived from the record's actual encoded
	// size. BasicBootRecord.Encode always writes this value regardless
	// of payload layout.
	basicBootRecordLength uint8 = 0x38
)

// recordHeaderSize is the generic Type(u16)+Length(u8)+Revision(u8)
// record header shared by every FBPT record.
const recordHeaderSize = 4

// BasicBootRecord is the table's mandatory first record: five 64-bit
// timer samples following a 4-byte reserved field.
type BasicBootRecord struct {
	ResetEnd                uint64
	OSLoaderLoadImageStart  uint64
	OSLoaderStartImageStart uint64
	ExitBootServicesEntry   uint64
	ExitBootServicesExit    uint64
}

// ExtendedRecordType selects one of the Extended Firmware Performance
// record shapes.
type ExtendedRecordType uint16

const (
	RecordGUID            ExtendedRecordType = 3
	RecordGUIDString      ExtendedRecordType = 4
	RecordDualGUIDString  ExtendedRecordType = 5
	RecordGUIDQword       ExtendedRecordType = 6
	RecordGUIDQwordString ExtendedRecordType = 7
)

// ExtendedRecord is one variable-length performance record pushed
// after the basic boot record. Exactly which of GUID1/GUID2/Qword/
// Label fields are meaningful depends on Type.
type ExtendedRecord struct {
	Type     ExtendedRecordType
	Revision uint8
	GUID1    guid.GUID
	GUID2    guid.GUID // only for RecordDualGUIDString
	Qword    uint64    // only for RecordGUIDQword/RecordGUIDQwordString
	Label    string    // only for the *String variants
}

// VariableGUID is the non-volatile variable's namespace GUID.
var VariableGUID = guid.MustParse("c095791a-3001-47b2-80c9-eac7319f2fa4")

// VariableData is the small NV variable consulted on each boot to
// place the new FBPT at its previous location when possible.
type VariableData struct {
	BootPerformanceTablePointer uint64
	S3PerformanceTablePointer   uint64
}
