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

	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
)

// Encode writes r's wire form: the generic record header followed by
// a 4-byte reserved field and the five timer samples.
func (r BasicBootRecord) Encode() []byte {
	buf := make([]byte, recordHeaderSize+4+40)
	binary.LittleEndian.PutUint16(buf[0:2], BasicBootRecordType)
	buf[2] = basicBootRecordLength
	buf[3] = BasicBootRecordRevision
	// buf[4:8] reserved, left zero.
	binary.LittleEndian.PutUint64(buf[8:16], r.ResetEnd)
	binary.LittleEndian.PutUint64(buf[16:24], r.OSLoaderLoadImageStart)
	binary.LittleEndian.PutUint64(buf[24:32], r.OSLoaderStartImageStart)
	binary.LittleEndian.PutUint64(buf[32:40], r.ExitBootServicesEntry)
	binary.LittleEndian.PutUint64(buf[40:48], r.ExitBootServicesExit)
	return buf
}

// DecodeBasicBootRecord parses the buf produced by Encode.
func DecodeBasicBootRecord(buf []byte) (BasicBootRecord, error) {
	if len(buf) < recordHeaderSize+4+40 {
		return BasicBootRecord{}, status.New("perf.DecodeBasicBootRecord", status.VolumeCorrupted, "record too short")
	}
	typ := binary.LittleEndian.Uint16(buf[0:2])
	if typ != BasicBootRecordType {
		return BasicBootRecord{}, status.New("perf.DecodeBasicBootRecord", status.VolumeCorrupted, "unexpected record type")
	}
	return BasicBootRecord{
		ResetEnd:                binary.LittleEndian.Uint64(buf[8:16]),
		OSLoaderLoadImageStart:  binary.LittleEndian.Uint64(buf[16:24]),
		OSLoaderStartImageStart: binary.LittleEndian.Uint64(buf[24:32]),
		ExitBootServicesEntry:   binary.LittleEndian.Uint64(buf[32:40]),
		ExitBootServicesExit:    binary.LittleEndian.Uint64(buf[40:48]),
	}, nil
}

// Encode writes r's wire form. The payload that follows the generic
// record header depends on r.Type:
//
//	RecordGUID:            GUID(16)
//	RecordGUIDString:      GUID(16) Label(NUL-terminated)
//	RecordDualGUIDString:  GUID1(16) GUID2(16) Label(NUL-terminated)
//	RecordGUIDQword:       GUID(16) Qword(8)
//	RecordGUIDQwordString: GUID(16) Qword(8) Label(NUL-terminated)
func (r ExtendedRecord) Encode() ([]byte, error) {
	g1, err := r.GUID1.MarshalBinary()
	if err != nil {
		return nil, status.Wrap("perf.ExtendedRecord.Encode", status.InvalidParameter, err)
	}

	var payload []byte
	switch r.Type {
	case RecordGUID:
		payload = g1
	case RecordGUIDString:
		payload = append(append([]byte{}, g1...), labelBytes(r.Label)...)
	case RecordDualGUIDString:
		g2, err := r.GUID2.MarshalBinary()
		if err != nil {
			return nil, status.Wrap("perf.ExtendedRecord.Encode", status.InvalidParameter, err)
		}
		payload = append(append([]byte{}, g1...), g2...)
		payload = append(payload, labelBytes(r.Label)...)
	case RecordGUIDQword:
		qw := make([]byte, 8)
		binary.LittleEndian.PutUint64(qw, r.Qword)
		payload = append(append([]byte{}, g1...), qw...)
	case RecordGUIDQwordString:
		qw := make([]byte, 8)
		binary.LittleEndian.PutUint64(qw, r.Qword)
		payload = append(append([]byte{}, g1...), qw...)
		payload = append(payload, labelBytes(r.Label)...)
	default:
		return nil, status.New("perf.ExtendedRecord.Encode", status.InvalidParameter, "unknown extended record type")
	}

	total := recordHeaderSize + len(payload)
	if total > 0xFF {
		return nil, status.New("perf.ExtendedRecord.Encode", status.InvalidParameter, "record exceeds the single-byte Length field")
	}
	buf := make([]byte, recordHeaderSize, total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(r.Type))
	buf[2] = uint8(total)
	buf[3] = r.Revision
	return append(buf, payload...), nil
}

func labelBytes(s string) []byte {
	return append([]byte(s), 0)
}

// DecodeExtendedRecord parses one record written by Encode, returning
// the record and the number of bytes it consumed from buf.
func DecodeExtendedRecord(buf []byte) (ExtendedRecord, int, error) {
	if len(buf) < recordHeaderSize {
		return ExtendedRecord{}, 0, status.New("perf.DecodeExtendedRecord", status.VolumeCorrupted, "record header truncated")
	}
	typ := ExtendedRecordType(binary.LittleEndian.Uint16(buf[0:2]))
	length := int(buf[2])
	revision := buf[3]
	if length < recordHeaderSize || length > len(buf) {
		return ExtendedRecord{}, 0, status.New("perf.DecodeExtendedRecord", status.VolumeCorrupted, "record length out of range")
	}
	payload := buf[recordHeaderSize:length]

	r := ExtendedRecord{Type: typ, Revision: revision}
	switch typ {
	case RecordGUID:
		if len(payload) < 16 {
			return ExtendedRecord{}, 0, status.New("perf.DecodeExtendedRecord", status.VolumeCorrupted, "GUID record truncated")
		}
		g, err := guid.FromBytes(payload[:16])
		if err != nil {
			return ExtendedRecord{}, 0, err
		}
		r.GUID1 = g
	case RecordGUIDString:
		if len(payload) < 16 {
			return ExtendedRecord{}, 0, status.New("perf.DecodeExtendedRecord", status.VolumeCorrupted, "GUID string record truncated")
		}
		g, err := guid.FromBytes(payload[:16])
		if err != nil {
			return ExtendedRecord{}, 0, err
		}
		r.GUID1 = g
		r.Label = cString(payload[16:])
	case RecordDualGUIDString:
		if len(payload) < 32 {
			return ExtendedRecord{}, 0, status.New("perf.DecodeExtendedRecord", status.VolumeCorrupted, "dual GUID string record truncated")
		}
		g1, err := guid.FromBytes(payload[:16])
		if err != nil {
			return ExtendedRecord{}, 0, err
		}
		g2, err := guid.FromBytes(payload[16:32])
		if err != nil {
			return ExtendedRecord{}, 0, err
		}
		r.GUID1, r.GUID2 = g1, g2
		r.Label = cString(payload[32:])
	case RecordGUIDQword:
		if len(payload) < 24 {
			return ExtendedRecord{}, 0, status.New("perf.DecodeExtendedRecord", status.VolumeCorrupted, "GUID qword record truncated")
		}
		g, err := guid.FromBytes(payload[:16])
		if err != nil {
			return ExtendedRecord{}, 0, err
		}
		r.GUID1 = g
		r.Qword = binary.LittleEndian.Uint64(payload[16:24])
	case RecordGUIDQwordString:
		if len(payload) < 24 {
			return ExtendedRecord{}, 0, status.New("perf.DecodeExtendedRecord", status.VolumeCorrupted, "GUID qword string record truncated")
		}
		g, err := guid.FromBytes(payload[:16])
		if err != nil {
			return ExtendedRecord{}, 0, err
		}
		r.GUID1 = g
		r.Qword = binary.LittleEndian.Uint64(payload[16:24])
		r.Label = cString(payload[24:])
	default:
		return ExtendedRecord{}, 0, status.New("perf.DecodeExtendedRecord", status.VolumeCorrupted, "unknown extended record type")
	}
	return r, length, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
