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

package sectionextract

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/require"

	"github.com/patina-fw/dxecore/fv"
	"github.com/patina-fw/dxecore/pkg/guid"
)

func section(typ uint8, content []byte) []byte {
	size := fv.SectionHeaderSize + len(content)
	out := []byte{byte(size), byte(size >> 8), byte(size >> 16), typ}
	out = append(out, content...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

func TestWalkFlattensRawSections(t *testing.T) {
	body := append(section(fv.SectionTypeRaw, []byte("one")), section(fv.SectionTypeUserInterface, []byte("ui"))...)
	e := New()
	sections, err := e.Walk(body)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	require.Equal(t, []byte("one"), sections[0].Content)
	require.Equal(t, fv.SectionTypeUserInterface, sections[1].Type)
}

func TestExpandCompressionRoundTripsThroughFlate(t *testing.T) {
	inner := section(fv.SectionTypeRaw, []byte("compressed payload"))

	var compressed bytes.Buffer
	w, err := flate.NewWriter(&compressed, flate.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write(inner)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	payload := make([]byte, 5)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(inner)))
	payload[4] = StandardCompressionType
	payload = append(payload, compressed.Bytes()...)
	body := section(fv.SectionTypeCompression, payload)

	e := New()
	RegisterDefaultCodecs(e)
	sections, err := e.Walk(body)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, []byte("compressed payload"), sections[0].Content)
}

func TestExpandGUIDDefinedNotRequiredPassesThroughOpaque(t *testing.T) {
	g := guid.New4()
	gb, _ := g.MarshalBinary()
	dataOffset := make([]byte, 2)
	binary.LittleEndian.PutUint16(dataOffset, 20)
	payload := append(append([]byte{}, gb...), dataOffset...)
	payload = append(payload, 0, 0) // Attributes=0 (not required)
	payload = append(payload, []byte("opaque")...)
	body := section(fv.SectionTypeGUIDDefined, payload)

	e := New()
	sections, err := e.Walk(body)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, []byte("opaque"), sections[0].Content)
}

func TestExpandGUIDDefinedRequiresRegisteredDecoder(t *testing.T) {
	g := guid.New4()
	gb, _ := g.MarshalBinary()
	dataOffset := make([]byte, 2)
	binary.LittleEndian.PutUint16(dataOffset, 20)
	attrs := make([]byte, 2)
	binary.LittleEndian.PutUint16(attrs, fv.GUIDDefinedProcessingRequired)
	payload := append(append([]byte{}, gb...), dataOffset...)
	payload = append(payload, attrs...)
	payload = append(payload, []byte("wrapped")...)
	body := section(fv.SectionTypeGUIDDefined, payload)

	e := New()
	_, err := e.Walk(body)
	require.Error(t, err)
}

func TestWalkIgnoresBytesShorterThanSectionHeader(t *testing.T) {
	e := New()
	_, err := e.Walk([]byte{1, 2})
	require.NoError(t, err) // too short for even a header: loop simply doesn't run
}

func TestSelectFindsNthMatchingSection(t *testing.T) {
	body := append(section(fv.SectionTypeRaw, []byte("a")), section(fv.SectionTypeRaw, []byte("b"))...)
	e := New()
	sec, err := e.Select(body, fv.SectionTypeRaw, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), sec.Content)
}
