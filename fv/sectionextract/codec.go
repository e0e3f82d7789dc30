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
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// StandardCompressionType and CustomizedCompressionType are the
// EFI_SECTION_COMPRESSION CompressionType byte values this package's
// default codecs answer for. The exact algorithms behind
// EFI_STANDARD_COMPRESSION and EFI_CUSTOMIZED_COMPRESSION are
// platform-chosen, so flate and zstd stand in for them here.
const (
	StandardCompressionType   uint8 = 1
	CustomizedCompressionType uint8 = 2
)

// FlateDecompressor implements Decompressor over klauspost/compress's
// flate, standing in for EFI_STANDARD_COMPRESSION.
type FlateDecompressor struct{}

func (FlateDecompressor) Decompress(uncompressedLen uint32, data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out := make([]byte, 0, uncompressedLen)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ZstdDecompressor implements Decompressor over klauspost/compress's
// zstd, standing in for EFI_CUSTOMIZED_COMPRESSION.
type ZstdDecompressor struct{}

func (ZstdDecompressor) Decompress(uncompressedLen uint32, data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, make([]byte, 0, uncompressedLen))
}

// RegisterDefaultCodecs wires FlateDecompressor and ZstdDecompressor
// onto e under the standard/customized compression type bytes.
func RegisterDefaultCodecs(e *Extractor) {
	e.RegisterDecompressor(StandardCompressionType, FlateDecompressor{})
	e.RegisterDecompressor(CustomizedCompressionType, ZstdDecompressor{})
}
