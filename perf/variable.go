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
	"sync"

	"github.com/patina-fw/dxecore/pkg/status"
)

var errVariableNotFound = status.New("perf.MemStore", status.NotFound, "variable not found")

// VariableName is the variable's name within VariableGUID's namespace.
const VariableName = "PerfDataMemAddr"

// VariableStore is the narrow slice of the platform's non-volatile
// variable service perf needs: get and set one small fixed-size
// record. A full NV variable service is out of scope for this module;
// this interface is the only sliver of it the boot performance table
// depends on.
type VariableStore interface {
	GetVariable(name string, namespace [16]byte) ([]byte, error)
	SetVariable(name string, namespace [16]byte, data []byte) error
}

// MemStore is a trivial in-memory VariableStore, standing in for
// whatever persistent store a platform provides; useful for simulation
// and tests where no real NV storage is wired.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore { return &MemStore{data: make(map[string][]byte)} }

func (s *MemStore) key(name string, namespace [16]byte) string {
	return string(namespace[:]) + "\x00" + name
}

func (s *MemStore) GetVariable(name string, namespace [16]byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[s.key(name, namespace)]
	if !ok {
		return nil, errVariableNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemStore) SetVariable(name string, namespace [16]byte, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(data))
	copy(v, data)
	s.data[s.key(name, namespace)] = v
	return nil
}

// FindPreviousTableAddress reads the boot-performance-table pointer
// recorded by the previous boot, returning 0 if none is recorded.
func FindPreviousTableAddress(store VariableStore) uint64 {
	raw, err := store.GetVariable(VariableName, variableGUIDArray())
	if err != nil || len(raw) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(raw[0:8])
}

// RecordTableAddress persists addr as this boot's published FBPT
// address, to be recalled on the next boot.
func RecordTableAddress(store VariableStore, addr uint64) error {
	var v VariableData
	if prev, err := store.GetVariable(VariableName, variableGUIDArray()); err == nil && len(prev) >= 16 {
		v.S3PerformanceTablePointer = binary.LittleEndian.Uint64(prev[8:16])
	}
	v.BootPerformanceTablePointer = addr
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], v.BootPerformanceTablePointer)
	binary.LittleEndian.PutUint64(buf[8:16], v.S3PerformanceTablePointer)
	return store.SetVariable(VariableName, variableGUIDArray(), buf)
}

func variableGUIDArray() [16]byte {
	return VariableGUID.Bytes()
}
