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

package pool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// infoTable is the process-wide memory-type-information table: the
// per-memory-type claimed-page counts that, once published, the system
// configuration table layer hands to the OS so it can size its runtime
// memory reservation across warm boots identically every time.
type infoTable struct {
	mu    sync.Mutex
	pages map[Type]uint64
	gauge *prometheus.GaugeVec
}

var globalInfoTable = newInfoTable()

func newInfoTable() *infoTable {
	return &infoTable{
		pages: make(map[Type]uint64),
		gauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dxecore",
			Subsystem: "pool",
			Name:      "claimed_pages",
			Help:      "Pages claimed by each pool allocator's backing regions.",
		}, []string{"memory_type"}),
	}
}

func (t *infoTable) set(memType Type, pages uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pages[memType] = pages
	t.gauge.WithLabelValues(memType.String()).Set(float64(pages))
}

// Snapshot returns a copy of the current memory-type-information table.
func Snapshot() map[Type]uint64 {
	globalInfoTable.mu.Lock()
	defer globalInfoTable.mu.Unlock()
	out := make(map[Type]uint64, len(globalInfoTable.pages))
	for k, v := range globalInfoTable.pages {
		out[k] = v
	}
	return out
}

// Collector returns the Prometheus collector publishing the table, for
// registration against a metrics registry (ambient stack).
func Collector() prometheus.Collector { return globalInfoTable.gauge }
