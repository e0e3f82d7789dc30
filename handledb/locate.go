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

package handledb

import (
	"sort"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
	"github.com/patina-fw/dxecore/pkg/tpl"
)

// SearchKey selects one of the three classic handle-lookup strategies,
// numbered to match the UEFI EFI_LOCATE_SEARCH_TYPE ordinals.
type SearchKey int

const (
	AllHandles       SearchKey = 0
	ByRegisterNotify SearchKey = 1
	ByProtocol       SearchKey = 2
)

// RegisterProtocolNotify allocates a registration token that
// accumulates every handle protocolGUID is subsequently installed on,
// for later draining by LocateHandle(ByRegisterNotify, ...).
func (db *Database) RegisterProtocolNotify(protocolGUID guid.GUID) (Registration, error) {
	return tpl.WithResult(db.mu, func(st *dbState) (Registration, error) {
		st.nextRegID++
		reg := Registration(st.nextRegID)
		st.registrations[reg] = &registrationState{protocolGUID: protocolGUID}
		return reg, nil
	})
}

// LocateHandle implements the three search keys:
//
//	AllHandles:       every handle in the database, sorted for determinism.
//	ByProtocol:       every handle carrying protocolGUID, sorted.
//	ByRegisterNotify: the single oldest handle queued against reg since
//	                  the last call, NotFound if none is pending.
func (db *Database) LocateHandle(key SearchKey, protocolGUID guid.GUID, reg Registration) ([]gcd.Handle, error) {
	return tpl.WithResult(db.mu, func(st *dbState) ([]gcd.Handle, error) {
		switch key {
		case AllHandles:
			out := make([]gcd.Handle, 0, len(st.handles))
			for h := range st.handles {
				out = append(out, h)
			}
			sortHandles(out)
			return out, nil
		case ByProtocol:
			var out []gcd.Handle
			for h, he := range st.handles {
				if _, ok := he.protocols[protocolGUID]; ok {
					out = append(out, h)
				}
			}
			sortHandles(out)
			return out, nil
		case ByRegisterNotify:
			rs, ok := st.registrations[reg]
			if !ok {
				return nil, status.New("handledb.LocateHandle", status.InvalidParameter, "unknown registration")
			}
			if len(rs.pending) == 0 {
				return nil, status.New("handledb.LocateHandle", status.NotFound, "no new handles queued for this registration")
			}
			h := rs.pending[0]
			rs.pending = rs.pending[1:]
			return []gcd.Handle{h}, nil
		default:
			return nil, status.New("handledb.LocateHandle", status.InvalidParameter, "unknown search key")
		}
	})
}

// LocateHandleBuffer is LocateHandle without the TestProtocol-style
// caller having to preflight a buffer size first; in this in-process
// model the two are identical.
func (db *Database) LocateHandleBuffer(key SearchKey, protocolGUID guid.GUID, reg Registration) ([]gcd.Handle, error) {
	return db.LocateHandle(key, protocolGUID, reg)
}

// LocateProtocol returns the interface value of one handle carrying
// protocolGUID: the next one queued against reg if reg is nonzero and
// has a pending handle, otherwise the lowest-numbered handle carrying
// the protocol.
func (db *Database) LocateProtocol(protocolGUID guid.GUID, reg Registration) (any, error) {
	if reg != 0 {
		handles, err := db.LocateHandle(ByRegisterNotify, protocolGUID, reg)
		if err == nil && len(handles) > 0 {
			return db.HandleProtocol(handles[0], protocolGUID)
		}
	}
	handles, err := db.LocateHandle(ByProtocol, protocolGUID, 0)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, status.New("handledb.LocateProtocol", status.NotFound, "no handle carries this protocol")
	}
	return db.HandleProtocol(handles[0], protocolGUID)
}

func sortHandles(h []gcd.Handle) {
	sort.Slice(h, func(i, j int) bool { return h[i] < h[j] })
}
