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
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
	"github.com/patina-fw/dxecore/pkg/tpl"
)

type dbState struct {
	handles       map[gcd.Handle]*handleEntry
	registrations map[Registration]*registrationState
	nextRegID     uint64
}

// Registration is the opaque token RegisterProtocolNotify hands back,
// consumed by LocateHandle's ByRegisterNotify search key.
type Registration uint64

type registrationState struct {
	protocolGUID guid.GUID
	pending      []gcd.Handle
}

// Database is the process-wide handle/protocol database. One instance
// exists per core; it is guarded by a Notify-ceiling TplMutex,
// reflecting the driver model's requirement to call back into it from
// driver binding callbacks that themselves run no higher than NOTIFY.
type Database struct {
	mu        *tpl.Mutex[dbState]
	logger    *zap.Logger
	nextIdent atomic.Uint64
	handleGauge prometheus.Gauge
}

// New constructs an empty handle/protocol database.
func New(logger *zap.Logger) *Database {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Database{
		mu: tpl.NewMutex(tpl.Notify, dbState{
			handles:       make(map[gcd.Handle]*handleEntry),
			registrations: make(map[Registration]*registrationState),
		}),
		logger: logger.Named("handledb"),
		handleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dxecore",
			Subsystem: "handledb",
			Name:      "handle_count",
			Help:      "Number of live handles in the protocol database.",
		}),
	}
}

// Collector exposes the live-handle-count gauge for metrics
// registration.
func (db *Database) Collector() prometheus.Collector { return db.handleGauge }

// NewHandle allocates a fresh, empty handle identity. It does not
// install any protocol; callers typically follow it with
// InstallProtocolInterface.
func (db *Database) NewHandle() gcd.Handle {
	return gcd.Handle(db.nextIdent.Add(1))
}

// InstallProtocolInterface attaches interfaceValue under protocolGUID
// on handle, creating handle if it is gcd.Unallocated (the caller asks
// for a fresh one) or does not yet exist. Installing the same GUID
// twice on the same handle is AlreadyStarted.
func (db *Database) InstallProtocolInterface(handle gcd.Handle, protocolGUID guid.GUID, interfaceValue any) (gcd.Handle, error) {
	if handle == gcd.Unallocated {
		handle = db.NewHandle()
	}
	err := tpl.WithErr(db.mu, func(st *dbState) error {
		he := st.handles[handle]
		if he == nil {
			he = &handleEntry{protocols: make(map[guid.GUID]*protocolEntry)}
			st.handles[handle] = he
			db.handleGauge.Set(float64(len(st.handles)))
		}
		if _, exists := he.protocols[protocolGUID]; exists {
			return status.New("handledb.InstallProtocolInterface", status.AlreadyStarted, "protocol already installed on this handle")
		}
		he.protocols[protocolGUID] = &protocolEntry{interfaceValue: interfaceValue}
		he.order = append(he.order, protocolGUID)
		for _, reg := range st.registrations {
			if reg.protocolGUID == protocolGUID {
				reg.pending = append(reg.pending, handle)
			}
		}
		return nil
	})
	if err != nil {
		return gcd.Unallocated, err
	}
	return handle, nil
}

// UninstallProtocolInterface removes protocolGUID from handle. It
// fails with AccessDenied if any usage still holds BY_DRIVER or
// EXCLUSIVE on the interface; callers must disconnect drivers first.
func (db *Database) UninstallProtocolInterface(handle gcd.Handle, protocolGUID guid.GUID) error {
	return tpl.WithErr(db.mu, func(st *dbState) error {
		he, ok := st.handles[handle]
		if !ok {
			return status.New("handledb.UninstallProtocolInterface", status.NotFound, "unknown handle")
		}
		pe, ok := he.protocols[protocolGUID]
		if !ok {
			return status.New("handledb.UninstallProtocolInterface", status.NotFound, "protocol not installed on this handle")
		}
		for _, u := range pe.usages {
			if u.Attributes&(ByDriver|Exclusive) != 0 {
				return status.New("handledb.UninstallProtocolInterface", status.AccessDenied, "interface still held BY_DRIVER or EXCLUSIVE")
			}
		}
		db.removeProtocolLocked(st, handle, he, protocolGUID)
		return nil
	})
}

func (db *Database) removeProtocolLocked(st *dbState, handle gcd.Handle, he *handleEntry, protocolGUID guid.GUID) {
	delete(he.protocols, protocolGUID)
	for i, g := range he.order {
		if g == protocolGUID {
			he.order = append(he.order[:i], he.order[i+1:]...)
			break
		}
	}
	if len(he.protocols) == 0 {
		delete(st.handles, handle)
		db.handleGauge.Set(float64(len(st.handles)))
	}
}

// ReinstallProtocolInterface atomically replaces the interface value
// under protocolGUID with newInterface without dropping recorded
// usages; reinstall is an atomic uninstall+install. The old and new
// interface must be semantically compatible; the database does not
// check this.
func (db *Database) ReinstallProtocolInterface(handle gcd.Handle, protocolGUID guid.GUID, newInterface any) error {
	return tpl.WithErr(db.mu, func(st *dbState) error {
		he, ok := st.handles[handle]
		if !ok {
			return status.New("handledb.ReinstallProtocolInterface", status.NotFound, "unknown handle")
		}
		pe, ok := he.protocols[protocolGUID]
		if !ok {
			return status.New("handledb.ReinstallProtocolInterface", status.NotFound, "protocol not installed on this handle")
		}
		pe.interfaceValue = newInterface
		// A reinstall fires protocol notifications the same way a fresh
		// install does.
		for _, reg := range st.registrations {
			if reg.protocolGUID == protocolGUID {
				reg.pending = append(reg.pending, handle)
			}
		}
		return nil
	})
}

// HandleProtocol returns the interface value installed under
// protocolGUID on handle, without recording a usage (equivalent to a
// bare lookup; GET_PROTOCOL/BY_HANDLE_PROTOCOL style
// access is layered on top by OpenProtocol).
func (db *Database) HandleProtocol(handle gcd.Handle, protocolGUID guid.GUID) (any, error) {
	return tpl.WithResult(db.mu, func(st *dbState) (any, error) {
		he, ok := st.handles[handle]
		if !ok {
			return nil, status.New("handledb.HandleProtocol", status.NotFound, "unknown handle")
		}
		pe, ok := he.protocols[protocolGUID]
		if !ok {
			return nil, status.New("handledb.HandleProtocol", status.NotFound, "protocol not installed on this handle")
		}
		return pe.interfaceValue, nil
	})
}

// OpenProtocol returns the interface value and records usage, applying
// the EXCLUSIVE/BY_DRIVER conflict rules: a new BY_DRIVER or EXCLUSIVE
// usage is rejected if an EXCLUSIVE usage already exists, or (for
// EXCLUSIVE requests) if any BY_DRIVER usage already exists.
func (db *Database) OpenProtocol(handle gcd.Handle, protocolGUID guid.GUID, agent, controller gcd.Handle, attrs Attribute) (any, error) {
	return tpl.WithResult(db.mu, func(st *dbState) (any, error) {
		he, ok := st.handles[handle]
		if !ok {
			return nil, status.New("handledb.OpenProtocol", status.NotFound, "unknown handle")
		}
		pe, ok := he.protocols[protocolGUID]
		if !ok {
			return nil, status.New("handledb.OpenProtocol", status.NotFound, "protocol not installed on this handle")
		}
		if attrs&(ByDriver|Exclusive) != 0 {
			for _, u := range pe.usages {
				if u.Attributes&Exclusive != 0 {
					return nil, status.New("handledb.OpenProtocol", status.AccessDenied, "interface is exclusively held")
				}
				if attrs&Exclusive != 0 && u.Attributes&ByDriver != 0 {
					return nil, status.New("handledb.OpenProtocol", status.AccessDenied, "cannot open exclusively while BY_DRIVER usages exist")
				}
			}
		}
		if attrs&(GetProtocol|TestProtocol) == 0 {
			pe.usages = append(pe.usages, Usage{AgentHandle: agent, ControllerHandle: controller, Attributes: attrs})
		}
		return pe.interfaceValue, nil
	})
}

// CloseProtocol removes the usage entry matching (agent, controller)
// from protocolGUID's usage list on handle.
func (db *Database) CloseProtocol(handle gcd.Handle, protocolGUID guid.GUID, agent, controller gcd.Handle) error {
	return tpl.WithErr(db.mu, func(st *dbState) error {
		he, ok := st.handles[handle]
		if !ok {
			return status.New("handledb.CloseProtocol", status.NotFound, "unknown handle")
		}
		pe, ok := he.protocols[protocolGUID]
		if !ok {
			return status.New("handledb.CloseProtocol", status.NotFound, "protocol not installed on this handle")
		}
		for i, u := range pe.usages {
			if u.AgentHandle == agent && u.ControllerHandle == controller {
				pe.usages = append(pe.usages[:i], pe.usages[i+1:]...)
				return nil
			}
		}
		return status.New("handledb.CloseProtocol", status.NotFound, "no matching usage entry")
	})
}

// UsagesOf returns a copy of the usage list for protocolGUID on
// handle, used by driver disconnect to enumerate BY_DRIVER and
// BY_CHILD_CONTROLLER agents.
func (db *Database) UsagesOf(handle gcd.Handle, protocolGUID guid.GUID) ([]Usage, error) {
	return tpl.WithResult(db.mu, func(st *dbState) ([]Usage, error) {
		he, ok := st.handles[handle]
		if !ok {
			return nil, status.New("handledb.UsagesOf", status.NotFound, "unknown handle")
		}
		pe, ok := he.protocols[protocolGUID]
		if !ok {
			return nil, status.New("handledb.UsagesOf", status.NotFound, "protocol not installed on this handle")
		}
		out := make([]Usage, len(pe.usages))
		copy(out, pe.usages)
		return out, nil
	})
}

// ProtocolsOnHandle returns the GUIDs of every protocol installed on
// handle, in install order.
func (db *Database) ProtocolsOnHandle(handle gcd.Handle) ([]guid.GUID, error) {
	return tpl.WithResult(db.mu, func(st *dbState) ([]guid.GUID, error) {
		he, ok := st.handles[handle]
		if !ok {
			return nil, status.New("handledb.ProtocolsOnHandle", status.NotFound, "unknown handle")
		}
		out := make([]guid.GUID, len(he.order))
		copy(out, he.order)
		return out, nil
	})
}

// ChildControllersOf returns the distinct controller handles that
// agent holds a BY_CHILD_CONTROLLER usage for, on protocolGUID of
// handle (disconnect's child enumeration).
func (db *Database) ChildControllersOf(handle gcd.Handle, protocolGUID guid.GUID, agent gcd.Handle) ([]gcd.Handle, error) {
	usages, err := db.UsagesOf(handle, protocolGUID)
	if err != nil {
		return nil, err
	}
	seen := make(map[gcd.Handle]struct{})
	var out []gcd.Handle
	for _, u := range usages {
		if u.AgentHandle != agent || u.Attributes&ByChildController == 0 {
			continue
		}
		if _, ok := seen[u.ControllerHandle]; ok {
			continue
		}
		seen[u.ControllerHandle] = struct{}{}
		out = append(out, u.ControllerHandle)
	}
	return out, nil
}

// AgentsHoldingByDriver returns, in first-seen order and de-duplicated,
// every agent handle holding a BY_DRIVER usage on any protocol
// installed on handle, optionally restricted to a single driver.
func (db *Database) AgentsHoldingByDriver(handle gcd.Handle, onlyDriver gcd.Handle) ([]gcd.Handle, error) {
	return tpl.WithResult(db.mu, func(st *dbState) ([]gcd.Handle, error) {
		he, ok := st.handles[handle]
		if !ok {
			return nil, status.New("handledb.AgentsHoldingByDriver", status.NotFound, "unknown handle")
		}
		seen := make(map[gcd.Handle]struct{})
		var out []gcd.Handle
		for _, protocolGUID := range he.order {
			pe := he.protocols[protocolGUID]
			for _, u := range pe.usages {
				if u.Attributes&ByDriver == 0 {
					continue
				}
				if onlyDriver != gcd.Unallocated && u.AgentHandle != onlyDriver {
					continue
				}
				if _, ok := seen[u.AgentHandle]; ok {
					continue
				}
				seen[u.AgentHandle] = struct{}{}
				out = append(out, u.AgentHandle)
			}
		}
		return out, nil
	})
}

// AllChildControllers returns the distinct controller handles that
// agent holds any BY_CHILD_CONTROLLER usage for, across every protocol
// installed on handle; recursive connect descends into every child
// handle regardless of which protocol created it.
func (db *Database) AllChildControllers(handle gcd.Handle, agent gcd.Handle) ([]gcd.Handle, error) {
	return tpl.WithResult(db.mu, func(st *dbState) ([]gcd.Handle, error) {
		he, ok := st.handles[handle]
		if !ok {
			return nil, status.New("handledb.AllChildControllers", status.NotFound, "unknown handle")
		}
		seen := make(map[gcd.Handle]struct{})
		var out []gcd.Handle
		for _, protocolGUID := range he.order {
			pe := he.protocols[protocolGUID]
			for _, u := range pe.usages {
				if u.Attributes&ByChildController == 0 {
					continue
				}
				if agent != gcd.Unallocated && u.AgentHandle != agent {
					continue
				}
				if _, ok := seen[u.ControllerHandle]; ok {
					continue
				}
				seen[u.ControllerHandle] = struct{}{}
				out = append(out, u.ControllerHandle)
			}
		}
		return out, nil
	})
}
