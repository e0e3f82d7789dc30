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

package driver

import (
	"sort"

	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/handledb"
	"github.com/patina-fw/dxecore/pkg/devpath"
	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
)

// Manager implements core_connect_controller/core_disconnect_controller
// against a handle/protocol database. It holds no state of
// its own beyond a logger; every driver-binding and override protocol
// it consults is looked up live through db.
type Manager struct {
	db     *handledb.Database
	logger *zap.Logger
}

// NewManager constructs a Manager over db.
func NewManager(db *handledb.Database, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: db, logger: logger.Named("driver")}
}

func (m *Manager) binding(driverHandle gcd.Handle) Binding {
	iface, err := m.db.HandleProtocol(driverHandle, BindingProtocol)
	if err != nil {
		return nil
	}
	b, _ := iface.(Binding)
	return b
}

func (m *Manager) familyVersion(driverHandle gcd.Handle) (uint32, bool) {
	iface, err := m.db.HandleProtocol(driverHandle, FamilyOverrideGUID)
	if err != nil {
		return 0, false
	}
	fo, ok := iface.(FamilyOverride)
	if !ok {
		return 0, false
	}
	return fo.GetVersion(), true
}

// assembleCandidates builds the de-duplicated, first-seen-order
// candidate list following the driver-binding override precedence.
func (m *Manager) assembleCandidates(controller gcd.Handle, explicit []gcd.Handle) []gcd.Handle {
	seen := make(map[gcd.Handle]struct{})
	var out []gcd.Handle
	add := func(h gcd.Handle) {
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}

	// 1. Explicit drivers argument.
	for _, h := range explicit {
		add(h)
	}

	// 2. Platform Driver Override protocol.
	for _, h := range m.platformOverrideDrivers(controller) {
		add(h)
	}

	// 3. Drivers carrying a Driver Family Override protocol, sorted by
	// get_version() descending.
	var family []gcd.Handle
	for _, h := range m.allBindingHandles() {
		if _, ok := m.familyVersion(h); ok {
			family = append(family, h)
		}
	}
	sort.SliceStable(family, func(i, j int) bool {
		vi, _ := m.familyVersion(family[i])
		vj, _ := m.familyVersion(family[j])
		return vi > vj
	})
	for _, h := range family {
		add(h)
	}

	// 4. Bus Specific Driver Override protocol, installed on the
	// controller itself.
	for _, h := range m.busOverrideDrivers(controller) {
		add(h)
	}

	// 5. All driver-binding instances globally, sorted by
	// binding.version descending.
	global := m.allBindingHandles()
	sort.SliceStable(global, func(i, j int) bool {
		return m.binding(global[i]).Version() > m.binding(global[j]).Version()
	})
	for _, h := range global {
		add(h)
	}

	return out
}

func (m *Manager) platformOverrideDrivers(controller gcd.Handle) []gcd.Handle {
	handles, err := m.db.LocateHandle(handledb.ByProtocol, PlatformOverrideGUID, 0)
	if err != nil || len(handles) == 0 {
		return nil
	}
	iface, err := m.db.HandleProtocol(handles[0], PlatformOverrideGUID)
	if err != nil {
		return nil
	}
	po, ok := iface.(PlatformOverride)
	if !ok {
		return nil
	}
	drivers, err := po.GetDriver(controller)
	if err != nil {
		return nil
	}
	return drivers
}

func (m *Manager) busOverrideDrivers(controller gcd.Handle) []gcd.Handle {
	iface, err := m.db.HandleProtocol(controller, BusOverrideGUID)
	if err != nil {
		return nil
	}
	bo, ok := iface.(BusOverride)
	if !ok {
		return nil
	}
	drivers, err := bo.GetDriver(controller)
	if err != nil {
		return nil
	}
	return drivers
}

func (m *Manager) allBindingHandles() []gcd.Handle {
	handles, err := m.db.LocateHandle(handledb.ByProtocol, BindingProtocol, 0)
	if err != nil {
		return nil
	}
	return handles
}

// Connect implements core_connect_controller.
func (m *Manager) Connect(controller gcd.Handle, explicit []gcd.Handle, remainingPath []byte, recursive bool) error {
	if err := m.securityGate(controller, remainingPath, recursive); err != nil {
		return err
	}

	candidates := m.assembleCandidates(controller, explicit)
	anyStarted := false

	for {
		var started []gcd.Handle
		for _, h := range candidates {
			b := m.binding(h)
			if b == nil {
				continue
			}
			if err := b.Supported(controller, remainingPath); err != nil {
				continue
			}
			started = append(started, h)
			if err := b.Start(controller, remainingPath); err == nil {
				anyStarted = true
			}
		}
		candidates = removeAll(candidates, started)
		if len(started) == 0 {
			break
		}
	}

	if recursive {
		children, err := m.db.AllChildControllers(controller, gcd.Unallocated)
		if err == nil {
			for _, child := range children {
				_ = m.Connect(child, nil, nil, true)
			}
		}
	}

	if anyStarted || devpath.IsEnd(remainingPath) {
		return nil
	}
	return status.New("driver.Connect", status.NotFound, "no driver could be started on this controller")
}

func removeAll(candidates, started []gcd.Handle) []gcd.Handle {
	if len(started) == 0 {
		return candidates
	}
	remove := make(map[gcd.Handle]struct{}, len(started))
	for _, h := range started {
		remove[h] = struct{}{}
	}
	out := candidates[:0]
	for _, h := range candidates {
		if _, ok := remove[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

func (m *Manager) securityGate(controller gcd.Handle, remainingPath []byte, recursive bool) error {
	devicePath, err := m.db.HandleProtocol(controller, DevicePathProtocol)
	if err != nil {
		return nil // no device path installed, nothing to gate
	}
	secHandles, err := m.db.LocateHandle(handledb.ByProtocol, Security2ArchProtocol, 0)
	if err != nil || len(secHandles) == 0 {
		return nil
	}
	iface, err := m.db.HandleProtocol(secHandles[0], Security2ArchProtocol)
	if err != nil {
		return nil
	}
	sec, ok := iface.(Security2)
	if !ok {
		return nil
	}
	path, ok := devicePath.([]byte)
	if !ok {
		return nil
	}
	full := path
	if !recursive {
		full = devpath.Append(path, remainingPath)
	}
	return sec.FileAuthentication(full)
}

// Disconnect implements core_disconnect_controller.
func (m *Manager) Disconnect(controller gcd.Handle, onlyDriver gcd.Handle, onlyChild gcd.Handle) error {
	agents, err := m.db.AgentsHoldingByDriver(controller, onlyDriver)
	if err != nil {
		return err
	}

	stoppedAny := len(agents) == 0
	for _, agent := range agents {
		b := m.binding(agent)
		if b == nil {
			continue
		}
		children, err := m.db.AllChildControllers(controller, agent)
		if err != nil {
			children = nil
		}

		if onlyChild != gcd.Unallocated {
			onlyThisChild := len(children) == 1 && children[0] == onlyChild
			filtered := filterChild(children, onlyChild)
			if len(filtered) > 0 {
				if err := b.Stop(controller, filtered); err == nil {
					stoppedAny = true
				}
			}
			if onlyThisChild {
				if err := b.Stop(controller, nil); err == nil {
					stoppedAny = true
				}
			}
			continue
		}

		if len(children) > 0 {
			if err := b.Stop(controller, children); err == nil {
				stoppedAny = true
			}
		}
		if err := b.Stop(controller, nil); err == nil {
			stoppedAny = true
		}
	}

	if !stoppedAny {
		return status.New("driver.Disconnect", status.DeviceError, "no driver could be stopped on this controller")
	}
	return nil
}

// DisconnectAll walks every handle currently holding at least one
// BY_DRIVER usage and disconnects it, retrying handles that fail until
// a full pass makes no further progress. It is used during orderly
// shutdown to tear down the driver stack without the caller having to
// enumerate controllers itself.
func (m *Manager) DisconnectAll() error {
	// done guards against a driver whose Stop fails to release its
	// usages: such a handle is disconnected once, not retried forever.
	done := make(map[gcd.Handle]struct{})
	for {
		candidates, err := m.db.LocateHandle(handledb.AllHandles, guid.GUID{}, 0)
		if err != nil {
			return err
		}

		progressed := false
		var firstErr error
		for _, h := range candidates {
			if _, ok := done[h]; ok {
				continue
			}
			agents, err := m.db.AgentsHoldingByDriver(h, gcd.Unallocated)
			if err != nil || len(agents) == 0 {
				continue
			}
			if err := m.Disconnect(h, gcd.Unallocated, gcd.Unallocated); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			done[h] = struct{}{}
			progressed = true
		}

		if !progressed {
			return firstErr
		}
	}
}

func filterChild(children []gcd.Handle, only gcd.Handle) []gcd.Handle {
	var out []gcd.Handle
	for _, c := range children {
		if c == only {
			out = append(out, c)
		}
	}
	return out
}
