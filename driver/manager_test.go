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
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/handledb"
)

var errNotSupported = &notSupportedErr{}

type notSupportedErr struct{}

func (*notSupportedErr) Error() string { return "not supported" }

type fakeBinding struct {
	version   uint32
	supported bool
	started   *[]gcd.Handle
	stopCalls *[]gcd.Handle
}

func (b *fakeBinding) Supported(gcd.Handle, []byte) error {
	if b.supported {
		return nil
	}
	return errNotSupported
}

func (b *fakeBinding) Start(controller gcd.Handle, _ []byte) error {
	if b.started != nil {
		*b.started = append(*b.started, controller)
	}
	return nil
}

func (b *fakeBinding) Stop(controller gcd.Handle, _ []gcd.Handle) error {
	if b.stopCalls != nil {
		*b.stopCalls = append(*b.stopCalls, controller)
	}
	return nil
}

func (b *fakeBinding) Version() uint32 { return b.version }

// recordingBinding logs itself in Supported-call order before
// reporting unsupported, so tests can assert on candidate ordering
// without needing any binding to actually start.
type recordingBinding struct {
	version uint32
	order   *[]gcd.Handle
	self    gcd.Handle
}

func (b *recordingBinding) Supported(gcd.Handle, []byte) error {
	*b.order = append(*b.order, b.self)
	return errNotSupported
}
func (b *recordingBinding) Start(gcd.Handle, []byte) error      { return nil }
func (b *recordingBinding) Stop(gcd.Handle, []gcd.Handle) error { return nil }
func (b *recordingBinding) Version() uint32                     { return b.version }

type fakePlatformOverride struct {
	drivers []gcd.Handle
}

func (p *fakePlatformOverride) GetDriver(gcd.Handle) ([]gcd.Handle, error) {
	return p.drivers, nil
}

// three driver bindings with versions
// 10/20/30 on handles H1/H2/H3; a Platform Override returns H1 for
// controller C. Connect(C, [], nil, false) must try H1's binding
// before H2 or H3 despite H1 having the lowest version.
func TestDriverPrecedencePlatformOverrideWins(t *testing.T) {
	db := handledb.New(zap.NewNop())
	mgr := NewManager(db, zap.NewNop())

	var attempted []gcd.Handle
	h1, h2, h3 := db.NewHandle(), db.NewHandle(), db.NewHandle()

	b1 := &recordingBinding{version: 10, order: &attempted, self: h1}
	b2 := &recordingBinding{version: 20, order: &attempted, self: h2}
	b3 := &recordingBinding{version: 30, order: &attempted, self: h3}

	_, err := db.InstallProtocolInterface(h1, BindingProtocol, Binding(b1))
	require.NoError(t, err)
	_, err = db.InstallProtocolInterface(h2, BindingProtocol, Binding(b2))
	require.NoError(t, err)
	_, err = db.InstallProtocolInterface(h3, BindingProtocol, Binding(b3))
	require.NoError(t, err)

	controller := db.NewHandle()
	override := &fakePlatformOverride{drivers: []gcd.Handle{h1}}
	overrideHandle := db.NewHandle()
	_, err = db.InstallProtocolInterface(overrideHandle, PlatformOverrideGUID, PlatformOverride(override))
	require.NoError(t, err)

	err = mgr.Connect(controller, nil, nil, false)
	require.Error(t, err, "no binding reports Supported, so connect must fail with NotFound")

	require.NotEmpty(t, attempted)
	require.Equal(t, h1, attempted[0], "the platform-override driver must be tried first despite its lowest version")
}

func TestConnectSucceedsWhenADriverStarts(t *testing.T) {
	db := handledb.New(zap.NewNop())
	mgr := NewManager(db, zap.NewNop())

	h := db.NewHandle()
	var started []gcd.Handle
	b := &fakeBinding{version: 1, supported: true, started: &started}
	_, err := db.InstallProtocolInterface(h, BindingProtocol, Binding(b))
	require.NoError(t, err)

	controller := db.NewHandle()
	require.NoError(t, mgr.Connect(controller, []gcd.Handle{h}, nil, false))
	require.Equal(t, []gcd.Handle{controller}, started)
}

func TestConnectFailsWithoutEndPathOrStart(t *testing.T) {
	db := handledb.New(zap.NewNop())
	mgr := NewManager(db, zap.NewNop())
	controller := db.NewHandle()
	err := mgr.Connect(controller, nil, []byte{0x01, 0x02, 0x04, 0x00}, false)
	require.Error(t, err)
}

func TestDisconnectStopsByDriverAgents(t *testing.T) {
	db := handledb.New(zap.NewNop())
	mgr := NewManager(db, zap.NewNop())

	controller, err := db.InstallProtocolInterface(gcd.Unallocated, BindingProtocol, "dummy-iface")
	require.NoError(t, err)

	driverHandle := db.NewHandle()
	var stopCalls []gcd.Handle
	b := &fakeBinding{version: 1, stopCalls: &stopCalls}
	_, err = db.InstallProtocolInterface(driverHandle, BindingProtocol, Binding(b))
	require.NoError(t, err)

	_, err = db.OpenProtocol(controller, BindingProtocol, driverHandle, gcd.Unallocated, handledb.ByDriver)
	require.NoError(t, err)

	require.NoError(t, mgr.Disconnect(controller, gcd.Unallocated, gcd.Unallocated))
	require.Contains(t, stopCalls, controller)
}

func TestDisconnectAllStopsEveryControllerWithAByDriverUsage(t *testing.T) {
	db := handledb.New(zap.NewNop())
	mgr := NewManager(db, zap.NewNop())

	driverHandle := db.NewHandle()
	var stopCalls []gcd.Handle
	b := &fakeBinding{version: 1, stopCalls: &stopCalls}
	_, err := db.InstallProtocolInterface(driverHandle, BindingProtocol, Binding(b))
	require.NoError(t, err)

	c1, err := db.InstallProtocolInterface(gcd.Unallocated, BindingProtocol, "dummy-iface-1")
	require.NoError(t, err)
	c2, err := db.InstallProtocolInterface(gcd.Unallocated, BindingProtocol, "dummy-iface-2")
	require.NoError(t, err)

	_, err = db.OpenProtocol(c1, BindingProtocol, driverHandle, gcd.Unallocated, handledb.ByDriver)
	require.NoError(t, err)
	_, err = db.OpenProtocol(c2, BindingProtocol, driverHandle, gcd.Unallocated, handledb.ByDriver)
	require.NoError(t, err)

	require.NoError(t, mgr.DisconnectAll())
	require.Contains(t, stopCalls, c1)
	require.Contains(t, stopCalls, c2)
}
