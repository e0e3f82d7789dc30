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
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pkg/guid"
)

var testProtocolGUID = guid.MustParse("a1b2c3d4-1111-2222-3333-444455556666")

func TestInstallHandleProtocolRoundTrip(t *testing.T) {
	db := New(zap.NewNop())
	h, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "interface-value")
	require.NoError(t, err)
	require.NotEqual(t, gcd.Unallocated, h)

	got, err := db.HandleProtocol(h, testProtocolGUID)
	require.NoError(t, err)
	require.Equal(t, "interface-value", got)
}

func TestInstallTwiceIsAlreadyStarted(t *testing.T) {
	db := New(zap.NewNop())
	h, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "v1")
	require.NoError(t, err)
	_, err = db.InstallProtocolInterface(h, testProtocolGUID, "v2")
	require.Error(t, err)
}

// Install then uninstall leaves the handle with the protocol set it
// had before, deleting the handle entirely if it becomes empty.
func TestUninstallDeletesEmptyHandle(t *testing.T) {
	db := New(zap.NewNop())
	h, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "v1")
	require.NoError(t, err)

	require.NoError(t, db.UninstallProtocolInterface(h, testProtocolGUID))

	_, err = db.HandleProtocol(h, testProtocolGUID)
	require.Error(t, err, "handle should no longer exist once its last protocol is removed")
}

func TestUninstallBlockedByDriverUsage(t *testing.T) {
	db := New(zap.NewNop())
	h, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "v1")
	require.NoError(t, err)

	agent := db.NewHandle()
	_, err = db.OpenProtocol(h, testProtocolGUID, agent, gcd.Unallocated, ByDriver)
	require.NoError(t, err)

	err = db.UninstallProtocolInterface(h, testProtocolGUID)
	require.Error(t, err, "uninstall must be blocked while a BY_DRIVER usage is outstanding")

	require.NoError(t, db.CloseProtocol(h, testProtocolGUID, agent, gcd.Unallocated))
	require.NoError(t, db.UninstallProtocolInterface(h, testProtocolGUID))
}

func TestExclusiveOpenRejectsSecondByDriver(t *testing.T) {
	db := New(zap.NewNop())
	h, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "v1")
	require.NoError(t, err)

	a1, a2 := db.NewHandle(), db.NewHandle()
	_, err = db.OpenProtocol(h, testProtocolGUID, a1, gcd.Unallocated, ByDriver|Exclusive)
	require.NoError(t, err)

	_, err = db.OpenProtocol(h, testProtocolGUID, a2, gcd.Unallocated, ByDriver)
	require.Error(t, err, "an EXCLUSIVE usage must block further BY_DRIVER opens")
}

func TestReinstallPreservesUsages(t *testing.T) {
	db := New(zap.NewNop())
	h, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "v1")
	require.NoError(t, err)

	agent := db.NewHandle()
	_, err = db.OpenProtocol(h, testProtocolGUID, agent, gcd.Unallocated, ByDriver)
	require.NoError(t, err)

	require.NoError(t, db.ReinstallProtocolInterface(h, testProtocolGUID, "v2"))

	got, err := db.HandleProtocol(h, testProtocolGUID)
	require.NoError(t, err)
	require.Equal(t, "v2", got)

	usages, err := db.UsagesOf(h, testProtocolGUID)
	require.NoError(t, err)
	require.Len(t, usages, 1, "reinstall must not drop existing usage records")
}

func TestLocateHandleByProtocolFindsInstalled(t *testing.T) {
	db := New(zap.NewNop())
	h1, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "a")
	require.NoError(t, err)
	h2, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "b")
	require.NoError(t, err)

	other := guid.MustParse("00000000-0000-0000-0000-000000000001")
	h3, err := db.InstallProtocolInterface(gcd.Unallocated, other, "c")
	require.NoError(t, err)

	handles, err := db.LocateHandle(ByProtocol, testProtocolGUID, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []gcd.Handle{h1, h2}, handles)
	require.NotContains(t, handles, h3)
}

func TestChildControllersOfFiltersByAgentAndAttribute(t *testing.T) {
	db := New(zap.NewNop())
	h, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "parent")
	require.NoError(t, err)

	driver := db.NewHandle()
	child1, child2 := db.NewHandle(), db.NewHandle()
	_, err = db.OpenProtocol(h, testProtocolGUID, driver, child1, ByDriver|ByChildController)
	require.NoError(t, err)
	_, err = db.OpenProtocol(h, testProtocolGUID, driver, child2, ByDriver|ByChildController)
	require.NoError(t, err)

	otherDriver := db.NewHandle()
	_, err = db.OpenProtocol(h, testProtocolGUID, otherDriver, gcd.Unallocated, ByDriver)
	require.NoError(t, err)

	children, err := db.ChildControllersOf(h, testProtocolGUID, driver)
	require.NoError(t, err)
	require.ElementsMatch(t, []gcd.Handle{child1, child2}, children)
}
