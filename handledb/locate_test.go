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

func TestLocateHandleAllHandlesReturnsEveryHandleSorted(t *testing.T) {
	db := New(zap.NewNop())
	h1, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "a")
	require.NoError(t, err)
	h2, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "b")
	require.NoError(t, err)

	handles, err := db.LocateHandle(AllHandles, guid.GUID{}, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []gcd.Handle{h1, h2}, handles)
}

func TestRegisterProtocolNotifyDrainsOneHandlePerCall(t *testing.T) {
	db := New(zap.NewNop())
	reg, err := db.RegisterProtocolNotify(testProtocolGUID)
	require.NoError(t, err)

	_, err = db.LocateHandle(ByRegisterNotify, testProtocolGUID, reg)
	require.Error(t, err, "nothing installed yet")

	h1, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "a")
	require.NoError(t, err)
	h2, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "b")
	require.NoError(t, err)

	got1, err := db.LocateHandle(ByRegisterNotify, testProtocolGUID, reg)
	require.NoError(t, err)
	require.Equal(t, []gcd.Handle{h1}, got1)

	got2, err := db.LocateHandle(ByRegisterNotify, testProtocolGUID, reg)
	require.NoError(t, err)
	require.Equal(t, []gcd.Handle{h2}, got2)

	_, err = db.LocateHandle(ByRegisterNotify, testProtocolGUID, reg)
	require.Error(t, err, "queue drained")
}

func TestLocateProtocolReturnsInterfaceValue(t *testing.T) {
	db := New(zap.NewNop())
	_, err := db.InstallProtocolInterface(gcd.Unallocated, testProtocolGUID, "the-interface")
	require.NoError(t, err)

	iface, err := db.LocateProtocol(testProtocolGUID, 0)
	require.NoError(t, err)
	require.Equal(t, "the-interface", iface)
}

func TestLocateProtocolNotFoundWhenNoHandleCarriesIt(t *testing.T) {
	db := New(zap.NewNop())
	_, err := db.LocateProtocol(testProtocolGUID, 0)
	require.Error(t, err)
}
