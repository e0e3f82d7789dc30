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

package gcd

// StrategyKind selects how AllocateMemorySpace/AllocateIoSpace picks a
// free range.
type StrategyKind int

const (
	StrategyKindAddress StrategyKind = iota
	StrategyKindBottomUp
	StrategyKindTopDown
	StrategyKindAny
)

// Strategy selects the allocation search strategy.
type Strategy struct {
	Kind    StrategyKind
	Address uint64 // valid for StrategyKindAddress
	Bound   uint64 // max address for BottomUp, min address for TopDown
	HasBound bool
}

// AtAddress requires the allocation to land exactly at addr.
func AtAddress(addr uint64) Strategy {
	return Strategy{Kind: StrategyKindAddress, Address: addr}
}

// BottomUp scans from the lowest address upward, optionally bounded so
// the allocation's end does not exceed maxAddr.
func BottomUp(maxAddr uint64, bounded bool) Strategy {
	return Strategy{Kind: StrategyKindBottomUp, Bound: maxAddr, HasBound: bounded}
}

// TopDown scans from the highest address downward, optionally bounded
// so the allocation's start is not below minAddr.
func TopDown(minAddr uint64, bounded bool) Strategy {
	return Strategy{Kind: StrategyKindTopDown, Bound: minAddr, HasBound: bounded}
}

// Any lets the allocator pick any free range, implemented as an
// unbounded BottomUp scan.
func Any() Strategy {
	return Strategy{Kind: StrategyKindAny}
}
