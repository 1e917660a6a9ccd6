/*
Copyright © 2026 the dwsm authors.
This file is part of dwsm.

dwsm is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

dwsm is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with dwsm.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package hash computes stable keys for the static inputs of a run: the
// grid rasters and channel-network configuration that BuildTopology
// consumes. The grid subcommand hashes the loaded Grid with Key and logs
// the result, so the inputs of two invocations can be compared; no
// topology cache is kept, and the topology is rebuilt on every invocation.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

// Key returns a stable cache key for object, typically a *dwsm.Grid or a
// configuration struct. If object implements fmt.Stringer, its String
// form is used directly. Otherwise object is gob-encoded into a 128-bit
// FNV hash; if gob encoding fails (for example because the rasters
// contain NaN, which gob does not round-trip), the object is instead
// rendered with go-spew, which tolerates any value, and that
// representation is hashed instead.
func Key(object interface{}) string {
	if s, ok := object.(fmt.Stringer); ok {
		return s.String()
	}
	h := fnv.New128a()

	e := gob.NewEncoder(h)
	if err := e.Encode(object); err == nil {
		bKey := h.Sum([]byte{})
		return fmt.Sprintf("%x", bKey[0:h.Size()])
	}
	printer := spew.ConfigState{
		Indent:                  " ",
		SortKeys:                true,
		DisableMethods:          true,
		SpewKeys:                true,
		DisablePointerAddresses: true,
		DisableCapacities:       true,
	}
	printer.Fprintf(h, "%#v", object)
	bKey := h.Sum([]byte{})
	return fmt.Sprintf("%x", bKey[0:h.Size()])
}
