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

package dwsm

import "testing"

func TestOpposite(t *testing.T) {
	tests := []struct {
		d, want Direction
	}{
		{DirPoint, DirPoint},
		{DirN, DirS},
		{DirNE, DirSW},
		{DirE, DirW},
		{DirSE, DirNW},
		{DirS, DirN},
		{DirSW, DirNE},
		{DirW, DirE},
		{DirNW, DirSE},
		{DirFloodplain, DirFloodplain},
		{DirBoundary, DirBoundary},
	}
	for _, tt := range tests {
		if have := tt.d.Opposite(); have != tt.want {
			t.Errorf("%v.Opposite() = %v, want %v", tt.d, have, tt.want)
		}
		if have := tt.d.Opposite().Opposite(); have != tt.d {
			t.Errorf("%v.Opposite().Opposite() = %v, want %v", tt.d, have, tt.d)
		}
	}
}

func TestIsCompass(t *testing.T) {
	tests := []struct {
		d    Direction
		want bool
	}{
		{DirPoint, false},
		{DirN, true},
		{DirNW, true},
		{DirFloodplain, false},
		{DirBoundary, false},
	}
	for _, tt := range tests {
		if have := tt.d.IsCompass(); have != tt.want {
			t.Errorf("%v.IsCompass() = %v, want %v", tt.d, have, tt.want)
		}
	}
}

func TestOffset(t *testing.T) {
	tests := []struct {
		d          Direction
		dRow, dCol int
	}{
		{DirN, -1, 0},
		{DirNE, -1, 1},
		{DirE, 0, 1},
		{DirSE, 1, 1},
		{DirS, 1, 0},
		{DirSW, 1, -1},
		{DirW, 0, -1},
		{DirNW, -1, -1},
	}
	for _, tt := range tests {
		dRow, dCol := tt.d.Offset()
		if dRow != tt.dRow || dCol != tt.dCol {
			t.Errorf("%v.Offset() = (%d,%d), want (%d,%d)", tt.d, dRow, dCol, tt.dRow, tt.dCol)
		}
	}
}

func TestOffsetPanicsOnNonCompass(t *testing.T) {
	for _, d := range []Direction{DirPoint, DirFloodplain, DirBoundary} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%v.Offset() did not panic", d)
				}
			}()
			d.Offset()
		}()
	}
}

func TestIsDiagonal(t *testing.T) {
	tests := []struct {
		d    Direction
		want bool
	}{
		{DirN, false}, {DirNE, true}, {DirE, false}, {DirSE, true},
		{DirS, false}, {DirSW, true}, {DirW, false}, {DirNW, true},
	}
	for _, tt := range tests {
		if have := tt.d.IsDiagonal(); have != tt.want {
			t.Errorf("%v.IsDiagonal() = %v, want %v", tt.d, have, tt.want)
		}
	}
}

func TestDirectionString(t *testing.T) {
	tests := []struct {
		d    Direction
		want string
	}{
		{DirPoint, "point"}, {DirN, "N"}, {DirNW, "NW"},
		{DirFloodplain, "floodplain"}, {DirBoundary, "boundary"},
		{Direction(99), "invalid"},
	}
	for _, tt := range tests {
		if have := tt.d.String(); have != tt.want {
			t.Errorf("%v.String() = %q, want %q", int(tt.d), have, tt.want)
		}
	}
}
