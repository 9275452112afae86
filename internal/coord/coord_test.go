// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package coord

import (
	"math"
	"testing"
)

type invertTestCase struct {
	T Transform2D
	P Point2D
}

func TestInvert(t *testing.T) {
	epsilon:=1e-9
	tcs:=[]invertTestCase{
		invertTestCase{IdentityTransform2D(),            Point2D{3, 4}},
		invertTestCase{TranslationTransform2D(4, -2.5),  Point2D{10, 20}},
		invertTestCase{Transform2D{1.01, 0.02, 3, -0.03, 0.98, -1.5}, Point2D{100, 50}},
		invertTestCase{Transform2D{0, 1, 0, -1, 0, 7}, Point2D{-2, 5}},
	}
	for _,tc:=range tcs {
		inv, err:=tc.T.Invert()
		if err!=nil { t.Errorf("%v: unexpected error %s", tc.T, err.Error()); continue }
		q:=inv.Apply(tc.T.Apply(tc.P))
		if math.Abs(q.X-tc.P.X)>epsilon || math.Abs(q.Y-tc.P.Y)>epsilon {
			t.Errorf("%v: inv(t(p))=%v; want %v", tc.T, q, tc.P)
		}
	}
}

func TestInvertSingular(t *testing.T) {
	s:=Transform2D{1, 2, 0, 2, 4, 0}
	if _, err:=s.Invert(); err==nil {
		t.Errorf("%v: err=nil; want error", s)
	}
}

