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
	"errors"
	"fmt"
	"math"
)


// A 2-dimensional point with floating point coordinates.
type Point2D struct {
	X float64
	Y float64
}

// A 2D affine coordinate transformation, x'=A*x+B*y+C and y'=D*x+E*y+F.
// For registration results it maps coordinates of the moving image into the reference image.
type Transform2D struct {
	A float64 `json:"a" yaml:"a"`
	B float64 `json:"b" yaml:"b"`
	C float64 `json:"c" yaml:"c"`
	D float64 `json:"d" yaml:"d"`
	E float64 `json:"e" yaml:"e"`
	F float64 `json:"f" yaml:"f"`
}

func (p Point2D) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", p.X, p.Y)
}

func (t Transform2D) String() string {
	return fmt.Sprintf("x'=%.5gx %+.5gy %+.3g, y'=%.5gx %+.5gy %+.3g",
		t.A, t.B, t.C, t.D, t.E, t.F)
}

func IdentityTransform2D() Transform2D {
	return Transform2D{1,0,0, 0,1,0}
}

// Creates a pure translation by dx, dy
func TranslationTransform2D(dx, dy float64) Transform2D {
	return Transform2D{1,0,dx, 0,1,dy}
}

// Apply given 2D transformation to the given coordinates
func (t *Transform2D) Apply(p Point2D) (pP Point2D) {
	xP:=t.A*p.X + t.B*p.Y + t.C
	yP:=t.D*p.X + t.E*p.Y + t.F
	return Point2D{xP, yP}
}

// Returns the determinant of the linear part
func (t *Transform2D) Det() float64 {
	return t.A*t.E - t.B*t.D
}

// Invert a given 2D transformation. Returns error if the linear part is singular
func (t *Transform2D) Invert() (inv Transform2D, err error) {
	det:=t.Det()
	if math.Abs(det)<1e-12 || math.IsNaN(det) {
		return Transform2D{}, errors.New(fmt.Sprintf("Matrix has no inverse, det=%g", det))
	}
	/*	x = ( e*x' - b*y' + b*f - c*e)/det
		y = (-d*x' + a*y' + c*d - a*f)/det  */
	return Transform2D{
		A:  t.E/det,
		B: -t.B/det,
		C: (t.B*t.F-t.C*t.E)/det,
		D: -t.D/det,
		E:  t.A/det,
		F: (t.C*t.D-t.A*t.F)/det,
	}, nil
}

// Returns true if all coefficients of t and u differ by at most epsilon
func (t *Transform2D) EqualWithin(u Transform2D, epsilon float64) bool {
	return math.Abs(t.A-u.A)<=epsilon && math.Abs(t.B-u.B)<=epsilon && math.Abs(t.C-u.C)<=epsilon &&
	       math.Abs(t.D-u.D)<=epsilon && math.Abs(t.E-u.E)<=epsilon && math.Abs(t.F-u.F)<=epsilon
}
