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


package filter

import (
	"math"
	"testing"
)

func TestGaussianKernel(t *testing.T) {
	for _, ksize:=range []int{1, 3, 5, 7, 9, 11} {
		k, err:=GaussianKernel(ksize)
		if err!=nil { t.Errorf("ksize=%d: err=%s", ksize, err.Error()); continue }
		if len(k)!=ksize { t.Errorf("ksize=%d: len=%d", ksize, len(k)) }
		sum:=0.0
		for i, v:=range k {
			sum+=v
			if math.Abs(v-k[ksize-1-i])>1e-12 { t.Errorf("ksize=%d: kernel not symmetric at %d", ksize, i) }
		}
		if math.Abs(sum-1)>1e-12 { t.Errorf("ksize=%d: sum=%f; want 1", ksize, sum) }
	}
	if _, err:=GaussianKernel(4); err==nil { t.Errorf("ksize=4: err=nil; want error") }
}

type reflectTestCase struct {
	Size, X, Want int
}

func TestReflect101(t *testing.T) {
	tcs:=[]reflectTestCase{
		{5, 0, 0}, {5, 4, 4}, {5, -1, 1}, {5, -2, 2}, {5, 5, 3}, {5, 6, 2}, {1, -3, 0}, {2, -1, 1}, {2, 2, 0}, {3, -5, 1},
	}
	for _, tc:=range tcs {
		if got:=Reflect101(tc.Size, tc.X); got!=tc.Want {
			t.Errorf("Reflect101(%d, %d)=%d; want %d", tc.Size, tc.X, got, tc.Want)
		}
	}
}

type laplacianKernelTestCase struct {
	KSize   int
	Deriv   []float64
	Smooth  []float64
}

func TestLaplacianKernels(t *testing.T) {
	tcs:=[]laplacianKernelTestCase{
		{1, []float64{1, -2, 1},             []float64{0, 1, 0}},
		{3, []float64{1, -2, 1},             []float64{1, 2, 1}},
		{5, []float64{1, 0, -2, 0, 1},       []float64{1, 4, 6, 4, 1}},
		{7, []float64{1, 2, -1, -4, -1, 2, 1}, []float64{1, 6, 15, 20, 15, 6, 1}},
	}
	for _, tc:=range tcs {
		d, s, err:=LaplacianKernels(tc.KSize)
		if err!=nil { t.Errorf("ksize=%d: err=%s", tc.KSize, err.Error()); continue }
		for i:=range tc.Deriv {
			if d[i]!=tc.Deriv[i] { t.Errorf("ksize=%d deriv[%d]=%f; want %f", tc.KSize, i, d[i], tc.Deriv[i]) }
		}
		for i:=range tc.Smooth {
			if s[i]!=tc.Smooth[i] { t.Errorf("ksize=%d smooth[%d]=%f; want %f", tc.KSize, i, s[i], tc.Smooth[i]) }
		}
	}
}

func TestLaplacianOfQuadratic(t *testing.T) {
	// f(x,y)=x^2+y^2 has Laplacian 4 in the interior; aperture 1 is the plain finite difference
	width, height:=9, 7
	data:=make([]float64, width*height)
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			data[y*width+x]=float64(x*x+y*y)
		}
	}
	lap, err:=Laplacian(data, width, 1)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	for y:=1; y<height-1; y++ {
		for x:=1; x<width-1; x++ {
			if v:=lap[y*width+x]; math.Abs(v-4)>1e-9 { t.Errorf("lap(%d,%d)=%f; want 4", x, y, v) }
		}
	}
}

func TestLaplacianOfConstant(t *testing.T) {
	width:=13
	data:=make([]float32, width*11)
	for i:=range data { data[i]=42 }
	for _, ksize:=range []int{1, 3, 5, 7} {
		lap, err:=Laplacian(data, width, ksize)
		if err!=nil { t.Errorf("ksize=%d: err=%s", ksize, err.Error()); continue }
		for i, v:=range lap {
			if math.Abs(float64(v))>1e-3 { t.Errorf("ksize=%d lap[%d]=%f; want 0", ksize, i, v); break }
		}
	}
}

func TestGradient(t *testing.T) {
	width, height:=8, 6
	data:=make([]float64, width*height)
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			data[y*width+x]=3*float64(x)-2*float64(y)
		}
	}
	gx:=make([]float64, len(data))
	gy:=make([]float64, len(data))
	Gradient(gx, gy, data, width)
	for y:=1; y<height-1; y++ {
		for x:=1; x<width-1; x++ {
			if v:=gx[y*width+x]; math.Abs(v-3)>1e-12 { t.Errorf("gx(%d,%d)=%f; want 3", x, y, v) }
			if v:=gy[y*width+x]; math.Abs(v+2)>1e-12 { t.Errorf("gy(%d,%d)=%f; want -2", x, y, v) }
		}
	}
	if v:=gx[0]; v!=0 { t.Errorf("gx(0,0)=%f; want 0 at reflected border", v) }
}

func TestGaussianBlurPreservesConstant(t *testing.T) {
	width:=10
	data:=make([]float32, width*10)
	for i:=range data { data[i]=7 }
	res:=make([]float32, len(data))
	tmp:=make([]float32, len(data))
	if err:=GaussianBlur(res, tmp, data, width, 5); err!=nil { t.Fatalf("err=%s", err.Error()) }
	for i, v:=range res {
		if math.Abs(float64(v-7))>1e-5 { t.Errorf("res[%d]=%f; want 7", i, v); break }
	}
}
