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
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/fuselight/internal/pool"
)

// Floating point pixel types the filters operate on
type Float interface {
	~float32 | ~float64
}

// Check if coordinate is within [0, size-1], and if not, reflect out of bounds coordinates back into
// the value range without repeating the border pixel (gfedcb|abcdefgh|gfedcba)
func Reflect101(size, x int) int {
	if size==1 { return 0 }
	for x<0 || x>=size {
		if x<0 { x=-x }
		if x>=size { x=2*size-x-2 }
	}
	return x
}

// Fixed binomial kernels for small odd sizes. These are what a sigma of zero resolves to
var smallGaussianKernels=map[int][]float64{
	1: {1},
	3: {0.25, 0.5, 0.25},
	5: {0.0625, 0.25, 0.375, 0.25, 0.0625},
	7: {0.03125, 0.109375, 0.21875, 0.28125, 0.21875, 0.109375, 0.03125},
}

// Generates a normalized 1D gaussian kernel of odd size ksize. For sizes up to 7 these are
// binomial, above the sigma is derived from the size as 0.3*((ksize-1)*0.5-1)+0.8
func GaussianKernel(ksize int) ([]float64, error) {
	if ksize<1 || ksize%2==0 { return nil, errors.New(fmt.Sprintf("gaussian kernel size %d must be odd and positive", ksize)) }
	if k, ok:=smallGaussianKernels[ksize]; ok {
		return append([]float64(nil), k...), nil
	}
	sigma:=0.3*(float64(ksize-1)*0.5-1)+0.8
	scale2X:=-0.5/(sigma*sigma)
	kernel:=make([]float64, ksize)
	sum:=0.0
	for i:=range kernel {
		x:=float64(i-(ksize-1)/2)
		kernel[i]=math.Exp(scale2X*x*x)
		sum+=kernel[i]
	}
	for i:=range kernel { kernel[i]/=sum }
	return kernel, nil
}

// Returns row n of Pascal's triangle, i.e. a binomial kernel of size n+1
func binomial(n int) []float64 {
	k:=[]float64{1}
	for i:=0; i<n; i++ {
		next:=make([]float64, len(k)+1)
		for j, v:=range k {
			next[j]+=v
			next[j+1]+=v
		}
		k=next
	}
	return k
}

// Full convolution of two 1D kernels
func convolveKernels(a, b []float64) []float64 {
	res:=make([]float64, len(a)+len(b)-1)
	for i, va:=range a {
		for j, vb:=range b {
			res[i+j]+=va*vb
		}
	}
	return res
}

// Returns the separable kernels of the second derivative for a Laplacian with the given aperture:
// the derivative kernel deriv and the smoothing kernel smooth for the other axis.
// Aperture 1 yields the plain 3x3 cross [0 1 0; 1 -4 1; 0 1 0]
func LaplacianKernels(ksize int) (deriv, smooth []float64, err error) {
	if ksize<1 || ksize%2==0 || ksize>31 {
		return nil, nil, errors.New(fmt.Sprintf("laplacian aperture %d must be odd and in [1,31]", ksize))
	}
	if ksize==1 {
		return []float64{1, -2, 1}, []float64{0, 1, 0}, nil
	}
	deriv =convolveKernels(binomial(ksize-3), []float64{1, -2, 1})
	smooth=binomial(ksize-1)
	return deriv, smooth, nil
}

// Convolve the given 2D image provided by data and width with the given convolution kernel along the x axis,
// and store the result in res. Borders are reflected without repetition
func Convolve1DX[T Float](res, data []T, width int, kernel []float64) {
	height:=len(data)/width
	k:=len(kernel) / 2
	pool.ParallelRows(height, func(band, start, end int) {
		for y:=start; y<end; y++ {
			row:=data[y*width : (y+1)*width]
			out:=res [y*width : (y+1)*width]
			for x:=0; x<width; x++ {
				sum:=0.0
				if x>=k && x+k<width {
					for i:=-k; i<=k; i++ {
						sum+=float64(row[x+i])*kernel[i+k]
					}
				} else {
					for i:=-k; i<=k; i++ {
						sum+=float64(row[Reflect101(width, x+i)])*kernel[i+k]
					}
				}
				out[x]=T(sum)
			}
		}
	})
}

// Convolve the given 2D image provided by data and width with the given convolution kernel along the y axis,
// and store the result in res. Borders are reflected without repetition
func Convolve1DY[T Float](res, data []T, width int, kernel []float64) {
	height:=len(data)/width
	k:=len(kernel) / 2
	pool.ParallelRows(height, func(band, start, end int) {
		for y:=start; y<end; y++ {
			for x:=0; x<width; x++ {
				sum:=0.0
				for i:=-k; i<=k; i++ {
					y1:=Reflect101(height, y+i)
					sum+=float64(data[y1*width+x])*kernel[i+k]
				}
				res[y*width+x]=T(sum)
			}
		}
	})
}

// Applies the separable filter kx along x and ky along y to the 2D image given by data and width.
// Overwrites tmp and returns the result in res. res may alias data, tmp must not
func SepFilter2D[T Float](res, tmp, data []T, width int, kx, ky []float64) {
	Convolve1DX(tmp, data, width, kx)
	Convolve1DY(res, tmp,  width, ky)
}

// Applies a gaussian blur with the given odd kernel size. Overwrites tmp and returns the result in res
func GaussianBlur[T Float](res, tmp, data []T, width int, ksize int) error {
	kernel, err:=GaussianKernel(ksize)
	if err!=nil { return err }
	SepFilter2D(res, tmp, data, width, kernel, kernel)
	return nil
}

// Applies the Laplacian operator with the given aperture to the 2D image given by data and width.
// Returns the result in a newly allocated array
func Laplacian[T Float](data []T, width int, ksize int) ([]T, error) {
	deriv, smooth, err:=LaplacianKernels(ksize)
	if err!=nil { return nil, err }
	n:=len(data)
	res:=make([]T, n)
	tmp:=make([]T, n)
	d2y:=make([]T, n)
	SepFilter2D(res, tmp, data, width, deriv, smooth)  // d2/dx2
	SepFilter2D(d2y, tmp, data, width, smooth, deriv)  // d2/dy2
	for i, v:=range d2y { res[i]+=v }
	return res, nil
}

// Central difference kernel for first derivatives
var gradientKernel=[]float64{-0.5, 0, 0.5}

// Computes the first derivatives of the 2D image given by data and width along x and y
// with a central difference, into gx and gy
func Gradient[T Float](gx, gy, data []T, width int) {
	Convolve1DX(gx, data, width, gradientKernel)
	Convolve1DY(gy, data, width, gradientKernel)
}
