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


package register

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"github.com/mlnoga/fuselight/internal/coord"
	"github.com/mlnoga/fuselight/internal/filter"
	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/pool"
)

// Number of affine warp parameters
const numParams=6

// Samples this close outside the image still count as inside
const sampleEpsilon=1e-6

// A single precision plane with its width and height, promoted to float64 for ECC
type plane struct {
	data   []float64
	width  int
	height int
}

// Returns the grayscale of the image as float64 plane, smoothed with the given gaussian kernel size
func grayPlane(f *frame.Image, gaussFiltSize int) (plane, error) {
	g:=f.Gray()
	p:=plane{data: make([]float64, len(g)), width: f.Width(), height: f.Height()}
	for i, v:=range g { p.data[i]=float64(v) }
	if gaussFiltSize>1 {
		tmp:=pool.GetArrayOfFloat64FromPool(len(p.data))
		defer pool.PutArrayOfFloat64IntoPool(tmp)
		if err:=filter.GaussianBlur(p.data, tmp, p.data, p.width, gaussFiltSize); err!=nil { return p, err }
	}
	return p, nil
}

// Per-band partial sums over the valid pixels of the warped image
type moments struct {
	count               float64
	sumT, sumTT         float64
	sumI, sumII         float64
}

// Per-band partial sums of the Jacobian products
type projections struct {
	hessian  [numParams*numParams]float64  // upper triangle only
	imgProj  [numParams]float64
	tmpProj  [numParams]float64
	corr     float64
}

// State of one ECC estimation
type ecc struct {
	tmpl     plane         // reference, the fixed template
	img      plane         // moving image
	gradX    []float64     // gradients of the moving image
	gradY    []float64
	warped   []float64     // moving image warped into the template grid
	warpedGX []float64
	warpedGY []float64
	mask     []bool        // true where the warp samples inside the moving image
	bands    int
}

// Estimates the affine transform mapping the moving image onto the reference with ECC
func Estimate(ref, moving *frame.Image, p Params) (res Result, err error) {
	if err:=p.Validate(); err!=nil { return res, err }
	fail:=func(iter int, reason string) (Result, error) {
		return Result{}, &Error{ID: moving.ID, Iteration: iter, Reason: reason}
	}

	tmpl, err:=grayPlane(ref, p.GaussFiltSize)
	if err!=nil { return res, err }
	img,  err:=grayPlane(moving, p.GaussFiltSize)
	if err!=nil { return res, err }

	n:=tmpl.width*tmpl.height
	e:=&ecc{
		tmpl:     tmpl,
		img:      img,
		gradX:    make([]float64, len(img.data)),
		gradY:    make([]float64, len(img.data)),
		warped:   make([]float64, n),
		warpedGX: make([]float64, n),
		warpedGY: make([]float64, n),
		mask:     make([]bool, n),
		bands:    pool.NumBands(tmpl.height),
	}
	filter.Gradient(e.gradX, e.gradY, img.data, img.width)

	// the warp maps template coordinates into the moving image, so it is the inverse of the result
	init:=p.Init
	if init==(coord.Transform2D{}) { init=coord.IdentityTransform2D() }
	warp, err:=init.Invert()
	if err!=nil { return fail(0, "initial transform not invertible: "+err.Error()) }

	rho, lastRho:=-1.0, -p.Eps
	iter:=1
	for ; iter<=p.MaxIter && math.Abs(rho-lastRho)>=p.Eps; iter++ {
		m:=e.warp(warp)
		if m.count<numParams { return fail(iter, "too few overlapping pixels") }

		tmpMean, imgMean:=m.sumT/m.count, m.sumI/m.count
		tmpNorm:=math.Sqrt(math.Max(m.sumTT-m.count*tmpMean*tmpMean, 0))
		imgNorm:=math.Sqrt(math.Max(m.sumII-m.count*imgMean*imgMean, 0))

		pr:=e.project(tmpMean, imgMean)

		lastRho=rho
		rho=pr.corr/(imgNorm*tmpNorm)
		if math.IsNaN(rho) || math.IsInf(rho, 0) { return fail(iter, "correlation is NaN, images lack texture") }

		hessianInv, err:=invertHessian(&pr)
		if err!=nil { return fail(iter, err.Error()) }

		imgProj:=mat.NewVecDense(numParams, pr.imgProj[:])
		tmpProj:=mat.NewVecDense(numParams, pr.tmpProj[:])
		imgProjHessian:=mat.NewVecDense(numParams, nil)
		imgProjHessian.MulVec(hessianInv, imgProj)

		lambdaN:=imgNorm*imgNorm - floats.Dot(pr.imgProj[:], imgProjHessian.RawVector().Data)
		lambdaD:=pr.corr         - floats.Dot(pr.tmpProj[:], imgProjHessian.RawVector().Data)
		if lambdaD<=0 { return fail(iter, "correlation would be minimized, images may be uncorrelated or non-overlapping") }
		lambda:=lambdaN/lambdaD

		// projection of the error lambda*template-warped onto the Jacobian
		errProj:=mat.NewVecDense(numParams, nil)
		errProj.ScaleVec(lambda, tmpProj)
		errProj.SubVec(errProj, imgProj)

		deltaP:=mat.NewVecDense(numParams, nil)
		deltaP.MulVec(hessianInv, errProj)
		warp=updateWarp(warp, deltaP.RawVector().Data)
	}

	trans, err:=warp.Invert()
	if err!=nil { return fail(iter-1, "final warp not invertible: "+err.Error()) }
	return Result{Trans: trans, Rho: rho, Iterations: iter-1}, nil
}

// Adds the parameter update to the warp. Parameters are ordered as the Jacobian columns:
// x scale, y shear from x, x shear from y, y scale, x shift, y shift
func updateWarp(w coord.Transform2D, d []float64) coord.Transform2D {
	w.A+=d[0]
	w.D+=d[1]
	w.B+=d[2]
	w.E+=d[3]
	w.C+=d[4]
	w.F+=d[5]
	return w
}

// Inverts the symmetric hessian from its upper triangle
func invertHessian(pr *projections) (*mat.Dense, error) {
	h:=mat.NewSymDense(numParams, nil)
	for k:=0; k<numParams; k++ {
		for l:=k; l<numParams; l++ {
			h.SetSym(k, l, pr.hessian[k*numParams+l])
		}
	}
	var inv mat.Dense
	if err:=inv.Inverse(h); err!=nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, errors.New("singular hessian, images lack texture")
		}
		// ill-conditioned but invertible, proceed
	}
	return &inv, nil
}

// Warps the moving image and its gradients into the template grid with the given warp,
// and returns the moments of the valid pixels
func (e *ecc) warp(w coord.Transform2D) moments {
	tw, th:=e.tmpl.width, e.tmpl.height
	iw, ih:=e.img.width, e.img.height
	maxX, maxY:=float64(iw-1), float64(ih-1)
	parts:=make([]moments, e.bands)

	pool.ParallelRows(th, func(band, start, end int) {
		m:=moments{}
		for y:=start; y<end; y++ {
			for x:=0; x<tw; x++ {
				o:=y*tw+x
				sx:=w.A*float64(x) + w.B*float64(y) + w.C
				sy:=w.D*float64(x) + w.E*float64(y) + w.F
				if !(sx>=-sampleEpsilon && sx<=maxX+sampleEpsilon && sy>=-sampleEpsilon && sy<=maxY+sampleEpsilon) {
					e.mask[o]=false
					e.warped[o], e.warpedGX[o], e.warpedGY[o]=0, 0, 0
					continue
				}
				sx=math.Min(math.Max(sx, 0), maxX)
				sy=math.Min(math.Max(sy, 0), maxY)
				xl, yl:=int(sx), int(sy)
				xh, yh:=xl+1, yl+1
				if xh>iw-1 { xh=iw-1 }
				if yh>ih-1 { yh=ih-1 }
				xr, yr:=sx-float64(xl), sy-float64(yl)
				ll, hl, lh, hh:=xl+yl*iw, xh+yl*iw, xl+yh*iw, xh+yh*iw

				bilinear:=func(d []float64) float64 {
					vyl:=d[ll]*(1-xr) + d[hl]*xr
					vyh:=d[lh]*(1-xr) + d[hh]*xr
					return vyl*(1-yr) + vyh*yr
				}
				v:=bilinear(e.img.data)
				e.warped[o]  =v
				e.warpedGX[o]=bilinear(e.gradX)
				e.warpedGY[o]=bilinear(e.gradY)
				e.mask[o]=true

				t:=e.tmpl.data[o]
				m.count++
				m.sumT+=t; m.sumTT+=t*t
				m.sumI+=v; m.sumII+=v*v
			}
		}
		parts[band]=m
	})

	total:=moments{}
	for _, m:=range parts {
		total.count+=m.count
		total.sumT+=m.sumT; total.sumTT+=m.sumTT
		total.sumI+=m.sumI; total.sumII+=m.sumII
	}
	return total
}

// Projects the zero-mean template and warped image onto the affine Jacobian, and accumulates
// the Hessian and the correlation over the valid pixels
func (e *ecc) project(tmpMean, imgMean float64) projections {
	tw, th:=e.tmpl.width, e.tmpl.height
	parts:=make([]projections, e.bands)

	pool.ParallelRows(th, func(band, start, end int) {
		pr:=&parts[band]
		var j [numParams]float64
		for y:=start; y<end; y++ {
			Y:=float64(y)
			for x:=0; x<tw; x++ {
				o:=y*tw+x
				if !e.mask[o] { continue }
				X:=float64(x)
				gx, gy:=e.warpedGX[o], e.warpedGY[o]
				j=[numParams]float64{gx*X, gy*X, gx*Y, gy*Y, gx, gy}
				izm:=e.warped[o]-imgMean
				tzm:=e.tmpl.data[o]-tmpMean
				for k:=0; k<numParams; k++ {
					pr.imgProj[k]+=j[k]*izm
					pr.tmpProj[k]+=j[k]*tzm
					row:=pr.hessian[k*numParams:]
					for l:=k; l<numParams; l++ {
						row[l]+=j[k]*j[l]
					}
				}
				pr.corr+=tzm*izm
			}
		}
	})

	total:=projections{}
	for b:=range parts {
		pr:=&parts[b]
		floats.Add(total.hessian[:], pr.hessian[:])
		floats.Add(total.imgProj[:], pr.imgProj[:])
		floats.Add(total.tmpProj[:], pr.tmpProj[:])
		total.corr+=pr.corr
	}
	return total
}
