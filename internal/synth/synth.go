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


// Package synth renders deterministic synthetic scenes for demos and tests.
// Scenes are evaluated analytically, so shifts, defocus and exposure changes need no resampling.
package synth

import (
	"math"

	"github.com/valyala/fastrand"
	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/pool"
)

// A plane wave
type wave struct {
	kx, ky, phase, amp float64
}

// A gaussian blob
type blob struct {
	x, y, sigma, amp float64
}

// A synthetic scene of smooth waves and gaussian blobs around a mid gray base level
type Scene struct {
	Width, Height int
	base          float64
	waves         []wave
	blobs         []blob
	tint          [3]float64
}

// Options for rendering a scene into an image
type RenderOptions struct {
	ShiftX, ShiftY float64                  // content moves by this many pixels
	Sigma          func(x, y float64) float64  // defocus blur at the given pixel, nil=sharp
	Gain           float64                  // exposure multiplier, 0 is treated as 1
	Mono           bool                     // render a single channel
}

// Returns a uniform random value in [lo,hi)
func uniform(rng *fastrand.RNG, lo, hi float64) float64 {
	return lo + (hi-lo)*float64(rng.Uint32n(1<<24))/(1<<24)
}

// Creates a random scene of the given size. The same seed always yields the same scene
func NewScene(width, height int, seed uint32) *Scene {
	rng:=&fastrand.RNG{}
	rng.Seed(seed)
	s:=&Scene{Width: width, Height: height, base: 120, tint: [3]float64{1.0, 0.9, 0.75}}

	for i:=0; i<4; i++ {
		period:=uniform(rng, 24, 64)
		angle :=uniform(rng, 0, math.Pi)
		k:=2*math.Pi/period
		s.waves=append(s.waves, wave{kx: k*math.Cos(angle), ky: k*math.Sin(angle), phase: uniform(rng, 0, 2*math.Pi), amp: uniform(rng, 6, 12)})
	}
	numBlobs:=width*height/1500+4
	for i:=0; i<numBlobs; i++ {
		amp:=uniform(rng, 20, 45)
		if rng.Uint32n(2)==0 { amp=-amp }
		s.blobs=append(s.blobs, blob{x: uniform(rng, 0, float64(width)), y: uniform(rng, 0, float64(height)),
			sigma: uniform(rng, 2, 6), amp: amp})
	}
	return s
}

// Evaluates the scene luminance at the given position with a gaussian defocus of the given sigma
func (s *Scene) At(x, y, sigma float64) float64 {
	v:=s.base
	s2:=sigma*sigma
	for _, w:=range s.waves {
		att:=math.Exp(-0.5*s2*(w.kx*w.kx+w.ky*w.ky))
		v+=w.amp*att*math.Sin(w.kx*x+w.ky*y+w.phase)
	}
	for _, b:=range s.blobs {
		bs2:=b.sigma*b.sigma + s2
		dx, dy:=x-b.x, y-b.y
		r2:=dx*dx+dy*dy
		if r2>36*bs2 { continue }
		v+=b.amp*(b.sigma*b.sigma/bs2)*math.Exp(-0.5*r2/bs2)
	}
	return v
}

// Renders the scene into an image on the 8-bit scale, clipped to [0,255] and rounded
func (s *Scene) Render(id int, opts RenderOptions) *frame.Image {
	channels:=3
	naxisn:=[]int32{int32(s.Width), int32(s.Height), 3}
	if opts.Mono {
		channels=1
		naxisn=naxisn[:2]
	}
	gain:=opts.Gain
	if gain==0 { gain=1 }
	f:=frame.NewImageFromNaxisn(naxisn, nil)
	f.ID=id
	size:=s.Width*s.Height

	pool.ParallelRows(s.Height, func(band, start, end int) {
		for y:=start; y<end; y++ {
			for x:=0; x<s.Width; x++ {
				fx, fy:=float64(x), float64(y)
				sigma:=0.0
				if opts.Sigma!=nil { sigma=opts.Sigma(fx, fy) }
				v:=s.At(fx-opts.ShiftX, fy-opts.ShiftY, sigma)*gain
				for c:=0; c<channels; c++ {
					cv:=v
					if channels>1 { cv*=s.tint[c] }
					f.Data[c*size+y*s.Width+x]=float32(math.Round(math.Min(math.Max(cv, 0), 255)))
				}
			}
		}
	})
	return f
}

// Renders n images of the scene, each sharp in a different vertical band and increasingly
// defocused away from it, like a focus stack swept from left to right
func (s *Scene) FocusStack(n int, maxSigma float64) []*frame.Image {
	res:=make([]*frame.Image, n)
	for i:=0; i<n; i++ {
		focusX:=(float64(i)+0.5)*float64(s.Width)/float64(n)
		res[i]=s.Render(i, RenderOptions{Sigma: func(x, y float64) float64 {
			d:=math.Abs(x-focusX)/float64(s.Width)
			return math.Min(maxSigma, 2*maxSigma*d)
		}})
		res[i].Exposure=1
	}
	return res
}

// Renders the scene once per gain, like an exposure bracket. Exposure times are set proportional to the gains
func (s *Scene) ExposureBracket(gains []float64) []*frame.Image {
	res:=make([]*frame.Image, len(gains))
	for i, g:=range gains {
		res[i]=s.Render(i, RenderOptions{Gain: g})
		res[i].Exposure=float32(g)/100
	}
	return res
}
