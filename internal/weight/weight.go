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


// Package weight computes per-pixel fusion weight maps for focus stacking and exposure fusion.
package weight

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mlnoga/fuselight/internal/filter"
	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/pool"
)

// Weight map variant
type Variant int

const (
	Focus    Variant = iota  // local sharpness
	Exposure                 // contrast, saturation and well-exposedness
)

var variantNames=[]string{"focus", "exposure"}

func (v Variant) String() string {
	if v<0 || int(v)>=len(variantNames) { return fmt.Sprintf("variant(%d)", int(v)) }
	return variantNames[v]
}

func (v Variant) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Variant) UnmarshalText(b []byte) error {
	s:=strings.ToLower(string(b))
	for i, n:=range variantNames {
		if s==n { *v=Variant(i); return nil }
	}
	if s=="hdr" { *v=Exposure; return nil }
	return errors.New(fmt.Sprintf("unknown weight variant '%s'", string(b)))
}

// Parameters for weight map computation
type Params struct {
	Variant  Variant `json:"variant"  yaml:"variant"`
	KSize    int     `json:"kSize"    yaml:"kSize"`     // Laplacian aperture, odd
	BlurSize int     `json:"blurSize" yaml:"blurSize"`  // Gaussian kernel size for smoothing the weights, odd, 1=off
	Mean     float32 `json:"mean"     yaml:"mean"`      // Well-exposedness target, exposure variant only
	Sigma    float32 `json:"sigma"    yaml:"sigma"`     // Well-exposedness spread, exposure variant only
}

// Returns the default parameters for a variant
func DefaultParams(v Variant) Params {
	p:=Params{Variant: v, KSize: 5, BlurSize: 5, Mean: 0.5, Sigma: 0.2}
	if v==Exposure { p.KSize=3 }
	return p
}

func (p Params) Validate() error {
	if p.KSize<1 || p.KSize%2==0 { return errors.New(fmt.Sprintf("laplacian aperture %d must be odd and positive", p.KSize)) }
	if p.BlurSize<1 || p.BlurSize%2==0 { return errors.New(fmt.Sprintf("weight blur size %d must be odd and positive", p.BlurSize)) }
	if p.Variant==Exposure && !(p.Sigma>0) { return errors.New(fmt.Sprintf("well-exposedness sigma %g must be positive", p.Sigma)) }
	return nil
}

// Computes a normalized single channel weight map for an image. The result has the
// width and height of the input and values in [0,1], with maximum 1 for non-degenerate inputs
type Producer interface {
	Compute(f *frame.Image) (*frame.Image, error)
	Params() Params
}

// Creates the producer for the variant named in the parameters
func NewProducer(p Params) (Producer, error) {
	if err:=p.Validate(); err!=nil { return nil, err }
	switch p.Variant {
	case Focus:    return &FocusProducer{p}, nil
	case Exposure: return &ExposureProducer{p}, nil
	default:       return nil, errors.New(fmt.Sprintf("unknown weight variant %d", int(p.Variant)))
	}
}

// Floor added to the denominator of the normalization
const normEpsilon=1e-8

// Smooths raw weights with a Gaussian of the given odd kernel size, clips negatives and divides by max+1e-8.
// Operates in place on the given single channel image
func Normalize(w *frame.Image, blurSize int) error {
	data:=w.Data
	if blurSize>1 {
		tmp:=pool.GetArrayOfFloat32FromPool(len(data))
		defer pool.PutArrayOfFloat32IntoPool(tmp)
		if err:=filter.GaussianBlur(data, tmp, data, w.Width(), blurSize); err!=nil { return err }
	}
	max:=float32(0)
	for i, v:=range data {
		if v<0 || math.IsNaN(float64(v)) { v=0; data[i]=0 }
		if v>max { max=v }
	}
	scale:=float32(1/(float64(max)+normEpsilon))
	for i:=range data { data[i]*=scale }
	return nil
}

// Focus weights: absolute Laplacian response of the grayscale image
type FocusProducer struct {
	params Params
}

func (fp *FocusProducer) Params() Params { return fp.params }

func (fp *FocusProducer) Compute(f *frame.Image) (*frame.Image, error) {
	width, height:=f.Width(), f.Height()
	lap, err:=filter.Laplacian(f.Gray(), width, fp.params.KSize)
	if err!=nil { return nil, err }
	for i, v:=range lap {
		if v<0 { lap[i]=-v }
	}
	w:=frame.NewMono(width, height, lap)
	w.ID, w.FileName = f.ID, f.FileName
	if err:=Normalize(w, fp.params.BlurSize); err!=nil { return nil, err }
	return w, nil
}
