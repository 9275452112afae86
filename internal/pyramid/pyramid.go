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


// Package pyramid builds Gaussian and Laplacian image pyramids and reconstructs images from them.
//
// Level 0 is the finest level. Every level records its own dimensions, and all upsampling
// targets the recorded dimensions of the next finer level, so odd sizes round trip exactly.
package pyramid

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mlnoga/fuselight/internal/frame"
)

// Kind of pyramid
type Kind int

const (
	Gaussian  Kind = iota  // successively blurred and decimated copies of the input
	Laplacian              // band-pass residuals between Gaussian levels, plus the coarsest Gaussian level
)

func (k Kind) String() string {
	switch k {
	case Gaussian:  return "gaussian"
	case Laplacian: return "laplacian"
	default:        return fmt.Sprintf("kind(%d)", int(k))
	}
}

// An image pyramid with levels+1 entries, level 0 finest
type Pyramid struct {
	Kind   Kind
	Levels []*frame.Image
}

// Returns the number of decimation steps, i.e. the index of the coarsest level
func (p *Pyramid) Depth() int { return len(p.Levels)-1 }

func (p *Pyramid) String() string {
	b:=strings.Builder{}
	fmt.Fprintf(&b, "%s pyramid [", p.Kind)
	for i, l:=range p.Levels {
		if i>0 { b.WriteString(" ") }
		b.WriteString(l.DimensionsToString())
	}
	b.WriteString("]")
	return b.String()
}

// Builds a Gaussian pyramid with the given number of decimation steps. Level 0 is a copy of the input
func BuildGaussian(img *frame.Image, levels int) (*Pyramid, error) {
	if levels<0 { return nil, errors.New(fmt.Sprintf("%d: negative pyramid levels %d", img.ID, levels)) }
	if img.Width()<1 || img.Height()<1 { return nil, errors.New(fmt.Sprintf("%d: empty image %s", img.ID, img.DimensionsToString())) }
	p:=&Pyramid{Kind: Gaussian, Levels: make([]*frame.Image, levels+1)}
	p.Levels[0]=img.Clone()
	for i:=1; i<=levels; i++ {
		p.Levels[i]=Down(p.Levels[i-1])
	}
	return p, nil
}

// Builds a Laplacian pyramid with the given number of decimation steps.
// Levels 0..levels-1 hold signed residuals, the last level the coarsest Gaussian level
func BuildLaplacian(img *frame.Image, levels int) (*Pyramid, error) {
	g, err:=BuildGaussian(img, levels)
	if err!=nil { return nil, err }
	return LaplacianFromGaussian(g)
}

// Turns a Gaussian pyramid into a Laplacian pyramid, reusing the level images in place
func LaplacianFromGaussian(g *Pyramid) (*Pyramid, error) {
	if g.Kind!=Gaussian { return nil, errors.New(fmt.Sprintf("expected gaussian pyramid, got %s", g.Kind)) }
	levels:=g.Depth()
	p:=&Pyramid{Kind: Laplacian, Levels: make([]*frame.Image, levels+1)}
	p.Levels[levels]=g.Levels[levels]
	for i:=0; i<levels; i++ {
		fine:=g.Levels[i]
		up, err:=Up(g.Levels[i+1], fine.Width(), fine.Height())
		if err!=nil { return nil, err }
		for j, u:=range up.Data { fine.Data[j]-=u }
		p.Levels[i]=fine
	}
	g.Levels=nil
	return p, nil
}

// Reconstructs an image from a Laplacian pyramid, clipped to [0,255] and rounded to integral values
func Reconstruct(p *Pyramid) (*frame.Image, error) {
	res, err:=ReconstructFloat(p)
	if err!=nil { return nil, err }
	for i, v:=range res.Data {
		if v<0 || math.IsNaN(float64(v)) {
			v=0
		} else if v>255 {
			v=255
		}
		res.Data[i]=float32(math.Round(float64(v)))
	}
	return res, nil
}

// Reconstructs an image from a Laplacian pyramid without clipping or rounding
func ReconstructFloat(p *Pyramid) (*frame.Image, error) {
	if p==nil || len(p.Levels)==0 { return nil, errors.New("empty pyramid") }
	if p.Kind!=Laplacian { return nil, errors.New(fmt.Sprintf("cannot reconstruct from %s pyramid", p.Kind)) }
	if err:=p.checkDimensions(); err!=nil { return nil, err }

	levels:=p.Depth()
	cur:=p.Levels[levels].Clone()
	for i:=levels-1; i>=0; i-- {
		fine:=p.Levels[i]
		up, err:=Up(cur, fine.Width(), fine.Height())
		if err!=nil { return nil, err }
		for j, l:=range fine.Data { up.Data[j]+=l }
		up.ID, up.FileName, up.Exposure = fine.ID, fine.FileName, fine.Exposure
		cur=up
	}
	return cur, nil
}

// Verifies that every level is the upsampling target of the next coarser one, with matching channels
func (p *Pyramid) checkDimensions() error {
	for i:=0; i<p.Depth(); i++ {
		fine, coarse:=p.Levels[i], p.Levels[i+1]
		if fine.Channels()!=coarse.Channels() {
			return errors.New(fmt.Sprintf("level %d has %d channels, level %d has %d", i, fine.Channels(), i+1, coarse.Channels()))
		}
		if !isUpTarget(coarse.Width(), fine.Width()) || !isUpTarget(coarse.Height(), fine.Height()) {
			return errors.New(fmt.Sprintf("level %d dimensions %s are not an upsampling target of level %d dimensions %s",
				i, fine.DimensionsToString(), i+1, coarse.DimensionsToString()))
		}
	}
	return nil
}

// Returns true if a source axis of length s can be upsampled to length d
func isUpTarget(s, d int) bool {
	return d==2*s || d==2*s-1
}
