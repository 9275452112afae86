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


// Package fuse blends registered images through Laplacian pyramids weighted by
// Gaussian pyramids of per-pixel weight maps.
package fuse

import (
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"

	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/pool"
	"github.com/mlnoga/fuselight/internal/pyramid"
	"github.com/mlnoga/fuselight/internal/stats"
	"github.com/mlnoga/fuselight/internal/weight"
)

// Returned, wrapped in a *DimensionError, when inputs disagree in size
var ErrDimensionMismatch=errors.New("dimension mismatch")

// A fusion input whose dimensions differ from the first image
type DimensionError struct {
	Index int     // position of the offending input
	Want  string
	Got   string
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("input %d: dimension mismatch, want %s got %s", e.Index, e.Want, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// Returned, wrapped in a *WeightError, when a caller supplied weight map holds NaN, infinite or negative values
var ErrInvalidWeight=errors.New("invalid weight")

// A caller supplied weight map with an invalid value
type WeightError struct {
	Index int     // position of the offending weight map
	X, Y  int
	Value float32
}

func (e *WeightError) Error() string {
	return fmt.Sprintf("weight map %d: invalid weight %g at (%d,%d)", e.Index, e.Value, e.X, e.Y)
}

func (e *WeightError) Unwrap() error { return ErrInvalidWeight }

// Floor added to every weight during blending, so pixels where all weights vanish get the plain average
const WeightEpsilon=1e-8

// Options for a detailed fusion run
type Options struct {
	MaxThreads  int   // images processed concurrently, 0=GOMAXPROCS
	KeepWeights bool  // retain the weight maps in the result
	KeepPyramid bool  // retain the blended Laplacian pyramid in the result
	KeepFloat   bool  // also reconstruct without clipping and rounding
}

// Result of a detailed fusion run
type Result struct {
	Image   *frame.Image       // fused image, clipped to [0,255] and rounded
	Float   *frame.Image       // unclipped reconstruction, if requested
	Weights []*frame.Image     // normalized weight maps per input, if requested
	Blended *pyramid.Pyramid   // blended Laplacian pyramid, if requested
}

// Fuses registered images with weight maps from the given producer, using levels decimation steps
func Fuse(images []*frame.Image, levels int, producer weight.Producer, logWriter io.Writer) (*frame.Image, error) {
	if producer==nil { return nil, errors.New("missing weight producer") }
	res, err:=FuseDetailed(images, nil, levels, producer, Options{}, logWriter)
	if err!=nil { return nil, err }
	return res.Image, nil
}

// Fuses registered images with caller supplied single channel weight maps
func FuseWeighted(images, weights []*frame.Image, levels int, logWriter io.Writer) (*frame.Image, error) {
	if weights==nil { return nil, errors.New("missing weight maps") }
	res, err:=FuseDetailed(images, weights, levels, nil, Options{}, logWriter)
	if err!=nil { return nil, err }
	return res.Image, nil
}

// Fuses registered images. If weights is nil, weight maps are computed with the producer.
// Dimensions are verified before any pyramid is built
func FuseDetailed(images, weights []*frame.Image, levels int, producer weight.Producer, opts Options, logWriter io.Writer) (*Result, error) {
	if logWriter==nil { logWriter=io.Discard }
	if len(images)==0 { return nil, errors.New("no images to fuse") }
	if levels<0 { return nil, errors.New(fmt.Sprintf("negative pyramid levels %d", levels)) }
	if err:=CheckDimensions(images, weights); err!=nil { return nil, err }
	if weights==nil && producer==nil { return nil, errors.New("missing weight producer") }

	threads:=opts.MaxThreads
	if threads<1 { threads=runtime.GOMAXPROCS(0) }
	n:=len(images)
	laps  :=make([]*pyramid.Pyramid, n)
	gauss :=make([]*pyramid.Pyramid, n)
	keptWs:=make([]*frame.Image, n)

	err:=pool.ParallelFor(n, threads, func(i int) error {
		img:=images[i]
		var w *frame.Image
		if weights!=nil {
			w=weights[i]
		} else {
			var err error
			if w, err=producer.Compute(img); err!=nil { return errors.New(fmt.Sprintf("%d: weights: %s", img.ID, err.Error())) }
			w.ID=img.ID
		}
		fmt.Fprintf(logWriter, "%d: Weights %s\n", img.ID, stats.NewWeightSummary(w.Data))
		if opts.KeepWeights { keptWs[i]=w }

		g, err:=pyramid.BuildGaussian(w, levels)
		if err!=nil { return err }
		l, err:=pyramid.BuildLaplacian(img, levels)
		if err!=nil { return err }
		gauss[i], laps[i]=g, l
		return nil
	})
	if err!=nil { return nil, err }

	blended:=&pyramid.Pyramid{Kind: pyramid.Laplacian, Levels: make([]*frame.Image, levels+1)}
	levelLaps:=make([]*frame.Image, n)
	levelWs  :=make([]*frame.Image, n)
	for lvl:=0; lvl<=levels; lvl++ {
		for i:=0; i<n; i++ {
			levelLaps[i], levelWs[i]=laps[i].Levels[lvl], gauss[i].Levels[lvl]
		}
		b, err:=Blend(levelLaps, levelWs)
		if err!=nil { return nil, errors.New(fmt.Sprintf("level %d: %s", lvl, err.Error())) }
		blended.Levels[lvl]=b
		for i:=0; i<n; i++ {   // release source levels early
			laps[i].Levels[lvl], gauss[i].Levels[lvl]=nil, nil
		}
	}
	fmt.Fprintf(logWriter, "Blended %d images into %s\n", n, blended)

	res:=&Result{}
	if opts.KeepFloat {
		if res.Float, err=pyramid.ReconstructFloat(blended); err!=nil { return nil, err }
	}
	if res.Image, err=pyramid.Reconstruct(blended); err!=nil { return nil, err }
	res.Image.ID, res.Image.Exposure=images[0].ID, images[0].Exposure
	if res.Float!=nil { res.Float.ID, res.Float.Exposure=images[0].ID, images[0].Exposure }
	if opts.KeepWeights { res.Weights=keptWs }
	if opts.KeepPyramid { res.Blended=blended }
	return res, nil
}

// Verifies that all images share the dimensions of the first, and that weight maps, if given,
// are single channel with matching width and height
func CheckDimensions(images, weights []*frame.Image) error {
	if len(images)==0 { return nil }
	first:=images[0]
	for i, img:=range images {
		if img==nil || !img.SameShape(first) {
			got:="nil"
			if img!=nil { got=img.DimensionsToString() }
			return &DimensionError{Index: i, Want: first.DimensionsToString(), Got: got}
		}
	}
	if weights==nil { return nil }
	want:=fmt.Sprintf("%dx%d", first.Width(), first.Height())
	if len(weights)!=len(images) {
		return &DimensionError{Index: len(weights), Want: fmt.Sprintf("%d weight maps", len(images)), Got: fmt.Sprintf("%d", len(weights))}
	}
	for i, w:=range weights {
		if w==nil || w.Channels()!=1 || !w.SameSize(first) {
			got:="nil"
			if w!=nil { got=w.DimensionsToString() }
			return &DimensionError{Index: i, Want: want, Got: got}
		}
	}
	for i, w:=range weights {
		for o, v:=range w.Data {
			if v>=0 && !math.IsInf(float64(v), 1) { continue }  // NaN fails the comparison
			return &WeightError{Index: i, X: o%w.Width(), Y: o/w.Width(), Value: v}
		}
	}
	return nil
}

// Estimates the peak memory footprint of a fusion in bytes: per input a Laplacian and a weight pyramid,
// each about 4/3 of the base level, plus the blended pyramid and the output
func FootprintBytes(width, height, channels, n int) int64 {
	plane:=int64(width)*int64(height)*4
	perImage:=plane*int64(channels+1)*4/3
	return int64(n)*perImage + plane*int64(channels)*4/3 + plane*int64(channels)
}
