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


package frame

import (
	"fmt"
	"strings"

	"github.com/mlnoga/fuselight/internal/coord"
	"github.com/mlnoga/fuselight/internal/stats"
)

// An image in memory. Pixels are stored as float32 in planar layout: one full
// width x height plane per channel, rows in order within a plane.
// Image data is on the 8-bit scale [0,255]; residuals and weights use other ranges
type Image struct {
	ID       int         // Sequential ID number, for log output. Counted upwards from 0 for input frames
	FileName string      // Original file name, if any, for log output.

	Naxisn []int32       // Axis dimensions. Most quickly varying dimension first (i.e. X,Y,channel)
	Pixels int32         // Number of values in the image. Product of Naxisn[]

	Data   []float32     // The image data

	Exposure float32     // Image exposure in seconds, 0 if unknown

	Stats  *stats.Stats  // Basic image statistics: min, mean, max. Nil until calculated

	Trans    coord.Transform2D  // Transformation to reference frame
	Residual float32            // Residual error from the above transformation, 1-correlation
}

// Creates an image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels:=int32(1)
	for _,naxis:=range(naxisn) {
		numPixels*=naxis
	}
	if data==nil {
		data=make([]float32, numPixels)
	}
	return &Image{
		ID:       0,
		FileName: "",
		Naxisn:   append([]int32(nil), naxisn...), // clone slice
		Pixels:   numPixels,
		Data:     data,
		Exposure: 0,
		Stats:    nil,
		Trans:    coord.IdentityTransform2D(),
		Residual: 0,
	}
}

// Creates an image with the metadata and dimensions of the given image. New data array will be allocated
func NewImageFromImage(img *Image) *Image {
	res:=NewImageFromNaxisn(img.Naxisn, nil)
	res.ID, res.FileName, res.Exposure = img.ID, img.FileName, img.Exposure
	return res
}

// Creates a single channel image with the given width and height. Data is allocated if nil
func NewMono(width, height int, data []float32) *Image {
	return NewImageFromNaxisn([]int32{int32(width), int32(height)}, data)
}

// Returns a deep copy of the image, including metadata
func (f *Image) Clone() *Image {
	res:=NewImageFromImage(f)
	copy(res.Data, f.Data)
	res.Trans, res.Residual = f.Trans, f.Residual
	if f.Stats!=nil { s:=*f.Stats; res.Stats=&s }
	return res
}

func (f *Image) Width()  int { return int(f.Naxisn[0]) }
func (f *Image) Height() int { return int(f.Naxisn[1]) }

// Returns the number of color channels, 1 for mono images
func (f *Image) Channels() int {
	if len(f.Naxisn)<3 { return 1 }
	return int(f.Naxisn[2])
}

// Returns the plane of the given channel, sharing the underlying data
func (f *Image) Channel(c int) []float32 {
	size:=f.Width()*f.Height()
	return f.Data[c*size : (c+1)*size]
}

// Returns true if the other image has the same width and height
func (f *Image) SameSize(o *Image) bool {
	return f.Naxisn[0]==o.Naxisn[0] && f.Naxisn[1]==o.Naxisn[1]
}

// Returns true if the other image has the same width, height and number of channels
func (f *Image) SameShape(o *Image) bool {
	return f.SameSize(o) && f.Channels()==o.Channels()
}

func (f *Image) DimensionsToString() string {
	b:=strings.Builder{}
	for i,naxis:=range(f.Naxisn) {
		if i>0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Calculates and stores basic statistics
func (f *Image) UpdateStats() *stats.Stats {
	f.Stats=stats.NewStats(f.Data)
	return f.Stats
}

// Luma weights for RGB to gray conversion, ITU-R BT.601
const (
	LumaR=0.299
	LumaG=0.587
	LumaB=0.114
)

// Returns a grayscale version of the image data as a new array.
// Mono images are copied, RGB images converted with BT.601 luma weights,
// other channel counts averaged
func (f *Image) Gray() []float32 {
	size:=f.Width()*f.Height()
	gray:=make([]float32, size)
	switch f.Channels() {
	case 1:
		copy(gray, f.Data[:size])
	case 3:
		r, g, b:=f.Channel(0), f.Channel(1), f.Channel(2)
		for i:=range gray {
			gray[i]=LumaR*r[i] + LumaG*g[i] + LumaB*b[i]
		}
	default:
		chans:=f.Channels()
		for c:=0; c<chans; c++ {
			for i, v:=range f.Channel(c) { gray[i]+=v }
		}
		for i:=range gray { gray[i]/=float32(chans) }
	}
	return gray
}

// Returns the mean of the image data, ignoring NaNs
func (f *Image) Mean() float32 {
	if f.Stats==nil { f.UpdateStats() }
	return f.Stats.Mean
}
