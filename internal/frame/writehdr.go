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
	"image"
	"image/color"
	"io"

	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"
)

// Adapts an image to the hdr.Image interface. Values are divided by scale, NaNs and negatives become zero
type hdrImage struct {
	f     *Image
	scale float64
}

// Implement image.Image
func (h hdrImage) ColorModel() color.Model { return hdrcolor.RGBModel }
func (h hdrImage) Bounds() image.Rectangle { return image.Rect(0, 0, h.f.Width(), h.f.Height()) }
func (h hdrImage) At(x, y int) color.Color { return h.HDRAt(x, y) }

// Implement hdr.Image
func (h hdrImage) Size() int { return h.f.Width()*h.f.Height() }
func (h hdrImage) HDRAt(x, y int) hdrcolor.Color {
	o:=y*h.f.Width()+x
	if h.f.Channels()==1 {
		v:=h.value(h.f.Data[o])
		return hdrcolor.RGB{R: v, G: v, B: v}
	}
	size:=h.Size()
	return hdrcolor.RGB{R: h.value(h.f.Data[o]), G: h.value(h.f.Data[o+size]), B: h.value(h.f.Data[o+size*2])}
}

func (h hdrImage) value(v float32) float64 {
	if !(v>0) { return 0 }
	return float64(v)/h.scale
}

// Write an image in Radiance RGBE format without clipping. Values are divided by scale,
// so 255 maps image data on the 8-bit scale to 1.0
func (f *Image) WriteHDR(writer io.Writer, scale float32) error {
	return rgbe.Encode(writer, hdrImage{f: f, scale: float64(scale)})
}

// Write an image to a Radiance RGBE file
func (f *Image) WriteHDRToFile(fileName string, scale float32) error {
	return writeToFile(fileName, func(w io.Writer) error { return f.WriteHDR(w, scale) })
}
