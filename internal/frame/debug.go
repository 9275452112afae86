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
	"math"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// Endpoints of the false color scale, blended in HCL space
var (
	falseColorLow =colorful.Color{R: 0.05, G: 0.05, B: 0.35}
	falseColorHigh=colorful.Color{R: 1.00, G: 0.85, B: 0.10}
)

// Renders the luminance of the image as false color, mapping [min,max] onto a blue to yellow scale.
// NaNs are rendered black
func (f *Image) ToFalseColor(min, max float32) *image.RGBA {
	width, height:=f.Width(), f.Height()
	gray:=f.Data[:width*height]
	if f.Channels()>1 { gray=f.Gray() }
	img:=image.NewRGBA(image.Rect(0, 0, width, height))
	scale:=1/float64(max-min)
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			v:=float64(gray[y*width+x])
			o:=y*img.Stride+x*4
			img.Pix[o+3]=255
			if math.IsNaN(v) { continue }
			t:=math.Min(math.Max((v-float64(min))*scale, 0), 1)
			r, g, b:=falseColorLow.BlendHcl(falseColorHigh, t).Clamped().RGB255()
			img.Pix[o], img.Pix[o+1], img.Pix[o+2]=r, g, b
		}
	}
	return img
}

// Writes a false color rendering of the image to a PNG file, with the given title annotated in the top left corner
func (f *Image) WriteFalseColorPNGToFile(fileName, title string, min, max float32) error {
	dc:=gg.NewContextForImage(f.ToFalseColor(min, max))
	if title!="" {
		dc.SetRGB(0, 0, 0)
		dc.DrawString(title, 11, 21)
		dc.SetRGB(1, 1, 1)
		dc.DrawString(title, 10, 20)
	}
	return dc.SavePNG(fileName)
}
