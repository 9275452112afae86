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
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"
)

// Maps a value from [min,max] to [0,1] with the given gamma. NaNs become zero
func normalizeValue(v, min, scale float32, gammaInv float64) float32 {
	v=(v-min)*scale
	// replace NaNs with zeros for export, else output breaks
	if math.IsNaN(float64(v)) || v<0 { v=0 }
	if v>1 { v=1 }
	if gammaInv!=1.0 {
		v=float32(math.Pow(float64(v), gammaInv))
	}
	return v
}

// Converts the image into an 8-bit golang image, mapping [min,max] to [0,255] with the given gamma.
// Values are rounded to nearest. Mono images become image.Gray, all others image.NRGBA
func (f *Image) ToGoImage(min, max, gamma float32) image.Image {
	width, height:=f.Width(), f.Height()
	size:=width*height
	rect:=image.Rect(0, 0, width, height)
	scale:=1/(max-min)
	gammaInv:=float64(1/gamma)
	to8:=func(v float32) uint8 { return uint8(normalizeValue(v, min, scale, gammaInv)*255+0.5) }

	if f.Channels()==1 {
		img:=image.NewGray(rect)
		for y:=0; y<height; y++ {
			for x:=0; x<width; x++ {
				img.Pix[y*img.Stride+x]=to8(f.Data[y*width+x])
			}
		}
		return img
	}
	img:=image.NewNRGBA(rect)
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			o:=y*width+x
			img.SetNRGBA(x, y, color.NRGBA{to8(f.Data[o]), to8(f.Data[o+size]), to8(f.Data[o+size*2]), 255})
		}
	}
	return img
}

// Creates the file and passes a buffered writer to the given encoding function
func writeToFile(fileName string, encode func(w io.Writer) error) error {
	file, err:=os.Create(fileName)
	if err!=nil { return err }
	defer file.Close()

	writer:=bufio.NewWriter(file)
	if err=encode(writer); err!=nil { return err }
	return writer.Flush()
}

// Write an image to PNG, using the given min, max and gamma.
func (f *Image) WritePNG(writer io.Writer, min, max, gamma float32) error {
	return png.Encode(writer, f.ToGoImage(min, max, gamma))
}

// Write an image to a PNG file, using the given min, max and gamma.
func (f *Image) WritePNGToFile(fileName string, min, max, gamma float32) error {
	return writeToFile(fileName, func(w io.Writer) error { return f.WritePNG(w, min, max, gamma) })
}

// Write an image to JPG, using the given min, max and gamma.
func (f *Image) WriteJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	return jpeg.Encode(writer, f.ToGoImage(min, max, gamma), &jpeg.Options{Quality: quality})
}

// Write an image to a JPG file, using the given min, max and gamma.
func (f *Image) WriteJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	return writeToFile(fileName, func(w io.Writer) error { return f.WriteJPG(w, min, max, gamma, quality) })
}

// Write an image to 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteTIFF16(writer io.Writer, min, max, gamma float32) error {
	width, height:=f.Width(), f.Height()
	size:=width*height
	rect:=image.Rect(0, 0, width, height)
	scale:=1/(max-min)
	gammaInv:=float64(1/gamma)
	to16:=func(v float32) uint16 { return uint16(normalizeValue(v, min, scale, gammaInv)*65535+0.5) }

	var img image.Image
	if f.Channels()==1 {
		gray:=image.NewGray16(rect)
		for y:=0; y<height; y++ {
			for x:=0; x<width; x++ {
				gray.SetGray16(x, y, color.Gray16{to16(f.Data[y*width+x])})
			}
		}
		img=gray
	} else {
		rgb:=image.NewRGBA64(rect)
		for y:=0; y<height; y++ {
			for x:=0; x<width; x++ {
				o:=y*width+x
				rgb.SetRGBA64(x, y, color.RGBA64{to16(f.Data[o]), to16(f.Data[o+size]), to16(f.Data[o+size*2]), 65535})
			}
		}
		img=rgb
	}
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Write an image to a 16-bit TIFF file, using the given min, max and gamma.
func (f *Image) WriteTIFF16ToFile(fileName string, min, max, gamma float32) error {
	return writeToFile(fileName, func(w io.Writer) error { return f.WriteTIFF16(w, min, max, gamma) })
}
