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
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Reads an image from the given file. Supports PNG, JPEG, GIF, TIFF and BMP.
// Exposure time is taken from EXIF data where present
func NewImageFromFile(fileName string, id int, logWriter io.Writer) (f *Image, err error) {
	raw, err:=os.ReadFile(fileName)
	if err!=nil { return nil, err }

	f, err=NewImageFromReader(bytes.NewReader(raw))
	if err!=nil { return nil, fmt.Errorf("%d: decoding %s: %w", id, fileName, err) }
	f.ID, f.FileName=id, fileName

	if exposure, err:=readExposure(bytes.NewReader(raw)); err==nil {
		f.Exposure=exposure
	} else if logWriter!=nil {
		fmt.Fprintf(logWriter, "%d: No exposure time in %s: %s\n", id, fileName, err.Error())
	}
	f.UpdateStats()
	return f, nil
}

// Decodes an image from the given reader
func NewImageFromReader(r io.Reader) (*Image, error) {
	img, _, err:=image.Decode(bufio.NewReader(r))
	if err!=nil { return nil, err }
	return NewImageFromGoImage(img), nil
}

// Converts a golang image into planar float32 data on the 8-bit scale.
// Gray color models become mono images, all others RGB. Alpha is dropped
func NewImageFromGoImage(img image.Image) *Image {
	bounds:=img.Bounds()
	width, height:=bounds.Dx(), bounds.Dy()
	channels:=colorModelToChannels(img.ColorModel())

	naxisn:=[]int32{int32(width), int32(height)}
	if channels==3 { naxisn=append(naxisn, 3) }
	f:=NewImageFromNaxisn(naxisn, nil)
	size:=width*height

	// 16-bit color values are scaled down, 65535/255=257
	const scale=1.0/257

	switch src:=img.(type) {
	case *image.Gray:
		for y:=0; y<height; y++ {
			for x:=0; x<width; x++ {
				f.Data[y*width+x]=float32(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	default:
		for y:=0; y<height; y++ {
			for x:=0; x<width; x++ {
				c:=img.At(bounds.Min.X+x, bounds.Min.Y+y)
				if channels==1 {
					g:=color.Gray16Model.Convert(c).(color.Gray16)
					f.Data[y*width+x]=float32(g.Y)*scale
					continue
				}
				nc:=color.NRGBA64Model.Convert(c).(color.NRGBA64)
				f.Data[y*width+x       ]=float32(nc.R)*scale
				f.Data[y*width+x+size  ]=float32(nc.G)*scale
				f.Data[y*width+x+size*2]=float32(nc.B)*scale
			}
		}
	}
	return f
}

func colorModelToChannels(m color.Model) int {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return 1
	default:
		return 3
	}
}

// Reads the exposure time in seconds from EXIF data
func readExposure(r io.Reader) (float32, error) {
	ex, err:=exif.Decode(r)
	if err!=nil { return 0, err }
	tag, err:=ex.Get(exif.ExposureTime)
	if err!=nil { return 0, err }
	num, denom, err:=tag.Rat2(0)
	if err!=nil { return 0, err }
	if denom==0 { return 0, fmt.Errorf("exposure time %d/%d", num, denom) }
	return float32(num)/float32(denom), nil
}
