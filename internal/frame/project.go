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
	"math"

	"github.com/mlnoga/fuselight/internal/coord"
	"github.com/mlnoga/fuselight/internal/pool"
)

// Sample positions this close outside the source grid still count as inside.
// Keeps identity projections exact on the last row and column
const projectEpsilon=1e-6

// Projects an image into a new coordinate system of the given width and height with the given transformation,
// which maps source coordinates to destination coordinates. All channels are resampled with bilinear interpolation.
// Fills in pixels without source data with the given out of bounds value
func (img *Image) Project(destWidth, destHeight int, trans coord.Transform2D, outOfBounds float32) (res *Image, err error) {
	// Invert transformation so we can sample from the target coordinate system PoV
	invTrans,err:=trans.Invert()
	if err!=nil { return nil, err }

	// Create new image for the result
	naxisn:=[]int32{int32(destWidth), int32(destHeight)}
	if len(img.Naxisn)>2 { naxisn=append(naxisn, img.Naxisn[2:]...) }
	res=NewImageFromNaxisn(naxisn, nil)
	res.ID, res.FileName, res.Exposure = img.ID, img.FileName, img.Exposure
	res.Trans=trans

	origWidth, origHeight:=img.Width(), img.Height()
	origSize, destSize:=origWidth*origHeight, destWidth*destHeight
	channels:=img.Channels()
	maxX, maxY:=float64(origWidth-1), float64(origHeight-1)

	// Resample image from the target coordinate system PoV
	pool.ParallelRows(destHeight, func(band, start, end int) {
		for row:=start; row<end; row++ {
			for col:=0; col<destWidth; col++ {
				proj:=invTrans.Apply(coord.Point2D{X: float64(col), Y: float64(row)})
				if !(proj.X>=-projectEpsilon && proj.X<=maxX+projectEpsilon &&
				     proj.Y>=-projectEpsilon && proj.Y<=maxY+projectEpsilon) {
					for c:=0; c<channels; c++ {
						res.Data[c*destSize + col + row*destWidth]=outOfBounds
					}
					continue
				}
				x:=math.Min(math.Max(proj.X, 0), maxX)
				y:=math.Min(math.Max(proj.Y, 0), maxY)

				// perform bilinear interpolation
				xl, yl:=int(math.Floor(x)), int(math.Floor(y))
				xh, yh:=xl+1, yl+1
				if xh>origWidth-1  { xh=origWidth-1  }
				if yh>origHeight-1 { yh=origHeight-1 }
				xr, yr:=float32(x-float64(xl)), float32(y-float64(yl))

				xlyl:=xl+yl*origWidth
				xhyl:=xh+yl*origWidth
				xlyh:=xl+yh*origWidth
				xhyh:=xh+yh*origWidth

				for c:=0; c<channels; c++ {
					d:=img.Data[c*origSize : (c+1)*origSize]
					vyl:=d[xlyl]*(1-xr) + d[xhyl]*xr
					vyh:=d[xlyh]*(1-xr) + d[xhyh]*xr
					v  :=vyl    *(1-yr) + vyh    *yr
					res.Data[c*destSize + col + row*destWidth]=v
				}
			}
		}
	})
	return res, nil
}
