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


package pyramid

import (
	"errors"
	"fmt"

	"github.com/mlnoga/fuselight/internal/filter"
	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/pool"
)

// Returns the length of an axis after decimation by two
func DownSize(n int) int { return (n+1)/2 }

// Blurs the image with the 5-tap binomial kernel [1 4 6 4 1]/16 and drops every other row and column.
// The result has dimensions ceil(width/2) x ceil(height/2)
func Down(img *frame.Image) *frame.Image {
	sw, sh:=img.Width(), img.Height()
	dw, dh:=DownSize(sw), DownSize(sh)
	naxisn:=append([]int32{int32(dw), int32(dh)}, img.Naxisn[2:]...)
	res:=frame.NewImageFromNaxisn(naxisn, nil)
	res.ID, res.FileName, res.Exposure = img.ID, img.FileName, img.Exposure

	tmp:=pool.GetArrayOfFloat32FromPool(sh*dw)
	defer pool.PutArrayOfFloat32IntoPool(tmp)

	for c:=0; c<img.Channels(); c++ {
		src, dst:=img.Channel(c), res.Channel(c)

		// horizontal pass on all source rows, even columns only
		pool.ParallelRows(sh, func(band, start, end int) {
			for y:=start; y<end; y++ {
				row:=src[y*sw : (y+1)*sw]
				for x:=0; x<dw; x++ {
					sx:=2*x
					tmp[y*dw+x]=(      row[filter.Reflect101(sw, sx-2)] +
					              4   *row[filter.Reflect101(sw, sx-1)] +
					              6   *row[sx]                          +
					              4   *row[filter.Reflect101(sw, sx+1)] +
					                   row[filter.Reflect101(sw, sx+2)]  ) * (1.0/16)
				}
			}
		})

		// vertical pass on even rows only
		pool.ParallelRows(dh, func(band, start, end int) {
			for y:=start; y<end; y++ {
				sy:=2*y
				r0:=tmp[filter.Reflect101(sh, sy-2)*dw:]
				r1:=tmp[filter.Reflect101(sh, sy-1)*dw:]
				r2:=tmp[sy*dw:]
				r3:=tmp[filter.Reflect101(sh, sy+1)*dw:]
				r4:=tmp[filter.Reflect101(sh, sy+2)*dw:]
				out:=dst[y*dw : (y+1)*dw]
				for x:=range out {
					out[x]=(r0[x] + 4*r1[x] + 6*r2[x] + 4*r3[x] + r4[x]) * (1.0/16)
				}
			}
		})
	}
	return res
}

// Source index for upsampling: reflected on the low border, replicated on the high border
func upIndex(n, x int) int {
	if x>=n { return n-1 }
	return filter.Reflect101(n, x)
}

// Upsamples the line src into dst, which has twice the length of src or one less. Even outputs
// are (s[x-1]+6s[x]+s[x+1])/8, odd outputs (s[x]+s[x+1])/2, which equals zero insertion
// followed by the [1 4 6 4 1]/8 kernel
func upLine(dst, src []float32) {
	sn:=len(src)
	for d:=range dst {
		x:=d/2
		if d%2==0 {
			dst[d]=(src[upIndex(sn, x-1)] + 6*src[x] + src[upIndex(sn, x+1)]) * (1.0/8)
		} else {
			dst[d]=(src[x] + src[upIndex(sn, x+1)]) * 0.5
		}
	}
}

// Upsamples the image to exactly the given width and height, which must each be twice
// the source dimension or one less
func Up(img *frame.Image, width, height int) (*frame.Image, error) {
	sw, sh:=img.Width(), img.Height()
	if !isUpTarget(sw, width) || !isUpTarget(sh, height) {
		return nil, errors.New(fmt.Sprintf("%d: cannot upsample %s to %dx%d", img.ID, img.DimensionsToString(), width, height))
	}
	naxisn:=append([]int32{int32(width), int32(height)}, img.Naxisn[2:]...)
	res:=frame.NewImageFromNaxisn(naxisn, nil)
	res.ID, res.FileName, res.Exposure = img.ID, img.FileName, img.Exposure

	tmp:=pool.GetArrayOfFloat32FromPool(sh*width)
	defer pool.PutArrayOfFloat32IntoPool(tmp)

	for c:=0; c<img.Channels(); c++ {
		src, dst:=img.Channel(c), res.Channel(c)

		// horizontal pass on all source rows
		pool.ParallelRows(sh, func(band, start, end int) {
			for y:=start; y<end; y++ {
				upLine(tmp[y*width:(y+1)*width], src[y*sw:(y+1)*sw])
			}
		})

		// vertical pass into all destination rows
		pool.ParallelRows(height, func(band, start, end int) {
			for y:=start; y<end; y++ {
				sy:=y/2
				out:=dst[y*width : (y+1)*width]
				if y%2==0 {
					r0:=tmp[upIndex(sh, sy-1)*width:]
					r1:=tmp[sy*width:]
					r2:=tmp[upIndex(sh, sy+1)*width:]
					for x:=range out {
						out[x]=(r0[x] + 6*r1[x] + r2[x]) * (1.0/8)
					}
				} else {
					r0:=tmp[sy*width:]
					r1:=tmp[upIndex(sh, sy+1)*width:]
					for x:=range out {
						out[x]=(r0[x] + r1[x]) * 0.5
					}
				}
			}
		})
	}
	return res, nil
}
