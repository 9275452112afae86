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


package fuse

import (
	"errors"
	"fmt"

	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/pool"
)

// Blends one pyramid level: per pixel sum_i(L_i*(w_i+eps)) / sum_i(w_i+eps), with the single
// channel weights broadcast over all channels of the Laplacian levels. Flooring each weight instead of
// computing sum_i(L_i*w_i) / (sum_i(w_i)+eps) deliberately turns an all zero pixel into the plain average
// rather than into zero; both agree wherever some weight is non-zero
func Blend(laps, weights []*frame.Image) (*frame.Image, error) {
	if len(laps)==0 { return nil, errors.New("nothing to blend") }
	if len(weights)!=len(laps) { return nil, errors.New(fmt.Sprintf("%d levels but %d weights", len(laps), len(weights))) }
	first:=laps[0]
	for i:=range laps {
		if !laps[i].SameShape(first) {
			return nil, &DimensionError{Index: i, Want: first.DimensionsToString(), Got: laps[i].DimensionsToString()}
		}
		if weights[i].Channels()!=1 || !weights[i].SameSize(first) {
			return nil, &DimensionError{Index: i, Want: fmt.Sprintf("%dx%d", first.Width(), first.Height()), Got: weights[i].DimensionsToString()}
		}
	}

	width, height, channels:=first.Width(), first.Height(), first.Channels()
	size:=width*height
	res:=frame.NewImageFromNaxisn(append([]int32(nil), first.Naxisn...), nil)
	res.ID, res.Exposure=first.ID, first.Exposure

	pool.ParallelRows(height, func(band, start, end int) {
		num:=make([]float32, channels)
		for o:=start*width; o<end*width; o++ {
			for c:=range num { num[c]=0 }
			den:=float32(0)
			for i, l:=range laps {
				w:=weights[i].Data[o]+WeightEpsilon
				den+=w
				for c:=0; c<channels; c++ {
					num[c]+=l.Data[c*size+o]*w
				}
			}
			inv:=1/den
			for c:=0; c<channels; c++ {
				res.Data[c*size+o]=num[c]*inv
			}
		}
	})
	return res, nil
}
