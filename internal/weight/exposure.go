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


package weight

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"github.com/mlnoga/fuselight/internal/filter"
	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/pool"
)

// Floor of the raw exposure weight, so that no pixel is excluded entirely
const exposureFloor=1e-12

// Exposure weights after Mertens et al.: product of contrast, saturation and well-exposedness
type ExposureProducer struct {
	params Params
}

func (ep *ExposureProducer) Params() Params { return ep.params }

func (ep *ExposureProducer) Compute(f *frame.Image) (*frame.Image, error) {
	width, height:=f.Width(), f.Height()
	channels:=f.Channels()

	gray:=f.Gray()
	for i:=range gray { gray[i]*=1.0/255 }
	contrast, err:=filter.Laplacian(gray, width, ep.params.KSize)
	if err!=nil { return nil, err }

	mean :=float64(ep.params.Mean)
	denom:=2*float64(ep.params.Sigma)*float64(ep.params.Sigma)
	w:=frame.NewMono(width, height, contrast)
	w.ID, w.FileName = f.ID, f.FileName

	pool.ParallelRows(height, func(band, start, end int) {
		vals:=make([]float64, channels)
		for i:=start*width; i<end*width; i++ {
			for c:=0; c<channels; c++ {
				vals[c]=float64(f.Data[c*width*height+i])*(1.0/255)
			}

			// saturation is the spread across color channels, undefined for mono
			saturation:=1.0
			if channels>1 {
				_, saturation=stat.PopMeanStdDev(vals, nil)
			}

			wellExposed:=1.0
			for _, v:=range vals {
				d:=v-mean
				wellExposed*=math.Exp(-d*d/denom)
			}

			c:=math.Abs(float64(contrast[i]))
			w.Data[i]=float32(c*saturation*wellExposed + exposureFloor)
		}
	})

	if err:=Normalize(w, ep.params.BlurSize); err!=nil { return nil, err }
	return w, nil
}
