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


package stats

import (
	"fmt"
	"math"

	"github.com/codahale/hdrhistogram"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"github.com/mlnoga/fuselight/internal/pool"
)

// Basic image statistics
type Stats struct {
	Min    float32 `json:"min"`
	Max    float32 `json:"max"`
	Mean   float32 `json:"mean"`
	StdDev float32 `json:"stdDev"`
	NaNs   int     `json:"nans"`
}

func (s *Stats) String() string {
	if s==nil { return "no stats" }
	return fmt.Sprintf("min %.4g max %.4g mean %.4g stddev %.4g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Calculates basic statistics over the given data. NaNs are counted and skipped
func NewStats(data []float32) *Stats {
	if len(data)==0 { return &Stats{} }
	buf:=pool.GetArrayOfFloat64FromPool(len(data))
	defer pool.PutArrayOfFloat64IntoPool(buf)

	n:=0
	for _, d:=range data {
		if math.IsNaN(float64(d)) { continue }
		buf[n]=float64(d)
		n++
	}
	s:=&Stats{NaNs: len(data)-n}
	if n==0 { return s }
	vals:=buf[:n]
	mean, std:=stat.PopMeanStdDev(vals, nil)
	s.Min, s.Max=float32(floats.Min(vals)), float32(floats.Max(vals))
	s.Mean, s.StdDev=float32(mean), float32(std)
	return s
}

// Quantile summary of a weight map
type WeightSummary struct {
	P10    float32
	P50    float32
	P90    float32
	Max    float32
	Zeros  float32 // fraction of exactly zero weights
}

func (w WeightSummary) String() string {
	return fmt.Sprintf("p10 %.3f p50 %.3f p90 %.3f max %.3f zeros %.1f%%", w.P10, w.P50, w.P90, w.Max, w.Zeros*100)
}

// Resolution of weight values recorded into the histogram
const weightScale=10000

// Summarizes a weight map with values in [0,1] through a high dynamic range histogram. NaNs are skipped
func NewWeightSummary(data []float32) WeightSummary {
	h:=hdrhistogram.New(0, weightScale, 3)
	zeros, max, count:=0, int64(0), 0
	for _, d:=range data {
		if math.IsNaN(float64(d)) { continue }
		count++
		v:=int64(math.Round(math.Min(math.Max(float64(d), 0), 1)*weightScale))
		if v==0 { zeros++ }
		if v>max { max=v }
		h.RecordValue(v)
	}
	ws:=WeightSummary{
		P10 : float32(h.ValueAtQuantile(10))/weightScale,
		P50 : float32(h.ValueAtQuantile(50))/weightScale,
		P90 : float32(h.ValueAtQuantile(90))/weightScale,
		Max : float32(max)/weightScale,   // exact, the histogram only knows equivalence ranges
	}
	if count>0 { ws.Zeros=float32(zeros)/float32(count) }
	return ws
}
