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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mlnoga/fuselight/internal/frame"
	fuseimg "github.com/mlnoga/fuselight/internal/fuse"
	"github.com/mlnoga/fuselight/internal/ops"
	"github.com/mlnoga/fuselight/internal/ops/align"
	"github.com/mlnoga/fuselight/internal/ops/ref"
	"github.com/mlnoga/fuselight/internal/weight"
)

// Builds the complete fusion pipeline: load, select reference, align, fuse and save
func NewOpFusePipeline(filePatterns []string, opSelectRef *ref.OpSelectReference, opAlign *align.OpAlign,
	                   opFuse *OpFuse, opSave *ops.OpSave) *ops.OpSequence {
	return ops.NewOpSequence(ops.NewOpLoadMany(filePatterns), opSelectRef, opAlign, opFuse, opSave)
}

// Fuses n inputs into one output with Laplacian pyramid blending
type OpFuse struct {
	ops.OpBase
	Weights        weight.Params `json:"weights"`
	Levels         int           `json:"levels"`
	Unclipped      bool          `json:"unclipped"`       // output the reconstruction without clipping and rounding
	WeightPattern  string        `json:"weightPattern"`   // optional false color dump of weight maps, %d is the image ID
	PyramidPattern string        `json:"pyramidPattern"`  // optional false color dump of the blended pyramid, %d is the level
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpFuseDefault() })} // register the operator for JSON decoding

func NewOpFuseDefault() *OpFuse { return NewOpFuseFocus() }

// Focus stacking defaults: focus weights over 3 levels
func NewOpFuseFocus() *OpFuse { return NewOpFuse(weight.DefaultParams(weight.Focus), 3) }

// Exposure fusion defaults: exposure weights over 5 levels
func NewOpFuseHDR() *OpFuse { return NewOpFuse(weight.DefaultParams(weight.Exposure), 5) }

func NewOpFuse(weights weight.Params, levels int) *OpFuse {
	return &OpFuse{
		OpBase  : ops.OpBase{Type: "fuse", Active: true},
		Weights : weights,
		Levels  : levels,
	}
}

// Unmarshal the type from JSON with default values for missing entries.
// Weight defaults follow the variant given in the JSON
func (op *OpFuse) UnmarshalJSON(data []byte) error {
	var probe struct {
		Weights struct {
			Variant weight.Variant `json:"variant"`
		} `json:"weights"`
	}
	if err:=json.Unmarshal(data, &probe); err!=nil { return err }

	type defaults OpFuse
	def:=defaults( *NewOpFuseDefault() )
	if probe.Weights.Variant==weight.Exposure { def=defaults( *NewOpFuseHDR() ) }
	if err:=json.Unmarshal(data, &def); err!=nil { return err }
	*op=OpFuse(def)
	return nil
}

func (op *OpFuse) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins)==0 { return nil, errors.New(fmt.Sprintf("%s operator needs inputs", op.Type)) }

	out:=func() (f *frame.Image, err error) {
		fs, err:=ops.MaterializeAll(ins, c.MaxThreads, false) // materialize all input promises
		if err!=nil { return nil, err }
		return op.Apply(fs, c)
	}
	return []ops.Promise{out}, nil
}

// Fuses the given images, which must already be registered
func (op *OpFuse) Apply(fs []*frame.Image, c *ops.Context) (result *frame.Image, err error) {
	if len(fs)==0 { return nil, errors.New("no images to fuse") }
	if err:=fuseimg.CheckDimensions(fs, nil); err!=nil { return nil, err }

	footprintMB:=int(fuseimg.FootprintBytes(fs[0].Width(), fs[0].Height(), fs[0].Channels(), len(fs))/1024/1024)
	if c.FuseMemoryMB>0 && footprintMB>c.FuseMemoryMB {
		return nil, errors.New(fmt.Sprintf("fusing %d images of %s pixels needs about %d MB, more than the %d MB available",
			len(fs), fs[0].DimensionsToString(), footprintMB, c.FuseMemoryMB))
	}

	producer, err:=weight.NewProducer(op.Weights)
	if err!=nil { return nil, err }
	fmt.Fprintf(c.Log, "Fusing %d images with %s weights over %d levels, about %d MB:\n",
		len(fs), op.Weights.Variant, op.Levels, footprintMB)

	opts:=fuseimg.Options{
		MaxThreads  : c.MaxThreads,
		KeepWeights : op.WeightPattern!="",
		KeepPyramid : op.PyramidPattern!="",
		KeepFloat   : op.Unclipped,
	}
	res, err:=fuseimg.FuseDetailed(fs, nil, op.Levels, producer, opts, c.Log)
	if err!=nil { return nil, err }

	if err:=op.dumpWeights(res.Weights, c); err!=nil { return nil, err }
	if err:=op.dumpPyramid(res, c); err!=nil { return nil, err }

	result=res.Image
	if op.Unclipped { result=res.Float }
	result.UpdateStats()
	fmt.Fprintf(c.Log, "%d: Fused image %s with %v\n", result.ID, result.DimensionsToString(), result.Stats)
	return result, nil
}

func (op *OpFuse) dumpWeights(ws []*frame.Image, c *ops.Context) error {
	if op.WeightPattern=="" { return nil }
	for _, w:=range ws {
		if w==nil { continue }
		fileName:=ops.ExpandPattern(op.WeightPattern, w.ID)
		if err:=w.WriteFalseColorPNGToFile(fileName, fmt.Sprintf("weights %d", w.ID), 0, 1); err!=nil {
			return errors.New(fmt.Sprintf("%d: error writing weights to %s: %s", w.ID, fileName, err.Error()))
		}
		fmt.Fprintf(c.Log, "%d: Wrote weight map to %s\n", w.ID, fileName)
	}
	return nil
}

// Dumps the blended Laplacian levels with a symmetric range, so zero residuals share one color
func (op *OpFuse) dumpPyramid(res *fuseimg.Result, c *ops.Context) error {
	if op.PyramidPattern=="" || res.Blended==nil { return nil }
	last:=res.Blended.Depth()
	for lvl, l:=range res.Blended.Levels {
		mono:=frame.NewMono(l.Width(), l.Height(), l.Gray())
		s:=mono.UpdateStats()
		min, max:=s.Min, s.Max
		if lvl<last {
			r:=max
			if -min>r { r=-min }
			min, max=-r, r
		}
		if !(max>min) { max=min+1 }
		fileName:=ops.ExpandPattern(op.PyramidPattern, lvl)
		title:=fmt.Sprintf("level %d %s", lvl, l.DimensionsToString())
		if err:=mono.WriteFalseColorPNGToFile(fileName, title, min, max); err!=nil {
			return errors.New(fmt.Sprintf("error writing pyramid level %d to %s: %s", lvl, fileName, err.Error()))
		}
		fmt.Fprintf(c.Log, "Wrote pyramid level %d to %s\n", lvl, fileName)
	}
	return nil
}
