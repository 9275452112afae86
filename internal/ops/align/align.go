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


package align

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mlnoga/fuselight/internal/coord"
	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/ops"
	"github.com/mlnoga/fuselight/internal/register"
)

// Replacement mode for out of bounds values when projecting images
type OutOfBoundsMode int
const (
	OOBModeBlack    OutOfBoundsMode = iota  // Replace with zero
	OOBModeRefMean                          // Replace with the mean of the reference frame
	OOBModeOwnMean                          // Replace with the mean of the current frame
)

var oobModeNames=[]string{"black", "refMean", "ownMean"}

func (m OutOfBoundsMode) String() string {
	if m<0 || int(m)>=len(oobModeNames) { return fmt.Sprintf("oobMode(%d)", int(m)) }
	return oobModeNames[m]
}

func (m OutOfBoundsMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *OutOfBoundsMode) UnmarshalText(b []byte) error {
	for i, n:=range oobModeNames {
		if strings.EqualFold(string(b), n) { *m=OutOfBoundsMode(i); return nil }
	}
	return errors.New(fmt.Sprintf("unknown out of bounds mode '%s'", string(b)))
}

// Aligns each input onto the reference frame in the context with ECC. Takes n inputs, produces n outputs
type OpAlign struct {
	ops.OpUnaryBase
	Eps           float64          `json:"eps"`
	MaxIter       int              `json:"maxIter"`
	GaussFiltSize int              `json:"gaussFiltSize"`
	Threshold     float32          `json:"threshold"`    // maximum residual 1-rho, frames above are rejected
	OobMode       OutOfBoundsMode  `json:"oobMode"`
	SavePattern   string           `json:"savePattern"`  // optional file name pattern for aligned frames, %d is the image ID
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpAlignDefault() })} // register the operator for JSON decoding

func NewOpAlignDefault() *OpAlign {
	p:=register.DefaultParams()
	return NewOpAlign(p.Eps, p.MaxIter, p.GaussFiltSize, 1, OOBModeBlack, "")
}

func NewOpAlign(eps float64, maxIter, gaussFiltSize int, threshold float32, oobMode OutOfBoundsMode, savePattern string) *OpAlign {
	op:=OpAlign{
		OpUnaryBase   : ops.OpUnaryBase{OpBase : ops.OpBase{Type: "align", Active: true}},
		Eps           : eps,
		MaxIter       : maxIter,
		GaussFiltSize : gaussFiltSize,
		Threshold     : threshold,
		OobMode       : oobMode,
		SavePattern   : savePattern,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpAlign) UnmarshalJSON(data []byte) error {
	type defaults OpAlign
	def:=defaults( *NewOpAlignDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpAlign(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

// Returns the registration parameters for this operator
func (op *OpAlign) Params() register.Params {
	p:=register.DefaultParams()
	p.Eps, p.MaxIter, p.GaussFiltSize=op.Eps, op.MaxIter, op.GaussFiltSize
	return p
}

func (op *OpAlign) Apply(f *frame.Image, c *ops.Context) (result *frame.Image, err error) {
	if !op.Active {
		f.Trans=coord.IdentityTransform2D()
		return f, nil
	}
	if c.RefFrame==nil { return nil, errors.New(fmt.Sprintf("%d: unable to align without reference frame", f.ID)) }

	if f==c.RefFrame || f.ID==c.RefFrame.ID {
		// not required for the reference frame itself
		f.Trans, f.Residual=coord.IdentityTransform2D(), 0
		fmt.Fprintf(c.Log, "%d: Reference frame, no alignment needed\n", f.ID)
	} else {
		p:=op.Params()
		switch op.OobMode {
			case OOBModeBlack:   p.OutOfBounds=0
			case OOBModeRefMean: p.OutOfBounds=c.RefFrame.Mean()
			case OOBModeOwnMean: p.OutOfBounds=f.Mean()
		}

		aligned, _, err:=register.Align(c.RefFrame, f, p, c.Log)
		if err!=nil { return nil, err }
		if op.Threshold>0 && aligned.Residual>op.Threshold {
			return nil, errors.New(fmt.Sprintf("%d: alignment residual %g is above threshold %g, skipping frame", f.ID, aligned.Residual, op.Threshold))
		}
		aligned.UpdateStats()
		f=aligned
	}

	if op.SavePattern!="" {
		if err:=ops.SaveImage(f, ops.ExpandPattern(op.SavePattern, f.ID), 95, 255, c.Log); err!=nil { return nil, err }
	}
	return f, nil
}
