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


package ref

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/ops"
)


// Reference frame selection mode
type RefSelMode int
const (
	RFMFirst          RefSelMode = iota // First image. Default for focus stacks
	RFMMiddleExposure                   // Image with the median exposure time, or the middle image if exposures are unknown. Default for brackets
	RFMFileID                           // Image with the given ID
)

var refSelModeNames=[]string{"first", "middleExposure", "fileID"}

func (m RefSelMode) String() string {
	if m<0 || int(m)>=len(refSelModeNames) { return fmt.Sprintf("refSelMode(%d)", int(m)) }
	return refSelModeNames[m]
}

func (m RefSelMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *RefSelMode) UnmarshalText(b []byte) error {
	for i, n:=range refSelModeNames {
		if strings.EqualFold(string(b), n) { *m=RefSelMode(i); return nil }
	}
	return errors.New(fmt.Sprintf("unknown reference selection mode '%s'", string(b)))
}

// Selects the reference frame for alignment, and stores it in the context.
// Takes n inputs, produces the same n outputs
type OpSelectReference struct {
	ops.OpBase
	Mode            RefSelMode         `json:"mode"`
	FileID          int                `json:"fileID"`
	mutex           sync.Mutex
	materialized    []*frame.Image
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpSelectReferenceDefault() })} // register the operator for JSON decoding

func NewOpSelectReferenceDefault() *OpSelectReference { return NewOpSelectReference(RFMFirst, 0) }

func NewOpSelectReference(mode RefSelMode, fileID int) *OpSelectReference {
	return &OpSelectReference{
		OpBase : ops.OpBase{Type: "selectRef", Active: true},
		Mode   : mode,
		FileID : fileID,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSelectReference) UnmarshalJSON(data []byte) error {
	type defaults struct {
		ops.OpBase
		Mode   RefSelMode `json:"mode"`
		FileID int        `json:"fileID"`
	}
	d:=NewOpSelectReferenceDefault()
	def:=defaults{OpBase: d.OpBase, Mode: d.Mode, FileID: d.FileID}
	if err:=json.Unmarshal(data, &def); err!=nil { return err }
	op.OpBase, op.Mode, op.FileID=def.OpBase, def.Mode, def.FileID
	return nil
}

// Selects a reference for all given input promises using the specified mode.
// This creates separate output promises for each input promise.
// The first of them to acquire the mutex materializes all inputs and picks the reference
func (op *OpSelectReference) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins)==0 { return nil, errors.New(fmt.Sprintf("%s operator needs inputs", op.Type)) }
	c.RefFrame, c.RefFrameError=nil, nil
	op.materialized=nil

	outs=make([]ops.Promise, len(ins))
	for i:=range ins {
		outs[i]=op.applySingle(i, ins, c)
	}
	return outs, nil
}

func (op *OpSelectReference) applySingle(i int, ins []ops.Promise, c *ops.Context) ops.Promise {
	return func() (f *frame.Image, err error) {
		op.mutex.Lock()
		defer op.mutex.Unlock()
		if c.RefFrameError!=nil {       // reference selection failed in a prior call
			return nil, c.RefFrameError
		}
		if c.RefFrame==nil {
			op.materialized, c.RefFrameError=ops.MaterializeAll(ins, c.MaxThreads, false)
			if c.RefFrameError!=nil { return nil, c.RefFrameError }
			if len(op.materialized)!=len(ins) {
				c.RefFrameError=errors.New(fmt.Sprintf("%s operator materialized %d of %d inputs", op.Type, len(op.materialized), len(ins)))
				return nil, c.RefFrameError
			}

			var reason string
			c.RefFrame, reason, c.RefFrameError=SelectReference(op.materialized, op.Mode, op.FileID)
			if c.RefFrameError!=nil { return nil, c.RefFrameError }
			if c.RefFrame.Stats==nil { c.RefFrame.UpdateStats() }
			fmt.Fprintf(c.Log, "Using image %d as reference frame, %s.\n", c.RefFrame.ID, reason)
		}

		mat:=op.materialized[i]
		op.materialized[i]=nil  // remove reference to free memory
		if mat==nil { return nil, errors.New(fmt.Sprintf("%s operator output %d requested twice", op.Type, i)) }
		return mat, nil
	}
}

// Picks the reference frame among the given images with the given mode.
// Returns the frame and a human readable reason
func SelectReference(fs []*frame.Image, mode RefSelMode, fileID int) (ref *frame.Image, reason string, err error) {
	if len(fs)==0 { return nil, "", errors.New("no images to select a reference from") }
	switch mode {
	case RFMFirst:
		return fs[0], "the first image", nil

	case RFMMiddleExposure:
		sorted:=append([]*frame.Image(nil), fs...)
		known:=true
		for _, f:=range sorted {
			if !(f.Exposure>0) { known=false; break }
		}
		if !known {
			return fs[(len(fs)-1)/2], "the middle image as exposure times are unknown", nil
		}
		sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Exposure<sorted[b].Exposure })
		ref=sorted[(len(sorted)-1)/2]
		return ref, fmt.Sprintf("the median exposure %gs", ref.Exposure), nil

	case RFMFileID:
		for _, f:=range fs {
			if f.ID==fileID { return f, fmt.Sprintf("file ID %d", fileID), nil }
		}
		return nil, "", errors.New(fmt.Sprintf("invalid reference file ID %d", fileID))

	default:
		return nil, "", errors.New(fmt.Sprintf("unknown reference selection mode %d", int(mode)))
	}
}
