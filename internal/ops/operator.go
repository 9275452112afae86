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


// Package ops wires the fusion building blocks into a graph of operators exchanging promises of images.
// Operators serialize to and from JSON, so whole pipelines can be sent to the HTTP API.
package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
	"github.com/mlnoga/fuselight/internal/frame"
)

// An execution context for operators
type Context struct {
	Log            io.Writer
	MemoryMB       int            // memory.TotalMemory()/1024/1024
	FuseMemoryMB   int            // MemoryMB*7/10
	MaxThreads     int            `json:"maxThreads"`
	RefFrame      *frame.Image
	RefFrameError  error
}

func NewContext(log io.Writer) *Context {
	if log==nil { log=io.Discard }
	memoryMB:=int(memory.TotalMemory()/1024/1024)
	return &Context{
		Log          : log,
		MemoryMB     : memoryMB,
		FuseMemoryMB : memoryMB*7/10,
		MaxThreads   : DefaultMaxThreads(),
	}
}

// Returns GOMAXPROCS, capped by the number of logical cores where the CPU reports it
func DefaultMaxThreads() int {
	threads:=runtime.GOMAXPROCS(0)
	if cores:=cpuid.CPU.LogicalCores; cores>0 && cores<threads { threads=cores }
	return threads
}

// A promise for an image. Returns a materialized image, or an error
type Promise func() (f *frame.Image, err error)

// Materializes all promises with given concurrency limit. If forget is set, results are dropped
// after materialization, which is useful for promises called for their side effects
func MaterializeAll(ins []Promise, maxThreads int, forget bool) (outs []*frame.Image, err error) {
	if len(ins)==0 { return nil, nil }
	if maxThreads<1 { maxThreads=1 }
	if !forget {
		outs=make([]*frame.Image, len(ins))
	}
	limiter:=make(chan bool, maxThreads)
	errs   :=make([]error, len(ins))
	for i, in:=range ins {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			f, err:=theIn()
			if err!=nil { errs[i]=err; return }
			if !forget { outs[i]=f }
		}(i, in)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}
	for _, e:=range errs {
		if e==nil { continue }
		if err==nil {
			err=e
		} else {
			err=errors.New(fmt.Sprintf("%s; %s", err.Error(), e.Error()))
		}
	}
	return RemoveNils(outs), err
}

// Remove nils from an array of images, editing the underlying array in place
func RemoveNils(fs []*frame.Image) []*frame.Image {
	o:=0
	for _, f:=range fs {
		if f!=nil {
			fs[o]=f
			o++
		}
	}
	for i:=o; i<len(fs); i++ {
		fs[i]=nil
	}
	return fs[:o]
}


// An image processing operator: takes n promises as inputs,
// and produces m promises as output or an error
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type        string `json:"type"`
	Active      bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool { return op.Active }

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories=map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers the type string of the exemplar returned by the given factory
func SetOperatorFactory(f OperatorFactory) {
	op:=f()
	t:=op.GetType()
	if GetOperatorFactory(t)!=nil { panic(fmt.Sprintf("error: re-registering operator key %s\n", t))}
	operatorFactories[t]=f
}

// Decodes a single operator from JSON, dispatching on its type field
func UnmarshalOperator(raw []byte) (Operator, error) {
	var base OpBase
	if err:=json.Unmarshal(raw, &base); err!=nil { return nil, err }
	factory:=GetOperatorFactory(base.Type)
	if factory==nil {
		return nil, errors.New(fmt.Sprintf("unknown operator type '%s' in raw JSON message '%s'", base.Type, string(raw)))
	}
	op:=factory()
	if err:=json.Unmarshal(raw, op); err!=nil { return nil, err }
	return op, nil
}


// Abstract base type for unary operators, applied to each of n inputs individually.
// Subtypes assign their Apply method in the constructor
type OpUnaryBase struct {
	OpBase
	Apply func(f *frame.Image, c *Context) (fOut *frame.Image, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)==0 { return nil, errors.New(fmt.Sprintf("%s operator with %d inputs", op.Type, len(ins))) }
	outs=make([]Promise, len(ins))
	for i, in:=range ins {
		outs[i]=op.MakePromise(in, c)
	}
	return outs, nil
}

func (op *OpUnaryBase) MakePromise(in Promise, c *Context) (out Promise) {
	return func() (f *frame.Image, err error) {
		if f, err=in();          err!=nil { return nil, err } // materialize input promise
		if f, err=op.Apply(f,c); err!=nil { return nil, err } // apply unary operator
		return f, nil
	}
}

// Load a single image from a single filename. Takes zero inputs, produces one output
type OpLoad struct {
	OpBase
	ID          int     `json:"id"`
	FileName    string  `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault()}) } // register the operator for JSON decoding

func NewOpLoadDefault() *OpLoad { return NewOpLoad(0, "") }

func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{
		OpBase   : OpBase{Type: "load", Active: true},
		ID       : id,
		FileName : fileName,
	}
}

func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, errors.New(fmt.Sprintf("%s operator with non-zero input", op.Type)) }
	if !IsPathAllowed(op.FileName) { return nil, errors.New(fmt.Sprintf("%d: file name %s outside current directory tree, aborting", op.ID, op.FileName)) }

	out:=func() (f *frame.Image, err error) {
		return op.Apply(c)
	}
	return []Promise{out}, nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func IsPathAllowed(p string) bool {
	if p=="" { return false }
	if filepath.IsAbs(p) { return false }          // relative paths only
	if strings.Contains(p, "..") { return false }  // no going outside the tree
	return true
}

func (op *OpLoad) Apply(c *Context) (result *frame.Image, err error) {
	f, err:=frame.NewImageFromFile(op.FileName, op.ID, c.Log)
	if err!=nil { return nil, err }

	warning:=""
	if f.Stats.Max-f.Stats.Min<1e-8 {
		warning="; WARNING low dynamic range"
	}
	exposure:=""
	if f.Exposure>0 { exposure=fmt.Sprintf(" exposure %gs", f.Exposure) }

	fmt.Fprintf(c.Log, "%d: Loaded %s image with %v%s from %s%s\n",
		f.ID, f.DimensionsToString(), f.Stats, exposure, f.FileName, warning)
	return f, nil
}

// Load many images from a slice of filename patterns with wildcards.
// Takes zero inputs, produces n outputs
type OpLoadMany struct {
	OpBase
	FilePatterns []string `json:"filePatterns"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadManyDefault()}) } // register the operator for JSON decoding

func NewOpLoadManyDefault() *OpLoadMany { return NewOpLoadMany(nil) }

func NewOpLoadMany(filePatterns []string) *OpLoadMany {
	return &OpLoadMany{
		OpBase       : OpBase{Type: "loadMany", Active: true},
		FilePatterns : filePatterns,
	}
}

// Turn filename wildcards into list of file load operators. IDs follow the order of matches
func (op *OpLoadMany) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, errors.New(fmt.Sprintf("%s operator with non-zero input", op.Type)) }
	for _, pattern:=range op.FilePatterns {
		matches, err:=filepath.Glob(pattern)
		if err!=nil { return nil, err }
		for _, match:=range matches {
			if !IsPathAllowed(match) {
				fmt.Fprintf(c.Log, "Pattern match %s outside current directory tree, skipping\n", match)
				continue
			}
			opLoad:=NewOpLoad(len(outs), match)
			promises, err:=opLoad.MakePromises(nil, c)
			if err!=nil { return nil, err }
			outs=append(outs, promises[0])
		}
	}
	if len(outs)==0 {
		return nil, errors.New(fmt.Sprintf("%s operator with no files to load from pattern %v",
			op.Type, op.FilePatterns))
	}
	fmt.Fprintf(c.Log, "Found %d files.\n", len(outs))
	return outs, nil
}


// Saves given promise under a given filename, with pattern expansion for %d based on the image id.
// The format follows the suffix. Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern  string   `json:"filePattern"`
	Quality      int      `json:"quality"`      // JPEG quality
	HDRScale     float32  `json:"hdrScale"`     // Radiance output divides by this, 255 maps 8-bit white to 1.0
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault()}) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filenamePattern string) *OpSave {
	op:=OpSave{
		OpUnaryBase : OpUnaryBase{OpBase : OpBase{Type: "save", Active: filenamePattern!=""}},
		FilePattern : filenamePattern,
		Quality     : 95,
		HDRScale    : 255,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSave) UnmarshalJSON(data []byte) error {
	type defaults OpSave
	def:=defaults( *NewOpSaveDefault() )
	def.Active=true  // a save given in JSON is meant to run unless disabled
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpSave(def)
	op.OpUnaryBase.Apply=op.Apply // make method receiver point to op, not def
	return nil
}

// Expands the %d in a file name pattern with the given ID, if present
func ExpandPattern(pattern string, id int) string {
	if strings.Contains(pattern, "%d") { return fmt.Sprintf(pattern, id) }
	return pattern
}

func (op *OpSave) Apply(f *frame.Image, c *Context) (result *frame.Image, err error) {
	if !op.Active || op.FilePattern=="" { return f, nil }
	fileName:=ExpandPattern(op.FilePattern, f.ID)
	if err:=SaveImage(f, fileName, op.Quality, op.HDRScale, c.Log); err!=nil { return nil, err }
	return f, nil
}

// Writes an image in the format given by the file name suffix: JPEG, PNG, 16-bit TIFF or Radiance HDR
func SaveImage(f *frame.Image, fileName string, quality int, hdrScale float32, log io.Writer) (err error) {
	fnLower:=strings.ToLower(fileName)
	kind:=""
	switch {
	case strings.HasSuffix(fnLower, ".jpeg") || strings.HasSuffix(fnLower, ".jpg"):
		kind="JPEG"
		err=f.WriteJPGToFile(fileName, 0, 255, 1, quality)
	case strings.HasSuffix(fnLower, ".png"):
		kind="PNG"
		err=f.WritePNGToFile(fileName, 0, 255, 1)
	case strings.HasSuffix(fnLower, ".tiff") || strings.HasSuffix(fnLower, ".tif"):
		kind="16-bit TIFF"
		err=f.WriteTIFF16ToFile(fileName, 0, 255, 1)
	case strings.HasSuffix(fnLower, ".hdr"):
		kind="Radiance HDR"
		if hdrScale<=0 { hdrScale=255 }
		err=f.WriteHDRToFile(fileName, hdrScale)
	default:
		return errors.New(fmt.Sprintf("%d: unknown suffix for file %s", f.ID, fileName))
	}
	if err!=nil { return errors.New(fmt.Sprintf("%d: error writing to file %s: %s", f.ID, fileName, err.Error())) }
	if log!=nil { fmt.Fprintf(log, "%d: Wrote %s pixel %s to %s\n", f.ID, f.DimensionsToString(), kind, fileName) }
	return nil
}


// Applies a sequence of operators to a promise. Number of inputs, outputs as per the chained steps
type OpSequence struct {
	OpBase
	Steps       []Operator        `json:"-"`      // the actual steps
	StepsRaw    []json.RawMessage `json:"steps"`  // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault()}) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase : OpBase{Type: "seq", Active: len(steps)>0},
		Steps  : steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON, via the temporary op.StepsRaw
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	if err:=json.Unmarshal(b, (*alias)(op)); err!=nil { return err }

	op.Steps=nil
	for _, raw:=range op.StepsRaw {
		step, err:=UnmarshalOperator(raw)
		if err!=nil { return err }
		op.Steps=append(op.Steps, step)
	}
	op.StepsRaw=nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps=append(op.Steps, steps...)
	op.Active=len(op.Steps)>0
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf:=bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err:=json.Marshal(op.Type)
	if err!=nil { return nil, err }
	buf.Write(inner)
	fmt.Fprintf(&buf, ",\"active\":%v,\"steps\":", op.Active)
	steps:=op.Steps
	if steps==nil { steps=[]Operator{} }
	inner, err=json.Marshal(steps)
	if err!=nil { return nil, err }
	buf.Write(inner)
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	return op.applyRecursive(op.Steps, ins, c)
}

func (op *OpSequence) applyRecursive(steps []Operator, ins []Promise, c *Context) (outs []Promise, err error) {
	if len(steps)==0 { return ins, nil }
	if steps[0]!=nil && steps[0].IsActive() {
		ins, err=steps[0].MakePromises(ins, c)
		if err!=nil { return nil, err }
	}
	return op.applyRecursive(steps[1:], ins, c)
}


// Applies a single operator to each input. Takes n inputs, produces n outputs
type OpForEach struct {
	OpBase
	Operation    Operator         `json:"-"`
	OperationRaw json.RawMessage  `json:"operation"`  // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpForEachDefault()}) } // register the operator for JSON decoding

func NewOpForEachDefault() *OpForEach { return NewOpForEach(nil) }

func NewOpForEach(operation Operator) *OpForEach {
	return &OpForEach{
		OpBase    : OpBase{Type: "forEach", Active: operation!=nil},
		Operation : operation,
	}
}

// Unmarshals the polymorphic embedded operation from JSON, via the temporary op.OperationRaw
func (op *OpForEach) UnmarshalJSON(b []byte) error {
	type alias OpForEach
	if err:=json.Unmarshal(b, (*alias)(op)); err!=nil { return err }
	op.Operation=nil
	if len(op.OperationRaw)>0 && string(op.OperationRaw)!="null" {
		inner, err:=UnmarshalOperator(op.OperationRaw)
		if err!=nil { return err }
		op.Operation=inner
	}
	op.OperationRaw=nil
	return nil
}

func (op *OpForEach) MarshalJSON() ([]byte, error) {
	inner, err:=json.Marshal(op.Operation)
	if err!=nil { return nil, err }
	type alias OpForEach
	a:=alias(*op)
	a.OperationRaw=inner
	return json.Marshal(a)
}

// Applies the embedded operation to each input individually
func (op *OpForEach) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)==0 { return ins, nil }
	if op.Operation==nil { return nil, errors.New(fmt.Sprintf("%s operator has no operation to apply", op.Type))}
	for _, in:=range ins {
		out, err:=op.Operation.MakePromises([]Promise{in}, c)
		if err!=nil { return nil, err }
		if len(out)!=1 { return nil, errors.New(fmt.Sprintf("%s operator needs exactly one promise from embedded operation", op.Type))}
		outs=append(outs, out[0])
	}
	return outs, nil
}
