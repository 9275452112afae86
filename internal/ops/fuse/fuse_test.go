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
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/ops"
	"github.com/mlnoga/fuselight/internal/ops/align"
	"github.com/mlnoga/fuselight/internal/ops/ref"
	"github.com/mlnoga/fuselight/internal/synth"
	"github.com/mlnoga/fuselight/internal/weight"
)

// Runs the test body inside a fresh temporary directory, so relative paths are allowed
func inTempDir(t *testing.T) {
	dir:=t.TempDir()
	old, err:=os.Getwd()
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if err:=os.Chdir(dir); err!=nil { t.Fatalf("err=%s", err.Error()) }
	t.Cleanup(func() { os.Chdir(old) })
}

func writeInputs(t *testing.T, fs []*frame.Image) {
	for i, f:=range fs {
		if err:=f.WritePNGToFile(fmt.Sprintf("in_%d.png", i), 0, 255, 1); err!=nil { t.Fatalf("err=%s", err.Error()) }
	}
}

func run(t *testing.T, seq *ops.OpSequence, c *ops.Context) *frame.Image {
	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if len(promises)!=1 { t.Fatalf("promises=%d; want 1", len(promises)) }
	f, err:=promises[0]()
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	return f
}

func TestFocusPipeline(t *testing.T) {
	inTempDir(t)
	scene:=synth.NewScene(128, 96, 3)
	stack:=make([]*frame.Image, 3)
	for i:=range stack {
		sigma:=0.5*float64(i)
		stack[i]=scene.Render(i, synth.RenderOptions{ShiftX: float64(2*i), Sigma: func(x, y float64) float64 { return sigma }})
	}
	writeInputs(t, stack)

	opFuse:=NewOpFuseFocus()
	opFuse.WeightPattern="weights_%d.png"
	opFuse.PyramidPattern="level_%d.png"
	opAlign:=align.NewOpAlignDefault()
	opAlign.SavePattern="aligned_%d.png"
	seq:=NewOpFusePipeline([]string{"in_*.png"}, ref.NewOpSelectReference(ref.RFMFirst, 0), opAlign, opFuse, ops.NewOpSave("out.png"))

	var log bytes.Buffer
	c:=ops.NewContext(&log)
	out:=run(t, seq, c)
	if out.Width()!=128 || out.Height()!=96 || out.Channels()!=3 { t.Errorf("dims=%s; want 128x96x3", out.DimensionsToString()) }
	if c.RefFrame==nil || c.RefFrame.ID!=0 { t.Errorf("reference not set to image 0") }

	files:=[]string{"out.png", "aligned_0.png", "aligned_1.png", "aligned_2.png", "weights_0.png", "weights_2.png", "level_0.png", "level_3.png"}
	for _, name:=range files {
		if _, err:=os.Stat(name); err!=nil { t.Errorf("missing %s: %s", name, err.Error()) }
	}
	for _, s:=range []string{"Using image 0 as reference frame", "1: Transform", "Fusing 3 images with focus weights over 3 levels"} {
		if !strings.Contains(log.String(), s) { t.Errorf("log lacks %q:\n%s", s, log.String()) }
	}
}

func TestHDRPipelineUnclipped(t *testing.T) {
	inTempDir(t)
	scene:=synth.NewScene(64, 48, 5)
	writeInputs(t, scene.ExposureBracket([]float64{0.4, 1, 2.2}))

	opFuse:=NewOpFuseHDR()
	opFuse.Unclipped=true
	seq:=NewOpFusePipeline([]string{"in_*.png"}, ref.NewOpSelectReference(ref.RFMMiddleExposure, 0),
		align.NewOpAlignDefault(), opFuse, ops.NewOpSave("out.hdr"))
	c:=ops.NewContext(nil)
	out:=run(t, seq, c)
	if c.RefFrame.ID!=1 { t.Errorf("reference %d; want middle image 1", c.RefFrame.ID) }
	if out.Channels()!=3 { t.Errorf("channels=%d; want 3", out.Channels()) }
	b, err:=os.ReadFile("out.hdr")
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if !bytes.HasPrefix(b, []byte("#?")) { t.Errorf("out.hdr lacks radiance header") }
}

func TestMemoryGuard(t *testing.T) {
	fs:=synth.NewScene(64, 64, 1).FocusStack(2, 2)
	c:=ops.NewContext(nil)
	c.FuseMemoryMB=0
	if _, err:=NewOpFuseFocus().Apply(fs, c); err!=nil { t.Errorf("unlimited: err=%s", err.Error()) }

	big:=[]*frame.Image{frame.NewImageFromNaxisn([]int32{2048, 2048, 3}, nil), frame.NewImageFromNaxisn([]int32{2048, 2048, 3}, nil)}
	c.FuseMemoryMB=1
	if _, err:=NewOpFuseFocus().Apply(big, c); err==nil || !strings.Contains(err.Error(), "MB") { t.Errorf("err=%v; want memory error", err) }
}

func TestOpFuseJSON(t *testing.T) {
	op, err:=ops.UnmarshalOperator([]byte(`{"type":"fuse","active":true,"weights":{"variant":"exposure"}}`))
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	f:=op.(*OpFuse)
	if f.Levels!=5 || f.Weights!=weight.DefaultParams(weight.Exposure) { t.Errorf("op=%+v; want hdr defaults", f) }

	seq:=NewOpFusePipeline([]string{"a_*.jpg"}, ref.NewOpSelectReferenceDefault(), align.NewOpAlignDefault(), NewOpFuseFocus(), ops.NewOpSave("out.tif"))
	b, err:=json.Marshal(seq)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	var seq2 ops.OpSequence
	if err:=json.Unmarshal(b, &seq2); err!=nil { t.Fatalf("err=%s", err.Error()) }
	b2, err:=json.Marshal(&seq2)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if !bytes.Equal(b, b2) { t.Errorf("round trip\n%s\nwant\n%s", b2, b) }
	if _, ok:=seq2.Steps[3].(*OpFuse); !ok { t.Errorf("step 3 is %T; want *OpFuse", seq2.Steps[3]) }
}
