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
	"math"
	"testing"

	"github.com/mlnoga/fuselight/internal/coord"
	"github.com/mlnoga/fuselight/internal/ops"
	"github.com/mlnoga/fuselight/internal/synth"
)

func TestAlignShifted(t *testing.T) {
	scene:=synth.NewScene(128, 96, 21)
	ref:=scene.Render(0, synth.RenderOptions{})
	ref.UpdateStats()
	c:=ops.NewContext(nil)
	c.RefFrame=ref

	tests:=[]struct{
		mode OutOfBoundsMode
	}{
		{OOBModeBlack},
		{OOBModeRefMean},
		{OOBModeOwnMean},
	}
	for _, test:=range tests {
		moving:=scene.Render(1, synth.RenderOptions{ShiftX: 5})
		op:=NewOpAlignDefault()
		op.OobMode=test.mode
		res, err:=op.Apply(moving, c)
		if err!=nil { t.Fatalf("%s: err=%s", test.mode, err.Error()) }
		p:=res.Trans.Apply(coord.Point2D{X: 60, Y: 40})
		if math.Abs(p.X-55)>0.1 || math.Abs(p.Y-40)>0.1 { t.Errorf("%s: (60,40) maps to %v; want (55,40)", test.mode, p) }

		// the rightmost columns have no source data
		oob:=res.Data[40*128+127]
		var want float32
		switch test.mode {
			case OOBModeRefMean: want=ref.Mean()
			case OOBModeOwnMean: want=moving.Mean()
		}
		if math.Abs(float64(oob-want))>1e-3 { t.Errorf("%s: out of bounds value %f; want %f", test.mode, oob, want) }
	}
}

func TestAlignReferenceIsIdentity(t *testing.T) {
	ref:=synth.NewScene(32, 32, 1).Render(4, synth.RenderOptions{})
	c:=ops.NewContext(nil)
	c.RefFrame=ref
	res, err:=NewOpAlignDefault().Apply(ref, c)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if res!=ref || res.Trans!=coord.IdentityTransform2D() { t.Errorf("reference frame was modified") }
}

func TestAlignWithoutReference(t *testing.T) {
	f:=synth.NewScene(32, 32, 1).Render(0, synth.RenderOptions{})
	if _, err:=NewOpAlignDefault().Apply(f, ops.NewContext(nil)); err==nil { t.Errorf("err=nil; want missing reference error") }
}

func TestAlignJSONDefaults(t *testing.T) {
	op, err:=ops.UnmarshalOperator([]byte(`{"type":"align","active":true,"oobMode":"refMean","maxIter":50}`))
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	a:=op.(*OpAlign)
	if a.OobMode!=OOBModeRefMean || a.MaxIter!=50 || a.Eps!=1e-6 || a.GaussFiltSize!=5 {
		t.Errorf("op=%+v; want defaults with overrides", a)
	}
	b, err:=json.Marshal(a)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	var a2 OpAlign
	if err:=json.Unmarshal(b, &a2); err!=nil { t.Fatalf("err=%s", err.Error()) }
	if a2.Params()!=a.Params() || a2.OobMode!=a.OobMode { t.Errorf("round trip %+v; want %+v", a2, a) }
}
