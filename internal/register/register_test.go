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


package register

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/mlnoga/fuselight/internal/coord"
	"github.com/mlnoga/fuselight/internal/frame"
	"github.com/mlnoga/fuselight/internal/synth"
)

func TestSelfAlignment(t *testing.T) {
	ref:=synth.NewScene(96, 80, 17).Render(0, synth.RenderOptions{})
	moving:=ref.Clone()
	moving.ID=1
	var log bytes.Buffer
	aligned, trans, err:=Align(ref, moving, DefaultParams(), &log)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if !trans.EqualWithin(coord.IdentityTransform2D(), 1e-4) { t.Errorf("trans=%v; want identity", trans) }
	for i, v:=range aligned.Data {
		if math.Abs(float64(v-ref.Data[i]))>1e-2 { t.Fatalf("aligned[%d]=%f; want %f", i, v, ref.Data[i]) }
	}
	if !strings.HasPrefix(log.String(), "1: Transform") { t.Errorf("log=%q; want transform line", log.String()) }
}

func TestShiftRecovery(t *testing.T) {
	tests:=[]struct{
		dx, dy float64
	}{
		{ 4,  0},
		{-3,  2},
		{ 1.5, -2.5},
	}
	scene:=synth.NewScene(256, 256, 23)
	ref:=scene.Render(0, synth.RenderOptions{})
	for _, test:=range tests {
		moving:=scene.Render(1, synth.RenderOptions{ShiftX: test.dx, ShiftY: test.dy})
		res, err:=Estimate(ref, moving, DefaultParams())
		if err!=nil { t.Errorf("shift (%g,%g): err=%s", test.dx, test.dy, err.Error()); continue }
		// content moved by +shift, so moving coordinates map back by -shift
		p:=res.Trans.Apply(coord.Point2D{X: 100, Y: 120})
		if math.Abs(p.X-(100-test.dx))>0.1 || math.Abs(p.Y-(120-test.dy))>0.1 {
			t.Errorf("shift (%g,%g): (100,120) maps to %v; want (%g,%g)", test.dx, test.dy, p, 100-test.dx, 120-test.dy)
		}
		if res.Rho<0.95 { t.Errorf("shift (%g,%g): rho=%f; want >=0.95", test.dx, test.dy, res.Rho) }
	}
}

func TestAlignedOverlapMatches(t *testing.T) {
	scene:=synth.NewScene(128, 128, 5)
	ref:=scene.Render(0, synth.RenderOptions{Mono: true})
	moving:=scene.Render(1, synth.RenderOptions{Mono: true, ShiftX: 3})
	aligned, _, err:=Align(ref, moving, DefaultParams(), nil)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if !aligned.SameSize(ref) { t.Fatalf("dims=%s; want %s", aligned.DimensionsToString(), ref.DimensionsToString()) }
	sum, n:=0.0, 0
	for y:=8; y<120; y++ {
		for x:=8; x<120; x++ {
			sum+=math.Abs(float64(aligned.Data[y*128+x]-ref.Data[y*128+x]))
			n++
		}
	}
	if mad:=sum/float64(n); mad>1.5 { t.Errorf("mean abs difference %f; want <=1.5", mad) }
	if aligned.Residual<0 || aligned.Residual>0.05 { t.Errorf("residual=%f; want small", aligned.Residual) }
}

func TestFlatImageFails(t *testing.T) {
	ref:=frame.NewMono(32, 32, nil)
	for i:=range ref.Data { ref.Data[i]=100 }
	moving:=ref.Clone()
	moving.ID=7
	_, _, err:=Align(ref, moving, DefaultParams(), nil)
	if err==nil { t.Fatalf("err=nil; want registration error") }
	if !errors.Is(err, ErrRegistration) { t.Errorf("err=%v; want ErrRegistration", err) }
	var re *Error
	if !errors.As(err, &re) || re.ID!=7 { t.Errorf("err=%v; want *Error for image 7", err) }
}

func TestParamsValidate(t *testing.T) {
	bad:=[]Params{
		{Eps: 1e-6, MaxIter: 0, GaussFiltSize: 5},
		{Eps: -1, MaxIter: 10, GaussFiltSize: 5},
		{Eps: 1e-6, MaxIter: 10, GaussFiltSize: 4},
	}
	for _, p:=range bad {
		if err:=p.Validate(); err==nil { t.Errorf("%+v: err=nil; want error", p) }
	}
	if err:=DefaultParams().Validate(); err!=nil { t.Errorf("default params: err=%s", err.Error()) }
}
