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


package synth

import (
	"testing"
)

func TestDeterministic(t *testing.T) {
	a:=NewScene(64, 48, 42).Render(0, RenderOptions{})
	b:=NewScene(64, 48, 42).Render(0, RenderOptions{})
	for i, v:=range a.Data {
		if b.Data[i]!=v { t.Fatalf("data[%d]=%f; want %f", i, b.Data[i], v) }
	}
	c:=NewScene(64, 48, 43).Render(0, RenderOptions{})
	same:=true
	for i, v:=range a.Data { if c.Data[i]!=v { same=false; break } }
	if same { t.Errorf("different seeds render identical scenes") }
}

func TestShift(t *testing.T) {
	s:=NewScene(80, 40, 7)
	a:=s.Render(0, RenderOptions{Mono: true})
	b:=s.Render(1, RenderOptions{Mono: true, ShiftX: 4})
	if a.Channels()!=1 { t.Fatalf("channels=%d; want 1", a.Channels()) }
	for y:=0; y<40; y++ {
		for x:=4; x<80; x++ {
			if b.Data[y*80+x]!=a.Data[y*80+x-4] { t.Fatalf("(%d,%d)=%f; want %f", x, y, b.Data[y*80+x], a.Data[y*80+x-4]) }
		}
	}
}

func TestRangeAndTexture(t *testing.T) {
	f:=NewScene(128, 128, 1).Render(0, RenderOptions{})
	s:=f.UpdateStats()
	if s.Min<0 || s.Max>255 { t.Errorf("range [%f,%f]; want within [0,255]", s.Min, s.Max) }
	if s.StdDev<5 { t.Errorf("stddev=%f; want textured scene", s.StdDev) }
}

func TestFocusStackAndBracket(t *testing.T) {
	s:=NewScene(60, 30, 3)
	fs:=s.FocusStack(3, 4)
	if len(fs)!=3 { t.Fatalf("len=%d; want 3", len(fs)) }
	for i, f:=range fs {
		if f.ID!=i || f.Width()!=60 || f.Height()!=30 { t.Errorf("image %d: id=%d dims=%s", i, f.ID, f.DimensionsToString()) }
	}
	eb:=s.ExposureBracket([]float64{0.5, 1, 2})
	if !(eb[0].Exposure<eb[1].Exposure && eb[1].Exposure<eb[2].Exposure) { t.Errorf("exposures not increasing") }
	if eb[0].UpdateStats().Mean>=eb[2].UpdateStats().Mean { t.Errorf("brighter gain did not yield brighter image") }
}
