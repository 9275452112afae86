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


package frame

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/fuselight/internal/coord"
)

// Creates an RGB test image with a distinct value per pixel and channel
func newTestRGB(width, height int) *Image {
	f:=NewImageFromNaxisn([]int32{int32(width), int32(height), 3}, nil)
	size:=width*height
	for c:=0; c<3; c++ {
		for i:=0; i<size; i++ {
			f.Data[c*size+i]=float32((i*7+c*50)%256)
		}
	}
	return f
}

func TestDimensions(t *testing.T) {
	f:=newTestRGB(5, 3)
	if f.Width()!=5 || f.Height()!=3 || f.Channels()!=3 { t.Errorf("dims=%s; want 5x3x3", f.DimensionsToString()) }
	if f.Pixels!=45 { t.Errorf("pixels=%d; want 45", f.Pixels) }
	if s:=f.DimensionsToString(); s!="5x3x3" { t.Errorf("s=%s; want 5x3x3", s) }
	m:=NewMono(4, 2, nil)
	if m.Channels()!=1 { t.Errorf("channels=%d; want 1", m.Channels()) }
	if m.SameSize(f) { t.Errorf("SameSize=true; want false") }
}

func TestGray(t *testing.T) {
	f:=NewImageFromNaxisn([]int32{1, 1, 3}, []float32{100, 200, 50})
	g:=f.Gray()
	want:=float32(0.299*100+0.587*200+0.114*50)
	if math.Abs(float64(g[0]-want))>1e-4 { t.Errorf("gray=%f; want %f", g[0], want) }
}

func TestProjectIdentityIsExact(t *testing.T) {
	f:=newTestRGB(17, 11)
	p, err:=f.Project(17, 11, coord.IdentityTransform2D(), -1)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	for i, v:=range f.Data {
		if p.Data[i]!=v { t.Errorf("data[%d]=%f; want %f", i, p.Data[i], v); break }
	}
}

func TestProjectShift(t *testing.T) {
	width, height:=20, 10
	f:=NewMono(width, height, nil)
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ { f.Data[y*width+x]=float32(x) }
	}
	// source x maps to x+2.5 in the destination
	p, err:=f.Project(width, height, coord.TranslationTransform2D(2.5, 0), -1)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	for x:=0; x<width; x++ {
		got:=p.Data[3*width+x]
		if x<3 {
			if got!=-1 { t.Errorf("x=%d: got %f; want out of bounds -1", x, got) }
			continue
		}
		want:=float32(x)-2.5
		if math.Abs(float64(got-want))>1e-5 { t.Errorf("x=%d: got %f; want %f", x, got, want) }
	}
}

func TestToGoImageRounds(t *testing.T) {
	f:=NewMono(3, 1, []float32{0, 127.6, 300})
	img:=f.ToGoImage(0, 255, 1)
	r, _, _, _:=img.At(1, 0).RGBA()
	if r>>8!=128 { t.Errorf("v=%d; want 128", r>>8) }
	r, _, _, _=img.At(2, 0).RGBA()
	if r>>8!=255 { t.Errorf("v=%d; want 255 clipped", r>>8) }
}

func TestPNGRoundTrip(t *testing.T) {
	f:=newTestRGB(9, 7)
	buf:=bytes.Buffer{}
	if err:=f.WritePNG(&buf, 0, 255, 1); err!=nil { t.Fatalf("err=%s", err.Error()) }
	g, err:=NewImageFromReader(&buf)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if !g.SameShape(f) { t.Fatalf("dims=%s; want %s", g.DimensionsToString(), f.DimensionsToString()) }
	for i, v:=range f.Data {
		if math.Abs(float64(g.Data[i]-v))>1e-3 { t.Errorf("data[%d]=%f; want %f", i, g.Data[i], v); break }
	}
}

func TestFileWriters(t *testing.T) {
	dir:=t.TempDir()
	f:=newTestRGB(16, 8)
	if err:=f.WriteTIFF16ToFile(filepath.Join(dir, "out.tif"), 0, 255, 1); err!=nil { t.Errorf("tiff: %s", err.Error()) }
	if err:=f.WriteJPGToFile(filepath.Join(dir, "out.jpg"), 0, 255, 1, 95); err!=nil { t.Errorf("jpg: %s", err.Error()) }
	if err:=f.WriteFalseColorPNGToFile(filepath.Join(dir, "dump.png"), "level 0", 0, 255); err!=nil { t.Errorf("dump: %s", err.Error()) }

	g, err:=NewImageFromFile(filepath.Join(dir, "out.tif"), 3, nil)
	if err!=nil { t.Fatalf("read tiff: %s", err.Error()) }
	if g.ID!=3 || !g.SameShape(f) { t.Errorf("id=%d dims=%s; want 3 %s", g.ID, g.DimensionsToString(), f.DimensionsToString()) }
	for i, v:=range f.Data {
		if math.Abs(float64(g.Data[i]-v))>0.01 { t.Errorf("tiff data[%d]=%f; want %f", i, g.Data[i], v); break }
	}
}

func TestWriteHDR(t *testing.T) {
	f:=newTestRGB(8, 4)
	buf:=bytes.Buffer{}
	if err:=f.WriteHDR(&buf, 255); err!=nil { t.Fatalf("err=%s", err.Error()) }
	if !strings.HasPrefix(buf.String(), "#?") { t.Errorf("missing radiance magic") }

	path:=filepath.Join(t.TempDir(), "out.hdr")
	if err:=f.WriteHDRToFile(path, 255); err!=nil { t.Fatalf("err=%s", err.Error()) }
	if st, err:=os.Stat(path); err!=nil || st.Size()==0 { t.Errorf("hdr file missing or empty") }
}
