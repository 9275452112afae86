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


package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/fuselight/internal/frame"
)

func promiseOf(f *frame.Image, err error) Promise {
	return func() (*frame.Image, error) { return f, err }
}

func TestMaterializeAll(t *testing.T) {
	a, b:=frame.NewMono(2, 2, nil), frame.NewMono(2, 2, nil)
	a.ID, b.ID=1, 2
	outs, err:=MaterializeAll([]Promise{promiseOf(a, nil), promiseOf(b, nil)}, 2, false)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if len(outs)!=2 || outs[0]!=a || outs[1]!=b { t.Errorf("outs=%v; want [a b] in order", outs) }

	outs, err=MaterializeAll([]Promise{promiseOf(a, nil), promiseOf(nil, errors.New("boom"))}, 1, false)
	if err==nil || !strings.Contains(err.Error(), "boom") { t.Errorf("err=%v; want boom", err) }
	if len(outs)!=1 { t.Errorf("len(outs)=%d; want 1", len(outs)) }

	outs, err=MaterializeAll([]Promise{promiseOf(a, nil)}, 4, true)
	if err!=nil || len(outs)!=0 { t.Errorf("forget: outs=%v err=%v; want empty", outs, err) }
}

func TestRemoveNils(t *testing.T) {
	a:=frame.NewMono(1, 1, nil)
	fs:=RemoveNils([]*frame.Image{nil, a, nil, a})
	if len(fs)!=2 || fs[0]!=a || fs[1]!=a { t.Errorf("fs=%v; want two images", fs) }
}

func TestIsPathAllowed(t *testing.T) {
	tests:=[]struct{
		path string
		want bool
	}{
		{"img.png", true},
		{"sub/img_*.jpg", true},
		{"", false},
		{"../img.png", false},
		{"sub/../../x.png", false},
		{"/etc/passwd", false},
	}
	for _, test:=range tests {
		if got:=IsPathAllowed(test.path); got!=test.want { t.Errorf("IsPathAllowed(%q)=%v; want %v", test.path, got, test.want) }
	}
}

func TestExpandPattern(t *testing.T) {
	if got:=ExpandPattern("a_%d.png", 7); got!="a_7.png" { t.Errorf("got %s; want a_7.png", got) }
	if got:=ExpandPattern("a.png", 7); got!="a.png" { t.Errorf("got %s; want a.png", got) }
}

func TestSequenceJSONRoundTrip(t *testing.T) {
	seq:=NewOpSequence(NewOpLoadMany([]string{"in_*.png"}), NewOpForEach(NewOpSave("out_%d.tif")), NewOpSave("out.jpg"))
	b, err:=json.Marshal(seq)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }

	var seq2 OpSequence
	if err:=json.Unmarshal(b, &seq2); err!=nil { t.Fatalf("err=%s", err.Error()) }
	if len(seq2.Steps)!=3 { t.Fatalf("steps=%d; want 3", len(seq2.Steps)) }
	fe, ok:=seq2.Steps[1].(*OpForEach)
	if !ok { t.Fatalf("step 1 is %T; want *OpForEach", seq2.Steps[1]) }
	if s, ok:=fe.Operation.(*OpSave); !ok || s.FilePattern!="out_%d.tif" || s.Quality!=95 {
		t.Errorf("forEach operation=%+v; want save out_%%d.tif", fe.Operation)
	}
	b2, err:=json.Marshal(&seq2)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if !bytes.Equal(b, b2) { t.Errorf("round trip\n%s\nwant\n%s", b2, b) }
}

func TestUnknownOperator(t *testing.T) {
	var seq OpSequence
	err:=json.Unmarshal([]byte(`{"type":"seq","active":true,"steps":[{"type":"bogus"}]}`), &seq)
	if err==nil { t.Errorf("err=nil; want unknown operator error") }
}

func TestSaveDefaultsFromJSON(t *testing.T) {
	op, err:=UnmarshalOperator([]byte(`{"type":"save","active":true,"filePattern":"x.jpg"}`))
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	s:=op.(*OpSave)
	if s.Quality!=95 || s.HDRScale!=255 { t.Errorf("quality=%d hdrScale=%g; want defaults", s.Quality, s.HDRScale) }
	if s.OpUnaryBase.Apply==nil { t.Errorf("apply not bound") }
}

// Runs the test body inside a fresh temporary directory, so relative paths are allowed
func inTempDir(t *testing.T) {
	dir:=t.TempDir()
	old, err:=os.Getwd()
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if err:=os.Chdir(dir); err!=nil { t.Fatalf("err=%s", err.Error()) }
	t.Cleanup(func() { os.Chdir(old) })
}

func TestLoadSave(t *testing.T) {
	inTempDir(t)
	f:=frame.NewImageFromNaxisn([]int32{8, 6, 3}, nil)
	for i:=range f.Data { f.Data[i]=float32(i%256) }
	var log bytes.Buffer
	c:=NewContext(&log)
	for _, name:=range []string{"a_0.png", "a_1.png"} {
		if err:=SaveImage(f, name, 95, 255, c.Log); err!=nil { t.Fatalf("err=%s", err.Error()) }
	}
	if err:=SaveImage(f, "a.bogus", 95, 255, c.Log); err==nil { t.Errorf("err=nil; want unknown suffix error") }

	seq:=NewOpSequence(NewOpLoadMany([]string{"a_*.png"}), NewOpSave("b_%d.png"))
	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	outs, err:=MaterializeAll(promises, c.MaxThreads, false)
	if err!=nil { t.Fatalf("err=%s", err.Error()) }
	if len(outs)!=2 { t.Fatalf("len(outs)=%d; want 2", len(outs)) }
	for i, o:=range outs {
		if o.ID!=i { t.Errorf("id=%d; want %d", o.ID, i) }
		for j, v:=range o.Data {
			if v!=f.Data[j] { t.Fatalf("image %d data[%d]=%f; want %f", i, j, v, f.Data[j]) }
		}
	}
	for _, name:=range []string{"b_0.png", "b_1.png"} {
		if _, err:=os.Stat(name); err!=nil { t.Errorf("missing %s: %s", name, err.Error()) }
	}
	if !strings.Contains(log.String(), "Found 2 files.") { t.Errorf("log=%q; want file count", log.String()) }

	if _, err:=NewOpLoad(0, filepath.Join("..", "x.png")).MakePromises(nil, c); err==nil { t.Errorf("err=nil; want path error") }
	if _, err:=NewOpLoadMany([]string{"none_*.png"}).MakePromises(nil, c); err==nil { t.Errorf("err=nil; want no files error") }
}

func TestContext(t *testing.T) {
	c:=NewContext(nil)
	if c.MaxThreads<1 { t.Errorf("maxThreads=%d; want positive", c.MaxThreads) }
	if c.FuseMemoryMB>c.MemoryMB { t.Errorf("fuse memory %d above total %d", c.FuseMemoryMB, c.MemoryMB) }
	if c.Log==nil { t.Errorf("log is nil") }
}
