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

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/debug"
	"strings"
	"time"
	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	"github.com/mlnoga/fuselight/internal/config"
	"github.com/mlnoga/fuselight/internal/logfile"
	"github.com/mlnoga/fuselight/internal/ops"
	"github.com/mlnoga/fuselight/internal/ops/align"
	"github.com/mlnoga/fuselight/internal/ops/fuse"
	"github.com/mlnoga/fuselight/internal/ops/ref"
	"github.com/mlnoga/fuselight/internal/rest"
	"github.com/mlnoga/fuselight/internal/synth"
)

const version = "0.1.0"

var configFile = flag.String("config", "", "load settings from YAML `file`, missing entries keep their defaults")
var writeConfig= flag.String("writeConfig", "", "write the effective settings as YAML to `file` and exit")

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out  = flag.String("out", "", "save output to `file`, format by suffix .jpg, .png, .tif or .hdr. Default fused.jpg, or synth_%d.png for synth")
var log  = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")

var levels   = flag.Int("levels", -1, "number of pyramid levels, -1=use configured value (3 for focus, 5 for hdr)")
var threads  = flag.Int("threads", 0, "maximum number of threads, 0=use configured value or all logical cores")
var unclipped= flag.Bool("unclipped", false, "keep the fused result unclipped, best with .hdr output")

var refMode  = flag.String("ref", "", "reference frame selection: first, middleExposure or fileID. Empty=configured value")
var refID    = flag.Int("refID", 0, "image ID of the reference frame for -ref fileID")

var alignOn  = flag.Int("align", -1, "1=align frames, 0=do not align, -1=use configured value")
var alignT   = flag.Float64("alignT", -1, "skip frames if alignment residual is greater than this, -1=use configured value")
var oob      = flag.String("oob", "", "fill for pixels outside the aligned frame: black, refMean or ownMean. Empty=configured value")

var aligned  = flag.String("aligned", "", "save aligned frames with given filename pattern, e.g. `aligned_%d.png`")
var weights  = flag.String("weights", "", "save false color weight maps with given filename pattern, e.g. `weights_%d.png`")
var pyramid  = flag.String("pyramid", "", "save false color blended pyramid levels with given filename pattern, e.g. `level_%d.png`")

var synthKind= flag.String("synthKind", "focus", "synthetic test data for the synth command: focus or hdr")
var synthN   = flag.Int("synthN", 3, "number of synthetic images")
var synthW   = flag.Int("synthW", 640, "width of synthetic images")
var synthH   = flag.Int("synthH", 480, "height of synthetic images")
var synthSeed= flag.Int("synthSeed", 1, "random seed for the synthetic scene")
var synthShift=flag.Float64("synthShift", 3, "horizontal shift in pixels between consecutive synthetic images")

var addr     = flag.String("addr", "", "address to serve on, empty=configured value")
var port     = flag.Int("port", 0, "port to serve on, 0=configured value")
var chroot   = flag.String("chroot", "", "change filesystem root to `dir` before serving (requires root)")
var setuid   = flag.Int("setuid", -1, "change user id before serving, -1=keep")

func main() {
	logWriter:=logfile.New(os.Stdout)
	debug.SetGCPercent(10)
	start:=time.Now()
	flag.Usage=func(){
 	    fmt.Fprintf(logWriter, `Fuselight Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (focus|hdr|align|synth|serve|legal|version) (img0.jpg ... imgn.jpg)

Commands:
  focus   Focus stack input images into one image with extended depth of field
  hdr     Exposure fuse a bracket of input images
  align   Align input images to the reference frame and save them, see -aligned
  synth   Write synthetic test images, see -synthKind
  serve   Serve the web interface and HTTP API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
	    flag.PrintDefaults()
	}
	flag.Parse()

	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	cfg, err:=config.LoadConfig(*configFile)
	if err!=nil { logWriter.Fatalf("Error: %s\n", err.Error()) }
	if err:=applyFlags(cfg); err!=nil { logWriter.Fatalf("Error: %s\n", err.Error()) }
	if *writeConfig!="" {
		if err:=config.SaveConfig(cfg, *writeConfig); err!=nil { logWriter.Fatalf("Error: %s\n", err.Error()) }
		fmt.Fprintf(logWriter, "Wrote settings to %s\n", *writeConfig)
		return
	}

	// set defaults per command
	switch args[0] {
	case "focus", "hdr":
		if *out=="" { *out="fused.jpg" }
	case "synth":
		if *out=="" { *out="synth_%d.png" }
	case "align":
		if *aligned=="" { *aligned="aligned_%d.png" }
		cfg.Output.AlignedPattern=*aligned
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log=="%auto" {
		if *out!="" {
			*log=strings.TrimSuffix(strings.ReplaceAll(*out, "%d", ""), filepath.Ext(*out))+".log"
		} else {
			*log=""
		}
	}
	if *log!="" {
		if err:=logWriter.AlsoToFile(*log); err!=nil { logWriter.Fatalf("Unable to open logfile '%s'\n", *log) }
	}
	defer logWriter.Close()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			logWriter.Fatalf("Could not create CPU profile: %s\n", err.Error())
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logWriter.Fatalf("Could not start CPU profile: %s\n", err.Error())
		}
		defer pprof.StopCPUProfile()
	}

	c:=ops.NewContext(logWriter)
	if cfg.Threads>0 { c.MaxThreads=cfg.Threads }

	// run actions
	switch args[0] {
	case "focus":
		err=cmdFuse(args[1:], cfg, cfg.Focus, c)

	case "hdr":
		err=cmdFuse(args[1:], cfg, cfg.HDR, c)

	case "align":
		err=cmdAlign(args[1:], cfg, c)

	case "synth":
		err=cmdSynth(c)

	case "serve":
		err=cmdServe(cfg, logWriter)

	case "legal":
		fmt.Fprint(logWriter, legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s on %s with %d logical cores and %d MB memory\n",
			version, cpuid.CPU.BrandName, cpuid.CPU.LogicalCores, memory.TotalMemory()/1024/1024)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	now:=time.Now()
	elapsed:=now.Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, merr := os.Create(*memprofile)
		if merr != nil {
			logWriter.Fatalf("Could not create memory profile: %s\n", merr.Error())
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if merr := pprof.Lookup("allocs").WriteTo(f,0); merr != nil {
			logWriter.Fatalf("Could not write allocation profile: %s\n", merr.Error())
		}
	}

	if err!=nil {
		logWriter.Fatalf("Error: %s\n", err.Error())
	}
}

// Overrides configuration entries with explicitly given flags
func applyFlags(cfg *config.Config) error {
	if *levels>=0 { cfg.Focus.Levels, cfg.HDR.Levels=*levels, *levels }
	if *threads>0 { cfg.Threads=*threads }
	if *refMode!="" {
		var m ref.RefSelMode
		if err:=m.UnmarshalText([]byte(*refMode)); err!=nil { return err }
		cfg.Focus.Reference, cfg.HDR.Reference=m, m
		cfg.Focus.ReferenceID, cfg.HDR.ReferenceID=*refID, *refID
	}
	if *alignOn>=0 { cfg.Align.Enabled=*alignOn!=0 }
	if *alignT>=0 { cfg.Align.Threshold=float32(*alignT) }
	if *oob!="" {
		if err:=cfg.Align.OutOfBounds.UnmarshalText([]byte(*oob)); err!=nil { return err }
	}
	if *aligned!="" { cfg.Output.AlignedPattern=*aligned }
	if *weights!="" { cfg.Output.WeightPattern=*weights }
	if *pyramid!="" { cfg.Output.PyramidPattern=*pyramid }
	if *addr!="" { cfg.Server.Address=*addr }
	if *port>0 { cfg.Server.Port=*port }
	if *chroot!="" { cfg.Server.Sandbox=*chroot }
	return cfg.Validate()
}

func newOpAlign(cfg *config.Config) *align.OpAlign {
	a:=cfg.Align
	op:=align.NewOpAlign(a.Eps, a.MaxIter, a.GaussFiltSize, a.Threshold, a.OutOfBounds, cfg.Output.AlignedPattern)
	op.Active=a.Enabled
	return op
}

// Runs the fusion pipeline on the given file patterns with the given scenario settings
func cmdFuse(patterns []string, cfg *config.Config, fc config.FuseConfig, c *ops.Context) error {
	if len(patterns)==0 { return errors.New("no input files given") }
	opFuse:=fuse.NewOpFuse(fc.Weights, fc.Levels)
	opFuse.Unclipped=*unclipped
	opFuse.WeightPattern, opFuse.PyramidPattern=cfg.Output.WeightPattern, cfg.Output.PyramidPattern
	opSave:=ops.NewOpSave(*out)
	opSave.Quality, opSave.HDRScale=cfg.Output.Quality, cfg.Output.HDRScale

	seq:=fuse.NewOpFusePipeline(patterns, ref.NewOpSelectReference(fc.Reference, fc.ReferenceID), newOpAlign(cfg), opFuse, opSave)
	m, err:=json.MarshalIndent(seq, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(c.Log, "Fusing with these settings:\n%s\n", string(m))

	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { return err }
	_, err=ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

// Aligns all inputs to the reference frame and saves them
func cmdAlign(patterns []string, cfg *config.Config, c *ops.Context) error {
	if len(patterns)==0 { return errors.New("no input files given") }
	opAlign:=newOpAlign(cfg)
	opAlign.Active=true
	seq:=ops.NewOpSequence(ops.NewOpLoadMany(patterns), ref.NewOpSelectReference(cfg.Focus.Reference, cfg.Focus.ReferenceID), opAlign)
	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { return err }
	_, err=ops.MaterializeAll(promises, c.MaxThreads, true)
	return err
}

// Writes a synthetic focus stack or exposure bracket of a shifted scene
func cmdSynth(c *ops.Context) error {
	if *synthN<1 { return errors.New(fmt.Sprintf("need at least one image, got %d", *synthN)) }
	scene:=synth.NewScene(*synthW, *synthH, uint32(*synthSeed))
	for i:=0; i<*synthN; i++ {
		opts:=synth.RenderOptions{ShiftX: *synthShift*float64(i)}
		exposure:=float32(1)
		switch *synthKind {
		case "focus":
			focusX:=(float64(i)+0.5)*float64(*synthW)/float64(*synthN)
			width:=float64(*synthW)
			opts.Sigma=func(x, y float64) float64 {
				d:=(x-focusX)/width
				if d<0 { d=-d }
				return 4*d
			}
		case "hdr":
			gain:=1.0
			for j:=0; j<i; j++ { gain*=2 }
			opts.Gain=gain/float64(*synthN)
			exposure=float32(opts.Gain)/100
		default:
			return errors.New(fmt.Sprintf("unknown synthetic kind %s", *synthKind))
		}
		f:=scene.Render(i, opts)
		f.Exposure=exposure
		if err:=ops.SaveImage(f, ops.ExpandPattern(*out, i), 95, 255, c.Log); err!=nil { return err }
	}
	return nil
}

// Sandboxes the process if configured, then serves until an error occurs
func cmdServe(cfg *config.Config, logWriter *logfile.Writer) error {
	if err:=rest.MakeSandbox(cfg.Server.Sandbox, *setuid, logWriter); err!=nil { return err }
	address:=fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	fmt.Fprintf(logWriter, "Serving on http://%s\n", address)
	return rest.Serve(cfg, address)
}
