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


package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"github.com/gin-gonic/gin"

	"github.com/mlnoga/fuselight/internal/config"
	"github.com/mlnoga/fuselight/internal/logfile"
	"github.com/mlnoga/fuselight/internal/ops"
	"github.com/mlnoga/fuselight/internal/ops/align"
	"github.com/mlnoga/fuselight/internal/ops/fuse"
	"github.com/mlnoga/fuselight/internal/ops/ref"
	"github.com/mlnoga/fuselight/web"
)


// Serves the web interface and the JSON API on the given address until an error occurs
func Serve(cfg *config.Config, addr string) error {
	r:=NewRouter(cfg)
	return r.Run(addr)
}

// Creates the router with all routes. Missing request parts default to the given configuration
func NewRouter(cfg *config.Config) *gin.Engine {
	if cfg==nil { cfg=config.DefaultConfig() }
	s:=&server{cfg: cfg}

	r := gin.Default()
	r.GET("/", getIndex)
	r.StaticFS("/js", web.JavascriptFS())
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET ("/ping",  getPing)
			v1.POST("/fuse",  s.postFuse)
			v1.POST("/align", s.postAlign)
		}
	}
	return r
}

type server struct {
	cfg *config.Config
}

func getIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m,err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Switches the response to a streamed plain text log
func startLog(c *gin.Context) *logfile.Writer {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)
	return logfile.New(c.Writer)
}

func (s *server) newContext(logWriter io.Writer) *ops.Context {
	c:=ops.NewContext(logWriter)
	if s.cfg.Threads>0 { c.MaxThreads=s.cfg.Threads }
	return c
}

// Builds a reference selector and aligner from the configuration
func (s *server) defaultSelectRef(fc config.FuseConfig) *ref.OpSelectReference {
	return ref.NewOpSelectReference(fc.Reference, fc.ReferenceID)
}

func (s *server) defaultAlign() *align.OpAlign {
	a:=s.cfg.Align
	op:=align.NewOpAlign(a.Eps, a.MaxIter, a.GaussFiltSize, a.Threshold, a.OutOfBounds, s.cfg.Output.AlignedPattern)
	op.Active=a.Enabled
	return op
}


type postFuseArgs struct {
	FilePatterns []string                `json:"filePatterns"`
	Mode          string                 `json:"mode"`       // focus or hdr, selects defaults for missing parts
	SelectRef    *ref.OpSelectReference  `json:"selectRef"`
	Align        *align.OpAlign          `json:"align"`
	Fuse         *fuse.OpFuse            `json:"fuse"`
	Save         *ops.OpSave             `json:"save"`
}

// Fills in missing parts from the configuration for the requested mode
func (s *server) completeFuseArgs(args *postFuseArgs) error {
	fc:=s.cfg.Focus
	switch args.Mode {
	case "", "focus":
		args.Mode="focus"
	case "hdr":
		fc=s.cfg.HDR
	default:
		return errors.New(fmt.Sprintf("unknown mode %s", args.Mode))
	}
	if len(args.FilePatterns)==0 { return errors.New("no file patterns given") }
	if args.SelectRef==nil { args.SelectRef=s.defaultSelectRef(fc) }
	if args.Align    ==nil { args.Align=s.defaultAlign() }
	if args.Fuse     ==nil {
		args.Fuse=fuse.NewOpFuse(fc.Weights, fc.Levels)
		args.Fuse.WeightPattern, args.Fuse.PyramidPattern=s.cfg.Output.WeightPattern, s.cfg.Output.PyramidPattern
	}
	if args.Save     ==nil {
		args.Save=ops.NewOpSave("fused.jpg")
		args.Save.Quality, args.Save.HDRScale=s.cfg.Output.Quality, s.cfg.Output.HDRScale
	}
	for _, p:=range []string{args.Save.FilePattern, args.Align.SavePattern, args.Fuse.WeightPattern, args.Fuse.PyramidPattern} {
		if p!="" && !ops.IsPathAllowed(p) { return errors.New(fmt.Sprintf("output %s outside current directory tree", p)) }
	}
	return nil
}

func (s *server) postFuse(c *gin.Context) {
	var args postFuseArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	if err:=s.completeFuseArgs(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}

	logWriter:=startLog(c)
	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	seq:=fuse.NewOpFusePipeline(args.FilePatterns, args.SelectRef, args.Align, args.Fuse, args.Save)
	err:=runSequence(seq, s.newContext(logWriter), false)
	if(err!=nil) {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	c.Writer.(http.Flusher).Flush()
}


type postAlignArgs struct {
	FilePatterns []string                `json:"filePatterns"`
	Mode          string                 `json:"mode"`
	SelectRef    *ref.OpSelectReference  `json:"selectRef"`
	Align        *align.OpAlign          `json:"align"`
}

func (s *server) postAlign(c *gin.Context) {
	var args postAlignArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() } )
		return
	}
	fc:=s.cfg.Focus
	if args.Mode=="hdr" { fc=s.cfg.HDR }
	if args.SelectRef==nil { args.SelectRef=s.defaultSelectRef(fc) }
	if args.Align    ==nil { args.Align=s.defaultAlign() }
	if args.Align.SavePattern=="" { args.Align.SavePattern="aligned_%d.png" }
	if len(args.FilePatterns)==0 || !ops.IsPathAllowed(args.Align.SavePattern) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "need file patterns and an output pattern inside the current directory tree" } )
		return
	}

	logWriter:=startLog(c)
	if err:=printArgs(logWriter, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	seq:=ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns), args.SelectRef, args.Align)
	err:=runSequence(seq, s.newContext(logWriter), true)
	if(err!=nil) {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	c.Writer.(http.Flusher).Flush()
}

// Makes and materializes all promises of the sequence
func runSequence(seq *ops.OpSequence, c *ops.Context, forget bool) error {
	promises, err:=seq.MakePromises(nil, c)
	if err!=nil { return err }
	_, err=ops.MaterializeAll(promises, c.MaxThreads, forget)
	return err
}
