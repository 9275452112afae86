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


package logfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// Log writer. Writes to an output, usually stdout, and optionally to a file.
// Does not add prefixes, or force newlines. Safe for concurrent use
type Writer struct {
	mutex  sync.Mutex
	out    io.Writer
	file   *bufio.Writer
	fileOS *os.File
}

func New(out io.Writer) *Writer {
	if out==nil { out=io.Discard }
	return &Writer{out: out}
}

// Enables logging to the given file in addition to the output. Replaces a previous log file
func (w *Writer) AlsoToFile(fileName string) (err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if err=w.closeFile(); err!=nil { return err }
	w.fileOS, err=os.OpenFile(fileName, os.O_CREATE | os.O_TRUNC | os.O_WRONLY, 0666)
	if err!=nil { return err }
	w.file=bufio.NewWriter(w.fileOS)
	return nil
}

func (w *Writer) Write(p []byte) (n int, err error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	n, err=w.out.Write(p)
	if err!=nil || w.file==nil { return n, err }
	return w.file.Write(p)
}

func (w *Writer) Printf(format string, args ...interface{}) (n int, err error) {
	return fmt.Fprintf(w, format, args...)
}

// Flushes the log file to disk
func (w *Writer) Sync() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.file==nil { return nil }
	if err:=w.file.Flush(); err!=nil { return err }
	return w.fileOS.Sync()
}

// Flushes and closes the log file. Further writes only go to the output
func (w *Writer) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.closeFile()
}

func (w *Writer) closeFile() error {
	if w.file==nil { return nil }
	err:=w.file.Flush()
	if cerr:=w.fileOS.Close(); err==nil { err=cerr }
	w.file, w.fileOS=nil, nil
	return err
}

// Logs the message, closes the log file and exits with status 1
func (w *Writer) Fatalf(format string, args ...interface{}) {
	w.Printf(format, args...)
	w.Close()
	os.Exit(1)
}
