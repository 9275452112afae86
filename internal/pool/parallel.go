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


package pool

import (
	"runtime"
	"sync"
)

// Minimum number of rows per band, below which splitting is not worth the goroutine
const minRowsPerBand=16

// Number of bands ParallelRows will split the given number of rows into
func NumBands(rows int) int {
	threads:=runtime.GOMAXPROCS(0)
	bands:=(rows+minRowsPerBand-1)/minRowsPerBand
	if bands>threads { bands=threads }
	if bands<1 { bands=1 }
	return bands
}

// Splits rows [0, rows) into contiguous bands and calls fn(band, start, end) for each band
// in parallel. Band indices are stable for a given row count, so callers can keep
// per-band partial results and reduce them in band order. Returns after all bands are done
func ParallelRows(rows int, fn func(band, start, end int)) {
	bands:=NumBands(rows)
	if bands==1 {
		fn(0, 0, rows)
		return
	}
	per:=(rows+bands-1)/bands
	var wg sync.WaitGroup
	for b:=0; b<bands; b++ {
		start, end:=b*per, (b+1)*per
		if end>rows { end=rows }
		if start>=end { continue }
		wg.Add(1)
		go func(b, start, end int) {
			defer wg.Done()
			fn(b, start, end)
		}(b, start, end)
	}
	wg.Wait()
}

// Runs fn(i) for i in [0, n) with at most maxThreads goroutines at a time.
// Returns the first error by index, if any
func ParallelFor(n, maxThreads int, fn func(i int) error) error {
	if maxThreads<1 { maxThreads=1 }
	errs   :=make([]error, n)
	limiter:=make(chan bool, maxThreads)
	for i:=0; i<n; i++ {
		limiter <- true
		go func(i int) {
			defer func() { <-limiter }()
			errs[i]=fn(i)
		}(i)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}
	for _, err:=range errs {
		if err!=nil { return err }
	}
	return nil
}
