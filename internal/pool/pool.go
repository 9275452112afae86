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
	"sync"
)

// Pool of constant sized arrays of given type, to reduce memory allocation overhead.
// Arrays are keyed by length. Arrays handed out are exclusively owned by the caller until put back
type arrayPool[T any] struct {
	sync.RWMutex
	m map[int]*sync.Pool
}

func newArrayPool[T any]() *arrayPool[T] {
	return &arrayPool[T]{m: make(map[int]*sync.Pool)}
}

var poolFloat32=newArrayPool[float32]()
var poolFloat64=newArrayPool[float64]()

func (p *arrayPool[T]) get(size int) []T {
	p.RLock()
	sp, ok:=p.m[size]
	p.RUnlock()
	if !ok {
		p.Lock()
		sp, ok=p.m[size]
		if !ok {
			sp=&sync.Pool{New: func() interface{} { return make([]T, size) }}
			p.m[size]=sp
		}
		p.Unlock()
	}
	return sp.Get().([]T)
}

func (p *arrayPool[T]) put(arr []T) {
	p.RLock()
	sp, ok:=p.m[len(arr)]
	p.RUnlock()
	if !ok { return }  // not from this pool
	sp.Put(arr)
}

func (p *arrayPool[T]) clear() {
	p.Lock()
	p.m=make(map[int]*sync.Pool)
	p.Unlock()
}

// Retrieves a float32 array of the given size from the pool. Contents are undefined
func GetArrayOfFloat32FromPool(size int) []float32 { return poolFloat32.get(size) }

// Returns a float32 array to the pool
func PutArrayOfFloat32IntoPool(arr []float32) { poolFloat32.put(arr) }

// Retrieves a float64 array of the given size from the pool. Contents are undefined
func GetArrayOfFloat64FromPool(size int) []float64 { return poolFloat64.get(size) }

// Returns a float64 array to the pool
func PutArrayOfFloat64IntoPool(arr []float64) { poolFloat64.put(arr) }

// Clears all memory pools
func ClearPools() {
	poolFloat32.clear()
	poolFloat64.clear()
}
