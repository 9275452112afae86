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


// Package register aligns images onto a reference with the enhanced correlation coefficient (ECC)
// method of Evangelidis and Psarakis, using an affine motion model.
package register

import (
	"errors"
	"fmt"
	"io"

	"github.com/mlnoga/fuselight/internal/coord"
	"github.com/mlnoga/fuselight/internal/frame"
)

// Returned, wrapped in an *Error, whenever ECC cannot produce a transform
var ErrRegistration=errors.New("registration failed")

// A registration failure for a given image
type Error struct {
	ID        int     // ID of the moving image
	Iteration int     // Iteration in which the failure occurred
	Reason    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: registration failed in iteration %d: %s", e.ID, e.Iteration, e.Reason)
}

func (e *Error) Unwrap() error { return ErrRegistration }

// Parameters for ECC registration
type Params struct {
	Eps           float64           `json:"eps"           yaml:"eps"`            // Stop when the correlation changes by less than this
	MaxIter       int               `json:"maxIter"       yaml:"maxIter"`        // Stop after this many iterations
	GaussFiltSize int               `json:"gaussFiltSize" yaml:"gaussFiltSize"`  // Gaussian pre-smoothing kernel size, odd. 0 or 1=off
	Init          coord.Transform2D `json:"init"          yaml:"init"`           // Initial moving to reference transform. Zero value means identity
	OutOfBounds   float32           `json:"outOfBounds"   yaml:"outOfBounds"`    // Fill value for pixels without source data
}

func DefaultParams() Params {
	return Params{
		Eps:           1e-6,
		MaxIter:       5000,
		GaussFiltSize: 5,
		Init:          coord.IdentityTransform2D(),
		OutOfBounds:   0,
	}
}

func (p Params) Validate() error {
	if p.MaxIter<1 { return errors.New(fmt.Sprintf("max iterations %d must be positive", p.MaxIter)) }
	if p.Eps<0 { return errors.New(fmt.Sprintf("eps %g must not be negative", p.Eps)) }
	if p.GaussFiltSize<0 || (p.GaussFiltSize>1 && p.GaussFiltSize%2==0) {
		return errors.New(fmt.Sprintf("gaussian filter size %d must be odd", p.GaussFiltSize))
	}
	return nil
}

// Result of an ECC estimation
type Result struct {
	Trans      coord.Transform2D  // Maps moving image coordinates into reference coordinates
	Rho        float64            // Final correlation coefficient
	Iterations int
}

// Aligns the moving image onto the reference. Estimates an affine transform with ECC on the grayscale
// versions of both images, then resamples all channels of the moving image into the reference's width
// and height with bilinear interpolation. Returns the aligned image and the moving to reference transform.
// Failures are reported as *Error wrapping ErrRegistration
func Align(ref, moving *frame.Image, p Params, logWriter io.Writer) (aligned *frame.Image, trans coord.Transform2D, err error) {
	if logWriter==nil { logWriter=io.Discard }
	res, err:=Estimate(ref, moving, p)
	if err!=nil { return nil, coord.Transform2D{}, err }

	aligned, err=moving.Project(ref.Width(), ref.Height(), res.Trans, p.OutOfBounds)
	if err!=nil {
		return nil, coord.Transform2D{}, &Error{ID: moving.ID, Iteration: res.Iterations, Reason: err.Error()}
	}
	aligned.Residual=float32(1-res.Rho)
	fmt.Fprintf(logWriter, "%d: Transform %v; rho %.6f after %d iterations\n", moving.ID, res.Trans, res.Rho, res.Iterations)
	return aligned, res.Trans, nil
}
