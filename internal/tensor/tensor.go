// Package tensor holds the typed buffers exchanged with execution engines.
package tensor

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"sdturbo/internal/half"
)

// Kind is the element type of a tensor.
type Kind int

const (
	Float32 Kind = iota
	Float16
	Int32
)

func (k Kind) String() string {
	switch k {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Tensor is a shaped buffer. Exactly one of F32, F16 or I32 is populated,
// according to Kind. F16 carries binary16 bit patterns.
//
// A tensor produced by an engine may be resident in accelerator memory; such
// a tensor carries a release hook and its receiver owns it until Release.
type Tensor struct {
	Kind  Kind
	Shape []int
	F32   []float32
	F16   []uint16
	I32   []int32

	release  func() error
	once     sync.Once
	released bool
	err      error
}

// NewFloat32 builds a float32 tensor, validating the element count.
func NewFloat32(data []float32, shape ...int) (*Tensor, error) {
	if err := checkLen(len(data), shape); err != nil {
		return nil, err
	}
	return &Tensor{Kind: Float32, Shape: append([]int(nil), shape...), F32: data}, nil
}

// NewFloat16 builds a float16 tensor from bit patterns.
func NewFloat16(data []uint16, shape ...int) (*Tensor, error) {
	if err := checkLen(len(data), shape); err != nil {
		return nil, err
	}
	return &Tensor{Kind: Float16, Shape: append([]int(nil), shape...), F16: data}, nil
}

// NewInt32 builds an int32 tensor.
func NewInt32(data []int32, shape ...int) (*Tensor, error) {
	if err := checkLen(len(data), shape); err != nil {
		return nil, err
	}
	return &Tensor{Kind: Int32, Shape: append([]int(nil), shape...), I32: data}, nil
}

// Resident attaches a release hook, marking t as backend-resident.
func (t *Tensor) Resident(release func() error) *Tensor {
	t.release = release
	return t
}

// IsResident reports whether t has a release hook.
func (t *Tensor) IsResident() bool { return t != nil && t.release != nil }

// Release frees backend memory held by t. It runs the hook at most once;
// later calls return the first result. Release on a nil or host tensor is a
// no-op.
func (t *Tensor) Release() error {
	if t == nil || t.release == nil {
		return nil
	}
	t.once.Do(func() {
		t.err = t.release()
		t.released = true
	})
	return t.err
}

// Released reports whether Release ran the hook.
func (t *Tensor) Released() bool { return t != nil && t.released }

// Len is the number of elements described by Shape.
func (t *Tensor) Len() int { return Size(t.Shape) }

// AsFloat32 returns the elements widened to float32. Float16 data is
// decoded into a new slice; float32 data is returned as is.
func (t *Tensor) AsFloat32() ([]float32, error) {
	switch t.Kind {
	case Float32:
		return t.F32, nil
	case Float16:
		return half.Decode(t.F16), nil
	default:
		return nil, fmt.Errorf("cannot widen %s tensor to float32", t.Kind)
	}
}

// ToFloat16 returns a new float16 tensor holding t narrowed element-wise.
func (t *Tensor) ToFloat16() (*Tensor, error) {
	switch t.Kind {
	case Float16:
		return NewFloat16(append([]uint16(nil), t.F16...), t.Shape...)
	case Float32:
		return NewFloat16(half.Encode(t.F32), t.Shape...)
	default:
		return nil, fmt.Errorf("cannot narrow %s tensor to float16", t.Kind)
	}
}

// ToFloat32 returns a new float32 tensor holding t widened element-wise.
func (t *Tensor) ToFloat32() (*Tensor, error) {
	data, err := t.AsFloat32()
	if err != nil {
		return nil, err
	}
	if t.Kind == Float32 {
		data = append([]float32(nil), data...)
	}
	return NewFloat32(data, t.Shape...)
}

// ReleaseAll releases every tensor in m except those named in keep.
func ReleaseAll(m map[string]*Tensor, keep ...string) error {
	var errs []error
	for name, t := range m {
		if slices.Contains(keep, name) {
			continue
		}
		if err := t.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Size multiplies the dimensions of shape.
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func checkLen(n int, shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("tensor shape is empty")
	}
	for _, d := range shape {
		if d <= 0 {
			return fmt.Errorf("tensor shape %v has non-positive dimension", shape)
		}
	}
	if want := Size(shape); want != n {
		return fmt.Errorf("tensor shape %v needs %d elements, got %d", shape, want, n)
	}
	return nil
}
