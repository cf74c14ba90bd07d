package tensor

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// BatchDim marks a dimension whose size is only known once data is batched.
const BatchDim = -1

type DType uint8

const (
	Float32 DType = iota
	Float64
	Int32
	Int64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "dtype(" + strconv.Itoa(int(d)) + ")"
	}
}

func (d DType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "float32":
		*d = Float32
	case "float64":
		*d = Float64
	case "int32":
		*d = Int32
	case "int64":
		*d = Int64
	default:
		return fmt.Errorf("unknown dtype %q", string(b))
	}

	return nil
}

// Spec describes the dtype and shape of a tensor. A BatchDim entry matches
// any size.
type Spec struct {
	DType DType `json:"dtype"`
	Shape []int `json:"shape"`
}

func NewSpec(dtype DType, shape ...int) Spec {
	return Spec{DType: dtype, Shape: slices.Clone(shape)}
}

func (s Spec) Equal(o Spec) bool {
	return s.DType == o.DType && slices.Equal(s.Shape, o.Shape)
}

// Batched returns the spec with a leading BatchDim.
func (s Spec) Batched() Spec {
	return Spec{DType: s.DType, Shape: append([]int{BatchDim}, s.Shape...)}
}

// Unbatched drops a leading BatchDim, if any.
func (s Spec) Unbatched() Spec {
	if len(s.Shape) > 0 && s.Shape[0] == BatchDim {
		return Spec{DType: s.DType, Shape: slices.Clone(s.Shape[1:])}
	}

	return Spec{DType: s.DType, Shape: slices.Clone(s.Shape)}
}

// Size is the number of elements of one unbatched item.
func (s Spec) Size() int {
	n := 1
	for _, d := range s.Shape {
		if d == BatchDim {
			continue
		}
		n *= d
	}

	return n
}

func (s Spec) String() string {
	dims := make([]string, len(s.Shape))
	for i, d := range s.Shape {
		if d == BatchDim {
			dims[i] = "None"

			continue
		}
		dims[i] = strconv.Itoa(d)
	}

	return fmt.Sprintf("%s[%s]", s.DType, strings.Join(dims, ","))
}

// ElementSpec is the structure of one dataset element: an input and a label.
type ElementSpec struct {
	X Spec `json:"x"`
	Y Spec `json:"y"`
}

func (e ElementSpec) Equal(o ElementSpec) bool {
	return e.X.Equal(o.X) && e.Y.Equal(o.Y)
}

func (e ElementSpec) Batched() ElementSpec {
	return ElementSpec{X: e.X.Batched(), Y: e.Y.Batched()}
}

func (e ElementSpec) Unbatched() ElementSpec {
	return ElementSpec{X: e.X.Unbatched(), Y: e.Y.Unbatched()}
}

func (e ElementSpec) String() string {
	return fmt.Sprintf("(x=%s, y=%s)", e.X, e.Y)
}
