package nn

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Parameter is a named trainable matrix together with its accumulated gradient
type Parameter struct {
	Name         string
	Value        *mat.Dense
	Grad         *mat.Dense
	RequiresGrad bool
}

// NewParameter creates a parameter of the given shape. data may be nil for zeros.
func NewParameter(name string, rows, cols int, data []float64) *Parameter {
	return &Parameter{
		Name:         name,
		Value:        mat.NewDense(rows, cols, data),
		Grad:         mat.NewDense(rows, cols, nil),
		RequiresGrad: true,
	}
}

// Shape returns [rows, cols]
func (p *Parameter) Shape() []int {
	r, c := p.Value.Dims()
	return []int{r, c}
}

// NumElements returns rows*cols
func (p *Parameter) NumElements() int {
	r, c := p.Value.Dims()
	return r * c
}

// ZeroGrad clears the accumulated gradient
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// accumulate adds g into the gradient unless the parameter is frozen
func (p *Parameter) accumulate(g mat.Matrix) {
	if !p.RequiresGrad {
		return
	}
	p.Grad.Add(p.Grad, g)
}

// SetRequiresGrad sets gradient tracking on every parameter in params
func SetRequiresGrad(params []*Parameter, requiresGrad bool) {
	for _, p := range params {
		p.RequiresGrad = requiresGrad
	}
}

// CountParameters returns the total number of elements, and how many of them are trainable
func CountParameters(params []*Parameter) (total, trainable int) {
	for _, p := range params {
		n := p.NumElements()
		total += n
		if p.RequiresGrad {
			trainable += n
		}
	}
	return total, trainable
}

// StateDict maps parameter names to independent copies of their values
type StateDict map[string]*mat.Dense

// StateDictOf deep-copies the values of params
func StateDictOf(params []*Parameter) StateDict {
	sd := make(StateDict, len(params))
	for _, p := range params {
		sd[p.Name] = mat.DenseCopyOf(p.Value)
	}
	return sd
}

// Clone returns a deep copy
func (sd StateDict) Clone() StateDict {
	out := make(StateDict, len(sd))
	for k, v := range sd {
		out[k] = mat.DenseCopyOf(v)
	}
	return out
}

// Names returns the keys in sorted order
func (sd StateDict) Names() []string {
	names := make([]string, 0, len(sd))
	for k := range sd {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether both dicts hold the same names with values within tol
func (sd StateDict) Equal(other StateDict, tol float64) bool {
	if len(sd) != len(other) {
		return false
	}
	for k, v := range sd {
		o, ok := other[k]
		if !ok {
			return false
		}
		if !mat.EqualApprox(v, o, tol) {
			return false
		}
	}
	return true
}

// LoadInto copies values from sd into params. Every parameter must be present with a matching shape.
func (sd StateDict) LoadInto(params []*Parameter) error {
	for _, p := range params {
		v, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("missing key %q in state dict", p.Name)
		}
		pr, pc := p.Value.Dims()
		vr, vc := v.Dims()
		if pr != vr || pc != vc {
			return fmt.Errorf("size mismatch for %s: copying a param with shape [%d %d], the shape in current model is [%d %d]",
				p.Name, vr, vc, pr, pc)
		}
	}
	for _, p := range params {
		p.Value.Copy(sd[p.Name])
	}
	return nil
}

// heUniform fills data with U(-bound, bound), bound = 1/sqrt(fanIn)
func heUniform(data []float64, fanIn int, rng interface{ Float64() float64 }) {
	bound := 1 / math.Sqrt(float64(fanIn))
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * bound
	}
}
