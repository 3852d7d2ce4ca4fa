package checkpoints

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bachhisto/histonet/nn"
	"gonum.org/v1/gonum/mat"
)

// WeightsFromStateDict converts a state dict into weight tensors sorted by name.
// Layer is the name up to the last dot and Type is the final segment.
func WeightsFromStateDict(sd nn.StateDict) []WeightTensor {
	weights := make([]WeightTensor, 0, len(sd))
	for _, name := range sd.Names() {
		m := sd[name]
		r, c := m.Dims()
		data := make([]float64, r*c)
		copy(data, m.RawMatrix().Data)

		layer, kind := name, ""
		if i := strings.LastIndex(name, "."); i >= 0 {
			layer, kind = name[:i], name[i+1:]
		}
		weights = append(weights, WeightTensor{
			Name:  name,
			Shape: []int{r, c},
			Data:  data,
			Layer: layer,
			Type:  kind,
		})
	}
	return weights
}

// StateDictFromWeights converts weight tensors back into a state dict.
// One-dimensional tensors become single-row matrices.
func StateDictFromWeights(weights []WeightTensor) (nn.StateDict, error) {
	sd := make(nn.StateDict, len(weights))
	for _, w := range weights {
		m, err := toDense(w.Name, w.Shape, w.Data)
		if err != nil {
			return nil, err
		}
		if _, dup := sd[w.Name]; dup {
			return nil, fmt.Errorf("duplicate weight %q in checkpoint", w.Name)
		}
		sd[w.Name] = m
	}
	return sd, nil
}

func toDense(name string, shape []int, data []float64) (*mat.Dense, error) {
	var rows, cols int
	switch len(shape) {
	case 1:
		rows, cols = 1, shape[0]
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return nil, fmt.Errorf("tensor %q: unsupported rank %d", name, len(shape))
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("tensor %q: invalid shape %v", name, shape)
	}
	if rows*cols != len(data) {
		return nil, fmt.Errorf("tensor %q: shape %v needs %d values, found %d", name, shape, rows*cols, len(data))
	}
	buf := make([]float64, len(data))
	copy(buf, data)
	return mat.NewDense(rows, cols, buf), nil
}

// FilterWeights returns the weights whose names do not start with any of the prefixes
func FilterWeights(weights []WeightTensor, excludePrefixes ...string) []WeightTensor {
	var out []WeightTensor
next:
	for _, w := range weights {
		for _, p := range excludePrefixes {
			if strings.HasPrefix(w.Name, p) {
				continue next
			}
		}
		out = append(out, w)
	}
	return out
}

// TensorFromDense converts a matrix into an optimizer state tensor
func TensorFromDense(name, stateType string, m *mat.Dense) OptimizerTensor {
	r, c := m.Dims()
	data := make([]float64, r*c)
	copy(data, m.RawMatrix().Data)
	return OptimizerTensor{Name: name, Shape: []int{r, c}, Data: data, StateType: stateType}
}

// Dense converts an optimizer state tensor back into a matrix
func (t OptimizerTensor) Dense() (*mat.Dense, error) {
	return toDense(t.Name, t.Shape, t.Data)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
