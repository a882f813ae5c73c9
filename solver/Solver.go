// Package solver implements gradient descent solvers over network
// Params whose state is held in explicit, serializable State values
// instead of inside a computational graph. Solvers can be JSON
// serialized into configuration files.
package solver

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"gonum.org/v1/gonum/floats"

	"github.com/samuelfneumann/ippo/network"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

// State is the accumulator state of a solver for one set of Params.
// Moments[k][i] is the k-th accumulator of Params[i]; how many
// accumulators exist depends on the solver. Step counts the updates
// applied so far.
type State struct {
	Step    int
	Moments [][][]float64
}

// Clone returns a deep copy of the State
func (s State) Clone() State {
	out := State{Step: s.Step, Moments: make([][][]float64, len(s.Moments))}
	for k := range s.Moments {
		out.Moments[k] = make([][]float64, len(s.Moments[k]))
		for i := range s.Moments[k] {
			out.Moments[k][i] = append([]float64(nil), s.Moments[k][i]...)
		}
	}
	return out
}

// Optimizer computes parameter updates. Step never modifies its
// arguments; it returns new Params and a new State.
type Optimizer interface {
	Init(params network.Params) State
	Step(params network.Params, grads [][]float64,
		state State) (network.Params, State, error)
}

// Solver wraps Optimizers so that they can be JSON marshalled and
// unmarshalled.
type Solver struct {
	Optimizer `json:"-"`
	Type
	Config
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newSolver: %v", err)
	}
	solver := Solver{Type: t, Config: c}
	solver.Optimizer = solver.Config.Create()

	return &solver, nil
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(Vanilla): reflect.TypeOf(VanillaConfig{}),
			string(Adam):    reflect.TypeOf(AdamConfig{}),
			string(RMSProp): reflect.TypeOf(RMSPropConfig{}),
		})
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %v", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("unmarshalJSON: %v", err)
	}

	s.Type = typeName
	s.Config = config
	s.Optimizer = s.Config.Create()

	return nil
}

// unmarshalConfig uses reflection to unmarshall a Config into its
// concrete type. Both the Config and its Type are returned.
func unmarshalConfig(data []byte, typeJsonField, valueJsonField string,
	customTypes map[string]reflect.Type) (Config, Type, error) {
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	typeName, ok := m[typeJsonField].(string)
	if !ok {
		return nil, "", fmt.Errorf("missing %v field", typeJsonField)
	}
	ty, found := customTypes[typeName]
	if !found {
		return nil, "", fmt.Errorf("unknown solver type %v", typeName)
	}
	value := reflect.New(ty).Interface()

	valueBytes, err := json.Marshal(m[valueJsonField])
	if err != nil {
		return nil, "", err
	}

	if err = json.Unmarshal(valueBytes, value); err != nil {
		return nil, "", err
	}
	concreteValue := reflect.ValueOf(value).Elem().Interface().(Config)

	return concreteValue, Type(typeName), nil
}

// Config implements a solver configuration and can be used to create
// the Optimizers they describe.
type Config interface {
	Create() Optimizer

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool

	Validate() error
}

// GlobalNorm returns the L2 norm of all gradients taken together
func GlobalNorm(grads [][]float64) float64 {
	sum := 0.0
	for _, g := range grads {
		sum += floats.Dot(g, g)
	}
	return math.Sqrt(sum)
}

// ClipByGlobalNorm returns a copy of grads scaled so that their global
// norm is at most maxNorm, along with the norm before clipping. If
// maxNorm <= 0, the gradients are copied unchanged.
func ClipByGlobalNorm(grads [][]float64, maxNorm float64) ([][]float64,
	float64) {
	norm := GlobalNorm(grads)
	out := make([][]float64, len(grads))
	for i := range grads {
		out[i] = append([]float64(nil), grads[i]...)
	}
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / (norm + 1e-12)
		for i := range out {
			floats.Scale(scale, out[i])
		}
	}
	return out, norm
}

// checkGrads checks that grads are parallel to params
func checkGrads(params network.Params, grads [][]float64) error {
	if len(params) != len(grads) {
		return fmt.Errorf("expected %v gradients, got %v", len(params),
			len(grads))
	}
	for i := range params {
		if len(params[i].Data) != len(grads[i]) {
			return fmt.Errorf("gradient of %v has length %v, expected %v",
				params[i].Name, len(grads[i]), len(params[i].Data))
		}
	}
	return nil
}

// zeroMoments returns k accumulators of zeroes shaped like params
func zeroMoments(params network.Params, k int) [][][]float64 {
	moments := make([][][]float64, k)
	for j := range moments {
		moments[j] = make([][]float64, len(params))
		for i := range params {
			moments[j][i] = make([]float64, len(params[i].Data))
		}
	}
	return moments
}

// checkState checks that a State has k accumulators shaped like params
func checkState(params network.Params, state State, k int) error {
	if len(state.Moments) != k {
		return fmt.Errorf("expected %v accumulators, got %v", k,
			len(state.Moments))
	}
	for j := range state.Moments {
		if err := checkGrads(params, state.Moments[j]); err != nil {
			return fmt.Errorf("accumulator %v: %v", j, err)
		}
	}
	return nil
}
