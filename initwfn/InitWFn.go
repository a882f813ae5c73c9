// Package initwfn implements seeded weight initializers which produce
// Gorgonia InitWFn's and can be JSON serialized into configuration
// files.
//
// Gorgonia's own initializers draw from the global random source, so
// two networks built with the same configuration differ. Every InitWFn
// here is instead created from an explicit seed.
package initwfn

import (
	"encoding/json"
	"fmt"
	"reflect"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Type describes different types of InitWFn that are available.
// Type is used to implement a basic type system of InitWFn's.
type Type string

// Available InitWFn types
const (
	GlorotU  Type = "GlorotU"
	GlorotN  Type = "GlorotN"
	HeU      Type = "HeU"
	HeN      Type = "HeN"
	Gaussian Type = "Gaussian"
	Uniform  Type = "Uniform"
	Zeroes   Type = "Zeroes"
	Ones     Type = "Ones"
	Constant Type = "Constant"
)

// InitWFn wraps a seeded weight initializer configuration so that it
// can be JSON marshalled and unmarshalled.
type InitWFn struct {
	Type
	Config
}

// newInitWFn returns a new InitWFn
func newInitWFn(c Config) (*InitWFn, error) {
	if c == nil {
		return nil, fmt.Errorf("newInitWFn: nil config")
	}
	return &InitWFn{Type: c.Type(), Config: c}, nil
}

// InitWFn returns a Gorgonia InitWFn drawing from a source seeded with
// seed. Successive calls of the returned InitWFn continue the same
// random stream.
func (w *InitWFn) InitWFn(seed uint64) G.InitWFn {
	return w.Config.Create(rand.NewSource(seed))
}

// String implements the fmt.Stringer interface
func (w *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: %v}", w.Type, w.Config)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (w *InitWFn) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(GlorotU):  reflect.TypeOf(GlorotUConfig{}),
			string(GlorotN):  reflect.TypeOf(GlorotNConfig{}),
			string(HeU):      reflect.TypeOf(HeUConfig{}),
			string(HeN):      reflect.TypeOf(HeNConfig{}),
			string(Gaussian): reflect.TypeOf(GaussianConfig{}),
			string(Uniform):  reflect.TypeOf(UniformConfig{}),
			string(Zeroes):   reflect.TypeOf(ZeroesConfig{}),
			string(Ones):     reflect.TypeOf(OnesConfig{}),
			string(Constant): reflect.TypeOf(ConstantConfig{}),
		})
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %v", err)
	}

	w.Type = typeName
	w.Config = config
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
		return nil, "", fmt.Errorf("unknown initializer type %v", typeName)
	}
	value := reflect.New(ty).Interface()

	valueBytes, err := json.Marshal(m[valueJsonField])
	if err != nil {
		return nil, "", err
	}

	// A missing config field marshals to null, which leaves the zero
	// valued config in place
	if err = json.Unmarshal(valueBytes, value); err != nil {
		return nil, "", err
	}
	concreteValue := reflect.ValueOf(value).Elem().Interface().(Config)

	return concreteValue, Type(typeName), nil
}

// Config implements a seeded weight initializer configuration and can
// be used to create the described Gorgonia InitWFn's.
type Config interface {
	// Create returns the Gorgonia InitWFn that the Config describes,
	// drawing random numbers from src
	Create(src rand.Source) G.InitWFn

	// Type returns the type of Gorgonia InitWFn that is returned
	Type() Type
}

// fans returns the fan in and fan out of a weight of shape s. Matrices
// are stored (in, out).
func fans(s ...int) (float64, float64) {
	switch len(s) {
	case 0:
		return 1, 1
	case 1:
		return float64(s[0]), float64(s[0])
	default:
		receptive := 1
		for _, d := range s[2:] {
			receptive *= d
		}
		return float64(s[0] * receptive), float64(s[1] * receptive)
	}
}

// fill returns a backing slice of dtype dt and shape s filled by
// successive calls to sample
func fill(dt tensor.Dtype, sample func() float64, s ...int) interface{} {
	size := tensor.Shape(s).TotalSize()
	switch dt {
	case tensor.Float64:
		out := make([]float64, size)
		for i := range out {
			out[i] = sample()
		}
		return out
	case tensor.Float32:
		out := make([]float32, size)
		for i := range out {
			out[i] = float32(sample())
		}
		return out
	default:
		panic(fmt.Sprintf("fill: unsupported dtype %v", dt))
	}
}
