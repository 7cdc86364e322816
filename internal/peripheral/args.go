package peripheral

import (
	"fmt"
	"math/big"

	"github.com/zclconf/go-cty/cty"
)

func typeName(v cty.Value) string {
	if v == cty.NilVal || v.IsNull() {
		return "nil"
	}
	return v.Type().FriendlyName()
}

// ArgError describes a badly typed or missing method argument.
func ArgError(index int, want string, got cty.Value) error {
	return fmt.Errorf("bad argument #%d (%s expected, got %s)", index+1, want, typeName(got))
}

func arg(args []cty.Value, i int) cty.Value {
	if i < len(args) {
		return args[i]
	}
	return cty.NullVal(cty.DynamicPseudoType)
}

// IntArg reads argument i as an integer.
func IntArg(args []cty.Value, i int) (int, error) {
	v := arg(args, i)
	if v.IsNull() || !v.IsKnown() || v.Type() != cty.Number {
		return 0, ArgError(i, "number", v)
	}
	bf := v.AsBigFloat()
	n, acc := bf.Int64()
	if acc != big.Exact {
		return 0, fmt.Errorf("bad argument #%d (integer expected)", i+1)
	}
	return int(n), nil
}

// FloatArg reads argument i as a float.
func FloatArg(args []cty.Value, i int) (float64, error) {
	v := arg(args, i)
	if v.IsNull() || !v.IsKnown() || v.Type() != cty.Number {
		return 0, ArgError(i, "number", v)
	}
	f, _ := v.AsBigFloat().Float64()
	return f, nil
}

// StringArg reads argument i as a string.
func StringArg(args []cty.Value, i int) (string, error) {
	v := arg(args, i)
	if v.IsNull() || !v.IsKnown() || v.Type() != cty.String {
		return "", ArgError(i, "string", v)
	}
	return v.AsString(), nil
}

// OptStringArg reads argument i as a string, or def when it is absent.
func OptStringArg(args []cty.Value, i int, def string) (string, error) {
	if arg(args, i).IsNull() {
		return def, nil
	}
	return StringArg(args, i)
}

// Values is shorthand for building a method result list.
func Values(vs ...cty.Value) []cty.Value {
	return vs
}
