package script

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/zclconf/go-cty/cty"
	"go.starlark.net/starlark"
)

// ToStarlark converts a cty value into its Starlark equivalent. Integral
// numbers become int, other numbers float; lists, sets and tuples become
// lists; maps and objects become dicts with string keys.
func ToStarlark(v cty.Value) (starlark.Value, error) {
	if v == cty.NilVal || v.IsNull() {
		return starlark.None, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("cannot convert unknown value")
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return starlark.String(v.AsString()), nil
	case ty == cty.Bool:
		return starlark.Bool(v.True()), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return starlark.MakeInt64(i), nil
			}
			bi, _ := bf.Int(nil)
			return starlark.MakeBigInt(bi), nil
		}
		f, _ := bf.Float64()
		return starlark.Float(f), nil
	case ty.IsListType() || ty.IsSetType() || ty.IsTupleType():
		elems := make([]starlark.Value, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			sv, err := ToStarlark(ev)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case ty.IsMapType() || ty.IsObjectType():
		d := starlark.NewDict(v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			sv, err := ToStarlark(ev)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k.AsString()), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}

// FromStarlark converts a Starlark value into a cty value. Lists and tuples
// become cty tuples so that mixed element types survive; dicts must have
// string keys and become objects.
func FromStarlark(v starlark.Value) (cty.Value, error) {
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case starlark.Bool:
		return cty.BoolVal(bool(v)), nil
	case starlark.String:
		return cty.StringVal(string(v)), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return cty.NumberIntVal(i), nil
		}
		return cty.NumberVal(new(big.Float).SetInt(v.BigInt())), nil
	case starlark.Float:
		if math.IsNaN(float64(v)) {
			return cty.NilVal, errors.New("cannot pass NaN outside the script")
		}
		return cty.NumberFloatVal(float64(v)), nil
	case starlark.Tuple:
		return sequence(v)
	case *starlark.List:
		elems := make([]starlark.Value, v.Len())
		for i := range elems {
			elems[i] = v.Index(i)
		}
		return sequence(elems)
	case *starlark.Dict:
		attrs := make(map[string]cty.Value, v.Len())
		for _, item := range v.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return cty.NilVal, fmt.Errorf("dict key %s is not a string", item[0].String())
			}
			cv, err := FromStarlark(item[1])
			if err != nil {
				return cty.NilVal, err
			}
			attrs[string(k)] = cv
		}
		if len(attrs) == 0 {
			return cty.EmptyObjectVal, nil
		}
		return cty.ObjectVal(attrs), nil
	}
	return cty.NilVal, fmt.Errorf("cannot pass a %s outside the script", v.Type())
}

func sequence(elems []starlark.Value) (cty.Value, error) {
	if len(elems) == 0 {
		return cty.EmptyTupleVal, nil
	}
	vals := make([]cty.Value, len(elems))
	for i, e := range elems {
		cv, err := FromStarlark(e)
		if err != nil {
			return cty.NilVal, err
		}
		vals[i] = cv
	}
	return cty.TupleVal(vals), nil
}

// fromArgs converts every positional argument.
func fromArgs(args starlark.Tuple) ([]cty.Value, error) {
	out := make([]cty.Value, len(args))
	for i, a := range args {
		v, err := FromStarlark(a)
		if err != nil {
			return nil, fmt.Errorf("argument #%d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// results turns method results into a single Starlark value: None for no
// results, the value itself for one, and a tuple for several.
func results(vals []cty.Value) (starlark.Value, error) {
	switch len(vals) {
	case 0:
		return starlark.None, nil
	case 1:
		return ToStarlark(vals[0])
	}
	out := make(starlark.Tuple, len(vals))
	for i, v := range vals {
		sv, err := ToStarlark(v)
		if err != nil {
			return nil, err
		}
		out[i] = sv
	}
	return out, nil
}
