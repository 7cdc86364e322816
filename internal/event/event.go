// Package event defines the named events delivered to a computer's script and
// the bounded FIFO inbox that buffers them between host ticks.
package event

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Well-known event names raised by the engine itself.
const (
	Shutdown         = "shutdown"
	Timer            = "timer"
	Alarm            = "alarm"
	Peripheral       = "peripheral"
	PeripheralDetach = "peripheral_detach"
	ModemMessage     = "modem_message"
	TaskComplete     = "task_complete"
)

// Event is a named message with an ordered list of opaque arguments.
type Event struct {
	Name string
	Args []cty.Value
}

// New builds an event from native Go arguments, converting each one to its
// implied cty value.
func New(name string, args ...any) (Event, error) {
	vals := make([]cty.Value, len(args))
	for i, a := range args {
		v, err := ToValue(a)
		if err != nil {
			return Event{}, fmt.Errorf("event %q argument %d: %w", name, i, err)
		}
		vals[i] = v
	}
	return Event{Name: name, Args: vals}, nil
}

// ToValue converts a native Go value into a cty.Value. cty values pass
// through untouched and nil becomes a dynamic null.
func ToValue(v any) (cty.Value, error) {
	switch v := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return v, nil
	}
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	return gocty.ToCtyValue(v, ty)
}

// String renders the event for logs, e.g. key(65, false).
func (e Event) String() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = FormatValue(a)
	}
	return e.Name + "(" + strings.Join(parts, ", ") + ")"
}

// FormatValue renders a single cty value compactly.
func FormatValue(v cty.Value) string {
	switch {
	case v == cty.NilVal || v.IsNull():
		return "null"
	case !v.IsKnown():
		return "?"
	}
	switch ty := v.Type(); {
	case ty == cty.String:
		return fmt.Sprintf("%q", v.AsString())
	case ty == cty.Number:
		return v.AsBigFloat().Text('g', -1)
	case ty == cty.Bool:
		return fmt.Sprintf("%t", v.True())
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		var parts []string
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			parts = append(parts, FormatValue(ev))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case ty.IsMapType() || ty.IsObjectType():
		var parts []string
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			parts = append(parts, k.AsString()+"="+FormatValue(ev))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return v.GoString()
}
