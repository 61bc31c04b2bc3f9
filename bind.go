package zerkalo

import (
	"errors"
	"reflect"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrBindTarget = errors.New("zerkalo: bind target must be a non-nil struct pointer")

// bindTables caches the field-name -> struct-index table per target type.
var bindTables, _ = lru.New[reflect.Type, map[string]int](1024)

func numericKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

func tableFor(t reflect.Type) map[string]int {
	if table, ok := bindTables.Get(t); ok {
		return table
	}
	table := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		table[strings.ToLower(f.Name)] = i
	}
	bindTables.Add(t, table)
	return table
}

// Bind mirrors the declared fields of src into same-named exported
// fields of target whenever src replaces. Fields the target does not
// declare, or whose types do not fit, are skipped and reported through
// the logger, never raised. The mapping table is resolved once, at
// registration.
func (reg *Registry) Bind(src *Obj, target any) (*Subscription, error) {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, ErrBindTarget
	}
	elem := rv.Elem()
	table := tableFor(elem.Type())

	bound := make(map[string]int, len(table))
	for _, name := range src.Fields() {
		ndx, ok := table[strings.ToLower(name)]
		if !ok {
			if reg.log != nil {
				reg.log.Debug("bind: target has no such field", "field", name)
			}
			SkippedBindFields.Inc()
			continue
		}
		bound[name] = ndx
	}

	sub := reg.OnReplace(src.RefID(), func() {
		for name, ndx := range bound {
			value := src.Get(name)
			if value == nil {
				continue
			}
			dst := elem.Field(ndx)
			v := reflect.ValueOf(value)
			switch {
			case v.Type().AssignableTo(dst.Type()):
				dst.Set(v)
			case numericKind(v.Kind()) && numericKind(dst.Kind()):
				dst.Set(v.Convert(dst.Type()))
			default:
				if reg.log != nil {
					reg.log.Warn("bind: incompatible field skipped",
						"field", name, "have", v.Type().String(), "want", dst.Type().String())
				}
				SkippedBindFields.Inc()
			}
		}
	})
	return sub, nil
}
