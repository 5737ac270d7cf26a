package txtrecord

import (
	"reflect"
	"slices"
	"strings"
)

// field is a struct field that takes part in flattening, possibly promoted
// from an embedded struct.
type field struct {
	Name  string
	Type  reflect.Type
	Index []int

	// OmitEmpty is set by the omitempty tag option. Zero values are not
	// flattened and the field may be absent when decoding.
	OmitEmpty bool
}

// Optional reports whether the field may be absent from a record set.
func (f field) Optional() bool {
	return f.OmitEmpty || f.Type.Kind() == reflect.Pointer
}

type tagInfo struct {
	Name      string
	Explicit  bool
	OmitEmpty bool
}

func parseTag(fi reflect.StructField, structTag string) tagInfo {
	tag := fi.Tag.Get(structTag)

	if tag == "" {
		// tag is empty, take the original name
		return tagInfo{Name: fi.Name}
	}

	if tag == "-" {
		// empty name indicates: skip this field
		return tagInfo{Explicit: true}
	}

	name, options, _ := strings.Cut(tag, ",")

	info := tagInfo{Name: name, Explicit: name != ""}
	if name == "" {
		// no alias before the comma, keep field name
		info.Name = fi.Name
	}

	for _, option := range strings.Split(options, ",") {
		if option == "omitempty" {
			info.OmitEmpty = true
		}
	}

	return info
}

// fieldsOf returns the fields of the struct type ty in declaration order.
// Fields of embedded structs are promoted following the rules of encoding/json:
// the shallowest field wins, on the same depth a single tagged field wins,
// any other conflict hides the name completely.
func fieldsOf(ty reflect.Type, structTag string) []field {
	if ty.Kind() != reflect.Struct {
		panic("not a struct")
	}

	type Queued struct {
		Type        reflect.Type
		ParentIndex []int
	}

	type Candidate struct {
		Explicit bool
		Field    field
	}

	// initialize queue to walk
	queue := []Queued{{Type: ty}}

	candidates := map[string][]Candidate{}

	var order []string

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for idx := range item.Type.NumField() {
			fi := item.Type.Field(idx)

			// an unexported embedded struct still promotes its exported fields
			promotable := fi.Anonymous && fi.Type.Kind() == reflect.Struct
			if !fi.IsExported() && !promotable {
				continue
			}

			tag := parseTag(fi, structTag)
			if tag.Name == "" {
				continue
			}

			if !fi.IsExported() && tag.Explicit {
				continue
			}

			// derive index of this one. ensure we allocate a new slice by setting cap to
			// the length of the parents index
			parent := item.ParentIndex
			index := append(parent[:len(parent):len(parent)], fi.Index...)

			if fi.Anonymous && !tag.Explicit {
				// embedded pointers are not followed, we would need to allocate
				// them while decoding and could not tell absent from empty.
				if fi.Type.Kind() != reflect.Struct {
					continue
				}

				queue = append(queue, Queued{fi.Type, index})
				continue
			}

			if len(candidates[tag.Name]) == 0 {
				order = append(order, tag.Name)
			}

			candidates[tag.Name] = append(candidates[tag.Name], Candidate{
				Explicit: tag.Explicit,
				Field: field{
					Name:      tag.Name,
					Type:      fi.Type,
					Index:     index,
					OmitEmpty: tag.OmitEmpty,
				},
			})
		}
	}

	var fields []field

	for _, name := range order {
		candidates := candidates[name]

		// INVARIANT: due to walking the type in bfs order, candidates are sorted
		// by index length with the shortest index at the beginning.
		depth := len(candidates[0].Field.Index)

		visible := slices.DeleteFunc(slices.Clone(candidates), func(c Candidate) bool {
			return len(c.Field.Index) != depth
		})

		if len(visible) == 1 {
			fields = append(fields, visible[0].Field)
			continue
		}

		explicit := slices.DeleteFunc(visible, func(c Candidate) bool { return !c.Explicit })
		if len(explicit) == 1 {
			fields = append(fields, explicit[0].Field)
			continue
		}

		// conflict without a single winner, the name is ignored.
	}

	// keep declaration order of the outer struct. Promoted fields are placed
	// at the position of their embedding field.
	slices.SortStableFunc(fields, func(a, b field) int {
		return slices.Compare(a.Index, b.Index)
	})

	return fields
}
