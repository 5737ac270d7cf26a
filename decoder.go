package txtrecord

import (
	"encoding"
	"errors"
	"fmt"
	"golang.org/x/exp/constraints"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// Unmarshal reconstructs target from the records in lookup using the DefaultConfig.
// target must be a non-nil pointer.
func Unmarshal(lookup Lookup, target any) error {
	return dec.unmarshal(lookup, dec.config, target)
}

// UnmarshalConfig reconstructs target from the records in lookup using the given config.
func UnmarshalConfig(lookup Lookup, config Config, target any) error {
	return dec.unmarshal(lookup, config, target)
}

func UnmarshalNew[T any](lookup Lookup) (T, error) {
	return UnmarshalNewWith[T](dec, lookup)
}

func UnmarshalNewWith[T any](dec *Decoder, lookup Lookup) (T, error) {
	var target T
	err := dec.Unmarshal(lookup, &target)
	return target, err
}

// A setter sets the reflect.Value to the value found at key.
type setter func(s *state, key string, target reflect.Value) error

// A presence reports if any value for a type is stored at key.
type presence func(s *state, key string) bool

type plan struct {
	set     setter
	present presence
}

// A set of types that are currently in construction
type typeSet map[reflect.Type]struct{}

var tyTextUnmarshaler = reflect.TypeFor[encoding.TextUnmarshaler]()

// DefaultMaxSequenceLen is the largest sequence a new Decoder accepts.
// Elements that may be absent, like nil pointers, produce no records at all,
// without a limit a single length record decides the size of the allocation.
const DefaultMaxSequenceLen = 1 << 16

// The default Decoder instance.
var dec = NewDecoder()

// Decoder can be used to customize unmarshalling. It is safe for concurrent use.
type Decoder struct {
	// the struct tag that is used
	structTag string

	config Config

	// Skip struct fields that are not present in the records
	// instead of failing with a MissingFieldError.
	allowMissing bool

	// Upper bound for the length record of a sequence, zero or less disables the check.
	maxSequenceLen int

	// Cache for plans, indexed by reflect.Type. Plans do not depend on
	// the config, decoders that differ only by config share the cache.
	planCache *sync.Map
}

func NewDecoder() *Decoder {
	return &Decoder{
		structTag:      "json",
		config:         DefaultConfig(),
		maxSequenceLen: DefaultMaxSequenceLen,
		planCache:      &sync.Map{},
	}
}

func (d *Decoder) WithTag(structTag string) *Decoder {
	if d.structTag == structTag {
		return d
	}

	return &Decoder{
		structTag:      structTag,
		config:         d.config,
		allowMissing:   d.allowMissing,
		maxSequenceLen: d.maxSequenceLen,
		planCache:      &sync.Map{},
	}
}

func (d *Decoder) WithConfig(config Config) *Decoder {
	return &Decoder{
		structTag:      d.structTag,
		config:         config,
		allowMissing:   d.allowMissing,
		maxSequenceLen: d.maxSequenceLen,
		planCache:      d.planCache,
	}
}

// AllowMissing returns a Decoder that leaves struct fields untouched if no
// record exists for them, instead of failing with a MissingFieldError.
func (d *Decoder) AllowMissing() *Decoder {
	if d.allowMissing {
		return d
	}

	return &Decoder{
		structTag:      d.structTag,
		config:         d.config,
		allowMissing:   true,
		maxSequenceLen: d.maxSequenceLen,
		planCache:      &sync.Map{},
	}
}

// WithMaxSequenceLen returns a Decoder that rejects length records above maxLen
// with an InvalidFormatError. A value of zero or less disables the check.
func (d *Decoder) WithMaxSequenceLen(maxLen int) *Decoder {
	return &Decoder{
		structTag:      d.structTag,
		config:         d.config,
		allowMissing:   d.allowMissing,
		maxSequenceLen: maxLen,
		planCache:      d.planCache,
	}
}

// Unmarshal reconstructs target from the records in lookup. The target is only
// modified if decoding succeeds as a whole.
func (d *Decoder) Unmarshal(lookup Lookup, target any) error {
	return d.unmarshal(lookup, d.config, target)
}

func (d *Decoder) unmarshal(lookup Lookup, config Config, target any) error {
	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Pointer || targetValue.IsNil() {
		return fmt.Errorf("%w: target must be a non-nil pointer, got %T", ErrUnsupportedType, target)
	}

	ty := targetValue.Type().Elem()

	// build the plan for the targets type
	plan, err := d.planFor(ty)
	if err != nil {
		return err
	}

	// decode into a fresh value, no partial result is visible on error
	fresh := reflect.New(ty).Elem()
	if err := plan.set(newState(lookup, config, d.maxSequenceLen), "", fresh); err != nil {
		return err
	}

	targetValue.Elem().Set(fresh)

	return nil
}

// state holds the inputs of a single Unmarshal call.
type state struct {
	lookup Lookup
	lister KeyLister
	config Config

	maxSequenceLen int
}

func newState(lookup Lookup, config Config, maxSequenceLen int) *state {
	if records, ok := lookup.(Records); ok {
		// index once instead of scanning the records for every key
		lookup = records.Map()
	}

	lister, _ := lookup.(KeyLister)

	return &state{lookup: lookup, lister: lister, config: config, maxSequenceLen: maxSequenceLen}
}

func (s *state) has(key string) bool {
	_, ok := s.lookup.Lookup(key)
	return ok
}

// required returns the value at key or a MissingFieldError.
func (s *state) required(key string) (string, error) {
	value, ok := s.lookup.Lookup(key)
	if !ok {
		return "", MissingFieldError{Key: key}
	}

	return value, nil
}

// length reads the element count of the sequence at key.
func (s *state) length(key string) (int, error) {
	lengthKey := s.config.LengthKey(key)

	text, err := s.required(lengthKey)
	if err != nil {
		return 0, err
	}

	length, ok := parseLength(text)
	if !ok {
		return 0, InvalidFormatError{Key: lengthKey, Value: text, Reason: "length is not a non-negative integer"}
	}

	if s.maxSequenceLen > 0 && length > s.maxSequenceLen {
		return 0, InvalidFormatError{
			Key:    lengthKey,
			Value:  text,
			Reason: fmt.Sprintf("length exceeds the maximum of %d elements", s.maxSequenceLen),
		}
	}

	return length, nil
}

// hasChildren reports if any key belongs to an object at prefix. Requires a KeyLister.
func (s *state) hasChildren(prefix string) bool {
	if s.lister == nil {
		return false
	}

	for key := range s.lister.Keys() {
		if prefix == "" || strings.HasPrefix(key, prefix+s.config.ObjectSeparator) {
			return true
		}
	}

	return false
}

// childNames returns the names of the direct children of the object at prefix,
// sorted by name. Sequences are reported by their name, not by the names of
// their elements or their length record. A name ending in the length suffix
// always counts as a sequence.
func (s *state) childNames(prefix string) ([]string, error) {
	if s.lister == nil {
		return nil, fmt.Errorf("list children of %q: %w", prefix, ErrKeysRequired)
	}

	config := s.config

	names := map[string]struct{}{}
	sequences := map[string]struct{}{}

	for key := range s.lister.Keys() {
		rest := key
		if prefix != "" {
			if !strings.HasPrefix(key, prefix+config.ObjectSeparator) {
				continue
			}

			rest = key[len(prefix)+len(config.ObjectSeparator):]
		}

		if config.ObjectSeparator != "" {
			if idx := strings.Index(rest, config.ObjectSeparator); idx >= 0 {
				rest = rest[:idx]
			}
		}

		if config.ArrayLenSuffix != "" && strings.HasSuffix(rest, config.ArrayLenSuffix) {
			sequence := strings.TrimSuffix(rest, config.ArrayLenSuffix)
			sequences[sequence] = struct{}{}
			names[sequence] = struct{}{}
			continue
		}

		names[rest] = struct{}{}
	}

	var result []string

	for name := range names {
		if isElementName(name, sequences, config.ArraySeparator) {
			continue
		}

		result = append(result, name)
	}

	slices.Sort(result)

	return result, nil
}

// isElementName reports if name addresses an element (or a nested element)
// of one of the given sequences.
func isElementName(name string, sequences map[string]struct{}, separator string) bool {
	for sequence := range sequences {
		if sequence == name {
			continue
		}

		rest, ok := strings.CutPrefix(name, sequence+separator)
		if ok && rest != "" && rest[0] >= '0' && rest[0] <= '9' {
			return true
		}
	}

	return false
}

// planBuild holds the plans of a single construction. They are published to
// the cache only after the outermost plan was built successfully.
type planBuild struct {
	inConstruction typeSet
	built          map[reflect.Type]*plan
}

// planFor returns the plan of ty, building and caching it if needed.
func (d *Decoder) planFor(ty reflect.Type) (*plan, error) {
	if cached, ok := d.planCache.Load(ty); ok {
		return cached.(*plan), nil
	}

	build := &planBuild{
		inConstruction: typeSet{},
		built:          map[reflect.Type]*plan{},
	}

	plan, err := d.planOf(build, ty)
	if err != nil {
		return nil, err
	}

	for builtType, builtPlan := range build.built {
		d.planCache.LoadOrStore(builtType, builtPlan)
	}

	return plan, nil
}

func (d *Decoder) planOf(build *planBuild, ty reflect.Type) (*plan, error) {
	if cached, ok := d.planCache.Load(ty); ok {
		return cached.(*plan), nil
	}

	if built, ok := build.built[ty]; ok {
		return built, nil
	}

	if _, ok := build.inConstruction[ty]; ok {
		// detected a cycle. return a plan that looks up the actual plan when
		// executed. It is complete once the construction has finished.
		lazyPlan := &plan{
			set: func(s *state, key string, target reflect.Value) error {
				return build.built[ty].set(s, key, target)
			},
			present: func(s *state, key string) bool {
				return build.built[ty].present(s, key)
			},
		}

		return lazyPlan, nil
	}

	build.inConstruction[ty] = struct{}{}

	plan, err := d.makePlanOf(build, ty)
	if err != nil {
		return nil, err
	}

	build.built[ty] = plan

	return plan, nil
}

func (d *Decoder) makePlanOf(build *planBuild, ty reflect.Type) (*plan, error) {
	if ty.Kind() != reflect.Pointer && reflect.PointerTo(ty).Implements(tyTextUnmarshaler) {
		return scalarPlan(setTextUnmarshaler), nil
	}

	switch ty.Kind() {
	case reflect.Bool:
		return scalarPlan(makeSetScalar(Text.Bool, reflect.Value.SetBool)), nil

	case reflect.Int:
		return scalarPlan(makeSetInt(Text.Int, reflect.Value.SetInt)), nil

	case reflect.Int8:
		return scalarPlan(makeSetInt(Text.Int8, reflect.Value.SetInt)), nil

	case reflect.Int16:
		return scalarPlan(makeSetInt(Text.Int16, reflect.Value.SetInt)), nil

	case reflect.Int32:
		return scalarPlan(makeSetInt(Text.Int32, reflect.Value.SetInt)), nil

	case reflect.Int64:
		return scalarPlan(makeSetInt(Text.Int64, reflect.Value.SetInt)), nil

	case reflect.Uint:
		return scalarPlan(makeSetInt(Text.Uint, reflect.Value.SetUint)), nil

	case reflect.Uint8:
		return scalarPlan(makeSetInt(Text.Uint8, reflect.Value.SetUint)), nil

	case reflect.Uint16:
		return scalarPlan(makeSetInt(Text.Uint16, reflect.Value.SetUint)), nil

	case reflect.Uint32:
		return scalarPlan(makeSetInt(Text.Uint32, reflect.Value.SetUint)), nil

	case reflect.Uint64:
		return scalarPlan(makeSetInt(Text.Uint64, reflect.Value.SetUint)), nil

	case reflect.Float32:
		return scalarPlan(makeSetFloat(Text.Float32)), nil

	case reflect.Float64:
		return scalarPlan(makeSetFloat(Text.Float64)), nil

	case reflect.String:
		return scalarPlan(makeSetScalar(func(text Text) (string, error) { return string(text), nil }, reflect.Value.SetString)), nil

	case reflect.Pointer:
		return d.makePointerPlan(build, ty)

	case reflect.Struct:
		return d.makeStructPlan(build, ty)

	case reflect.Slice:
		if ty.Elem().Kind() == reflect.Uint8 {
			return scalarPlan(makeSetScalar(func(text Text) ([]byte, error) { return []byte(text), nil }, reflect.Value.SetBytes)), nil
		}

		return d.makeSlicePlan(build, ty)

	case reflect.Array:
		return d.makeArrayPlan(build, ty)

	case reflect.Map:
		return d.makeMapPlan(build, ty)

	case reflect.Interface:
		if ty.NumMethod() != 0 {
			return nil, UnsupportedTypeError{Type: ty, Reason: "only the empty interface can be decoded"}
		}

		return anyPlan(), nil

	default:
		return nil, UnsupportedTypeError{Type: ty}
	}
}

// scalarPlan builds the plan of a value stored in a single record.
func scalarPlan(set setter) *plan {
	return &plan{set: set, present: (*state).has}
}

func makeSetScalar[T any](parse func(Text) (T, error), setValue func(reflect.Value, T)) setter {
	return func(s *state, key string, target reflect.Value) error {
		text, err := s.required(key)
		if err != nil {
			return err
		}

		parsedValue, err := parse(Text(text))
		if err != nil {
			return InvalidValueError{Key: key, Value: text, Type: target.Type(), Err: err}
		}

		setValue(target, parsedValue)
		return nil
	}
}

func makeSetInt[T constraints.Integer, V int64 | uint64](parse func(Text) (T, error), setValue func(reflect.Value, V)) setter {
	return makeSetScalar(parse, func(target reflect.Value, value T) {
		setValue(target, V(value))
	})
}

func makeSetFloat[T constraints.Float](parse func(Text) (T, error)) setter {
	return makeSetScalar(parse, func(target reflect.Value, value T) {
		target.SetFloat(float64(value))
	})
}

func setTextUnmarshaler(s *state, key string, target reflect.Value) error {
	text, err := s.required(key)
	if err != nil {
		return err
	}

	m := target.Addr().Interface().(encoding.TextUnmarshaler)
	if err := m.UnmarshalText([]byte(text)); err != nil {
		return InvalidValueError{Key: key, Value: text, Type: target.Type(), Err: err}
	}

	return nil
}

func (d *Decoder) makePointerPlan(build *planBuild, ty reflect.Type) (*plan, error) {
	pointeeType := ty.Elem()

	pointeePlan, err := d.planOf(build, pointeeType)
	if err != nil {
		return nil, err
	}

	setter := func(s *state, key string, target reflect.Value) error {
		if !pointeePlan.present(s, key) {
			// absent, the pointer stays nil
			target.SetZero()
			return nil
		}

		// newValue is now a pointer to an instance of the pointeeType
		newValue := reflect.New(pointeeType)
		if err := pointeePlan.set(s, key, newValue.Elem()); err != nil {
			return err
		}

		target.Set(newValue)

		return nil
	}

	present := func(s *state, key string) bool {
		return pointeePlan.present(s, key)
	}

	return &plan{set: setter, present: present}, nil
}

func (d *Decoder) makeStructPlan(build *planBuild, ty reflect.Type) (*plan, error) {
	var plans []*plan

	fields := fieldsOf(ty, d.structTag)

	for _, field := range fields {
		fieldPlan, err := d.planOf(build, field.Type)
		if err != nil {
			return nil, fmt.Errorf("plan for field %q: %w", field.Name, err)
		}

		plans = append(plans, fieldPlan)
	}

	setter := func(s *state, key string, target reflect.Value) error {
		for idx, field := range fields {
			fieldKey := s.config.JoinField(key, field.Name)

			if (d.allowMissing || field.OmitEmpty) && !plans[idx].present(s, fieldKey) {
				continue
			}

			fieldValue := target.FieldByIndex(field.Index)
			if err := plans[idx].set(s, fieldKey, fieldValue); err != nil {
				return err
			}
		}

		return nil
	}

	present := func(s *state, key string) bool {
		if s.lister != nil {
			return s.hasChildren(key)
		}

		// without a listing we look for any of the required fields. Optional
		// fields are not followed, they might lead into a recursive type.
		for idx, field := range fields {
			if field.Optional() {
				continue
			}

			if plans[idx].present(s, s.config.JoinField(key, field.Name)) {
				return true
			}
		}

		return false
	}

	return &plan{set: setter, present: present}, nil
}

func (d *Decoder) makeSlicePlan(build *planBuild, ty reflect.Type) (*plan, error) {
	elementPlan, err := d.planOf(build, ty.Elem())
	if err != nil {
		return nil, fmt.Errorf("plan for element type %q: %w", ty, err)
	}

	setter := func(s *state, key string, target reflect.Value) error {
		elementCount, err := s.length(key)
		if err != nil {
			return err
		}

		// do not trust the length record for preallocation
		sliceValue := reflect.MakeSlice(ty, 0, min(elementCount, 1024))

		// an empty element
		placeholderValue := reflect.New(ty.Elem()).Elem()

		for idx := range elementCount {
			// add an empty element to grow the list
			sliceValue = reflect.Append(sliceValue, placeholderValue)

			elementKey := s.config.JoinIndex(key, idx)
			if err := elementPlan.set(s, elementKey, sliceValue.Index(idx)); err != nil {
				return err
			}
		}

		target.Set(sliceValue)

		return nil
	}

	return &plan{set: setter, present: sequencePresent}, nil
}

func (d *Decoder) makeArrayPlan(build *planBuild, ty reflect.Type) (*plan, error) {
	elementPlan, err := d.planOf(build, ty.Elem())
	if err != nil {
		return nil, fmt.Errorf("plan for element type %q: %w", ty, err)
	}

	// number of elements in the array
	elementCount := ty.Len()

	setter := func(s *state, key string, target reflect.Value) error {
		storedCount, err := s.length(key)
		if err != nil {
			return err
		}

		if storedCount != elementCount {
			return InvalidFormatError{
				Key:    s.config.LengthKey(key),
				Value:  fmt.Sprint(storedCount),
				Reason: fmt.Sprintf("array of type %q needs exactly %d elements", ty, elementCount),
			}
		}

		for idx := range elementCount {
			elementKey := s.config.JoinIndex(key, idx)
			if err := elementPlan.set(s, elementKey, target.Index(idx)); err != nil {
				return err
			}
		}

		return nil
	}

	return &plan{set: setter, present: sequencePresent}, nil
}

func sequencePresent(s *state, key string) bool {
	return s.has(s.config.LengthKey(key))
}

func (d *Decoder) makeMapPlan(build *planBuild, ty reflect.Type) (*plan, error) {
	keyType := ty.Key()
	valueType := ty.Elem()

	parseKey, err := mapKeyParser(keyType)
	if err != nil {
		return nil, err
	}

	valuePlan, err := d.planOf(build, valueType)
	if err != nil {
		return nil, fmt.Errorf("plan for value type %q: %w", ty, err)
	}

	setter := func(s *state, key string, target reflect.Value) error {
		names, err := s.childNames(key)
		if err != nil {
			return err
		}

		mapTarget := reflect.MakeMapWithSize(ty, len(names))

		for _, name := range names {
			entryKey := s.config.JoinField(key, name)

			keyTarget := reflect.New(keyType).Elem()
			if err := parseKey(name, keyTarget); err != nil {
				return InvalidValueError{Key: entryKey, Value: name, Type: keyType, Err: err}
			}

			valueTarget := reflect.New(valueType).Elem()
			if err := valuePlan.set(s, entryKey, valueTarget); err != nil {
				return err
			}

			mapTarget.SetMapIndex(keyTarget, valueTarget)
		}

		target.Set(mapTarget)

		return nil
	}

	return &plan{set: setter, present: (*state).hasChildren}, nil
}

func mapKeyParser(ty reflect.Type) (func(string, reflect.Value) error, error) {
	if ty.Kind() != reflect.Pointer && reflect.PointerTo(ty).Implements(tyTextUnmarshaler) {
		parse := func(name string, target reflect.Value) error {
			return target.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(name))
		}

		return parse, nil
	}

	switch ty.Kind() {
	case reflect.String:
		parse := func(name string, target reflect.Value) error {
			target.SetString(name)
			return nil
		}

		return parse, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parse := func(name string, target reflect.Value) error {
			value, err := Text(name).Int64()
			if err != nil {
				return err
			}

			if target.OverflowInt(value) {
				return fmt.Errorf("map key %d overflows %q", value, target.Type())
			}

			target.SetInt(value)
			return nil
		}

		return parse, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parse := func(name string, target reflect.Value) error {
			value, err := Text(name).Uint64()
			if err != nil {
				return err
			}

			if target.OverflowUint(value) {
				return fmt.Errorf("map key %d overflows %q", value, target.Type())
			}

			target.SetUint(value)
			return nil
		}

		return parse, nil

	default:
		return nil, UnsupportedTypeError{Type: ty, Reason: "map keys must be strings, integers or implement encoding.TextUnmarshaler"}
	}
}

// anyPlan decodes into an empty interface. A record at key becomes a string,
// a length record a []any and an object a map[string]any.
func anyPlan() *plan {
	setter := func(s *state, key string, target reflect.Value) error {
		value, err := decodeAny(s, key)
		if err != nil {
			return err
		}

		target.Set(reflect.ValueOf(&value).Elem())
		return nil
	}

	present := func(s *state, key string) bool {
		return s.has(key) || sequencePresent(s, key) || s.hasChildren(key)
	}

	return &plan{set: setter, present: present}
}

func decodeAny(s *state, key string) (any, error) {
	if value, ok := s.lookup.Lookup(key); ok {
		return value, nil
	}

	if sequencePresent(s, key) {
		elementCount, err := s.length(key)
		if err != nil {
			return nil, err
		}

		values := make([]any, 0, min(elementCount, 1024))
		for idx := range elementCount {
			value, err := decodeAny(s, s.config.JoinIndex(key, idx))
			if err != nil {
				return nil, err
			}

			values = append(values, value)
		}

		return values, nil
	}

	names, err := s.childNames(key)
	switch {
	case errors.Is(err, ErrKeysRequired):
		return nil, MissingFieldError{Key: key}
	case err != nil:
		return nil, err
	case len(names) == 0:
		return nil, MissingFieldError{Key: key}
	}

	values := make(map[string]any, len(names))
	for _, name := range names {
		value, err := decodeAny(s, s.config.JoinField(key, name))
		if err != nil {
			return nil, err
		}

		values[name] = value
	}

	return values, nil
}
