package txtrecord

import (
	"cmp"
	"encoding"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"sync"
)

// Marshal flattens value into records using the DefaultConfig.
func Marshal(value any) (Records, error) {
	return enc.marshal(value, enc.config)
}

// MarshalConfig flattens value into records using the given config.
func MarshalConfig(value any, config Config) (Records, error) {
	return enc.marshal(value, config)
}

// An emitter appends the records for value at key to the emission.
type emitter func(em *emission, key string, value reflect.Value) error

// emission collects the records of a single Marshal call.
type emission struct {
	config  Config
	records Records
}

func (em *emission) emit(key, value string) error {
	record := Record{Key: key, Value: value}

	if em.config.RecordLen > 0 && record.Len() > em.config.RecordLen {
		return RecordTooLongError{
			Key:       key,
			Value:     value,
			MaxLen:    em.config.RecordLen,
			ActualLen: record.Len(),
		}
	}

	em.records = append(em.records, record)
	return nil
}

var tyTextMarshaler = reflect.TypeFor[encoding.TextMarshaler]()

// The default Encoder instance.
var enc = NewEncoder()

// Encoder can be used to customize marshalling. It is safe for concurrent use.
type Encoder struct {
	// the struct tag that is used
	structTag string

	config Config

	// Cache for emitters, indexed by reflect.Type. Emitters do not depend on
	// the config, encoders that differ only by config share the cache.
	emitterCache *sync.Map
}

func NewEncoder() *Encoder {
	return &Encoder{
		structTag:    "json",
		config:       DefaultConfig(),
		emitterCache: &sync.Map{},
	}
}

func (e *Encoder) WithTag(structTag string) *Encoder {
	if e.structTag == structTag {
		return e
	}

	return &Encoder{
		structTag:    structTag,
		config:       e.config,
		emitterCache: &sync.Map{},
	}
}

func (e *Encoder) WithConfig(config Config) *Encoder {
	return &Encoder{
		structTag:    e.structTag,
		config:       config,
		emitterCache: e.emitterCache,
	}
}

// Marshal flattens value into records. Either all records are returned or an error,
// never a partial result.
func (e *Encoder) Marshal(value any) (Records, error) {
	return e.marshal(value, e.config)
}

func (e *Encoder) marshal(value any, config Config) (Records, error) {
	rValue := reflect.ValueOf(value)
	if !rValue.IsValid() {
		// a nil interface is absent, nothing to emit
		return nil, nil
	}

	emit, err := e.emitterFor(rValue.Type())
	if err != nil {
		return nil, err
	}

	em := emission{config: config}
	if err := emit(&em, "", rValue); err != nil {
		return nil, err
	}

	return em.records, nil
}

// emitterBuild holds the emitters of a single construction. They are only
// published to the cache once the outermost emitter was built successfully,
// a failed construction leaves the cache untouched.
type emitterBuild struct {
	inConstruction typeSet
	built          map[reflect.Type]emitter
}

// emitterFor returns the emitter of ty, building and caching it if needed.
func (e *Encoder) emitterFor(ty reflect.Type) (emitter, error) {
	if cached, ok := e.emitterCache.Load(ty); ok {
		return cached.(emitter), nil
	}

	build := &emitterBuild{
		inConstruction: typeSet{},
		built:          map[reflect.Type]emitter{},
	}

	emitter, err := e.emitterOf(build, ty)
	if err != nil {
		return nil, err
	}

	for builtType, builtEmitter := range build.built {
		e.emitterCache.LoadOrStore(builtType, builtEmitter)
	}

	return emitter, nil
}

func (e *Encoder) emitterOf(build *emitterBuild, ty reflect.Type) (emitter, error) {
	if cached, ok := e.emitterCache.Load(ty); ok {
		return cached.(emitter), nil
	}

	if built, ok := build.built[ty]; ok {
		return built, nil
	}

	if _, ok := build.inConstruction[ty]; ok {
		// detected a cycle. return an emitter that looks up the actual emitter
		// when executed. It is complete once the construction has finished.
		lazyEmitter := func(em *emission, key string, value reflect.Value) error {
			return build.built[ty](em, key, value)
		}

		return lazyEmitter, nil
	}

	build.inConstruction[ty] = struct{}{}

	emitter, err := e.makeEmitterOf(build, ty)
	if err != nil {
		return nil, err
	}

	build.built[ty] = emitter

	return emitter, nil
}

func (e *Encoder) makeEmitterOf(build *emitterBuild, ty reflect.Type) (emitter, error) {
	// pointers and interfaces first, a nil value must never reach MarshalText
	switch ty.Kind() {
	case reflect.Pointer:
		return e.makeEmitPointer(build, ty)

	case reflect.Interface:
		return e.emitInterface, nil

	default:
	}

	if ty.Implements(tyTextMarshaler) || reflect.PointerTo(ty).Implements(tyTextMarshaler) {
		return emitTextMarshaler, nil
	}

	switch ty.Kind() {
	case reflect.Bool:
		return makeEmitScalar(func(v reflect.Value) string { return strconv.FormatBool(v.Bool()) }), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return makeEmitScalar(func(v reflect.Value) string { return strconv.FormatInt(v.Int(), 10) }), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return makeEmitScalar(func(v reflect.Value) string { return strconv.FormatUint(v.Uint(), 10) }), nil

	case reflect.Float32, reflect.Float64:
		bitSize := ty.Bits()
		return makeEmitScalar(func(v reflect.Value) string { return strconv.FormatFloat(v.Float(), 'f', -1, bitSize) }), nil

	case reflect.String:
		return makeEmitScalar(reflect.Value.String), nil

	case reflect.Struct:
		return e.makeEmitStruct(build, ty)

	case reflect.Slice:
		if ty.Elem().Kind() == reflect.Uint8 {
			// a []byte is written as text
			return makeEmitScalar(func(v reflect.Value) string { return string(v.Bytes()) }), nil
		}

		return e.makeEmitSequence(build, ty)

	case reflect.Array:
		return e.makeEmitSequence(build, ty)

	case reflect.Map:
		return e.makeEmitMap(build, ty)

	default:
		return nil, UnsupportedTypeError{Type: ty}
	}
}

func makeEmitScalar(format func(reflect.Value) string) emitter {
	return func(em *emission, key string, value reflect.Value) error {
		if key == "" {
			return UnsupportedTypeError{
				Type:   value.Type(),
				Reason: "a scalar value needs a field name or index",
			}
		}

		return em.emit(key, format(value))
	}
}

func emitTextMarshaler(em *emission, key string, value reflect.Value) error {
	if key == "" {
		return UnsupportedTypeError{
			Type:   value.Type(),
			Reason: "a scalar value needs a field name or index",
		}
	}

	text, err := marshalText(value)
	if err != nil {
		return fmt.Errorf("marshal text of %q: %w", key, err)
	}

	return em.emit(key, text)
}

func marshalText(value reflect.Value) (string, error) {
	if !value.Type().Implements(tyTextMarshaler) {
		// MarshalText has a pointer receiver, we need an addressable copy
		if !value.CanAddr() {
			ptr := reflect.New(value.Type())
			ptr.Elem().Set(value)
			value = ptr.Elem()
		}

		value = value.Addr()
	}

	text, err := value.Interface().(encoding.TextMarshaler).MarshalText()
	if err != nil {
		return "", err
	}

	return string(text), nil
}

func (e *Encoder) makeEmitPointer(build *emitterBuild, ty reflect.Type) (emitter, error) {
	pointeeEmitter, err := e.emitterOf(build, ty.Elem())
	if err != nil {
		return nil, err
	}

	emitter := func(em *emission, key string, value reflect.Value) error {
		if value.IsNil() {
			// absent, emit nothing
			return nil
		}

		return pointeeEmitter(em, key, value.Elem())
	}

	return emitter, nil
}

func (e *Encoder) emitInterface(em *emission, key string, value reflect.Value) error {
	if value.IsNil() {
		return nil
	}

	dynamic := value.Elem()

	emitter, err := e.emitterFor(dynamic.Type())
	if err != nil {
		return fmt.Errorf("emitter for %q: %w", key, err)
	}

	return emitter(em, key, dynamic)
}

func (e *Encoder) makeEmitStruct(build *emitterBuild, ty reflect.Type) (emitter, error) {
	var emitters []emitter

	fields := fieldsOf(ty, e.structTag)

	for _, field := range fields {
		fieldEmitter, err := e.emitterOf(build, field.Type)
		if err != nil {
			return nil, fmt.Errorf("emitter for field %q: %w", field.Name, err)
		}

		emitters = append(emitters, fieldEmitter)
	}

	emitter := func(em *emission, key string, value reflect.Value) error {
		for idx, field := range fields {
			fieldValue := value.FieldByIndex(field.Index)
			if field.OmitEmpty && fieldValue.IsZero() {
				continue
			}

			fieldKey := em.config.JoinField(key, field.Name)
			if err := emitters[idx](em, fieldKey, fieldValue); err != nil {
				return err
			}
		}

		return nil
	}

	return emitter, nil
}

func (e *Encoder) makeEmitSequence(build *emitterBuild, ty reflect.Type) (emitter, error) {
	elementEmitter, err := e.emitterOf(build, ty.Elem())
	if err != nil {
		return nil, fmt.Errorf("emitter for element type %q: %w", ty, err)
	}

	emitter := func(em *emission, key string, value reflect.Value) error {
		elementCount := value.Len()

		for idx := range elementCount {
			elementKey := em.config.JoinIndex(key, idx)
			if err := elementEmitter(em, elementKey, value.Index(idx)); err != nil {
				return err
			}
		}

		// the length is always written, even for empty sequences
		return em.emit(em.config.LengthKey(key), strconv.Itoa(elementCount))
	}

	return emitter, nil
}

func (e *Encoder) makeEmitMap(build *emitterBuild, ty reflect.Type) (emitter, error) {
	formatKey, err := mapKeyFormatter(ty.Key())
	if err != nil {
		return nil, err
	}

	valueEmitter, err := e.emitterOf(build, ty.Elem())
	if err != nil {
		return nil, fmt.Errorf("emitter for value type %q: %w", ty, err)
	}

	type entry struct {
		Name  string
		Value reflect.Value
	}

	emitter := func(em *emission, key string, value reflect.Value) error {
		entries := make([]entry, 0, value.Len())

		iter := value.MapRange()
		for iter.Next() {
			name, err := formatKey(iter.Key())
			if err != nil {
				return fmt.Errorf("format map key in %q: %w", key, err)
			}

			entries = append(entries, entry{Name: name, Value: iter.Value()})
		}

		// maps have no order, sort by name to get a deterministic output
		slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.Name, b.Name) })

		for _, entry := range entries {
			entryKey := em.config.JoinField(key, entry.Name)
			if err := valueEmitter(em, entryKey, entry.Value); err != nil {
				return err
			}
		}

		return nil
	}

	return emitter, nil
}

func mapKeyFormatter(ty reflect.Type) (func(reflect.Value) (string, error), error) {
	if ty.Kind() != reflect.Pointer && (ty.Implements(tyTextMarshaler) || reflect.PointerTo(ty).Implements(tyTextMarshaler)) {
		return marshalText, nil
	}

	switch ty.Kind() {
	case reflect.String:
		return func(v reflect.Value) (string, error) { return v.String(), nil }, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(v reflect.Value) (string, error) { return strconv.FormatInt(v.Int(), 10), nil }, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(v reflect.Value) (string, error) { return strconv.FormatUint(v.Uint(), 10), nil }, nil

	default:
		return nil, UnsupportedTypeError{Type: ty, Reason: "map keys must be strings, integers or implement encoding.TextMarshaler"}
	}
}
