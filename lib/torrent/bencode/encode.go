package bencode

import (
	"io"
	"reflect"
	"sort"
	"strconv"
)

// Encoder is a bencode stream encoder.
type Encoder struct {
	w interface {
		io.Writer
		Flush() error
	}
}

// Encode encodes 'v' to the underlying writer.
func (e *Encoder) Encode(v interface{}) error {
	if err := e.encodeValue(reflect.ValueOf(v)); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Encoder) writeString(s string) error {
	if _, err := io.WriteString(e.w, strconv.Itoa(len(s))); err != nil {
		return err
	}
	if _, err := io.WriteString(e.w, ":"); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, s)
	return err
}

func (e *Encoder) writeBytes(b []byte) error {
	if _, err := io.WriteString(e.w, strconv.Itoa(len(b))); err != nil {
		return err
	}
	if _, err := io.WriteString(e.w, ":"); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

func (e *Encoder) writeInt(n int64) error {
	_, err := io.WriteString(e.w, "i"+strconv.FormatInt(n, 10)+"e")
	return err
}

func (e *Encoder) writeUint(n uint64) error {
	_, err := io.WriteString(e.w, "i"+strconv.FormatUint(n, 10)+"e")
	return err
}

type dictEntry struct {
	key string
	val reflect.Value
}

func (e *Encoder) encodeValue(v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}

	if m, ok := marshalerOf(v); ok {
		b, err := m.MarshalBencode()
		if err != nil {
			return &MarshalerError{v.Type(), err}
		}
		_, err = e.w.Write(b)
		return err
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return e.writeString("")
		}
		return e.encodeValue(v.Elem())
	case reflect.String:
		return e.writeString(v.String())
	case reflect.Bool:
		if v.Bool() {
			return e.writeInt(1)
		}
		return e.writeInt(0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.writeInt(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return e.writeUint(v.Uint())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return e.writeBytes(v.Bytes())
		}
		return e.encodeList(v)
	case reflect.Array:
		return e.encodeList(v)
	case reflect.Map:
		return e.encodeMap(v)
	case reflect.Struct:
		return e.encodeStruct(v)
	default:
		return &MarshalTypeError{v.Type()}
	}
}

func marshalerOf(v reflect.Value) (Marshaler, bool) {
	if !v.IsValid() {
		return nil, false
	}
	if m, ok := v.Interface().(Marshaler); ok {
		return m, true
	}
	if v.Kind() != reflect.Ptr && v.CanAddr() {
		if m, ok := v.Addr().Interface().(Marshaler); ok {
			return m, true
		}
	}
	return nil, false
}

func (e *Encoder) encodeList(v reflect.Value) error {
	if _, err := io.WriteString(e.w, "l"); err != nil {
		return err
	}
	for i := 0; i < v.Len(); i++ {
		if err := e.encodeValue(v.Index(i)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(e.w, "e")
	return err
}

func (e *Encoder) encodeMap(v reflect.Value) error {
	if v.Type().Key().Kind() != reflect.String {
		return &MarshalTypeError{v.Type()}
	}

	entries := make([]dictEntry, 0, v.Len())
	for _, k := range v.MapKeys() {
		entries = append(entries, dictEntry{k.String(), v.MapIndex(k)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	if _, err := io.WriteString(e.w, "d"); err != nil {
		return err
	}
	for _, ent := range entries {
		if err := e.writeString(ent.key); err != nil {
			return err
		}
		if err := e.encodeValue(ent.val); err != nil {
			return err
		}
	}
	_, err := io.WriteString(e.w, "e")
	return err
}

func (e *Encoder) encodeStruct(v reflect.Value) error {
	t := v.Type()

	entries := make([]dictEntry, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" && !f.Anonymous {
			continue
		}

		tag := f.Tag.Get("bencode")
		if tag == "-" {
			continue
		}
		name, opts := parseTag(tag)
		if name == "" {
			name = f.Name
		}

		fv := v.Field(i)
		if opts.contains("omitempty") && isEmptyValue(fv) {
			continue
		}

		entries = append(entries, dictEntry{name, fv})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	if _, err := io.WriteString(e.w, "d"); err != nil {
		return err
	}
	for _, ent := range entries {
		if err := e.writeString(ent.key); err != nil {
			return err
		}
		if err := e.encodeValue(ent.val); err != nil {
			return err
		}
	}
	_, err := io.WriteString(e.w, "e")
	return err
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}
