package agui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

var rawMessageType = reflect.TypeFor[json.RawMessage]()

// marshal is json.Marshal without HTML escaping so that raw JSON values are
// written exactly as compacted by compactRaw.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// CompactJSON returns raw without insignificant whitespace, the only form
// Encode accepts for raw JSON members. Empty input is returned as is.
func CompactJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	return compactRaw(raw)
}

func compactRaw(raw json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// checkCanonical walks v and fails with ErrInvalidField on the first string
// that is not valid UTF-8 and on the first raw JSON value that is invalid or
// not compact. Such values would not survive an encode/decode cycle.
func checkCanonical(v reflect.Value, path string) error {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkCanonical(v.Elem(), path)
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidField, path)
		}
	case reflect.Slice:
		if v.Type() == rawMessageType {
			raw := v.Bytes()
			if len(raw) == 0 {
				return nil
			}
			compact, err := compactRaw(raw)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidField, path, err)
			}
			if !bytes.Equal(compact, raw) {
				return fmt.Errorf("%w: %s is not compact JSON", ErrInvalidField, path)
			}
			return nil
		}
		for i := range v.Len() {
			if err := checkCanonical(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			if err := checkCanonical(iter.Key(), path+" key"); err != nil {
				return err
			}
			if err := checkCanonical(iter.Value(), path+"."+key); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			p := path
			if !f.Anonymous {
				p = joinPath(path, fieldName(f))
			}
			if err := checkCanonical(v.Field(i), p); err != nil {
				return err
			}
		}
	}
	return nil
}

// compactAll rewrites every reachable raw JSON value of v in compact form.
func compactAll(v reflect.Value) error {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return compactAll(v.Elem())
	case reflect.Slice:
		if v.Type() == rawMessageType {
			if v.Len() == 0 || !v.CanSet() {
				return nil
			}
			compact, err := compactRaw(v.Bytes())
			if err != nil {
				return err
			}
			v.SetBytes(compact)
			return nil
		}
		for i := range v.Len() {
			if err := compactAll(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := range v.NumField() {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			if err := compactAll(v.Field(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func fieldName(f reflect.StructField) string {
	if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" {
		return tag
	}
	return f.Name
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
