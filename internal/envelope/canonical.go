// Package envelope implements the signed envelope protocol: the canonical
// byte encoding, the SHA-256 envelope hash, the Ed25519 detached-signature
// codec, and the per-kind body schema validation.
package envelope

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/intercomswap/swapd/internal/domain"
)

// Marshal produces the canonical encoding of v: JSON with keys sorted
// ascending by code point, integers in minimal decimal form, no
// insignificant whitespace. Floating point values are rejected outright so
// no amount can lose precision on the wire. Two semantically equal values
// always produce byte-identical encodings.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the lower-case hex SHA-256 of the canonical encoding of the
// unsigned envelope. It is the stable identifier used as rfq_id, quote_id
// and terms_hash.
func Hash(u domain.Unsigned) (string, error) {
	b, err := Marshal(u)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(buf *bytes.Buffer, v reflect.Value) error {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return fmt.Errorf("envelope: nil value in canonical encoding")
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.String:
		return writeString(buf, v.String())
	case reflect.Bool:
		if v.Bool() {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(v.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf.WriteString(strconv.FormatUint(v.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		return fmt.Errorf("envelope: floating point is not permitted in canonical encoding")
	case reflect.Slice, reflect.Array:
		buf.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, v.Index(i)); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("envelope: map keys must be strings")
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, v.MapIndex(reflect.ValueOf(k))); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case reflect.Struct:
		return writeStruct(buf, v)
	default:
		return fmt.Errorf("envelope: unsupported type %s in canonical encoding", v.Type())
	}
}

type fieldEnc struct {
	name      string
	value     reflect.Value
	omitEmpty bool
}

func writeStruct(buf *bytes.Buffer, v reflect.Value) error {
	t := v.Type()
	fields := make([]fieldEnc, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = sf.Name
		}
		fields = append(fields, fieldEnc{
			name:      name,
			value:     v.Field(i),
			omitEmpty: strings.Contains(opts, "omitempty"),
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	buf.WriteByte('{')
	first := true
	for _, f := range fields {
		if f.omitEmpty && f.value.IsZero() {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeString(buf, f.name); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, f.value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeString delegates to encoding/json, which escapes deterministically.
func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("envelope: encode string: %w", err)
	}
	buf.Write(b)
	return nil
}
