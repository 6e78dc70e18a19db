package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/classwatch/internal/ir"
)

// MaxInlineBytes is the longest byte value stored verbatim.
const MaxInlineBytes = 256

// marshalObject converts an IRObject to display JSON TEXT for storage.
func marshalObject(obj ir.IRObject) (string, error) {
	if obj == nil {
		obj = ir.IRObject{}
	}
	data, err := elide(obj).(ir.IRObject).MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// marshalOutput is marshalObject with NULL for an unset output.
func marshalOutput(obj ir.IRObject) (sql.NullString, error) {
	if obj == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalObject(obj)
	return sql.NullString{String: s, Valid: err == nil}, err
}

// elide replaces long byte values with a size placeholder.
func elide(v ir.IRValue) ir.IRValue {
	switch val := v.(type) {
	case ir.IRBytes:
		if len(val) > MaxInlineBytes {
			return ir.IRString(fmt.Sprintf("[%d bytes]", len(val)))
		}
		return val
	case ir.IRArray:
		out := make(ir.IRArray, len(val))
		for i, elem := range val {
			out[i] = elide(elem)
		}
		return out
	case ir.IRObject:
		out := make(ir.IRObject, len(val))
		for k, elem := range val {
			out[k] = elide(elem)
		}
		return out
	default:
		return v
	}
}

// unmarshalObject parses stored JSON TEXT to IRObject.
func unmarshalObject(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}
