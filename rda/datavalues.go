/*
	This file handles the pixel data types delivered by the tile service and
	routines that read and write typed values within a slice of bytes.
*/

package rda

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// DataType is the type of a single pixel value within one band.
type DataType uint8

const (
	T_uint8 DataType = iota
	T_int8
	T_uint16
	T_int16
	T_uint32
	T_int32
	T_float32
	T_float64
)

var typeBytes = map[DataType]int{
	T_uint8:   1,
	T_int8:    1,
	T_uint16:  2,
	T_int16:   2,
	T_uint32:  4,
	T_int32:   4,
	T_float32: 4,
	T_float64: 8,
}

var typeNames = map[DataType]string{
	T_uint8:   "uint8",
	T_int8:    "int8",
	T_uint16:  "uint16",
	T_int16:   "int16",
	T_uint32:  "uint32",
	T_int32:   "int32",
	T_float32: "float32",
	T_float64: "float64",
}

// service names as found in image metadata, keyed by upper case.
var serviceTypes = map[string]DataType{
	"BYTE":             T_uint8,
	"UNSIGNED_BYTE":    T_uint8,
	"CHAR":             T_int8,
	"SIGNED_BYTE":      T_int8,
	"UNSIGNED_SHORT":   T_uint16,
	"SHORT":            T_int16,
	"UNSIGNED_INTEGER": T_uint32,
	"UNSIGNED_INT":     T_uint32,
	"INTEGER":          T_int32,
	"INT":              T_int32,
	"FLOAT":            T_float32,
	"DOUBLE":           T_float64,
}

// Valid is true for the data types listed above.
func (t DataType) Valid() bool {
	_, found := typeBytes[t]
	return found
}

// Bytes returns the number of bytes for one value of the type.
func (t DataType) Bytes() int {
	return typeBytes[t]
}

func (t DataType) String() string {
	if name, found := typeNames[t]; found {
		return name
	}
	return fmt.Sprintf("datatype(%d)", uint8(t))
}

// ParseDataType accepts both Go-style names ("uint16") and the service names
// found in image metadata ("UNSIGNED_SHORT").
func ParseDataType(s string) (DataType, error) {
	lower := strings.ToLower(s)
	for t, name := range typeNames {
		if name == lower {
			return t, nil
		}
	}
	if t, found := serviceTypes[strings.ToUpper(s)]; found {
		return t, nil
	}
	return T_uint8, fmt.Errorf("unknown data type %q", s)
}

// MarshalJSON implements the json.Marshaler interface.
func (t DataType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *DataType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	dt, err := ParseDataType(s)
	if err != nil {
		return err
	}
	*t = dt
	return nil
}

// MarshalText and UnmarshalText let DataType appear in TOML and query strings.
func (t DataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DataType) UnmarshalText(b []byte) error {
	dt, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*t = dt
	return nil
}

// getValue reads one little-endian value of type t from b.
func getValue(t DataType, b []byte) float64 {
	switch t {
	case T_uint8:
		return float64(b[0])
	case T_int8:
		return float64(int8(b[0]))
	case T_uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case T_int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case T_uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case T_int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case T_float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case T_float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// putValue writes v as one little-endian value of type t into b.  Integer types
// are saturated to their range.
func putValue(t DataType, b []byte, v float64) {
	switch t {
	case T_uint8:
		b[0] = uint8(clamp(v, 0, math.MaxUint8))
	case T_int8:
		b[0] = uint8(int8(clamp(v, math.MinInt8, math.MaxInt8)))
	case T_uint16:
		binary.LittleEndian.PutUint16(b, uint16(clamp(v, 0, math.MaxUint16)))
	case T_int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case T_uint32:
		binary.LittleEndian.PutUint32(b, uint32(clamp(v, 0, math.MaxUint32)))
	case T_int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case T_float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case T_float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
