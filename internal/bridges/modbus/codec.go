package modbus

import (
	"fmt"
	"math"
	"strings"
)

// DataType identifies how a register value is laid out in 16-bit words.
type DataType string

// Supported register data types.
const (
	Int16   DataType = "int16"
	Int32   DataType = "int32"
	Float32 DataType = "float32"
)

const (
	wordShift  = 16
	wordMask   = 0xFFFF
	maxUint16  = 65535
	maxUint32  = 4294967295
	singleWord = 1
	doubleWord = 2
)

// Width returns the number of 16-bit registers the type occupies.
// Unknown types report 0.
func (dt DataType) Width() uint16 {
	switch dt {
	case Int16:
		return singleWord
	case Int32, Float32:
		return doubleWord
	default:
		return 0
	}
}

// Valid reports whether dt is one of the supported data types.
func (dt DataType) Valid() bool {
	return dt.Width() > 0
}

// String returns the canonical name of the type.
func (dt DataType) String() string {
	return string(dt)
}

// ParseDataType converts a stored type name to a DataType.
// Matching is case-insensitive and "float" is accepted as an alias for float32.
//
// Parameters:
//   - s: Type name such as "int16", "INT32" or "float"
//
// Returns:
//   - DataType: The parsed type
//   - error: ErrUnsupportedType if the name is not recognised
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int16":
		return Int16, nil
	case "int32":
		return Int32, nil
	case "float32", "float":
		return Float32, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// Decode converts raw register words into a scaled engineering value.
//
// Multi-word types use big-endian word order: words[0] is the high word.
// int16 is treated as unsigned.
//
// Parameters:
//   - words: Raw register contents, exactly dt.Width() words
//   - dt: Data type of the register
//   - scale: Multiplier applied to the raw value
//
// Returns:
//   - float64: raw * scale
//   - error: ErrDecode on wrong word count or unsupported type
func Decode(words []uint16, dt DataType, scale float64) (float64, error) {
	if !dt.Valid() {
		return 0, fmt.Errorf("%w: %w: %q", ErrDecode, ErrUnsupportedType, string(dt))
	}
	if len(words) != int(dt.Width()) {
		return 0, fmt.Errorf("%w: %s requires %d words, got %d", ErrDecode, dt, dt.Width(), len(words))
	}

	var raw float64
	switch dt {
	case Int16:
		raw = float64(words[0])
	case Int32:
		raw = float64(uint32(words[0])<<wordShift | uint32(words[1]))
	case Float32:
		bits := uint32(words[0])<<wordShift | uint32(words[1])
		raw = float64(math.Float32frombits(bits))
	}

	return raw * scale, nil
}

// Encode converts a scaled engineering value back into register words.
//
// The value is divided by scale before packing. Integer types are rounded
// to the nearest whole number.
//
// Parameters:
//   - value: Engineering value to write
//   - dt: Data type of the target register
//   - scale: Scaling factor configured for the register (must be non-zero)
//
// Returns:
//   - []uint16: dt.Width() words, high word first
//   - error: ErrEncode if scale is zero, the result is not finite or out of range
func Encode(value float64, dt DataType, scale float64) ([]uint16, error) {
	if !dt.Valid() {
		return nil, fmt.Errorf("%w: %w: %q", ErrEncode, ErrUnsupportedType, string(dt))
	}
	if scale == 0 {
		return nil, fmt.Errorf("%w: scaling factor is zero", ErrEncode)
	}

	raw := value / scale
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil, fmt.Errorf("%w: value %v is not finite", ErrEncode, raw)
	}

	switch dt {
	case Int16:
		r := math.Round(raw)
		if r < 0 || r > maxUint16 {
			return nil, fmt.Errorf("%w: int16 value out of range: %v (valid: 0 to 65535)", ErrEncode, r)
		}
		return []uint16{uint16(r)}, nil
	case Int32:
		r := math.Round(raw)
		if r < 0 || r > maxUint32 {
			return nil, fmt.Errorf("%w: int32 value out of range: %v (valid: 0 to 4294967295)", ErrEncode, r)
		}
		u := uint32(r)
		return []uint16{uint16(u >> wordShift), uint16(u & wordMask)}, nil
	default: // Float32
		if math.Abs(raw) > math.MaxFloat32 {
			return nil, fmt.Errorf("%w: float32 value out of range: %v", ErrEncode, raw)
		}
		bits := math.Float32bits(float32(raw))
		return []uint16{uint16(bits >> wordShift), uint16(bits & wordMask)}, nil
	}
}

// saturate encodes raw at scale 1, clamping into the representable range of
// dt instead of failing. Used by the simulator, whose values are always
// expected to be readable.
func saturate(raw float64, dt DataType) []uint16 {
	if math.IsNaN(raw) {
		raw = 0
	}
	switch dt {
	case Int16:
		raw = math.Max(0, math.Min(maxUint16, raw))
	case Int32:
		raw = math.Max(0, math.Min(maxUint32, raw))
	default:
		raw = math.Max(-math.MaxFloat32, math.Min(math.MaxFloat32, raw))
	}
	words, err := Encode(raw, dt, 1.0)
	if err != nil {
		return make([]uint16, dt.Width())
	}
	return words
}
