package od

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Variable is the main data representation for a value stored inside of OD.
// It is used to store a "VAR" or "DOMAIN" object type as well as any sub
// entry of a "RECORD" or "ARRAY" object type.
type Variable struct {
	mu           sync.RWMutex
	valueDefault []byte
	value        []byte
	// Name of this variable
	Name string
	// The CiA 301 data type of this variable
	DataType byte
	// Attribute contains the access type as well as the mapping
	// information, e.g. AttributeSdoRw | AttributeRpdo
	Attribute uint8
	// The minimum value for this variable, nil if unbounded
	lowLimit []byte
	// The maximum value for this variable, nil if unbounded
	highLimit []byte
	// The subindex for this variable if part of an ARRAY or RECORD
	SubIndex uint8
}

// DataLength returns the number of bytes currently stored for this variable.
func (variable *Variable) DataLength() uint32 {
	return uint32(len(variable.value))
}

// DefaultValue returns the value this variable was constructed with.
func (variable *Variable) DefaultValue() []byte {
	return variable.valueDefault
}

// checkLimits compares decoded against the variable's configured
// lowLimit/highLimit, if any were set by the device-config compiler.
func (variable *Variable) checkLimits(raw []byte) error {
	if len(variable.lowLimit) > 0 {
		low, err := DecodeToType(variable.lowLimit, variable.DataType)
		if err == nil {
			decoded, derr := DecodeToType(raw, variable.DataType)
			if derr == nil && lessThan(decoded, low) {
				return ErrValueLow
			}
		}
	}
	if len(variable.highLimit) > 0 {
		high, err := DecodeToType(variable.highLimit, variable.DataType)
		if err == nil {
			decoded, derr := DecodeToType(raw, variable.DataType)
			if derr == nil && greaterThan(decoded, high) {
				return ErrValueHigh
			}
		}
	}
	return nil
}

func lessThan(a, b any) bool {
	switch av := a.(type) {
	case uint64:
		if bv, ok := b.(uint64); ok {
			return av < bv
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return av < bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	}
	return false
}

func greaterThan(a, b any) bool {
	switch av := a.(type) {
	case uint64:
		if bv, ok := b.(uint64); ok {
			return av > bv
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return av > bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av > bv
		}
	}
	return false
}

// Uint8 reads the variable's stored value as an UNSIGNED8/BOOLEAN.
func (variable *Variable) Uint8() (uint8, error) {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	if err := CheckSize(len(variable.value), UNSIGNED8); err != nil {
		return 0, err
	}
	return variable.value[0], nil
}

// Uint16 reads the variable's stored value as an UNSIGNED16.
func (variable *Variable) Uint16() (uint16, error) {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	v, err := DecodeToTypeExact(variable.value, UNSIGNED16)
	if err != nil {
		return 0, err
	}
	return v.(uint16), nil
}

// Uint32 reads the variable's stored value as an UNSIGNED32.
func (variable *Variable) Uint32() (uint32, error) {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	v, err := DecodeToTypeExact(variable.value, UNSIGNED32)
	if err != nil {
		return 0, err
	}
	return v.(uint32), nil
}

// Uint64 reads the variable's stored value as an UNSIGNED64.
func (variable *Variable) Uint64() (uint64, error) {
	variable.mu.RLock()
	defer variable.mu.RUnlock()
	v, err := DecodeToTypeExact(variable.value, UNSIGNED64)
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// NewVariableFromConfig builds a Variable from a parsed device-config
// section. nodeId is substituted into a "$NODEID"-relative default value,
// mirroring the node-id offset convention of predefined COB-IDs.
func NewVariableFromConfig(
	name string,
	index uint16,
	subindex uint8,
	dataType uint8,
	accessType string,
	pdoMapping bool,
	defaultValue string,
	lowLimit string,
	highLimit string,
	nodeId uint8,
) (*Variable, error) {

	variable := &Variable{
		Name:     name,
		SubIndex: subindex,
		DataType: dataType,
	}
	variable.Attribute = EncodeAttribute(accessType, pdoMapping, dataType)

	if highLimit != "" {
		encoded, err := EncodeFromString(highLimit, dataType, 0)
		if err != nil {
			_logger.Warn("error parsing high limit",
				"index", fmt.Sprintf("x%x", index),
				"subindex", fmt.Sprintf("x%x", subindex),
				"error", err,
			)
		} else {
			variable.highLimit = encoded
		}
	}

	if lowLimit != "" {
		encoded, err := EncodeFromString(lowLimit, dataType, 0)
		if err != nil {
			_logger.Warn("error parsing low limit",
				"index", fmt.Sprintf("x%x", index),
				"subindex", fmt.Sprintf("x%x", subindex),
				"error", err,
			)
		} else {
			variable.lowLimit = encoded
		}
	}

	offset := nodeId
	// If $NODEID is present in the default value, strip it and add the
	// node id as an offset; otherwise the default value is absolute.
	if strings.Contains(defaultValue, "$NODEID") {
		re := regexp.MustCompile(`\+?\$NODEID\+?`)
		defaultValue = re.ReplaceAllString(defaultValue, "")
	} else {
		offset = 0
	}
	encoded, err := EncodeFromString(defaultValue, dataType, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to parse default value for x%x|x%x: %w (datatype x%x)", index, subindex, err, dataType)
	}
	variable.valueDefault = encoded
	variable.value = make([]byte, len(encoded))
	copy(variable.value, encoded)

	return variable, nil
}

// NewVariable creates a Variable directly from a hex-or-decimal literal,
// used by the programmatic OD builder methods (AddVariableType, AddSYNC, ...).
func NewVariable(
	subindex uint8,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Variable, error) {
	encoded, err := EncodeFromString(value, datatype, 0)
	if err != nil {
		return nil, err
	}
	encodedCopy := make([]byte, len(encoded))
	copy(encodedCopy, encoded)
	variable := &Variable{
		SubIndex:     subindex,
		Name:         name,
		value:        encoded,
		valueDefault: encodedCopy,
		Attribute:    attribute,
		DataType:     datatype,
	}
	return variable, nil
}
