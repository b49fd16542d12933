package config

import (
	"fmt"
	"sort"

	"github.com/zencan/zencan/pkg/od"
)

// reservedRanges lists OD index ranges the compiler itself populates
// (communication profile area, PDO comm/mapping parameters, bootloader
// objects); a custom object declared in one of these is rejected rather
// than silently overwritten, per spec.md §4.7 ("no custom index collides
// with reserved ranges").
var reservedRanges = [][2]uint16{
	{0x1000, 0x1FFF},
	{0x1400, 0x1BFF},
	{od.EntryBootloaderControl, od.EntryBootloaderControl},
	{od.EntryBootloaderSectionStart, od.EntryBootloaderSectionEnd},
}

func isReserved(index uint16) bool {
	for _, r := range reservedRanges {
		if index >= r[0] && index <= r[1] {
			return true
		}
	}
	return false
}

var validDataTypes = map[string]uint8{
	"int8":           od.INTEGER8,
	"int16":          od.INTEGER16,
	"int32":          od.INTEGER32,
	"int64":          od.INTEGER64,
	"uint8":          od.UNSIGNED8,
	"uint16":         od.UNSIGNED16,
	"uint32":         od.UNSIGNED32,
	"uint64":         od.UNSIGNED64,
	"real32":         od.REAL32,
	"real64":         od.REAL64,
	"visible_string": od.VISIBLE_STRING,
	"octet_string":   od.OCTET_STRING,
	"domain":         od.DOMAIN,
}

var validAccessTypes = map[string]bool{
	"ro": true, "wo": true, "rw": true, "const": true,
}

var validPDOMappings = map[string]bool{
	pdoMappingNone: true, pdoMappingTPDO: true, pdoMappingRPDO: true, pdoMappingBoth: true,
}

// Validate checks doc for the invariants spec.md §4.7 names: unique
// indices, sub-index monotonicity within a record, array homogeneity,
// default-value type compatibility, and no custom index colliding with a
// reserved range. Errors are positional, naming the offending section.
func (d *Document) Validate() error {
	if d.NumTPDOs > 128 {
		return fmt.Errorf("%s: num_tpdos %d exceeds the 128-slot limit", d.path, d.NumTPDOs)
	}
	if d.NumRPDOs > 128 {
		return fmt.Errorf("%s: num_rpdos %d exceeds the 128-slot limit", d.path, d.NumRPDOs)
	}

	seen := map[uint16]bool{}
	for _, obj := range d.Objects {
		if seen[obj.Index] {
			return d.positional(obj.section, "duplicate object index 0x%04X", obj.Index)
		}
		seen[obj.Index] = true

		if isReserved(obj.Index) {
			return d.positional(obj.section, "index 0x%04X collides with a reserved range", obj.Index)
		}

		switch obj.ObjectType {
		case objectTypeVar:
			if err := d.validateScalar(obj.section, obj.DataType, obj.AccessType, obj.DefaultValue, obj.PDOMapping); err != nil {
				return err
			}
		case objectTypeArray, objectTypeRecord:
			if err := d.validateList(obj); err != nil {
				return err
			}
		default:
			return d.positional(obj.section, "unknown object_type %q", obj.ObjectType)
		}
	}

	if d.Bootloader != nil {
		names := map[string]bool{}
		for _, sec := range d.Bootloader.Sections {
			if names[sec.Name] {
				return fmt.Errorf("%s: [bootloader]: duplicate section name %q", d.path, sec.Name)
			}
			names[sec.Name] = true
		}
		if len(d.Bootloader.Sections) > int(od.EntryBootloaderSectionEnd-od.EntryBootloaderSectionStart)+1 {
			return fmt.Errorf("%s: [bootloader]: too many sections for the 0x%04X-0x%04X range",
				d.path, od.EntryBootloaderSectionStart, od.EntryBootloaderSectionEnd)
		}
	}

	return nil
}

func (d *Document) validateScalar(section, dataType, accessType, defaultValue, pdoMapping string) error {
	dt, ok := validDataTypes[dataType]
	if !ok {
		return d.positional(section, "unknown data_type %q", dataType)
	}
	if accessType != "" && !validAccessTypes[accessType] {
		return d.positional(section, "unknown access_type %q", accessType)
	}
	if pdoMapping != "" && !validPDOMappings[pdoMapping] {
		return d.positional(section, "unknown pdo_mapping %q", pdoMapping)
	}
	if defaultValue != "" {
		if _, err := od.EncodeFromString(defaultValue, dt, 0); err != nil {
			return d.positional(section, "default_value %q incompatible with data_type %q: %v", defaultValue, dataType, err)
		}
	}
	return nil
}

func (d *Document) validateList(obj ObjectDef) error {
	if len(obj.Subs) == 0 {
		return d.positional(obj.section, "%s object has no subs", obj.ObjectType)
	}

	subIndices := make([]int, 0, len(obj.Subs))
	seenSub := map[uint8]bool{}
	for _, sub := range obj.Subs {
		if seenSub[sub.SubIndex] {
			return d.positional(sub.section, "duplicate sub-index %d in object 0x%04X", sub.SubIndex, obj.Index)
		}
		seenSub[sub.SubIndex] = true
		subIndices = append(subIndices, int(sub.SubIndex))
		if err := d.validateScalar(sub.section, sub.DataType, sub.AccessType, sub.DefaultValue, sub.PDOMapping); err != nil {
			return err
		}
	}
	sort.Ints(subIndices)
	for i, idx := range subIndices {
		if idx != i+1 {
			return d.positional(obj.section, "sub-indices of object 0x%04X are not a contiguous run starting at 1", obj.Index)
		}
	}

	if obj.ObjectType == objectTypeArray {
		first := obj.Subs[0]
		for _, sub := range obj.Subs[1:] {
			if sub.DataType != first.DataType {
				return d.positional(obj.section, "array object 0x%04X has mismatched data_type across subs (%q vs %q)", obj.Index, sub.DataType, first.DataType)
			}
			if sub.AccessType != first.AccessType {
				return d.positional(obj.section, "array object 0x%04X has mismatched access_type across subs", obj.Index)
			}
		}
		if int(obj.ArraySize) != 0 && int(obj.ArraySize) != len(obj.Subs) {
			return d.positional(obj.section, "array object 0x%04X declares array_size=%d but has %d subs", obj.Index, obj.ArraySize, len(obj.Subs))
		}
	}

	return nil
}
