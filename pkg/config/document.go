package config

import "fmt"

// Document is the parsed form of a device-config file (spec.md §6): enough
// information to build a complete static object dictionary without ever
// touching a bus. Load populates one from an INI-shaped file; Compile turns
// one into an *od.ObjectDictionary.
type Document struct {
	DeviceName string
	Identity   Identity
	NumTPDOs   uint8
	NumRPDOs   uint8
	Objects    []ObjectDef
	Bootloader *BootloaderDef

	// path is the source file, carried along so validation errors can point
	// back at it.
	path string
}

// ObjectDef describes one object dictionary entry: a VAR, or the comm
// parameters of an ARRAY/RECORD whose members are listed in Subs.
type ObjectDef struct {
	Index         uint16
	ParameterName string
	ObjectType    string // "var", "array", "record"
	DataType      string
	AccessType    string
	DefaultValue  string
	PDOMapping    string // "none", "tpdo", "rpdo", "both" (default "none")
	LowLimit      string
	HighLimit     string
	ArraySize     uint8
	Subs          []SubDef

	// section is the source section name this object was parsed from
	// (e.g. "2000"), used to make validation errors positional without
	// depending on line-number tracking the ini parser doesn't expose.
	section string
}

// SubDef describes one sub-index of a RECORD object.
type SubDef struct {
	SubIndex      uint8
	ParameterName string
	DataType      string
	AccessType    string
	DefaultValue  string
	PDOMapping    string
	LowLimit      string
	HighLimit     string

	section string
}

// BootloaderDef enables the 0x5500/0x5510+ bootloader objects (spec.md §6)
// when present; each Section becomes one 0x5510+n erase object.
type BootloaderDef struct {
	Sections []BootloaderSection
}

// BootloaderSection names one flash region the bootloader can erase.
// ProgrammableInApp records whether the running application itself may
// request an erase of this section (as opposed to only the bootloader at
// boot); the compiler does not currently gate on it, it is carried through
// for the application's own use.
type BootloaderSection struct {
	Name              string
	ProgrammableInApp bool
}

const (
	objectTypeVar    = "var"
	objectTypeArray  = "array"
	objectTypeRecord = "record"
)

const (
	pdoMappingNone = "none"
	pdoMappingTPDO = "tpdo"
	pdoMappingRPDO = "rpdo"
	pdoMappingBoth = "both"
)

// positional formats err with the document path and source section, for
// validation failures tied to one object definition.
func (d *Document) positional(section string, format string, args ...any) error {
	return fmt.Errorf("%s: [%s]: %s", d.path, section, fmt.Sprintf(format, args...))
}
