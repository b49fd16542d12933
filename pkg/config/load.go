package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// matchIndex and matchSub mirror the EDS section-naming convention the
// teacher's own EDS reader used (pkg/od/parser_v1.go): an object section is
// named by its 4-hex-digit index, and a RECORD member section is named
// "<index>sub<subindex>" in hex. The device-config document reuses that
// convention for its custom objects, alongside a handful of dedicated
// sections (device, identity, pdos, bootloader) for the metadata spec.md §6
// lists outside the object table.
var (
	matchIndex = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
	matchSub   = regexp.MustCompile(`^([0-9A-Fa-f]{4})sub([0-9A-Fa-f]+)$`)
)

// Load reads a device-config document from the file at path.
func Load(path string) (*Document, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	doc := &Document{path: pathString(path)}

	if sec := f.Section("device"); sec != nil {
		doc.DeviceName = sec.Key("name").String()
	}

	if sec, err := f.GetSection("identity"); err == nil {
		doc.Identity.VendorId = uint32(sec.Key("vendor_id").MustUint(0))
		doc.Identity.ProductCode = uint32(sec.Key("product_code").MustUint(0))
		doc.Identity.RevisionNumber = uint32(sec.Key("revision_number").MustUint(0))
		doc.Identity.SerialNumber = uint32(sec.Key("serial_number").MustUint(0))
	}

	if sec, err := f.GetSection("pdos"); err == nil {
		doc.NumTPDOs = uint8(sec.Key("num_tpdos").MustUint(0))
		doc.NumRPDOs = uint8(sec.Key("num_rpdos").MustUint(0))
	}

	if sec, err := f.GetSection("bootloader"); err == nil {
		names := sec.Key("sections").Strings(",")
		flags := sec.Key("programmable_in_app").Strings(",")
		if len(names) > 0 {
			boot := &BootloaderDef{}
			for i, name := range names {
				programmable := false
				if i < len(flags) {
					programmable = strings.EqualFold(strings.TrimSpace(flags[i]), "true")
				}
				boot.Sections = append(boot.Sections, BootloaderSection{
					Name:              strings.TrimSpace(name),
					ProgrammableInApp: programmable,
				})
			}
			doc.Bootloader = boot
		}
	}

	position := map[uint16]int{}
	for _, section := range f.Sections() {
		name := section.Name()
		if !matchIndex.MatchString(name) {
			continue
		}
		idx, err := strconv.ParseUint(name, 16, 16)
		if err != nil {
			return nil, doc.positional(name, "bad object index: %v", err)
		}
		index := uint16(idx)
		if _, exists := position[index]; exists {
			return nil, doc.positional(name, "duplicate object index 0x%04X", index)
		}
		obj := ObjectDef{
			Index:         index,
			ParameterName: section.Key("parameter_name").String(),
			ObjectType:    strings.ToLower(section.Key("object_type").MustString(objectTypeVar)),
			DataType:      strings.ToLower(section.Key("data_type").String()),
			AccessType:    strings.ToLower(section.Key("access_type").String()),
			DefaultValue:  section.Key("default_value").String(),
			PDOMapping:    strings.ToLower(section.Key("pdo_mapping").MustString(pdoMappingNone)),
			LowLimit:      section.Key("low_limit").String(),
			HighLimit:     section.Key("high_limit").String(),
			ArraySize:     uint8(section.Key("array_size").MustUint(0)),
			section:       name,
		}
		position[index] = len(doc.Objects)
		doc.Objects = append(doc.Objects, obj)
	}

	for _, section := range f.Sections() {
		name := section.Name()
		m := matchSub.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		idx, err := strconv.ParseUint(m[1], 16, 16)
		if err != nil {
			return nil, doc.positional(name, "bad sub-object index %q: %v", m[1], err)
		}
		sidx, err := strconv.ParseUint(m[2], 16, 8)
		if err != nil {
			return nil, doc.positional(name, "bad sub-index %q: %v", m[2], err)
		}
		pos, ok := position[uint16(idx)]
		if !ok {
			return nil, doc.positional(name, "sub-object for undeclared index 0x%04X", idx)
		}
		doc.Objects[pos].Subs = append(doc.Objects[pos].Subs, SubDef{
			SubIndex:      uint8(sidx),
			ParameterName: section.Key("parameter_name").String(),
			DataType:      strings.ToLower(section.Key("data_type").String()),
			AccessType:    strings.ToLower(section.Key("access_type").String()),
			DefaultValue:  section.Key("default_value").String(),
			PDOMapping:    strings.ToLower(section.Key("pdo_mapping").MustString(pdoMappingNone)),
			LowLimit:      section.Key("low_limit").String(),
			HighLimit:     section.Key("high_limit").String(),
			section:       name,
		})
	}

	return doc, nil
}

// pathString renders Load's path into a string usable in error messages;
// an empty path falls back to a placeholder.
func pathString(path string) string {
	if path == "" {
		return "<document>"
	}
	return path
}
