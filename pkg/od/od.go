package od

import (
	"fmt"
	"log/slog"
	"sort"
)

var _logger = slog.Default()

var objectTypeName = map[uint8]string{
	ObjectTypeVAR:    "VAR",
	ObjectTypeARRAY:  "ARRAY",
	ObjectTypeRECORD: "RECORD",
}

// ObjectDictionary stores every entry of a CANopen node according to CiA
// 301. Entries are held sorted by index in a slice rather than a map so
// that lookups can binary search instead of hash, and so that the whole
// structure can be built once by the device-config compiler and treated as
// immutable in shape for the remaining lifetime of the node.
type ObjectDictionary struct {
	logger             *slog.Logger
	entries            []*Entry
	entriesByIndexName map[string]*Entry
}

// NewObjectDictionary returns an empty object dictionary ready to be
// populated by Add* calls, normally driven by the device-config compiler.
func NewObjectDictionary(logger *slog.Logger) *ObjectDictionary {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectDictionary{
		logger:             logger,
		entriesByIndexName: map[string]*Entry{},
	}
}

// addEntry inserts entry keeping od.entries sorted by index. An existing
// entry at the same index is replaced in place.
func (od *ObjectDictionary) addEntry(entry *Entry) {
	i := sort.Search(len(od.entries), func(i int) bool {
		return od.entries[i].Index >= entry.Index
	})
	if i < len(od.entries) && od.entries[i].Index == entry.Index {
		entry.logger.Warn("overwriting entry")
		od.entries[i] = entry
	} else {
		od.entries = append(od.entries, nil)
		copy(od.entries[i+1:], od.entries[i:])
		od.entries[i] = entry
	}
	od.entriesByIndexName[entry.Name] = entry
	entry.logger.Debug("added entry", "objectType", objectTypeName[entry.ObjectType])
}

// AddEntry inserts a fully-built entry into the OD, replacing any existing
// entry at the same index. It is the low-level counterpart to
// AddVariableType/AddVariableList, used by the device-config compiler to
// insert entries built from NewVariableFromConfig (custom objects carry
// node-id substitution and value-limit data the AddVariableType literal
// path does not support).
func (od *ObjectDictionary) AddEntry(entry *Entry) {
	od.addEntry(entry)
}

// addVariable wraps variable in a new VAR entry and adds it to the OD.
func (od *ObjectDictionary) addVariable(index uint16, variable *Variable) *Entry {
	entry := NewEntry(od.logger, index, variable.Name, variable, ObjectTypeVAR)
	od.addEntry(entry)
	return entry
}

// AddVariableType adds an entry of type VAR to the OD. value is given as a
// string with hex or decimal representation, e.g. "0x22" or "42". If the
// index already holds an entry it is replaced.
func (od *ObjectDictionary) AddVariableType(
	index uint16,
	name string,
	datatype uint8,
	attribute uint8,
	value string,
) (*Entry, error) {
	variable, err := NewVariable(0, name, datatype, attribute, value)
	if err != nil {
		return nil, err
	}
	return od.addVariable(index, variable), nil
}

// AddVariableList adds an entry of type ARRAY or RECORD, as determined by
// varList, to the OD.
func (od *ObjectDictionary) AddVariableList(index uint16, name string, varList *VariableList) *Entry {
	entry := NewEntry(od.logger, index, name, varList, varList.objectType)
	od.addEntry(entry)
	return entry
}

func (od *ObjectDictionary) addPDO(pdoNb uint16, isRPDO bool) error {
	indexOffset := pdoNb - 1
	pdoType := "RPDO"
	if !isRPDO {
		indexOffset += 0x400
		pdoType = "TPDO"
	}

	pdoComm := NewRecord()
	pdoComm.AddSubObject(0, "Highest sub-index supported", UNSIGNED8, AttributeSdoR, "0x5")
	pdoComm.AddSubObject(1, fmt.Sprintf("COB-ID used by %s", pdoType), UNSIGNED32, AttributeSdoRw, "0x0")
	pdoComm.AddSubObject(2, "Transmission type", UNSIGNED8, AttributeSdoRw, "0x0")
	pdoComm.AddSubObject(3, "Inhibit time", UNSIGNED16, AttributeSdoRw, "0x0")
	pdoComm.AddSubObject(4, "Reserved", UNSIGNED8, AttributeSdoRw, "0x0")
	pdoComm.AddSubObject(5, "Event timer", UNSIGNED16, AttributeSdoRw, "0x0")
	od.AddVariableList(EntryRPDOCommunicationStart+indexOffset, fmt.Sprintf("%s communication parameter", pdoType), pdoComm)

	pdoMap := NewRecord()
	pdoMap.AddSubObject(0, "Number of mapped application objects in PDO", UNSIGNED8, AttributeSdoRw, "0x0")
	for i := uint8(0); i < MaxMappedEntriesPdo; i++ {
		pdoMap.AddSubObject(i+1, fmt.Sprintf("Application object %d", i+1), UNSIGNED32, AttributeSdoRw, "0x0")
	}
	od.AddVariableList(EntryRPDOMappingStart+indexOffset, fmt.Sprintf("%s mapping parameter", pdoType), pdoMap)
	od.logger.Info("added PDO object to OD", "type", pdoType, "nb", pdoNb)
	return nil
}

// AddRPDO adds the Communication & Mapping parameter entries for rpdoNb to
// the OD. It does not create the corresponding runtime RPDO object.
func (od *ObjectDictionary) AddRPDO(rpdoNb uint16) error {
	if rpdoNb < 1 || rpdoNb > 512 {
		return ErrDevIncompat
	}
	return od.addPDO(rpdoNb, true)
}

// AddTPDO adds the Communication & Mapping parameter entries for tpdoNb to
// the OD. It does not create the corresponding runtime TPDO object.
func (od *ObjectDictionary) AddTPDO(tpdoNb uint16) error {
	if tpdoNb < 1 || tpdoNb > 512 {
		return ErrDevIncompat
	}
	return od.addPDO(tpdoNb, false)
}

// AddSYNC adds objects 0x1005, 0x1006, 0x1007 & 0x1019 to the OD. By
// default SYNC is added with the producer disabled and COB-ID 0x80.
func (od *ObjectDictionary) AddSYNC() {
	od.AddVariableType(0x1005, "COB-ID SYNC message", UNSIGNED32, AttributeSdoRw, "0x80000080")
	od.AddVariableType(0x1006, "Communication cycle period", UNSIGNED32, AttributeSdoRw, "0x0")
	od.AddVariableType(0x1007, "Synchronous window length", UNSIGNED32, AttributeSdoRw, "0x0")
	od.AddVariableType(0x1019, "Synchronous counter overflow value", UNSIGNED8, AttributeSdoRw, "0x0")
	od.logger.Info("added SYNC object to OD")
}

// Index returns the entry at the given index, or nil if none exists. index
// may be a string (looked up by name), int, uint, or uint16.
//
// Lookup by numeric index runs sort.Search over the sorted entries slice,
// giving O(log n) behaviour without a hash map.
func (od *ObjectDictionary) Index(index any) *Entry {
	var idx uint16
	switch v := index.(type) {
	case string:
		return od.entriesByIndexName[v]
	case int:
		idx = uint16(v)
	case uint:
		idx = uint16(v)
	case uint16:
		idx = v
	default:
		return nil
	}
	i := sort.Search(len(od.entries), func(i int) bool {
		return od.entries[i].Index >= idx
	})
	if i < len(od.entries) && od.entries[i].Index == idx {
		return od.entries[i]
	}
	return nil
}

// SubscribeWrite registers cb to fire after every completed write to
// (index, subIndex); see [Entry.SubscribeWrite]. Writes to other sub-indices
// of the same entry do not fire cb.
func (od *ObjectDictionary) SubscribeWrite(index uint16, subIndex uint8, cb WriteCallback) error {
	entry := od.Index(index)
	if entry == nil {
		return ErrIdxNotExist
	}
	if _, err := entry.SubIndex(subIndex); err != nil {
		return err
	}
	entry.SubscribeWrite(func(idx uint16, sub uint8, data []byte) {
		if sub == subIndex {
			cb(idx, sub, data)
		}
	})
	return nil
}

// Streamer creates a new OD object streamer at the given index and subindex.
func (od *ObjectDictionary) Streamer(index uint16, subindex uint8, origin bool) (*Streamer, error) {
	entry := od.Index(index)
	return NewStreamer(entry, subindex, origin)
}

// Entries returns every entry in the dictionary, sorted by index.
func (od *ObjectDictionary) Entries() []*Entry {
	return od.entries
}
