package zencan

import "errors"

var (
	ErrIllegalArgument       = errors.New("error in function arguments")
	ErrOdParameters          = errors.New("error in object dictionary parameters")
	ErrNodeIdUnconfiguredLSS = errors.New("node-id is in LSS unconfigured state")
)

// restrictedIds are CAN-IDs reserved by the CiA-301 predefined connection
// set (NMT, SYNC, TIME) that a PDO or emergency COB-ID may not claim.
var restrictedIds = map[uint16]bool{
	0x000: true, // NMT
	0x080: true, // SYNC / EMCY ground
	0x100: true, // TIME
}

// IsIDRestricted reports whether canId collides with a CAN-ID reserved by
// the predefined connection set.
func IsIDRestricted(canId uint16) bool {
	return restrictedIds[canId&0x7FF]
}
