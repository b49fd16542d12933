// Package config implements the offline device-config compiler: it parses
// an INI-shaped device description and emits a static *od.ObjectDictionary
// ready to hand to node.NewNode. Nothing in this package talks to a bus; it
// runs at build time, not on the device.
package config

// Identity is the CiA 301 identity object (0x1018) quadruple that uniquely
// addresses a node for LSS fastscan and switch-state-selective (spec.md
// §3/§4.5). lss.LSSAddress embeds this directly, so its field names and
// types are load-bearing outside this package.
type Identity struct {
	VendorId       uint32
	ProductCode    uint32
	RevisionNumber uint32
	SerialNumber   uint32
}
