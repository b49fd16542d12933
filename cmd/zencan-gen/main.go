// Command zencan-gen compiles a device-config document (spec.md §6) into a
// static object dictionary and reports the result, the same role the
// teacher's own cmd/canopen tool played for loading an EDS file before
// bringing up a node: an offline step, run once per device revision, not on
// the device itself.
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/zencan/zencan/pkg/config"
)

func main() {
	log.SetLevel(log.InfoLevel)

	docPath := flag.String("c", "", "device-config document path (required)")
	nodeId := flag.Int("n", 1, "node id substituted into $NODEID defaults and predefined COB-IDs")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *docPath == "" {
		fmt.Fprintln(os.Stderr, "usage: zencan-gen -c device.ini [-n node-id]")
		os.Exit(2)
	}
	if *nodeId < 1 || *nodeId > 127 {
		log.Fatalf("node id %d out of range 1-127", *nodeId)
	}

	doc, err := config.Load(*docPath)
	if err != nil {
		log.Fatalf("loading %s: %v", *docPath, err)
	}
	log.Infof("loaded %s: device=%q tpdos=%d rpdos=%d objects=%d", *docPath, doc.DeviceName, doc.NumTPDOs, doc.NumRPDOs, len(doc.Objects))

	if err := doc.Validate(); err != nil {
		log.Fatalf("invalid document: %v", err)
	}
	log.Info("document validated")

	odict, err := config.Compile(nil, doc, uint8(*nodeId))
	if err != nil {
		log.Fatalf("compiling: %v", err)
	}

	entries := odict.Entries()
	log.Infof("compiled object dictionary: %d entries", len(entries))
	for _, entry := range entries {
		log.Debugf("  0x%04X %-40s subs=%d", entry.Index, entry.Name, entry.SubCount())
	}
	if doc.Bootloader != nil {
		log.Infof("bootloader enabled: %d section(s)", len(doc.Bootloader.Sections))
	}
}
