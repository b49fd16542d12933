package od

import "encoding/binary"

// Bootloader command sub-indices (spec.md §6): sub 1/2 report status and
// size, sub 3 is the command register that arms the erase/program action
// once the matching magic word is written to it.
const (
	SubBootloaderStatus  byte = 1
	SubBootloaderSize    byte = 2
	SubBootloaderCommand byte = 3
)

// BootloaderCallback fires once an exact magic word is written to a
// bootloader command sub-index. section is 0 for the top-level control
// object (0x5500); for the section-erase objects it is the 0-based offset
// from EntryBootloaderSectionStart (0 for 0x5510, 1 for 0x5511, ...). An
// error returned here is
// surfaced back to the SDO client as ErrHw.
type BootloaderCallback func(section uint8) error

// Bootloader adapts an application-supplied erase/program callback to the
// 0x5500 control object and the 0x5510-0x551F per-section erase objects.
// It carries no flash-access code of its own: actually touching flash is
// the application's job, this just gates it on CiA-defined magic writes.
type Bootloader struct {
	reset   BootloaderCallback
	erase   BootloaderCallback
	section uint8
}

// NewBootloaderControl builds the extension object for entry 0x5500. reset
// is invoked when BootloaderResetMagic is written to sub 3.
func NewBootloaderControl(reset BootloaderCallback) *Bootloader {
	return &Bootloader{reset: reset}
}

// NewBootloaderSection builds the extension object for one entry in the
// 0x5510-0x551F range. section identifies which flash section this entry
// erases, for applications managing more than one.
func NewBootloaderSection(section uint8, erase BootloaderCallback) *Bootloader {
	return &Bootloader{erase: erase, section: section}
}

// WriteEntryBootloaderControl is the [StreamWriter] for 0x5500 sub 3: any
// other sub-index falls through to the default writer (status/size are
// plain read-only scalars), sub 3 is only accepted with an exact magic
// word match.
func WriteEntryBootloaderControl(stream *Stream, data []byte, countWritten *uint16) error {
	if stream == nil || data == nil || countWritten == nil {
		return ErrDevIncompat
	}
	b, ok := stream.Object.(*Bootloader)
	if !ok {
		return ErrDevIncompat
	}
	if stream.Subindex != SubBootloaderCommand {
		return WriteEntryDefault(stream, data, countWritten)
	}
	if len(data) != 4 {
		return ErrDataLong
	}
	if binary.LittleEndian.Uint32(data) != BootloaderResetMagic {
		return ErrInvalidValue
	}
	if err := WriteEntryDefault(stream, data, countWritten); err != nil {
		return err
	}
	if b.reset != nil {
		if err := b.reset(0); err != nil {
			return ErrHw
		}
	}
	return nil
}

// WriteEntryBootloaderSection is the [StreamWriter] for a 0x5510-0x551F
// section entry's sub 3, gating erase the same way as the control object.
func WriteEntryBootloaderSection(stream *Stream, data []byte, countWritten *uint16) error {
	if stream == nil || data == nil || countWritten == nil {
		return ErrDevIncompat
	}
	b, ok := stream.Object.(*Bootloader)
	if !ok {
		return ErrDevIncompat
	}
	if stream.Subindex != SubBootloaderCommand {
		return WriteEntryDefault(stream, data, countWritten)
	}
	if len(data) != 4 {
		return ErrDataLong
	}
	if binary.LittleEndian.Uint32(data) != BootloaderEraseMagic {
		return ErrInvalidValue
	}
	if err := WriteEntryDefault(stream, data, countWritten); err != nil {
		return err
	}
	if b.erase != nil {
		if err := b.erase(b.section); err != nil {
			return ErrHw
		}
	}
	return nil
}
