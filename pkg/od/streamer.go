package od

import (
	"sync"
)

// A Stream object is used for streaming data from / to an OD entry.
// It is meant to be used inside of a [StreamReader] or [StreamWriter] function
// and provides low level access for defining custom behaviour when reading
// or writing to an OD entry.
type Stream struct {
	// Mutex used for synchronizing OD access
	mu *sync.RWMutex
	// The actual corresponding data stored inside of OD
	Data []byte
	// This is used to keep track of how much has been written or read.
	// It is typically used for long running transfers, i.e. segmented SDO.
	DataOffset uint32
	// The actual length of the data inside of the OD. This can be different
	// from len(Data) when manipulating data with varying sizes like strings
	// or buffers.
	DataLength uint32
	// A custom object that can be used when using a custom extension,
	// see [Entry.AddExtension].
	Object any
	// The OD attribute of the entry inside OD. e.g. AttributeSdoR
	Attribute uint8
	// The subindex of this OD entry. For a VAR type this is always 0.
	Subindex uint8
	// The owning variable, set for the default reader/writer so that
	// WriteEntryDefault can apply range-limit checks.
	variable *Variable
}

// A StreamReader is a function that reads from a [Stream] object and
// updates countRead with the number of bytes actually read.
type StreamReader func(stream *Stream, read []byte, countRead *uint16) error

// A StreamWriter is a function that writes to a [Stream] object using the
// toWrite slice and updates countWritten.
type StreamWriter func(stream *Stream, toWrite []byte, countWritten *uint16) error

// extension object, used for extending functionality of an OD entry.
// This package has some pre-made extensions for CiA defined entries.
type extension struct {
	object   any          // Any object to link with extension
	read     StreamReader // A [StreamReader] that will be called when reading entry
	write    StreamWriter // A [StreamWriter] that will be called when writing to entry
	flagsPDO [FlagsPdoSize]uint8
}

// Streamer is created before accessing an OD entry. It wraps the OD
// [Stream] with a reader and writer, defaulting to [ReadEntryDefault] and
// [WriteEntryDefault] unless the entry carries its own extension.
type Streamer struct {
	Stream
	reader StreamReader
	writer StreamWriter
}

// Read implements io.Reader.
func (s *Streamer) Read(b []byte) (n int, err error) {
	countRead := uint16(0)
	err = s.reader(&s.Stream, b, &countRead)
	return int(countRead), err
}

// Write implements io.Writer.
func (s *Streamer) Write(b []byte) (n int, err error) {
	countWritten := uint16(0)
	err = s.writer(&s.Stream, b, &countWritten)
	return int(countWritten), err
}

func (s *Streamer) Writer() StreamWriter {
	return s.writer
}

func (s *Streamer) Reader() StreamReader {
	return s.reader
}

func (s *Streamer) SetWriter(writer StreamWriter) {
	s.writer = writer
}

func (s *Streamer) SetReader(reader StreamReader) {
	s.reader = reader
}

// HasAttribute reports whether the streamed entry carries the given OD
// attribute bit(s).
func (s *Streamer) HasAttribute(attribute uint8) bool {
	return (s.Attribute & attribute) != 0
}

func (s *Streamer) ResetData(size uint32, offset uint32) {
	s.Data = make([]byte, size)
	s.DataOffset = offset
}

func (s *Streamer) SetStream(stream Stream) {
	s.Stream = stream
}

// NewStreamer creates an object streamer for a given OD entry + subindex.
func NewStreamer(entry *Entry, subIndex uint8, origin bool) (*Streamer, error) {
	if entry == nil || entry.object == nil {
		return nil, ErrIdxNotExist
	}
	streamer := &Streamer{}
	switch object := entry.object.(type) {
	case *Variable:
		if subIndex > 0 {
			return nil, ErrSubNotExist
		}
		if object.DataType == DOMAIN && entry.extension == nil {
			// Domain entries require an extension; by default they are disabled.
			streamer.reader = ReadEntryDisabled
			streamer.writer = WriteEntryDisabled
			streamer.Subindex = subIndex
			streamer.mu = &object.mu
			entry.logger.Warn("no extension specified for domain object")
			return streamer, nil
		}
		streamer.Attribute = object.Attribute
		streamer.Data = object.value
		streamer.DataLength = object.DataLength()
		streamer.mu = &object.mu
		streamer.variable = object

	case *VariableList:
		variable, err := object.GetSubObject(subIndex)
		if err != nil {
			return nil, err
		}
		streamer.Attribute = variable.Attribute
		streamer.Data = variable.value
		streamer.DataLength = variable.DataLength()
		streamer.mu = &variable.mu
		streamer.variable = variable

	default:
		entry.logger.Error("unknown entry object type")
		return nil, ErrDevIncompat
	}
	if entry.extension == nil || origin {
		streamer.reader = ReadEntryDefault
		streamer.writer = WriteEntryDefault
		streamer.Object = nil
		streamer.DataOffset = 0
		streamer.Subindex = subIndex
		return streamer, nil
	}
	if entry.extension.read == nil {
		streamer.reader = ReadEntryDisabled
	} else {
		streamer.reader = entry.extension.read
	}
	if entry.extension.write == nil {
		streamer.writer = WriteEntryDisabled
	} else {
		streamer.writer = entry.extension.write
	}
	streamer.Object = entry.extension.object
	streamer.DataOffset = 0
	streamer.Subindex = subIndex
	return streamer, nil
}

// ReadEntryDefault is the default [StreamReader] for every OD entry. It
// reads from the variable's backing buffer, splitting the transfer across
// several calls (segmented SDO) when the buffer does not fit in one shot.
func ReadEntryDefault(stream *Stream, data []byte, countRead *uint16) error {
	if stream == nil || stream.Data == nil || data == nil || countRead == nil {
		return ErrDevIncompat
	}
	if stream.mu == nil {
		return ErrDevIncompat
	}
	stream.mu.RLock()
	defer stream.mu.RUnlock()

	total := int(stream.DataLength)
	offset := int(stream.DataOffset)
	count := len(data)
	var err error

	dataLenToCopy := total
	if offset > 0 || dataLenToCopy > count {
		if offset >= total {
			return ErrDevIncompat
		}
		dataLenToCopy = total - offset
		if dataLenToCopy > count {
			dataLenToCopy = count
			stream.DataOffset += uint32(dataLenToCopy)
			err = ErrPartial
		} else {
			stream.DataOffset = 0
		}
	}
	copy(data, stream.Data[offset:offset+dataLenToCopy])
	*countRead = uint16(dataLenToCopy)
	return err
}

// WriteEntryDefault is the default [StreamWriter] for every OD entry. It
// writes into the variable's backing buffer, enforcing the declared
// lowLimit/highLimit range when the write completes the full value.
func WriteEntryDefault(stream *Stream, data []byte, countWritten *uint16) error {
	if stream == nil || stream.Data == nil || data == nil || countWritten == nil {
		return ErrDevIncompat
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()

	total := int(stream.DataLength)
	offset := int(stream.DataOffset)
	count := len(data)
	var err error

	dataLenToCopy := total
	if offset > 0 || dataLenToCopy > count {
		if offset >= total {
			return ErrDevIncompat
		}
		dataLenToCopy = total - offset
		if dataLenToCopy > count {
			dataLenToCopy = count
			stream.DataOffset += uint32(dataLenToCopy)
			err = ErrPartial
		} else {
			stream.DataOffset = 0
		}
	}

	if dataLenToCopy < count || offset+dataLenToCopy > len(stream.Data) {
		return ErrDataLong
	}

	// Range limits apply to a complete value written in one call; partial
	// segments carry only a slice of the value and cannot be checked.
	if err == nil && offset == 0 && stream.variable != nil {
		if limitErr := stream.variable.checkLimits(data); limitErr != nil {
			return limitErr
		}
	}

	copy(stream.Data[offset:offset+dataLenToCopy], data)
	*countWritten = uint16(dataLenToCopy)
	return err
}

// ReadEntryDisabled is the [StreamReader] used when the actual OD entry is
// disabled for reading.
func ReadEntryDisabled(stream *Stream, data []byte, countRead *uint16) error {
	return ErrUnsuppAccess
}

// WriteEntryDisabled is the [StreamWriter] used when the actual OD entry is
// disabled for writing.
func WriteEntryDisabled(stream *Stream, data []byte, countWritten *uint16) error {
	return ErrUnsuppAccess
}
