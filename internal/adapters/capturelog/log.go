// Package capturelog stores captures as a sequence of framed JSON records:
// [8-byte id][4-byte length][JSON body], ids increasing from 1.
package capturelog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const recordHeaderLen = 12

// maxRecordLen bounds a single record body.
const maxRecordLen = 256 << 20

type Stats struct {
	Records   uint64
	SizeBytes int64
}

// Writer appends records to a capture log.
type Writer struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	writer    *bufio.Writer
	nextID    uint64
	sizeBytes int64
}

// Create starts a new, empty log at path.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{path: path, file: f, writer: bufio.NewWriterSize(f, 1<<20)}, nil
}

// Open continues an existing log, dropping a partially written trailing
// record.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{path: path, file: f}
	if err := w.scanExisting(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(w.sizeBytes, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	w.writer = bufio.NewWriterSize(f, 1<<20)
	return w, nil
}

func (w *Writer) scanExisting() error {
	var (
		offset int64
		lastID uint64
	)
	err := scan(w.file, func(id uint64, body []byte, end int64) error {
		offset = end
		lastID = id
		return nil
	})
	if err != nil && !errors.Is(err, errPartialRecord) {
		return err
	}
	if err := w.file.Truncate(offset); err != nil {
		return err
	}
	w.sizeBytes = offset
	w.nextID = lastID
	return nil
}

// Append writes rec and returns its id.
func (w *Writer) Append(rec Record) (uint64, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal %s record: %w", rec.Kind, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID + 1
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], id)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := w.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.writer.Write(b); err != nil {
		return 0, err
	}
	w.nextID = id
	w.sizeBytes += int64(len(b) + len(hdr))
	return id, nil
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writer.Flush()
}

// Close flushes, syncs and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.writer.Flush(), w.file.Sync(), w.file.Close())
}

func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{Records: w.nextID, SizeBytes: w.sizeBytes}
}

func (w *Writer) Path() string { return w.path }

// Iterate calls fn for every complete record in the log at path. A
// partially written trailing record ends the iteration without error.
func Iterate(path string, fn func(id uint64, rec Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = scan(f, func(id uint64, body []byte, _ int64) error {
		var rec Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("corrupt capture log record %d: %w", id, err)
		}
		return fn(id, rec)
	})
	if errors.Is(err, errPartialRecord) {
		return nil
	}
	return err
}

var errPartialRecord = errors.New("capturelog: partial trailing record")

// scan walks the framed records of r from its start. end is the offset just
// past each record.
func scan(r io.ReadSeeker, fn func(id uint64, body []byte, end int64) error) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader := bufio.NewReader(r)
	var offset int64
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return errPartialRecord
			}
			return fmt.Errorf("capture log header: %w", err)
		}
		id := binary.BigEndian.Uint64(hdr[0:8])
		length := binary.BigEndian.Uint32(hdr[8:12])
		if length > maxRecordLen {
			return fmt.Errorf("capture log record %d: length %d exceeds limit", id, length)
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return errPartialRecord
			}
			return fmt.Errorf("capture log body: %w", err)
		}
		offset += recordHeaderLen + int64(length)
		if err := fn(id, body, offset); err != nil {
			return err
		}
	}
}
