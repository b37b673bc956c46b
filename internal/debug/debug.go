// Package debug is a process-wide binary trace of generated code and call
// events. Writers may run on any goroutine: each record claims its byte range
// with an atomic add and is written with WriteAt, so records never interleave.
package debug

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Record layout, little endian:
//   - 2 bytes kind
//   - 2 bytes source length
//   - 4 bytes data length
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - 8 bytes address the data refers to (0 for events)
//   - source, then data
const headerSize = 24

type Kind uint16

const (
	KindInvalid Kind = iota
	KindCode
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCode:
		return "code"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("Kind(%d)", uint16(k))
	}
}

type Writer interface {
	io.WriterAt
	io.Closer
}

type sink struct {
	w Writer
}

var (
	current atomic.Pointer[sink]
	offset  atomic.Uint64
)

// Open starts tracing to w. An error means a previous writer was still open;
// it has been replaced and its trailing records may be lost.
func Open(w Writer) error {
	offset.Store(0)
	if current.Swap(&sink{w: w}) != nil {
		return fmt.Errorf("debug: already open, discarded old writer")
	}
	return nil
}

func OpenFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	return Open(f)
}

// Memory is an in-memory trace destination.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if end := int(off) + len(p); end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}
	return copy(m.data[off:], p), nil
}

func (m *Memory) Close() error { return nil }

// Bytes returns a copy of everything written so far.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.data)
}

func OpenMemory() (*Memory, error) {
	mem := &Memory{}
	if err := Open(mem); err != nil {
		return nil, err
	}
	return mem, nil
}

func Close() error {
	s := current.Swap(nil)
	offset.Store(0)
	if s != nil {
		return s.w.Close()
	}
	return nil
}

// Enabled reports whether a trace is open. Callers use it to skip building
// expensive records.
func Enabled() bool {
	return current.Load() != nil
}

func encodeHeader(kind Kind, source string, addr uint64, data []byte) []byte {
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint64(header[16:24], addr)
	return header
}

func write(kind Kind, source string, addr uint64, data []byte) {
	s := current.Load()
	if s == nil {
		return
	}

	record := append(encodeHeader(kind, source, addr, data), source...)
	record = append(record, data...)
	size := uint64(len(record))
	off := offset.Add(size) - size
	if _, err := s.w.WriteAt(record, int64(off)); err != nil {
		panic(err)
	}
}

// WriteCode records machine code that will run at addr.
func WriteCode(source string, addr uintptr, code []byte) {
	write(KindCode, source, uint64(addr), code)
}

func Write(source string, msg string) {
	write(KindEvent, source, 0, []byte(msg))
}

func Writef(source string, format string, args ...any) {
	if !Enabled() {
		return
	}
	write(KindEvent, source, 0, fmt.Appendf(nil, format, args...))
}

// Source writes every record under one source name.
type Source string

func (s Source) WriteCode(addr uintptr, code []byte) { WriteCode(string(s), addr, code) }

func (s Source) Write(msg string) { Write(string(s), msg) }

func (s Source) Writef(format string, args ...any) { Writef(string(s), format, args...) }

// Entry is one decoded record.
type Entry struct {
	Time    time.Time
	Kind    Kind
	Source  string
	Address uint64
	Data    []byte
}

// SearchOptions filters Reader.Search. Zero values match everything.
type SearchOptions struct {
	Sources []string
	Kind    Kind
	// Last keeps only the final N matching entries.
	Last int
}

func (o SearchOptions) match(e Entry) bool {
	if o.Kind != KindInvalid && e.Kind != o.Kind {
		return false
	}
	return len(o.Sources) == 0 || slices.Contains(o.Sources, e.Source)
}

type Reader struct {
	entries []Entry
}

// NewReader decodes a whole trace. Records are returned in file order, which
// for a single writer goroutine is also the order they were written in.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	ret := &Reader{}
	var header [headerSize]byte
	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("debug: read header: %w", err)
		}
		kind := Kind(binary.LittleEndian.Uint16(header[0:2]))
		if kind == KindInvalid {
			return nil, fmt.Errorf("debug: invalid record at entry %d", len(ret.entries))
		}
		sourceLen := binary.LittleEndian.Uint16(header[2:4])
		dataLen := binary.LittleEndian.Uint32(header[4:8])

		body := make([]byte, int(sourceLen)+int(dataLen))
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, fmt.Errorf("debug: read record body: %w", err)
		}
		ret.entries = append(ret.entries, Entry{
			Time:    time.Unix(0, int64(binary.LittleEndian.Uint64(header[8:16]))),
			Kind:    kind,
			Address: binary.LittleEndian.Uint64(header[16:24]),
			Source:  string(body[:sourceLen]),
			Data:    body[sourceLen:],
		})
	}
	return ret, nil
}

func NewReaderFromFile(filename string) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return NewReader(f)
}

func (r *Reader) Len() int { return len(r.entries) }

// Sources lists source names in order of first appearance.
func (r *Reader) Sources() []string {
	var sources []string
	for _, e := range r.entries {
		if !slices.Contains(sources, e.Source) {
			sources = append(sources, e.Source)
		}
	}
	return sources
}

func (r *Reader) Each(fn func(Entry) error) error {
	return r.Search(SearchOptions{}, fn)
}

func (r *Reader) Search(opts SearchOptions, fn func(Entry) error) error {
	var matched []Entry
	for _, e := range r.entries {
		if opts.match(e) {
			matched = append(matched, e)
		}
	}
	if opts.Last > 0 && len(matched) > opts.Last {
		matched = matched[len(matched)-opts.Last:]
	}
	for _, e := range matched {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
