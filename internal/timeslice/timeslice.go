// Package timeslice records how long each phase of a foreign call takes.
// Records are queued to a background writer so the hot path only pays for a
// channel send, and nothing at all while no recording is open.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

const (
	Magic   uint32 = 0x53544646 // "FFTS"
	Version uint32 = 1
)

// The header is followed by the JSON kind table, padded to headerAlign.
const headerAlign = 512

type header struct {
	Magic      uint32
	Version    uint32
	KindsBytes uint32
}

type KindID uint64

const InvalidKind = KindID(0)

type SliceFlags uint32

const (
	// SliceFlagCodegen marks time spent producing or protecting code.
	SliceFlagCodegen SliceFlags = 1 << iota
	// SliceFlagForeign marks time spent inside the called function.
	SliceFlagForeign
)

func (f SliceFlags) String() string {
	var flags []string
	if f&SliceFlagCodegen != 0 {
		flags = append(flags, "codegen")
	}
	if f&SliceFlagForeign != 0 {
		flags = append(flags, "foreign")
	}
	return strings.Join(flags, ",")
}

type KindInfo struct {
	Name  string
	Flags SliceFlags
}

var kinds = make(map[KindID]KindInfo)

// RegisterKind must be called from package initialisation; the registry is
// not locked.
func RegisterKind(name string, flags SliceFlags) KindID {
	id := KindID(len(kinds) + 1)
	kinds[id] = KindInfo{Name: name, Flags: flags}
	return id
}

type record struct {
	ID       KindID
	Duration int64
}

var recordSize = binary.Size(record{})

type writer struct {
	w    io.Writer
	recs chan record
	done chan error
}

func (w *writer) run() {
	bw := bufio.NewWriterSize(w.w, 4096)
	var buf [16]byte
	for rec := range w.recs {
		binary.LittleEndian.PutUint64(buf[0:8], uint64(rec.ID))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(rec.Duration))
		if _, err := bw.Write(buf[:recordSize]); err != nil {
			// Keep draining so Record never blocks on a dead writer.
			for range w.recs {
			}
			w.done <- err
			return
		}
	}
	w.done <- bw.Flush()
}

func (w *writer) Close() error {
	if !active.CompareAndSwap(w, nil) {
		return fmt.Errorf("timeslice: already closed")
	}
	close(w.recs)
	if err := <-w.done; err != nil {
		return fmt.Errorf("timeslice: write: %w", err)
	}
	return nil
}

var active atomic.Pointer[writer]

// Recording reports whether StartRecording is in effect.
func Recording() bool {
	return active.Load() != nil
}

func Record(id KindID, duration time.Duration) {
	if w := active.Load(); w != nil {
		w.recs <- record{ID: id, Duration: duration.Nanoseconds()}
	}
}

// Recorder measures consecutive phases: each Record call covers the time
// since the previous one. Not safe for concurrent use.
type Recorder struct {
	last time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{last: time.Now()}
}

func (r *Recorder) Record(id KindID) {
	now := time.Now()
	Record(id, now.Sub(r.last))
	r.last = now
}

// StartRecording writes the kind table to w and routes every later Record
// call to it until the returned Closer is closed.
func StartRecording(w io.Writer) (io.Closer, error) {
	if active.Load() != nil {
		return nil, fmt.Errorf("timeslice: already recording")
	}

	table, err := json.Marshal(kinds)
	if err != nil {
		return nil, fmt.Errorf("timeslice: marshal kinds: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:      Magic,
		Version:    Version,
		KindsBytes: uint32(len(table)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(table); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}
	if pad := padding(binary.Size(header{}) + len(table)); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return nil, fmt.Errorf("timeslice: write padding: %w", err)
		}
	}

	wr := &writer{
		w:    w,
		recs: make(chan record, 4096),
		done: make(chan error, 1),
	}
	if !active.CompareAndSwap(nil, wr) {
		return nil, fmt.Errorf("timeslice: already recording")
	}
	go wr.run()
	return wr, nil
}

func padding(n int) int {
	return (headerAlign - n%headerAlign) % headerAlign
}

// ReadAllRecords decodes a recording and calls fn for every record in the
// order it was made.
func ReadAllRecords(r io.Reader, fn func(kind string, flags SliceFlags, duration time.Duration) error) error {
	br := bufio.NewReaderSize(r, 4096)

	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if h.Magic != Magic {
		return fmt.Errorf("timeslice: invalid magic 0x%08x", h.Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("timeslice: unsupported version %d", h.Version)
	}

	var table map[KindID]KindInfo
	if err := json.NewDecoder(io.LimitReader(br, int64(h.KindsBytes))).Decode(&table); err != nil {
		return fmt.Errorf("timeslice: decode kinds: %w", err)
	}
	if _, err := br.Discard(padding(binary.Size(header{}) + int(h.KindsBytes))); err != nil {
		return fmt.Errorf("timeslice: skip padding: %w", err)
	}

	for {
		var rec record
		if err := binary.Read(br, binary.LittleEndian, &rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		info, ok := table[rec.ID]
		if !ok {
			return fmt.Errorf("timeslice: unknown kind %d", rec.ID)
		}
		if err := fn(info.Name, info.Flags, time.Duration(rec.Duration)); err != nil {
			return err
		}
	}
}

// Summary aggregates the records of one kind.
type Summary struct {
	Kind  string
	Flags SliceFlags
	Count int
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (s Summary) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Summarize reads a recording and returns one Summary per kind, sorted by
// total time, largest first.
func Summarize(r io.Reader) ([]Summary, error) {
	byKind := make(map[string]*Summary)
	if err := ReadAllRecords(r, func(kind string, flags SliceFlags, d time.Duration) error {
		s, ok := byKind[kind]
		if !ok {
			s = &Summary{Kind: kind, Flags: flags, Min: d, Max: d}
			byKind[kind] = s
		}
		s.Count++
		s.Total += d
		s.Min = min(s.Min, d)
		s.Max = max(s.Max, d)
		return nil
	}); err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(byKind))
	for _, s := range byKind {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}
