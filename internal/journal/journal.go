// Package journal implements the append-only journal (§4.D): one JSON
// object per line, fsynced per record, the sole durable record of intent
// and outcome the Transaction Manager consults for rollback and undo.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	goversion "github.com/hashicorp/go-version"

	"github.com/mjansen/tfs/internal/fsutil"
	"github.com/mjansen/tfs/internal/model"
)

// Phase is a journal record's position in its op_id's lifecycle.
type Phase string

const (
	PhaseStart  Phase = "start"
	PhaseOK     Phase = "ok"
	PhaseFail   Phase = "fail"
	PhaseUndone Phase = "undone"
)

// Header is the first line of every journal, fixing the format before any
// record is trusted.
type Header struct {
	FormatVersion string `json:"format_version"`
	RunID         string `json:"run_id"`
}

// Record is a single journal line. Effect is populated only on PhaseOK;
// ErrorKind/Message only on PhaseFail. A PhaseUndone record references the
// op_id it reverses and carries no effect of its own.
type Record struct {
	Seq       int             `json:"seq"`
	OpID      int             `json:"op_id"`
	Phase     Phase           `json:"phase"`
	OpKind    model.OpKind    `json:"op_kind,omitempty"`
	Src       string          `json:"src,omitempty"`
	Dst       string          `json:"dst,omitempty"`
	Effect    *model.Effect   `json:"effect,omitempty"`
	ErrorKind model.ErrorKind `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Writer appends records to a journal file (a new one from Create, or an
// existing one from OpenAppend), holding an exclusive advisory lock for
// its lifetime (§5: "two engines must not share a journal").
type Writer struct {
	f   *os.File
	enc *json.Encoder
	seq int
}

// Create opens path as a brand-new journal (it must not already exist)
// and writes its header record.
func Create(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, model.NewError(model.ErrIO, "creating journal "+path, err)
	}
	if err := fsutil.Flock(f); err != nil {
		f.Close()
		return nil, model.NewError(model.ErrIO, "locking journal "+path, err)
	}

	w := &Writer{f: f, enc: json.NewEncoder(f)}
	if err := w.writeLine(Header{FormatVersion: model.JournalFormatVersion, RunID: runID}); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeLine(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return model.NewError(model.ErrIO, "writing journal record", err)
	}
	if err := w.f.Sync(); err != nil {
		return model.NewError(model.ErrIO, "fsyncing journal", err)
	}
	return nil
}

// Append assigns rec the next sequence number and fsyncs it before
// returning, satisfying invariant 2 (unique, increasing op_id — seq here)
// and the "fsync per record" requirement.
func (w *Writer) Append(rec Record) (Record, error) {
	w.seq++
	rec.Seq = w.seq
	if err := w.writeLine(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Close releases the advisory lock and the underlying file handle.
func (w *Writer) Close() error {
	_ = fsutil.Unflock(w.f)
	return w.f.Close()
}

// OpenAppend reopens an existing journal to append further records —
// used by standalone undo, which appends `undone`/`fail` records to the
// journal it is reversing rather than starting a new one (§4.E). lastSeq
// is the highest seq already present, so numbering continues without a
// gap.
func OpenAppend(path string, lastSeq int) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, model.NewError(model.ErrIO, "opening journal "+path, err)
	}
	if err := fsutil.Flock(f); err != nil {
		f.Close()
		return nil, model.NewError(model.ErrIO, "locking journal "+path, err)
	}
	return &Writer{f: f, enc: json.NewEncoder(f), seq: lastSeq}, nil
}

// Read opens an existing journal read-only, validates the header's
// format_version, checks seq contiguity, and returns every well-formed
// record. A truncated trailing line — the signature of a crash mid-write
// before fsync landed — is silently discarded rather than treated as a
// parse error (§6: "a trailing partial line is discarded").
func Read(path string) (Header, []Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, model.NewError(model.ErrIO, "opening journal "+path, err)
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}
	if err := sc.Err(); err != nil {
		return Header{}, nil, model.NewError(model.ErrIO, "reading journal "+path, err)
	}
	if len(lines) == 0 {
		return Header{}, nil, model.NewError(model.ErrIO, "empty journal "+path, nil)
	}

	var hdr Header
	if err := json.Unmarshal(lines[0], &hdr); err != nil {
		return Header{}, nil, model.NewError(model.ErrIO, "parsing journal header", err)
	}
	if err := checkFormatVersion(hdr.FormatVersion); err != nil {
		return Header{}, nil, err
	}

	records := make([]Record, 0, len(lines)-1)
	for i, line := range lines[1:] {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			if i == len(lines)-2 {
				// Last line, malformed: a truncated write. Discard it.
				break
			}
			return Header{}, nil, model.NewError(model.ErrIO, "parsing journal record", err)
		}
		records = append(records, rec)
	}

	expected := 1
	for _, rec := range records {
		if rec.Seq != expected {
			return Header{}, nil, model.NewError(model.ErrIO,
				fmt.Sprintf("journal seq gap: want %d, got %d", expected, rec.Seq), nil)
		}
		expected++
	}

	return hdr, records, nil
}

// checkFormatVersion rejects a journal whose format is newer than this
// build understands, rather than guessing at an incompatible layout.
func checkFormatVersion(raw string) error {
	have, err := goversion.NewVersion(model.JournalFormatVersion)
	if err != nil {
		return model.NewError(model.ErrIO, "parsing built-in format version", err)
	}
	got, err := goversion.NewVersion(raw)
	if err != nil {
		return model.NewError(model.ErrIO, "parsing journal format_version "+raw, err)
	}
	if got.Segments()[0] > have.Segments()[0] {
		return model.NewError(model.ErrIO, fmt.Sprintf("journal format %s is newer than this build supports (%s)", raw, model.JournalFormatVersion), nil)
	}
	return nil
}
