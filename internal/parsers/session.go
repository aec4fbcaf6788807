// Package parsers turns append-only agent session logs into usage candidates.
package parsers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/janekbaraniewski/costledger/internal/core"
)

const (
	markerModelChange   = "model_change"
	markerCustom        = "custom"
	markerModelSnapshot = "model-snapshot"
	roleAssistant       = "assistant"
)

// FileState is the per-file parse context carried between reads of a growing
// file. The zero value starts at the beginning with no current model.
type FileState struct {
	Offset       int64
	CurrentModel string
	// Stamp is used for records without a timestamp: the file's modification
	// time when reading started at offset zero.
	Stamp time.Time
}

// ReadStats describes one ReadFile pass.
type ReadStats struct {
	Lines      int
	Malformed  int
	Candidates int
	// Pending is the size of a trailing unterminated fragment left for the next read.
	Pending int64
}

type Parser struct {
	schema Schema
	now    func() time.Time
}

func New(schema Schema) *Parser {
	return &Parser{schema: schema, now: time.Now}
}

func NewDefault() *Parser {
	return New(DefaultSchema)
}

// SessionID derives the session identifier from a session log path.
func SessionID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ReadFile parses the bytes appended since st.Offset and advances st. Only
// complete lines are consumed; an unterminated tail is consumed only when it
// is already valid JSON, otherwise it is left for the next call. A file
// shorter than st.Offset has been truncated or replaced and is re-read from
// the start. On a read error st is left unchanged.
func (p *Parser) ReadFile(path string, st *FileState) ([]core.Candidate, ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer f.Close()
	return p.readFile(f, SessionID(path), st)
}

type sessionFile interface {
	io.ReadSeeker
	Stat() (os.FileInfo, error)
}

func (p *Parser) readFile(f sessionFile, sessionID string, st *FileState) ([]core.Candidate, ReadStats, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, ReadStats{}, err
	}
	if info.IsDir() {
		return nil, ReadStats{}, fmt.Errorf("%s is a directory", info.Name())
	}
	size := info.Size()
	next := *st
	if size < next.Offset {
		next = FileState{}
	}
	if size == next.Offset {
		*st = next
		return nil, ReadStats{}, nil
	}
	if next.Offset == 0 || next.Stamp.IsZero() {
		next.Stamp = info.ModTime().UTC()
	}
	if _, err := f.Seek(next.Offset, io.SeekStart); err != nil {
		return nil, ReadStats{}, err
	}

	cands, stats, err := p.read(io.LimitReader(f, size-next.Offset), sessionID, &next)
	if err != nil {
		return nil, ReadStats{}, err
	}
	*st = next
	return cands, stats, nil
}

// read consumes r from st.Offset. st is only meaningful when err is nil.
func (p *Parser) read(r io.Reader, sessionID string, st *FileState) ([]core.Candidate, ReadStats, error) {
	var stats ReadStats
	reader := bufio.NewReaderSize(r, 64*1024)
	var out []core.Candidate

	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, ReadStats{}, readErr
		}

		complete := readErr == nil
		if !complete {
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 && !json.Valid(trimmed) {
				stats.Pending = int64(len(line))
				break
			}
		}

		st.Offset += int64(len(line))
		if cand, ok := p.parseLine(line, sessionID, st, &stats); ok {
			out = append(out, cand)
			stats.Candidates++
		}

		if !complete {
			break
		}
	}
	return out, stats, nil
}

// ParseLine parses a single record, updating st's model context.
func (p *Parser) ParseLine(line []byte, sessionID string, st *FileState) (core.Candidate, bool) {
	var stats ReadStats
	return p.parseLine(line, sessionID, st, &stats)
}

func (p *Parser) parseLine(line []byte, sessionID string, st *FileState, stats *ReadStats) (core.Candidate, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return core.Candidate{}, false
	}
	stats.Lines++

	rec, ok := decodeRecord(trimmed)
	if !ok {
		stats.Malformed++
		return core.Candidate{}, false
	}

	if model, ok := p.modelMarker(rec); ok {
		st.CurrentModel = model
		return core.Candidate{}, false
	}

	if p.schema.Role.String(rec) != roleAssistant {
		return core.Candidate{}, false
	}

	model := p.schema.Model.String(rec)
	if model == "" {
		model = st.CurrentModel
	}
	if model == "" {
		return core.Candidate{}, false
	}

	input, _ := p.schema.Input.Int64(rec)
	output, _ := p.schema.Output.Int64(rec)
	if input == 0 && output == 0 {
		return core.Candidate{}, false
	}
	cacheRead, _ := p.schema.CacheRead.Int64(rec)
	cacheWrite, _ := p.schema.CacheWrite.Int64(rec)

	// Offset nanoseconds keep stamped records in one file distinct.
	ts := st.Stamp.Add(time.Duration(st.Offset))
	if st.Stamp.IsZero() {
		ts = p.now().UTC()
	}
	if raw, ok := p.schema.Timestamp.Value(rec); ok {
		if parsed, ok := ParseTimestamp(raw); ok {
			ts = parsed
		}
	}

	var text string
	if raw, ok := p.schema.Content.Value(rec); ok {
		text = contentText(raw)
	}

	return core.Candidate{
		Timestamp:        ts,
		SessionID:        sessionID,
		Model:            model,
		InputTokens:      input,
		OutputTokens:     output,
		CacheReadTokens:  cacheRead,
		CacheWriteTokens: cacheWrite,
		Text:             text,
		RawPayload:       append([]byte(nil), trimmed...),
	}, true
}

func (p *Parser) modelMarker(rec map[string]any) (string, bool) {
	switch p.schema.MarkerType.String(rec) {
	case markerModelChange:
	case markerCustom:
		if p.schema.MarkerCustomType.String(rec) != markerModelSnapshot {
			return "", false
		}
	default:
		return "", false
	}
	provider := p.schema.MarkerProvider.String(rec)
	modelID := p.schema.MarkerModelID.String(rec)
	if provider == "" || modelID == "" {
		return "", false
	}
	return provider + "/" + modelID, true
}

func decodeRecord(line []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil || rec == nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return rec, true
}
