package ai

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MaxFrameSize bounds a single SSE line and a single event's data.
const MaxFrameSize = 2 * 1024 * 1024

var ErrFrameTooLarge = errors.New("ai: sse frame exceeds size limit")

// Event is one server-sent event. Data holds the data lines joined by "\n",
// each trimmed of surrounding whitespace.
type Event struct {
	Name string
	Data []byte
}

// Decoder splits a byte stream into server-sent events. Events may arrive
// split across any number of reads; an event ends at a blank line (or at EOF
// when the server omits the trailing blank line). Lines are split on '\n'
// bytes only, so multi-byte UTF-8 sequences are never cut.
type Decoder struct {
	r   *bufio.Reader
	max int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024), max: MaxFrameSize}
}

// Next returns the next event that carries data. It returns io.EOF once the
// stream is exhausted.
func (d *Decoder) Next() (Event, error) {
	var (
		ev      Event
		data    []byte
		hasData bool
	)

	for {
		line, err := d.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, err
		}
		eof := err != nil

		line = bytes.TrimRight(line, "\r\n")
		switch {
		case len(line) == 0:
			if hasData {
				ev.Data = data
				return ev, nil
			}
			ev.Name = ""
		case line[0] == ':':
			// comment / keep-alive
		case bytes.HasPrefix(line, []byte("data:")):
			value := bytes.TrimSpace(line[len("data:"):])
			if hasData {
				data = append(data, '\n')
			}
			if len(data)+len(value) > d.max {
				return Event{}, ErrFrameTooLarge
			}
			data = append(data, value...)
			hasData = true
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Name = string(bytes.TrimSpace(line[len("event:"):]))
		}
		// id: and retry: fields carry nothing this client uses.

		if eof {
			if hasData {
				ev.Data = data
				return ev, nil
			}
			return Event{}, io.EOF
		}
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		if len(line)+len(chunk) > d.max {
			return nil, ErrFrameTooLarge
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}
}
