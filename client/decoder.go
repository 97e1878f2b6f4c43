// Package client consumes the assistant's HTTP API, including the streamed
// chat frames.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"quizzy-backend/models"
)

// Frame is one decoded chat frame; terminal frames have Done set
type Frame struct {
	Content      string                  `json:"content"`
	Done         bool                    `json:"done"`
	Sources      []models.SourceCitation `json:"sources,omitempty"`
	FullResponse string                  `json:"fullResponse,omitempty"`
}

// Decoder parses `data: <json>` events separated by blank lines. Events are
// assembled line by line, so transport chunking does not matter.
type Decoder struct {
	scanner *bufio.Scanner
	data    strings.Builder
	hasData bool
}

// NewDecoder reads frames from r
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next frame, or io.EOF once the stream is exhausted
func (d *Decoder) Next() (*Frame, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()

		if line == "" {
			if d.hasData {
				return d.emit()
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		if d.hasData {
			d.data.WriteByte('\n')
		}
		d.data.WriteString(strings.TrimPrefix(value, " "))
		d.hasData = true
	}

	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	if d.hasData {
		return d.emit()
	}
	return nil, io.EOF
}

func (d *Decoder) emit() (*Frame, error) {
	raw := d.data.String()
	d.data.Reset()
	d.hasData = false

	var f Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("malformed frame %q: %w", raw, err)
	}
	return &f, nil
}
