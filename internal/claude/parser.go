package claude

import (
	"bufio"
	"encoding/json"
	"io"
)

const defaultBufferSize = 10 * 1024 * 1024

// Parser decodes stream-json output into events.
type Parser interface {
	// Parse emits one Event per decodable line and closes the channel at EOF.
	Parse(reader io.Reader) <-chan Event
}

// DefaultParser is the line-oriented stream-json [Parser].
//
// BufferSize caps a single line; tool results embedding file contents can be
// large. Values <= 0 use 10MB.
type DefaultParser struct {
	BufferSize int
}

// NewParser returns a [DefaultParser] with a 10MB line limit.
func NewParser() *DefaultParser {
	return &DefaultParser{BufferSize: defaultBufferSize}
}

// Parse reads reader line by line. Blank and malformed lines are skipped; a
// scanner error ends the stream.
func (p *DefaultParser) Parse(reader io.Reader) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		bufSize := p.BufferSize
		if bufSize <= 0 {
			bufSize = defaultBufferSize
		}
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), bufSize)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var raw StreamEvent
			if err := json.Unmarshal(line, &raw); err != nil {
				continue
			}
			events <- NewEventFromStream(&raw)
		}
	}()

	return events
}

// ParseSingle decodes one line, returning the JSON error instead of skipping it.
func ParseSingle(line string) (Event, error) {
	var raw StreamEvent
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Event{}, err
	}
	return NewEventFromStream(&raw), nil
}
