package ami

import (
	"bufio"
	"io"
	"strings"
)

// Parser reads an AMI byte stream and emits Events.
type Parser struct {
	scanner *bufio.Scanner
}

// NewParser creates a Parser that reads from the given reader.
func NewParser(r io.Reader) *Parser {
	return &Parser{scanner: bufio.NewScanner(r)}
}

// Next reads the next block from the stream.
// Returns the event and true if one was read, or a zero Event and false at EOF.
func (p *Parser) Next() (Event, bool) {
	var headers []header

	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")

		// Blank line terminates a block.
		if line == "" {
			if len(headers) > 0 {
				return Event{headers: headers}, true
			}
			continue
		}

		h, ok := splitHeader(line)
		if !ok {
			// Lines without ": " (the greeting banner, follows-style output)
			// are skipped unless a block is already being collected.
			if len(headers) == 0 {
				continue
			}
			headers = append(headers, header{Key: "", Value: line})
			continue
		}
		headers = append(headers, h)
	}

	if len(headers) > 0 {
		return Event{headers: headers}, true
	}
	return Event{}, false
}

// ParseAll reads every block from the stream.
func (p *Parser) ParseAll() []Event {
	var events []Event
	for {
		evt, ok := p.Next()
		if !ok {
			break
		}
		events = append(events, evt)
	}
	return events
}

// ParseBlock parses one CRLF-separated key:value block, as accumulated by the
// connection listener between blank-line terminators.
func ParseBlock(block string) Event {
	var headers []header
	for _, line := range strings.Split(block, "\r\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if h, ok := splitHeader(line); ok {
			headers = append(headers, h)
		}
	}
	return Event{headers: headers}
}

func splitHeader(line string) (header, bool) {
	idx := strings.Index(line, ": ")
	if idx < 0 {
		return header{}, false
	}
	return header{Key: line[:idx], Value: line[idx+2:]}, true
}
