// The wire protocol is the inline command format: one command per line,
// space-separated tokens, CRLF or LF terminated. It is deliberately the
// human half of the Redis protocol — everything here can be driven from
// netcat or telnet — and the replies use the RESP scalar types (`+OK`,
// `:42`, `-ERR ...`, `$n` bulk strings) so existing tooling can read them.
//
// Sketch elements arrive as protocol tokens, so they cannot contain
// whitespace. That restriction is acceptable for this server: elements
// are identifiers (user ids, IPs, query hashes), not arbitrary blobs.
//
// The parser is hardened against one denial-of-service vector: a client
// that streams bytes without ever sending a newline. readLine enforces
// MaxLineSize and fails the connection instead of buffering without bound.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MaxLineSize bounds a single command line. 64KB is generous for any
// legitimate batch of elements.
const MaxLineSize = 64 * 1024

var errLineTooLong = errors.New("protocol error: line too long")

type Parser struct {
	reader *bufio.Reader
}

func NewParser(conn io.Reader) *Parser {
	return &Parser{reader: bufio.NewReaderSize(conn, 4096)}
}

// Parse reads the next non-empty command line and splits it into tokens.
func (p *Parser) Parse() ([]string, error) {
	for {
		line, err := p.readLine()
		if err != nil {
			return nil, err
		}

		parts := bytes.Fields(line)
		if len(parts) == 0 {
			continue // bare newline, keep-alive noise from interactive tools
		}

		command := make([]string, len(parts))
		for i, part := range parts {
			command[i] = string(part)
		}
		return command, nil
	}
}

// readLine reads bytes until '\n', enforcing MaxLineSize.
func (p *Parser) readLine() ([]byte, error) {
	line, isPrefix, err := p.reader.ReadLine()
	if err != nil {
		return nil, err
	}
	if !isPrefix {
		return line, nil
	}

	var buf bytes.Buffer
	buf.Write(line)
	for isPrefix {
		line, isPrefix, err = p.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		if buf.Len()+len(line) > MaxLineSize {
			return nil, errLineTooLong
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

// Buffered reports how many bytes the client has already shipped beyond
// the current command. Non-zero means the client is pipelining and the
// response flush can wait.
func (p *Parser) Buffered() int {
	return p.reader.Buffered()
}
