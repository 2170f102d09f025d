package ai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

type sseReader struct {
	br *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{br: bufio.NewReader(r)}
}

// Next returns the next complete event. Comment lines are skipped, multi-line
// data is joined with "\n". io.EOF is returned once the body is drained.
func (s *sseReader) Next() (string, string, error) {
	var (
		eventName string
		dataLines []string
	)
	for {
		line, err := s.br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", "", err
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if len(dataLines) > 0 {
				return eventName, strings.Join(dataLines, "\n"), nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if eof {
			if len(dataLines) > 0 {
				return eventName, strings.Join(dataLines, "\n"), nil
			}
			return "", "", io.EOF
		}
	}
}
