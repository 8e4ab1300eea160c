package process

import (
	"bufio"
	"io"
	"iter"
	"strings"
)

// maxLineSize bounds a single output line. Longer lines are delivered in
// chunks of this size.
const maxLineSize = 1 << 20

// OutputStream is a single-pass sequence of output lines. The process's
// exit status becomes visible through Err only after the last line.
type OutputStream struct {
	scanner *bufio.Scanner
	wait    func() error
	kill    func()
	line    string
	err     error
	done    bool
}

// NewStream wraps r as an OutputStream. wait is called once r is exhausted
// and its result is the stream's final error.
func NewStream(r io.Reader, wait func() error) *OutputStream {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	sc.Split(scanChunkedLines)
	return &OutputStream{scanner: sc, wait: wait}
}

// scanChunkedLines is bufio.ScanLines, except that a full buffer with no
// newline is returned as a token instead of failing with bufio.ErrTooLong.
func scanChunkedLines(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= maxLineSize {
		return maxLineSize, data[:maxLineSize], nil
	}
	return advance, token, err
}

// Next advances to the next line, returning false at the end.
func (s *OutputStream) Next() bool {
	if s.done {
		return false
	}
	if s.scanner.Scan() {
		s.line = strings.TrimRight(s.scanner.Text(), "\r")
		return true
	}
	s.finish(s.scanner.Err())
	return false
}

// Line returns the current line without its trailing newline.
func (s *OutputStream) Line() string {
	return s.line
}

// Err returns the terminal error once Next has returned false.
func (s *OutputStream) Err() error {
	return s.err
}

// Lines returns the remaining lines for use with range. A terminal error is
// yielded last with an empty line.
func (s *OutputStream) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for s.Next() {
			if !yield(s.Line(), nil) {
				return
			}
		}
		if s.err != nil {
			yield("", s.err)
		}
	}
}

// Close abandons the stream, killing the process if it is still running,
// and returns the final status.
func (s *OutputStream) Close() error {
	if !s.done {
		if s.kill != nil {
			s.kill()
		}
		s.finish(nil)
	}
	return s.err
}

func (s *OutputStream) finish(scanErr error) {
	s.done = true
	s.line = ""
	if scanErr != nil && s.kill != nil {
		s.kill()
	}
	var waitErr error
	if s.wait != nil {
		waitErr = s.wait()
	}
	if scanErr != nil {
		s.err = scanErr
		return
	}
	s.err = waitErr
}
