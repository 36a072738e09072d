package relay

import (
	"bufio"
	"errors"
	"io"
	"os"
	"syscall"
)

// MaxLineLength caps a single relayed line; longer input is split.
const MaxLineLength = 64 * 1024

// readLines calls emit for every line read from src until end of stream.
// A final line without a newline is still emitted.
func readLines(src io.Reader, emit func(string) error) (int, error) {
	br := bufio.NewReaderSize(stopOnEmpty{src}, MaxLineLength)
	lines := 0
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			if eerr := emit(trimEOL(string(chunk))); eerr != nil {
				return lines, eerr
			}
			lines++
		}
		switch {
		case err == nil, errors.Is(err, bufio.ErrBufferFull):
			continue
		case endOfStream(err):
			return lines, nil
		default:
			return lines, err
		}
	}
}

// stopOnEmpty turns a zero-byte read without an error into io.EOF, so a
// misbehaving descriptor can never keep the loop spinning.
type stopOnEmpty struct {
	r io.Reader
}

func (s stopOnEmpty) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := s.r.Read(p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

// endOfStream covers EOF, EIO (the other side of a pty hung up) and a
// descriptor closed under us during shutdown.
func endOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

func trimEOL(line string) string {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
		if n > 0 && line[n-1] == '\r' {
			n--
		}
	}
	return line[:n]
}
