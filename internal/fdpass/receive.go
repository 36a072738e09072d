package fdpass

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultMaxDescriptors is how many descriptors the control buffer has room
// for when the caller does not say. Anything beyond that is dropped by the
// kernel and reported as truncated.
const DefaultMaxDescriptors = 8

// extraControl leaves room for one non-rights message (credentials or a
// timestamp) next to the rights message.
const extraControl = 64

// Received is the outcome of a successful Receive.
type Received struct {
	// File is the transmitted descriptor. The caller owns it.
	File *os.File
	// Payload is the regular data that came with the descriptor.
	Payload []byte
	// Discarded counts extra descriptors that were closed on arrival.
	Discarded int
	// Truncated is set when the kernel reported MSG_CTRUNC.
	Truncated bool
}

// Receive reads one message from conn and returns the single descriptor it
// carried. payload bounds the regular data read; nil means a one byte
// placeholder. maxDescriptors sizes the control buffer, zero picks
// DefaultMaxDescriptors.
//
// When more than one descriptor arrives the first is kept and every other
// one is closed before Receive returns.
func Receive(conn *net.UnixConn, payload []byte, maxDescriptors int) (*Received, error) {
	if maxDescriptors < 1 {
		maxDescriptors = DefaultMaxDescriptors
	}
	buf := payload
	if len(buf) == 0 {
		buf = make([]byte, 1)
	}
	oob := make([]byte, unix.CmsgSpace(maxDescriptors*4)+extraControl)

	n, oobn, flags, _, err := conn.ReadMsgUnix(buf, oob)
	if errors.Is(err, io.EOF) || (err == nil && n == 0 && oobn == 0) {
		return nil, protocolError(ErrMissingAncillaryData, "peer closed the connection")
	}
	if err != nil {
		return nil, fmt.Errorf("recvmsg: %w", err)
	}

	if oobn == 0 {
		return nil, protocolError(ErrMissingAncillaryData, "got %d byte(s) of data only", n)
	}

	files, others, err := parseRights(oob[:oobn])
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		if len(others) == 0 {
			return nil, protocolError(ErrUnexpectedMessageKind, "rights message carried no descriptors")
		}
		return nil, protocolError(ErrUnexpectedMessageKind, "got %s", strings.Join(others, ", "))
	}

	for _, extra := range files[1:] {
		extra.Close()
	}

	return &Received{
		File:      files[0],
		Payload:   buf[:n],
		Discarded: len(files) - 1,
		Truncated: flags&unix.MSG_CTRUNC != 0,
	}, nil
}

// parseRights wraps every descriptor found in the control data and names
// every message that was not SCM_RIGHTS.
func parseRights(control []byte) ([]*os.File, []string, error) {
	msgs, err := unix.ParseSocketControlMessage(control)
	if err != nil {
		return nil, nil, protocolError(ErrUnexpectedMessageKind, "malformed control data: %v", err)
	}

	var files []*os.File
	var others []string
	for i := range msgs {
		header := msgs[i].Header
		if header.Level != unix.SOL_SOCKET || header.Type != unix.SCM_RIGHTS {
			others = append(others, describe(header.Level, header.Type))
			continue
		}
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			others = append(others, "unparsable rights message")
			continue
		}
		for _, fd := range fds {
			files = append(files, os.NewFile(uintptr(fd), fmt.Sprintf("received-fd-%d", fd)))
		}
	}
	return files, others, nil
}

func describe(level, typ int32) string {
	if level == unix.SOL_SOCKET {
		switch typ {
		case unix.SCM_TIMESTAMP:
			return "SCM_TIMESTAMP"
		case scmCredentials:
			return "SCM_CREDENTIALS"
		}
	}
	return fmt.Sprintf("control message level=%d type=%d", level, typ)
}
