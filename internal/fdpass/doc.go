// Package fdpass moves open file descriptors between processes over a
// connected Unix stream socket using SCM_RIGHTS ancillary data.
//
// A sender transmits one rights message with at least one byte of regular
// payload. Receive performs exactly one recvmsg, wraps every descriptor it
// got in an *os.File before looking at anything else, keeps the first one
// and closes the rest. Callers own the returned file.
package fdpass
