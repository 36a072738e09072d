//go:build !linux

package fdpass

// scmCredentials does not exist outside Linux; -1 never matches a header type.
const scmCredentials = -1
