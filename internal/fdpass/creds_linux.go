package fdpass

import "golang.org/x/sys/unix"

const scmCredentials = unix.SCM_CREDENTIALS
