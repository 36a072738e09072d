package fdpass

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/PiranhaCodes/ptyhandoff/internal/testutil"
)

func passCredentials(t *testing.T, conn *net.UnixConn) {
	t.Helper()
	raw, err := conn.SyscallConn()
	require.NoError(t, err)
	var serr error
	require.NoError(t, raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
	}))
	require.NoError(t, serr)
}

func TestReceiveCredentialsOnlyIsUnexpected(t *testing.T) {
	left, right := testutil.UnixPair(t)
	passCredentials(t, right)

	_, err := left.Write([]byte{Placeholder})
	require.NoError(t, err)

	_, err = Receive(right, nil, 0)
	require.ErrorIs(t, err, ErrUnexpectedMessageKind)
	assert.Contains(t, err.Error(), "SCM_CREDENTIALS")
}

func TestReceiveIgnoresCredentialsNextToRights(t *testing.T) {
	left, right := testutil.UnixPair(t)
	passCredentials(t, right)
	r, w := pipe(t)

	require.NoError(t, Send(left, nil, w))

	got, err := Receive(right, nil, 0)
	require.NoError(t, err)
	defer got.File.Close()
	assertSameWriteEnd(t, got.File, r)
}
