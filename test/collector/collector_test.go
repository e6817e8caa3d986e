package collector

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServer_SortsLines(t *testing.T) {
	s, err := Start()
	require.NoError(t, err)

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	_, err = conn.Write([]byte("{\"a\":1}\n[01]\n[1.]\n[1]]\n\"ok\"\r\n{\"b\":"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(s.Lines())+len(s.Invalid()) == 6
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Close())

	require.Equal(t, []string{`{"a":1}`, `"ok"`}, s.Lines())
	require.Equal(t, []string{"[01]\n", "[1.]\n", "[1]]\n", `{"b":`}, s.Invalid())
	require.Equal(t, 1, s.Conns())
}
