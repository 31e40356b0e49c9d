package simulator

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindFreePortSkipsOccupiedPorts(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	occupied := l.Addr().(*net.TCPAddr).Port

	port, err := findFreePort(occupied)
	require.NoError(t, err)
	require.NotEqual(t, occupied, port)
	require.GreaterOrEqual(t, port, occupied)
}

func TestNewSandboxAppliesDefaults(t *testing.T) {
	s := NewSandbox(SandboxConfig{Binary: "anvil", ForkURL: "http://127.0.0.1:8545"}, testLogger())

	require.Equal(t, "127.0.0.1", s.cfg.Host)
	require.Equal(t, 10, s.cfg.AccountCount)
	require.Equal(t, uint64(30_000_000), s.cfg.GasLimit)
}
