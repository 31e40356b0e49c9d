// Package simulator implements the Bundle Simulator: sandbox lifecycle,
// bundle construction, nonce-ordered replay and profit accounting. The
// sandbox is an anvil-style forked-EVM devnet ("anvil --fork-url ...
// --fork-block-number N"); this package launches and supervises that
// subprocess instead of assuming it's already running.
package simulator

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	basePort       = 8545
	readyPollEvery = 1 * time.Second
	readyTimeout   = 30 * time.Second
	stabilizePause = 2 * time.Second
	stopWait       = 5 * time.Second
)

// SandboxConfig parameterizes the sandbox subprocess launch.
type SandboxConfig struct {
	Binary       string // e.g. "anvil"
	ForkURL      string
	Host         string
	AccountCount int
	BalanceWei   string
	GasLimit     uint64
	GasPrice     uint64
	BaseFee      uint64
}

// Sandbox supervises one forked-EVM subprocess, exclusively owned by its
// Simulator.
type Sandbox struct {
	cfg  SandboxConfig
	log  zerolog.Logger
	port int
	cmd  *exec.Cmd
	exit chan error
}

// NewSandbox prepares a supervisor; the subprocess isn't launched until
// Start.
func NewSandbox(cfg SandboxConfig, log zerolog.Logger) *Sandbox {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.AccountCount == 0 {
		cfg.AccountCount = 10
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 30_000_000
	}
	return &Sandbox{cfg: cfg, log: log.With().Str("component", "sandbox").Logger()}
}

// Endpoint returns this sandbox's JSON-RPC HTTP URL.
func (s *Sandbox) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Host, s.port)
}

// Start selects a free port, launches the subprocess, and blocks until
// the sandbox reports readiness or readyTimeout elapses. A failure here
// is fatal to the Simulator stage only.
func (s *Sandbox) Start(ctx context.Context, forkBlock uint64) error {
	port, err := findFreePort(basePort)
	if err != nil {
		return errors.Wrap(err, "port discovery")
	}
	s.port = port

	args := []string{
		"--fork-url", s.cfg.ForkURL,
		"--fork-block-number", strconv.FormatUint(forkBlock, 10),
		"--port", strconv.Itoa(port),
		"--host", s.cfg.Host,
		"--accounts", strconv.Itoa(s.cfg.AccountCount),
		"--balance", s.cfg.BalanceWei,
		"--gas-limit", strconv.FormatUint(s.cfg.GasLimit, 10),
		"--gas-price", strconv.FormatUint(s.cfg.GasPrice, 10),
		"--base-fee", strconv.FormatUint(s.cfg.BaseFee, 10),
		"--auto-impersonate",
	}

	cmd := exec.CommandContext(ctx, s.cfg.Binary, args...)
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start sandbox subprocess")
	}
	s.cmd = cmd

	s.exit = make(chan error, 1)
	go func() {
		s.exit <- cmd.Wait()
	}()

	if err := s.waitReady(ctx); err != nil {
		s.kill()
		return errors.Wrap(err, "sandbox not ready")
	}

	select {
	case <-time.After(stabilizePause):
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (s *Sandbox) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(readyTimeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-s.exit:
			return errors.Wrapf(err, "sandbox exited before becoming ready")
		default:
		}

		if pingBlockNumber(ctx, s.Endpoint()) {
			return nil
		}
		time.Sleep(readyPollEvery)
	}
	return errors.New("timed out waiting for sandbox readiness")
}

func pingBlockNumber(ctx context.Context, endpoint string) bool {
	rctx, cancel := context.WithTimeout(ctx, readyPollEvery)
	defer cancel()
	return jsonRPCBlockNumber(rctx, endpoint) == nil
}

// Crashed reports whether the subprocess has exited, clearing the
// process handle so Stop doesn't try to signal a dead process.
func (s *Sandbox) Crashed() bool {
	if s.exit == nil {
		return false
	}
	select {
	case <-s.exit:
		s.cmd = nil
		return true
	default:
		return false
	}
}

// Stop sends a termination signal and waits up to stopWait for exit.
func (s *Sandbox) Stop() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Kill()
	select {
	case <-s.exit:
	case <-time.After(stopWait):
		s.log.Warn().Msg("sandbox did not exit within stop timeout")
	}
	s.cmd = nil
}

func (s *Sandbox) kill() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// findFreePort probes ports starting at start, bind-and-release, and
// escalates by incrementing the candidate port on collision.
func findFreePort(start int) (int, error) {
	for p := start; p < start+1000; p++ {
		addr := fmt.Sprintf("127.0.0.1:%d", p)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		l.Close()
		return p, nil
	}
	return 0, errors.New("no free port found")
}
