package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrNoKeys is returned when the agent answers but holds no identities.
var ErrNoKeys = errors.New("agent has no keys loaded")

// Agent talks to an SSH agent over its unix socket.
type Agent struct {
	socket  string
	timeout time.Duration
	logger  zerolog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithAgentLogger sets the logger used for host key warnings.
func WithAgentLogger(l zerolog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// NewAgent creates a client for the agent listening on socket.
func NewAgent(socket string, opts ...AgentOption) *Agent {
	a := &Agent{socket: socket, timeout: 5 * time.Second, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SocketPath returns the agent socket.
func (a *Agent) SocketPath() string { return a.socket }

// SocketPresent reports whether the socket file exists.
func (a *Agent) SocketPresent() bool {
	info, err := os.Stat(a.socket)
	return err == nil && info.Mode()&os.ModeSocket != 0
}

func (a *Agent) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: a.timeout}
	conn, err := d.DialContext(ctx, "unix", a.socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(a.timeout))
	}
	return conn, nil
}

// Keys returns how many identities the agent offers.
func (a *Agent) Keys(ctx context.Context) (int, error) {
	conn, err := a.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	keys, err := agent.NewClient(conn).List()
	if err != nil {
		return 0, fmt.Errorf("failed to list agent keys: %w", err)
	}
	return len(keys), nil
}

// Authenticate opens an SSH session to address as user with the agent's
// keys. A completed handshake proves at least one key is accepted; no
// command is run.
func (a *Agent) Authenticate(ctx context.Context, address, user, knownHostsPath string) error {
	conn, err := a.dial(ctx)
	if err != nil {
		return err
	}
	pending := false
	defer func() {
		if !pending {
			conn.Close()
		}
	}()

	client := agent.NewClient(conn)
	keys, err := client.List()
	if err != nil {
		return fmt.Errorf("failed to list agent keys: %w", err)
	}
	if len(keys) == 0 {
		return ErrNoKeys
	}

	hostKeyCallback, err := a.hostKeyCallback(knownHostsPath, address)
	if err != nil {
		return err
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(client.Signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         a.timeout,
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		c, err := ssh.Dial("tcp", address, cfg)
		resultCh <- dialResult{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		// The dial signs with the agent until it returns; release both once
		// it does.
		pending = true
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
			conn.Close()
		}()
		return ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return fmt.Errorf("failed to authenticate to %s: %w", address, res.err)
		}
		return res.client.Close()
	}
}

// hostKeyCallback checks host keys against knownHostsPath. Without a
// known_hosts file any host key is accepted and a warning is logged.
func (a *Agent) hostKeyCallback(knownHostsPath, address string) (ssh.HostKeyCallback, error) {
	if knownHostsPath != "" {
		if _, err := os.Stat(knownHostsPath); err == nil {
			cb, err := knownhosts.New(knownHostsPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load known_hosts: %w", err)
			}
			return cb, nil
		}
	}
	a.logger.Warn().
		Str("address", address).
		Str("known_hosts", knownHostsPath).
		Msg("No known_hosts file, host key not verified")
	return ssh.InsecureIgnoreHostKey(), nil
}
