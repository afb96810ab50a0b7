package ssh

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/rjsadow/webssh2/internal/config"
)

// Credentials are the transient secrets for one connection attempt.
// They are never persisted.
type Credentials struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey string
	Passphrase string
	Term       string
	Cols       int
	Rows       int
}

// ConnectOptions carry the per-attempt collaborators the service
// itself does not own.
type ConnectOptions struct {
	// HostKeyCallback enforces the trust policy. Required.
	HostKeyCallback ssh.HostKeyCallback

	// KeyboardInteractive, when non-nil, enables the
	// keyboard-interactive fallback and relays prompts.
	KeyboardInteractive ssh.KeyboardInteractiveChallenge

	// Capture, when non-nil, observes algorithm negotiation.
	Capture *Capture
}

// Service builds outbound SSH connections from the gateway config.
type Service struct {
	cfg config.SSHConfig
}

// NewService creates an SSH service.
func NewService(cfg config.SSHConfig) *Service {
	return &Service{cfg: cfg}
}

// Connect dials the target, authenticates, and returns a live
// connection handle. Failures are returned as *ClassifiedError.
func (s *Service) Connect(ctx context.Context, creds Credentials, opts ConnectOptions) (*Connection, error) {
	authMethods, err := s.buildAuthMethods(creds, opts)
	if err != nil {
		return nil, &ClassifiedError{Kind: KindAuth, Message: err.Error()}
	}

	algos := PresetAlgorithms(s.cfg.AlgorithmPreset)
	if opts.Capture != nil {
		opts.Capture.RecordLocalConfig(algos)
	}

	clientConfig := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            authMethods,
		HostKeyCallback: opts.HostKeyCallback,
		Timeout:         s.cfg.ReadyTimeout,
		Config: ssh.Config{
			KeyExchanges: algos.Kex,
			Ciphers:      algos.Cipher,
			MACs:         algos.MAC,
		},
		HostKeyAlgorithms: algos.ServerHostKey,
	}

	addr := net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port))
	dialer := net.Dialer{Timeout: s.cfg.ReadyTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, Classify(err, creds.Host)
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, clientConfig)
	if err != nil {
		raw.Close()
		if opts.Capture != nil {
			opts.Capture.RecordHandshakeError(err)
		}
		return nil, Classify(err, creds.Host)
	}

	c := &Connection{
		ID:     uuid.New().String(),
		client: ssh.NewClient(conn, chans, reqs),
		cfg:    s.cfg,
		done:   make(chan struct{}),
	}
	if s.cfg.KeepaliveInterval > 0 {
		go c.keepaliveLoop()
	}
	return c, nil
}

// buildAuthMethods assembles the auth method list from the credential
// shape. Password adds both password and (when enabled) a
// keyboard-interactive fallback; a private key adds publickey.
func (s *Service) buildAuthMethods(creds Credentials, opts ConnectOptions) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if creds.PrivateKey != "" {
		signer, err := parseSigner(creds.PrivateKey, creds.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}
	if opts.KeyboardInteractive != nil {
		methods = append(methods, ssh.KeyboardInteractive(opts.KeyboardInteractive))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no usable authentication material")
	}
	return methods, nil
}

func parseSigner(key, passphrase string) (ssh.Signer, error) {
	if IsEncryptedPrivateKey(key) {
		signer, err := ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// Connection is one live SSH connection.
type Connection struct {
	ID     string
	client *ssh.Client
	cfg    config.SSHConfig

	mu     sync.Mutex
	shell  *Shell
	closed bool
	done   chan struct{}
}

// keepaliveLoop sends keepalive probes; after KeepaliveCountMax
// consecutive failures the connection is torn down.
func (c *Connection) keepaliveLoop() {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ticker.C:
			_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if c.cfg.KeepaliveCountMax > 0 && failures >= c.cfg.KeepaliveCountMax {
				c.End()
				return
			}
		case <-c.done:
			return
		}
	}
}

// TerminalParams size and type a PTY request.
type TerminalParams struct {
	Term   string
	Rows   int
	Cols   int
	Width  int // pixels, optional
	Height int // pixels, optional
}

// Shell is an interactive session bound to a PTY. Output frames
// arrive on Output exactly as read from the channel; Done yields the
// session's terminal error (nil on clean exit).
type Shell struct {
	session *ssh.Session
	Output  <-chan []byte
	Done    <-chan error

	mu     sync.Mutex
	closed bool
	in     chan []byte
}

// Shell opens the interactive shell channel. Only one shell exists
// per connection; a second request returns the existing one.
func (c *Connection) Shell(params TerminalParams, env map[string]string) (*Shell, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &ClassifiedError{Kind: KindUnknown, Message: "connection is closed"}
	}
	if c.shell != nil {
		return c.shell, nil
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, Classify(err, "")
	}
	for k, v := range env {
		// Servers commonly reject unknown env names; a refusal must
		// not fail the shell.
		_ = session.Setenv(k, v)
	}

	term := params.Term
	if term == "" {
		term = c.cfg.Term
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(term, params.Rows, params.Cols, modes); err != nil {
		session.Close()
		return nil, Classify(err, "")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, Classify(err, "")
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, Classify(err, "")
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, Classify(err, "")
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, Classify(err, "")
	}

	out := make(chan []byte, 64)
	in := make(chan []byte, 64)
	done := make(chan error, 1)
	sh := &Shell{session: session, Output: out, Done: done, in: in}

	// Writer task: serializes stdin writes.
	go func() {
		for data := range in {
			if _, err := stdin.Write(data); err != nil {
				return
			}
		}
		stdin.Close()
	}()

	// Reader tasks: one per stream direction, frame boundaries
	// preserved.
	var readers sync.WaitGroup
	readers.Add(2)
	pump := func(r interface{ Read([]byte) (int, error) }) {
		defer readers.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				frame := make([]byte, n)
				copy(frame, buf[:n])
				out <- frame
			}
			if err != nil {
				return
			}
		}
	}
	go pump(stdout)
	go pump(stderr)

	go func() {
		err := session.Wait()
		readers.Wait()
		close(out)
		done <- err
	}()

	c.shell = sh
	return sh, nil
}

// Write queues data for the shell's stdin.
func (s *Shell) Write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case s.in <- frame:
	default:
		// Stdin queue full; drop rather than block the socket reader.
	}
}

// Resize changes the PTY dimensions.
func (s *Shell) Resize(rows, cols int) error {
	return s.session.WindowChange(rows, cols)
}

// Close tears the shell down. Idempotent.
func (s *Shell) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.in)
	s.mu.Unlock()
	s.session.Close()
}

// End closes the connection and everything on it. Idempotent.
func (c *Connection) End() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	shell := c.shell
	close(c.done)
	c.mu.Unlock()

	if shell != nil {
		shell.Close()
	}
	c.client.Close()
}
