package ssh

import (
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// ExecOptions configure a single-command channel.
type ExecOptions struct {
	PTY     bool
	Term    string
	Rows    int
	Cols    int
	Timeout time.Duration // 0 means no timeout
}

// ExecChunk is one typed output frame.
type ExecChunk struct {
	Stream string // "stdout" or "stderr"
	Data   []byte
}

// ExitStatus terminates an exec stream. Signal is empty on a normal
// exit.
type ExitStatus struct {
	Code   int
	Signal string
}

// ExecStream is a running command. All Output frames are delivered
// before Exit fires.
type ExecStream struct {
	Output <-chan ExecChunk
	Exit   <-chan ExitStatus

	session *ssh.Session
	once    sync.Once
}

// Signal forwards a signal to the remote command.
func (e *ExecStream) Signal(name string) error {
	return e.session.Signal(ssh.Signal(name))
}

// Cancel terminates the command channel.
func (e *ExecStream) Cancel() {
	e.once.Do(func() { e.session.Close() })
}

// Exec starts command on its own channel with separated stdout and
// stderr. When opts.Timeout elapses the channel is torn down and the
// exit reports SIGKILL.
func (c *Connection) Exec(command string, opts ExecOptions, env map[string]string) (*ExecStream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &ClassifiedError{Kind: KindUnknown, Message: "connection is closed"}
	}
	c.mu.Unlock()

	session, err := c.client.NewSession()
	if err != nil {
		return nil, Classify(err, "")
	}
	for k, v := range env {
		_ = session.Setenv(k, v)
	}

	if opts.PTY {
		term := opts.Term
		if term == "" {
			term = c.cfg.Term
		}
		rows, cols := opts.Rows, opts.Cols
		if rows <= 0 {
			rows = 24
		}
		if cols <= 0 {
			cols = 80
		}
		modes := ssh.TerminalModes{ssh.ECHO: 0}
		if err := session.RequestPty(term, rows, cols, modes); err != nil {
			session.Close()
			return nil, Classify(err, "")
		}
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

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, Classify(err, "")
	}

	output := make(chan ExecChunk, 64)
	exit := make(chan ExitStatus, 1)
	stream := &ExecStream{Output: output, Exit: exit, session: session}

	var timer *time.Timer
	timedOut := false
	var timedOutMu sync.Mutex
	if opts.Timeout > 0 {
		timer = time.AfterFunc(opts.Timeout, func() {
			timedOutMu.Lock()
			timedOut = true
			timedOutMu.Unlock()
			session.Close()
		})
	}

	var readers sync.WaitGroup
	readers.Add(2)
	pump := func(name string, r interface{ Read([]byte) (int, error) }) {
		defer readers.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				frame := make([]byte, n)
				copy(frame, buf[:n])
				output <- ExecChunk{Stream: name, Data: frame}
			}
			if err != nil {
				return
			}
		}
	}
	go pump("stdout", stdout)
	go pump("stderr", stderr)

	go func() {
		err := session.Wait()
		readers.Wait()
		close(output)
		if timer != nil {
			timer.Stop()
		}

		status := ExitStatus{}
		timedOutMu.Lock()
		killed := timedOut
		timedOutMu.Unlock()
		switch e := err.(type) {
		case nil:
		case *ssh.ExitError:
			status.Code = e.ExitStatus()
			status.Signal = e.Signal()
		case *ssh.ExitMissingError:
			status.Code = -1
		default:
			status.Code = -1
		}
		if killed {
			status.Code = -1
			status.Signal = "KILL"
		}
		exit <- status
	}()

	return stream, nil
}

// Client exposes the underlying client for subsystem channels (SFTP).
func (c *Connection) Client() *ssh.Client {
	return c.client
}

// ReleaseShell forgets the current shell so a new one can be opened
// after a terminal destroy.
func (c *Connection) ReleaseShell() {
	c.mu.Lock()
	if c.shell != nil {
		sh := c.shell
		c.shell = nil
		c.mu.Unlock()
		sh.Close()
		return
	}
	c.mu.Unlock()
}
