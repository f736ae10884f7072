package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/pkg/models"
)

// Telnet protocol bytes. The lab devices speak plain telnet on their
// management addresses; only option refusal is needed.
const (
	telnetIAC  = 255
	telnetDont = 254
	telnetDo   = 253
	telnetWont = 252
	telnetWill = 251
	telnetSB   = 250
	telnetSE   = 240
)

// promptSuffixes terminate an IOS-style prompt line. '>' is user EXEC,
// '#' is privileged EXEC or a config submode.
var promptSuffixes = []string{">", "#"}

// CLIOptions tune CLI session construction. The zero value is usable.
type CLIOptions struct {
	Port        int           // default 23
	DialTimeout time.Duration // default 10s
	ReadTimeout time.Duration // per-exchange deadline, default 15s

	// Dialer overrides the TCP dial. Tests point this at an in-process
	// fake device.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

// CLISession is an interactive line-oriented session with an IOS-style
// router or switch over telnet.
type CLISession struct {
	device      models.Device
	conn        net.Conn
	reader      *bufio.Reader
	logger      *zap.Logger
	readTimeout time.Duration
	closed      bool

	// pending holds a telnet command sequence cut off by a read chunk
	// boundary until the rest of it arrives.
	pending []byte
}

// OpenCLI dials the device, walks the login dialog, and escalates to
// privileged EXEC. An enable-password prompt with no configured secret
// is a fatal ConnectionError naming the missing credential.
func OpenCLI(ctx context.Context, device models.Device, opts CLIOptions, logger *zap.Logger) (*CLISession, error) {
	port := opts.Port
	if port == 0 {
		port = 23
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	readTimeout := opts.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}

	addr := net.JoinHostPort(device.Host, strconv.Itoa(port))
	dial := opts.Dialer
	if dial == nil {
		d := &net.Dialer{Timeout: dialTimeout}
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Label: device.Label, Reason: "dial " + addr, Err: err}
	}

	s := &CLISession{
		device:      device,
		conn:        conn,
		reader:      bufio.NewReader(conn),
		logger:      logger,
		readTimeout: readTimeout,
	}

	if err := s.login(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.ensurePrivileged(ctx); err != nil {
		s.Close()
		return nil, err
	}

	// Disable paging so command output arrives in one piece.
	if _, err := s.Run(ctx, "terminal length 0"); err != nil {
		s.Close()
		return nil, &ConnectionError{Label: device.Label, Reason: "disable paging", Err: err}
	}

	return s, nil
}

// Device returns the device this session is bound to.
func (s *CLISession) Device() models.Device { return s.device }

// Query runs a single show-style command and returns its raw output.
func (s *CLISession) Query(ctx context.Context, target string) (*Result, error) {
	out, err := s.Run(ctx, target)
	if err != nil {
		return nil, &QueryError{Label: s.device.Label, Target: target, Err: err}
	}
	return &Result{Raw: out}, nil
}

// Apply enters configuration mode and plays the change set's command
// batch. A transport drop mid-batch is reported wrapped in
// ErrSessionDropped so callers can treat it as expected for
// self-severing faults.
func (s *CLISession) Apply(ctx context.Context, change ChangeSet) error {
	if err := s.ConfigSet(ctx, change.Commands); err != nil {
		return &ApplyError{Label: s.device.Label, Err: err}
	}
	return nil
}

// ConfigSet wraps commands in configure terminal / end.
func (s *CLISession) ConfigSet(ctx context.Context, commands []string) error {
	batch := make([]string, 0, len(commands)+2)
	batch = append(batch, "configure terminal")
	batch = append(batch, commands...)
	batch = append(batch, "end")

	for _, cmd := range batch {
		if _, err := s.Run(ctx, cmd); err != nil {
			return fmt.Errorf("config %q: %w: %w", cmd, ErrSessionDropped, err)
		}
	}
	return nil
}

// Save writes the running configuration to persistent storage.
func (s *CLISession) Save(ctx context.Context) error {
	if _, err := s.Run(ctx, "write memory"); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return nil
}

// Run sends one command and collects output up to the next prompt. The
// command echo and the trailing prompt line are stripped.
func (s *CLISession) Run(ctx context.Context, command string) (string, error) {
	if err := s.send(command); err != nil {
		return "", err
	}
	buf, err := s.readUntilPrompt(ctx)
	if err != nil {
		return "", err
	}
	return stripEchoAndPrompt(buf, command), nil
}

// Close tears down the transport. Idempotent.
func (s *CLISession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// login answers username/password cues until the first prompt appears.
func (s *CLISession) login(ctx context.Context) error {
	creds := s.device.Credentials
	// A freshly attached console may need a newline to show anything.
	_ = s.send("")

	deadline := time.Now().Add(s.readTimeout)
	var buf strings.Builder
	for {
		chunk, err := s.readChunk(ctx, deadline)
		if err != nil {
			return &ConnectionError{Label: s.device.Label, Reason: "waiting for login prompt", Err: err}
		}
		buf.WriteString(chunk)

		tail := lastLine(buf.String())
		switch {
		case endsWithFold(tail, "username:") || endsWithFold(tail, "login:"):
			if creds.Username == "" {
				return &ConnectionError{Label: s.device.Label, Reason: "device asked for a username but none is configured"}
			}
			if err := s.send(creds.Username); err != nil {
				return &ConnectionError{Label: s.device.Label, Reason: "send username", Err: err}
			}
			buf.Reset()
		case endsWithFold(tail, "password:"):
			if creds.Password == "" {
				return &ConnectionError{Label: s.device.Label, Reason: "device asked for a password but none is configured"}
			}
			if err := s.send(creds.Password); err != nil {
				return &ConnectionError{Label: s.device.Label, Reason: "send password", Err: err}
			}
			buf.Reset()
		case isPrompt(tail):
			return nil
		}
	}
}

// ensurePrivileged checks the prompt character and escalates to
// privileged EXEC if needed.
func (s *CLISession) ensurePrivileged(ctx context.Context) error {
	prompt, err := s.findPrompt(ctx)
	if err != nil {
		return &ConnectionError{Label: s.device.Label, Reason: "find prompt", Err: err}
	}
	if strings.HasSuffix(prompt, "#") {
		return nil
	}
	if !strings.HasSuffix(prompt, ">") {
		return &ConnectionError{Label: s.device.Label, Reason: fmt.Sprintf("unexpected prompt %q", prompt)}
	}

	if err := s.send("enable"); err != nil {
		return &ConnectionError{Label: s.device.Label, Reason: "send enable", Err: err}
	}

	deadline := time.Now().Add(s.readTimeout)
	var buf strings.Builder
	for {
		chunk, err := s.readChunk(ctx, deadline)
		if err != nil {
			return &ConnectionError{Label: s.device.Label, Reason: "enable escalation", Err: err}
		}
		buf.WriteString(chunk)
		tail := lastLine(buf.String())

		if endsWithFold(tail, "password:") {
			secret := s.device.Credentials.EnableSecret
			if secret == "" {
				return &ConnectionError{
					Label:  s.device.Label,
					Reason: "enable password prompt detected but no enable secret is configured",
				}
			}
			if err := s.send(secret); err != nil {
				return &ConnectionError{Label: s.device.Label, Reason: "send enable secret", Err: err}
			}
			buf.Reset()
			continue
		}
		if isPrompt(tail) {
			if strings.HasSuffix(tail, "#") {
				return nil
			}
			return &ConnectionError{
				Label:  s.device.Label,
				Reason: fmt.Sprintf("failed to enter privileged mode, prompt is %q", tail),
			}
		}
	}
}

// findPrompt nudges the device with a newline and returns the prompt
// line it answers with.
func (s *CLISession) findPrompt(ctx context.Context) (string, error) {
	if err := s.send(""); err != nil {
		return "", err
	}
	buf, err := s.readUntilPrompt(ctx)
	if err != nil {
		return "", err
	}
	return lastLine(buf), nil
}

// send writes one line. Network devices expect CRLF.
func (s *CLISession) send(line string) error {
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readUntilPrompt accumulates output until the last line looks like a
// prompt, or the exchange deadline expires.
func (s *CLISession) readUntilPrompt(ctx context.Context) (string, error) {
	deadline := time.Now().Add(s.readTimeout)
	var buf strings.Builder
	for {
		chunk, err := s.readChunk(ctx, deadline)
		if err != nil {
			return buf.String(), err
		}
		buf.WriteString(chunk)
		if isPrompt(lastLine(buf.String())) {
			return buf.String(), nil
		}
	}
}

// readChunk reads the next chunk of decoded output, polling in short
// slices so the context and the exchange deadline stay responsive.
func (s *CLISession) readChunk(ctx context.Context, deadline time.Time) (string, error) {
	raw := make([]byte, 2048)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for device output")
		}

		slice := 500 * time.Millisecond
		if until := time.Until(deadline); until < slice {
			slice = until
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(slice))

		n, err := s.reader.Read(raw)
		if n > 0 {
			decoded := s.decodeTelnet(raw[:n])
			if len(decoded) > 0 {
				return string(decoded), nil
			}
			continue
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return "", fmt.Errorf("read: %w", err)
		}
	}
}

// decodeTelnet strips telnet commands from a chunk, refusing every
// option the device offers or demands. A command sequence split across
// a chunk boundary is held in s.pending and finished on the next call.
func (s *CLISession) decodeTelnet(raw []byte) []byte {
	data := raw
	if len(s.pending) > 0 {
		data = append(s.pending, raw...)
		s.pending = nil
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] != telnetIAC {
			if data[i] != '\x00' {
				out = append(out, data[i])
			}
			i++
			continue
		}

		n := telnetCmdLen(data[i:])
		if n == 0 {
			s.pending = append([]byte(nil), data[i:]...)
			break
		}
		if n == 3 {
			opt := data[i+2]
			switch data[i+1] {
			case telnetDo:
				_, _ = s.conn.Write([]byte{telnetIAC, telnetWont, opt})
			case telnetWill:
				_, _ = s.conn.Write([]byte{telnetIAC, telnetDont, opt})
			}
		}
		i += n
	}
	return out
}

// telnetCmdLen reports how many bytes the telnet command starting at
// b[0] (an IAC) spans, or 0 when the chunk boundary cuts it off.
func telnetCmdLen(b []byte) int {
	if len(b) < 2 {
		return 0
	}
	switch b[1] {
	case telnetDo, telnetDont, telnetWill, telnetWont:
		if len(b) < 3 {
			return 0
		}
		return 3
	case telnetSB:
		// Subnegotiation runs through IAC SE.
		for j := 2; j+1 < len(b); j++ {
			if b[j] == telnetIAC && b[j+1] == telnetSE {
				return j + 2
			}
		}
		return 0
	default:
		return 2
	}
}

// isPrompt reports whether a trimmed line ends with a prompt suffix.
func isPrompt(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, suf := range promptSuffixes {
		if strings.HasSuffix(line, suf) {
			return true
		}
	}
	return false
}

// lastLine returns the trimmed final line of accumulated output.
func lastLine(buf string) string {
	buf = strings.ReplaceAll(buf, "\r\n", "\n")
	buf = strings.ReplaceAll(buf, "\r", "")
	lines := strings.Split(buf, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// endsWithFold is a case-insensitive HasSuffix.
func endsWithFold(s, suffix string) bool {
	return strings.HasSuffix(strings.ToLower(s), strings.ToLower(suffix))
}

// stripEchoAndPrompt removes the echoed command line and the trailing
// prompt from a command's captured output.
func stripEchoAndPrompt(buf, command string) string {
	buf = strings.ReplaceAll(buf, "\r\n", "\n")
	buf = strings.ReplaceAll(buf, "\r", "")
	out := strings.Split(buf, "\n")

	// Drop trailing prompt line.
	for len(out) > 0 && (strings.TrimSpace(out[len(out)-1]) == "" || isPrompt(out[len(out)-1])) {
		out = out[:len(out)-1]
	}
	// Drop leading echo (possibly preceded by a residual prompt).
	cmd := strings.TrimSpace(command)
	for len(out) > 0 {
		head := strings.TrimSpace(out[0])
		if head == "" || head == cmd || strings.HasSuffix(head, cmd) {
			out = out[1:]
			continue
		}
		break
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n")
}
