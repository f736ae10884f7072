// Package restore returns devices to their known-good baselines and
// verifies that the restore actually completed. Firewalls get a config
// push plus a verified reboot over SSH; routers and the switch get a
// config replace over their CLI session.
package restore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/HerbHall/uproot/pkg/models"
)

// controlClient is the management channel a firewall restore drives.
// Implemented over SSH; faked in tests.
type controlClient interface {
	Run(ctx context.Context, command string) (string, error)
	Upload(ctx context.Context, content []byte, remotePath string) error
	Close() error
}

// sshControl wraps an SSH client as a control channel.
type sshControl struct {
	client *ssh.Client
}

// openSSHControl dials the device's management SSH port. Lab boxes use
// password auth and ephemeral host keys, so host key verification is
// off, matching how the lab itself is provisioned.
func openSSHControl(ctx context.Context, device models.Device, port int, timeout time.Duration) (controlClient, error) {
	config := &ssh.ClientConfig{
		User: device.Credentials.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(device.Credentials.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // G106: lab devices regenerate host keys on every rebuild
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(device.Host, strconv.Itoa(port))
	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return &sshControl{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// Run executes a single command and returns its stdout.
func (c *sshControl) Run(ctx context.Context, command string) (string, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening ssh session: %w", err)
	}
	defer sess.Close()

	var stdout bytes.Buffer
	sess.Stdout = &stdout

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		sess.Close()
		return "", ctx.Err()
	}
	if err != nil {
		return "", fmt.Errorf("running %q: %w", command, err)
	}
	return stdout.String(), nil
}

// Upload copies content to remotePath using the scp sink protocol on
// the remote side.
func (c *sshControl) Upload(ctx context.Context, content []byte, remotePath string) error {
	sess, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("opening ssh session: %w", err)
	}
	defer sess.Close()

	stdin, err := sess.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := sess.Start("scp -t " + remotePath); err != nil {
		return fmt.Errorf("starting scp sink: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- func() error {
			if err := readSCPAck(stdout); err != nil {
				return err
			}
			header := fmt.Sprintf("C0644 %d %s\n", len(content), path.Base(remotePath))
			if _, err := io.WriteString(stdin, header); err != nil {
				return fmt.Errorf("writing scp header: %w", err)
			}
			if err := readSCPAck(stdout); err != nil {
				return err
			}
			if _, err := stdin.Write(content); err != nil {
				return fmt.Errorf("writing scp payload: %w", err)
			}
			if _, err := stdin.Write([]byte{0}); err != nil {
				return fmt.Errorf("terminating scp payload: %w", err)
			}
			if err := readSCPAck(stdout); err != nil {
				return err
			}
			stdin.Close()
			return sess.Wait()
		}()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		sess.Close()
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("scp upload to %s: %w", remotePath, err)
	}
	return nil
}

// readSCPAck consumes one scp status byte. 0 is success; 1 and 2 are
// followed by a newline-terminated message.
func readSCPAck(r io.Reader) error {
	status := make([]byte, 1)
	if _, err := io.ReadFull(r, status); err != nil {
		return fmt.Errorf("reading scp ack: %w", err)
	}
	if status[0] == 0 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(r, 512))
	return fmt.Errorf("scp remote error: %s", bytes.TrimSpace(msg))
}

func (c *sshControl) Close() error {
	return c.client.Close()
}
