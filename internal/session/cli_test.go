package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/pkg/models"
)

// fakeCLIConfig scripts an in-process IOS-style device for the tests.
type fakeCLIConfig struct {
	hostname       string
	wantUsername   string
	wantPassword   string
	needEnablePass bool
	enableSecret   string
	outputs        map[string]string
}

// fakeCLI records every command line it receives.
type fakeCLI struct {
	mu       sync.Mutex
	commands []string
}

func (f *fakeCLI) record(cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *fakeCLI) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// startFakeCLI serves a scripted device on one end of a pipe and
// returns a dialer for the other end.
func startFakeCLI(t *testing.T, cfg fakeCLIConfig) (*fakeCLI, func(context.Context, string, string) (net.Conn, error)) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	state := &fakeCLI{}

	go func() {
		defer serverSide.Close()
		br := bufio.NewReader(serverSide)
		readLine := func() (string, bool) {
			line, err := br.ReadString('\n')
			if err != nil {
				return "", false
			}
			return strings.TrimSpace(line), true
		}
		write := func(s string) {
			_, _ = serverSide.Write([]byte(s))
		}

		// The client nudges with a newline first.
		if _, ok := readLine(); !ok {
			return
		}

		if cfg.wantUsername != "" {
			write("Username: ")
			if _, ok := readLine(); !ok {
				return
			}
		}
		if cfg.wantPassword != "" {
			write("Password: ")
			if _, ok := readLine(); !ok {
				return
			}
		}

		privileged := false
		prompt := func() string {
			if privileged {
				return cfg.hostname + "#"
			}
			return cfg.hostname + ">"
		}
		write("\r\n" + prompt())

		for {
			cmd, ok := readLine()
			if !ok {
				return
			}
			if cmd == "" {
				write("\r\n" + prompt())
				continue
			}
			state.record(cmd)

			if cmd == "enable" {
				if cfg.needEnablePass && !privileged {
					write(cmd + "\r\nPassword: ")
					secret, ok := readLine()
					if !ok {
						return
					}
					if secret == cfg.enableSecret {
						privileged = true
					}
					write("\r\n" + prompt())
					continue
				}
				privileged = true
				write(cmd + "\r\n" + prompt())
				continue
			}

			out := cfg.outputs[cmd]
			if out != "" {
				write(cmd + "\r\n" + out + "\r\n" + prompt())
			} else {
				write(cmd + "\r\n" + prompt())
			}
		}
	}()

	dialer := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return clientSide, nil
	}
	return state, dialer
}

func testCLIDevice(secret string) models.Device {
	return models.Device{
		Label:    "SP-ROUTER1",
		Role:     models.RoleRouter,
		Host:     "192.0.2.10",
		Protocol: models.ProtocolCLI,
		Credentials: models.Credentials{
			Username:     "admin",
			Password:     "lab",
			EnableSecret: secret,
		},
	}
}

func TestOpenCLILoginAndEscalation(t *testing.T) {
	state, dialer := startFakeCLI(t, fakeCLIConfig{
		hostname:       "r1",
		wantUsername:   "admin",
		wantPassword:   "lab",
		needEnablePass: true,
		enableSecret:   "s3cret",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := OpenCLI(ctx, testCLIDevice("s3cret"), CLIOptions{Dialer: dialer, ReadTimeout: 2 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenCLI() error = %v", err)
	}
	defer sess.Close()

	got := state.received()
	want := []string{"enable", "terminal length 0"}
	if len(got) != len(want) {
		t.Fatalf("device received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOpenCLIMissingEnableSecret(t *testing.T) {
	_, dialer := startFakeCLI(t, fakeCLIConfig{
		hostname:       "r1",
		wantUsername:   "admin",
		wantPassword:   "lab",
		needEnablePass: true,
		enableSecret:   "s3cret",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := OpenCLI(ctx, testCLIDevice(""), CLIOptions{Dialer: dialer, ReadTimeout: 2 * time.Second}, zap.NewNop())
	if err == nil {
		t.Fatal("OpenCLI() succeeded, want missing enable secret error")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error type = %T, want *ConnectionError", err)
	}
	if !strings.Contains(connErr.Reason, "enable secret") {
		t.Errorf("error %q does not name the missing enable secret", connErr.Reason)
	}
}

func TestCLIQueryStripsEchoAndPrompt(t *testing.T) {
	_, dialer := startFakeCLI(t, fakeCLIConfig{
		hostname: "r1",
		outputs: map[string]string{
			"show clock": "*10:02:04.312 UTC Mon Mar 1 2026",
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dev := testCLIDevice("")
	dev.Credentials = models.Credentials{}
	sess, err := OpenCLI(ctx, dev, CLIOptions{Dialer: dialer, ReadTimeout: 2 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenCLI() error = %v", err)
	}
	defer sess.Close()

	res, err := sess.Query(ctx, "show clock")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if want := "*10:02:04.312 UTC Mon Mar 1 2026"; res.Raw != want {
		t.Errorf("Query() raw = %q, want %q", res.Raw, want)
	}
	if res.Records != nil {
		t.Errorf("Query() records = %v, want nil for CLI sessions", res.Records)
	}
}

func TestCLIApplyWrapsInConfigMode(t *testing.T) {
	state, dialer := startFakeCLI(t, fakeCLIConfig{hostname: "sw1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dev := testCLIDevice("")
	dev.Credentials = models.Credentials{}
	sess, err := OpenCLI(ctx, dev, CLIOptions{Dialer: dialer, ReadTimeout: 2 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenCLI() error = %v", err)
	}
	defer sess.Close()

	change := ChangeSet{Commands: []string{"interface Gi0/1", "shutdown"}}
	if err := sess.Apply(ctx, change); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	got := state.received()
	want := []string{"terminal length 0", "configure terminal", "interface Gi0/1", "shutdown", "end"}
	if len(got) != len(want) {
		t.Fatalf("device received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecodeTelnetSplitSequences(t *testing.T) {
	tests := []struct {
		name   string
		chunks [][]byte
		want   string
	}{
		{
			name:   "option_in_one_chunk",
			chunks: [][]byte{{'a', telnetIAC, telnetDont, 1, 'b'}},
			want:   "ab",
		},
		{
			name:   "split_after_iac",
			chunks: [][]byte{{'a', telnetIAC}, {telnetDo, 1, 'b'}},
			want:   "ab",
		},
		{
			name:   "split_after_command",
			chunks: [][]byte{{'a', telnetIAC, telnetWill}, {3, 'b'}},
			want:   "ab",
		},
		{
			name:   "subnegotiation_split",
			chunks: [][]byte{{'a', telnetIAC, telnetSB, 24}, {0, 80, telnetIAC, telnetSE, 'b'}},
			want:   "ab",
		},
		{
			name:   "dangling_iac_at_end",
			chunks: [][]byte{{'a', telnetIAC}},
			want:   "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()
			// Drain option refusals so decode never blocks on the pipe.
			go func() { _, _ = io.Copy(io.Discard, server) }()

			s := &CLISession{conn: client}
			var got []byte
			for _, chunk := range tt.chunks {
				got = append(got, s.decodeTelnet(chunk)...)
			}
			if string(got) != tt.want {
				t.Errorf("decoded %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCLICloseIdempotent(t *testing.T) {
	_, dialer := startFakeCLI(t, fakeCLIConfig{hostname: "sw1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dev := testCLIDevice("")
	dev.Credentials = models.Credentials{}
	sess, err := OpenCLI(ctx, dev, CLIOptions{Dialer: dialer, ReadTimeout: 2 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenCLI() error = %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}
