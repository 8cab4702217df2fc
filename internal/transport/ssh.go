package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds the credentials for an ssh:// target.
type SSHConfig struct {
	Password   string
	KeyFile    string // private key; empty tries ~/.ssh/id_ed25519 and ~/.ssh/id_rsa
	KnownHosts string // known_hosts file; empty means ~/.ssh/known_hosts
	Insecure   bool   // skip host key verification

	// HostKeyCallback overrides KnownHosts and Insecure when set.
	HostKeyCallback ssh.HostKeyCallback
}

// SSHConfigFromEnv reads PANE_EXPECT_SSH_PASSWORD, PANE_EXPECT_SSH_KEY,
// PANE_EXPECT_SSH_KNOWN_HOSTS and PANE_EXPECT_SSH_INSECURE.
func SSHConfigFromEnv() SSHConfig {
	insecure := os.Getenv("PANE_EXPECT_SSH_INSECURE")
	return SSHConfig{
		Password:   os.Getenv("PANE_EXPECT_SSH_PASSWORD"),
		KeyFile:    os.Getenv("PANE_EXPECT_SSH_KEY"),
		KnownHosts: os.Getenv("PANE_EXPECT_SSH_KNOWN_HOSTS"),
		Insecure:   insecure == "1" || insecure == "true",
	}
}

// SSH is an interactive shell on a remote host, with a pseudo-terminal so
// that the remote side behaves as it would for a person.
type SSH struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	w       *bufio.Writer
}

// DialSSH connects to address ("[user@]host[:port]") and starts a login
// shell on a pseudo-terminal.
func DialSSH(ctx context.Context, address string, cfg SSHConfig) (*SSH, error) {
	userName, hostPort, err := splitSSHAddress(address)
	if err != nil {
		return nil, err
	}
	clientCfg, err := cfg.clientConfig(userName)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", hostPort, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, hostPort, clientCfg)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", hostPort, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	s, err := startShell(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func startShell(client *ssh.Client) (*SSH, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 24, 80, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("ssh pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("ssh stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("ssh stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("ssh shell: %w", err)
	}
	return &SSH{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		w:       bufio.NewWriter(stdin),
	}, nil
}

// Name returns "ssh".
func (s *SSH) Name() string {
	return "ssh"
}

func (s *SSH) Read(b []byte) (int, error) {
	return s.stdout.Read(b)
}

// Write buffers b until Flush.
func (s *SSH) Write(b []byte) (int, error) {
	return s.w.Write(b)
}

func (s *SSH) Flush() error {
	return s.w.Flush()
}

// Close ends the remote shell and the connection.
func (s *SSH) Close() error {
	_ = s.w.Flush()
	_ = s.stdin.Close()
	_ = s.session.Close()
	return s.client.Close()
}

func (cfg SSHConfig) clientConfig(userName string) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	signer, err := cfg.signer()
	if err != nil {
		return nil, err
	}
	if signer != nil {
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh: no credentials (set PANE_EXPECT_SSH_PASSWORD or PANE_EXPECT_SSH_KEY)")
	}

	hostKey := cfg.HostKeyCallback
	if hostKey == nil {
		switch {
		case cfg.Insecure:
			hostKey = ssh.InsecureIgnoreHostKey()
		default:
			path := cfg.KnownHosts
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return nil, fmt.Errorf("ssh known_hosts: %w", err)
				}
				path = filepath.Join(home, ".ssh", "known_hosts")
			}
			hostKey, err = knownhosts.New(path)
			if err != nil {
				return nil, fmt.Errorf("ssh known_hosts %s: %w", path, err)
			}
		}
	}

	return &ssh.ClientConfig{
		User:            userName,
		Auth:            auth,
		HostKeyCallback: hostKey,
	}, nil
}

// signer loads the configured key, or the first default key that exists.
// It returns nil without error when no key is configured or found.
func (cfg SSHConfig) signer() (ssh.Signer, error) {
	paths := []string{cfg.KeyFile}
	if cfg.KeyFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil
		}
		paths = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if cfg.KeyFile == "" && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("ssh key %s: %w", p, err)
		}
		return signer, nil
	}
	return nil, nil
}

// splitSSHAddress splits "[user@]host[:port]" into the user name and a
// dialable host:port. The user defaults to the current user, the port to 22.
func splitSSHAddress(address string) (string, string, error) {
	userName, host, found := strings.Cut(address, "@")
	if !found {
		host = address
		userName = ""
	}
	if host == "" {
		return "", "", fmt.Errorf("invalid ssh address %q: missing host", address)
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(strings.Trim(host, "[]"), "22")
	}
	if userName == "" {
		u, err := user.Current()
		if err != nil {
			return "", "", fmt.Errorf("invalid ssh address %q: no user: %w", address, err)
		}
		userName = u.Username
	}
	return userName, host, nil
}
