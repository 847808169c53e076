package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/settings"
)

// sshRunner opens one connection per task.
type sshRunner struct {
	cfg settings.Config
}

func newSSHRunner(cfg settings.Config) *sshRunner {
	return &sshRunner{cfg: cfg}
}

func (r *sshRunner) run(ctx context.Context, h *inventory.Host, line string) (string, error) {
	client, err := r.dial(ctx, h)
	if err != nil {
		return "", err
	}
	defer client.Close()
	return runSSHCommand(ctx, client, line)
}

func (r *sshRunner) fetch(ctx context.Context, h *inventory.Host, path string) ([]byte, error) {
	client, err := r.dial(ctx, h)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	out, err := runSSHCommand(ctx, client, Command("cat", path))
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (r *sshRunner) dial(ctx context.Context, h *inventory.Host) (*ssh.Client, error) {
	config, err := clientConfig(r.cfg, h)
	if err != nil {
		return nil, err
	}
	addr := sshAddr(r.cfg, h)

	d := net.Dialer{Timeout: r.cfg.SSHTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// runSSHCommand runs cmd in a new session. Cancelling ctx closes the
// session.
func runSSHCommand(ctx context.Context, client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("SSH session: %w", err)
	}
	defer session.Close()

	type outcome struct {
		out []byte
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		return string(o.out), o.err
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	}
}

func sshAddr(cfg settings.Config, h *inventory.Host) string {
	port := h.Port
	if port == 0 {
		port = cfg.SSHPort
	}
	host := h.Address
	if host == "" {
		host = h.Alias
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func clientConfig(cfg settings.Config, h *inventory.Host) (*ssh.ClientConfig, error) {
	user := h.User
	if user == "" {
		user = cfg.SSHUser
	}
	keyFile := h.KeyFile
	if keyFile == "" {
		keyFile = cfg.SSHKeyFile
	}
	signer, err := loadSigner(keyFile)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Testbed hosts are re-imaged often; their keys are not pinned.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.SSHTimeout,
	}, nil
}

// loadSigner reads a private key. With no path it tries the usual
// files under ~/.ssh.
func loadSigner(path string) (ssh.Signer, error) {
	candidates := []string{path}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("no SSH key configured: %w", err)
		}
		candidates = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_ecdsa"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse SSH key %s: %w", p, err)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("no usable SSH key (tried %v)", candidates)
}
