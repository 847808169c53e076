package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/settings"
	"github.com/tbkit-project/tbkit/pkg/util"
)

func localHost(alias string) *inventory.Host {
	return &inventory.Host{Alias: alias, Local: true}
}

func TestPool_ExecuteLocal(t *testing.T) {
	pool := NewPool(settings.Defaults())
	tasks := []Task{
		{Host: localHost("h1"), Script: "echo one"},
		{Host: localHost("h2"), Script: "echo 'two words'; exit 3"},
		{Host: localHost("h3"), Script: "echo three"},
	}

	results, err := pool.Execute(context.Background(), "test", tasks, Options{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Host != "h1" || strings.TrimSpace(results[0].Output) != "one" || results[0].Failed() {
		t.Errorf("h1 result = %+v", results[0])
	}
	if !results[1].Failed() || strings.TrimSpace(results[1].Output) != "two words" {
		t.Errorf("h2 should fail with its output kept: %+v", results[1])
	}
	if results[2].Failed() {
		t.Errorf("h3 should not be affected by h2: %+v", results[2])
	}

	err = Check("test", results)
	var roe *util.RemoteOperationError
	if !errors.As(err, &roe) {
		t.Fatalf("Check() = %v, want RemoteOperationError", err)
	}
	if got := roe.Hosts(); !reflect.DeepEqual(got, []string{"h2"}) {
		t.Errorf("failing hosts = %v", got)
	}
	if roe.Failures[0].Output == "" {
		t.Error("failure should carry the captured output")
	}
}

func TestPool_FetchWritesPerHostFile(t *testing.T) {
	remoteDir := t.TempDir()
	outDir := t.TempDir()
	src := filepath.Join(remoteDir, "dump.txt")

	pool := NewPool(settings.Defaults())
	_, err := pool.Execute(context.Background(), "dump",
		[]Task{{Host: localHost("h1"), Script: "echo qdisc > " + Command(src)}},
		Options{Fetch: []Fetch{{Remote: src, Dir: outDir, Name: "tc.txt", Remove: true}}})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "h1", "tc.txt"))
	if err != nil {
		t.Fatalf("fetched file missing: %v", err)
	}
	if strings.TrimSpace(string(data)) != "qdisc" {
		t.Errorf("fetched content = %q", data)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("remote file should be removed after fetch")
	}
}

func TestPool_FetchMissingFileFailsHost(t *testing.T) {
	pool := NewPool(settings.Defaults())
	results, err := pool.Execute(context.Background(), "dump",
		[]Task{{Host: localHost("h1"), Script: "true"}},
		Options{Fetch: []Fetch{{Remote: "/nonexistent/tbkit/file", Dir: t.TempDir(), Name: "x"}}})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !results[0].Failed() {
		t.Error("missing remote file should fail the host")
	}
}

func TestPool_RejectsBackgroundFetch(t *testing.T) {
	pool := NewPool(settings.Defaults())
	_, err := pool.Execute(context.Background(), "bad", nil,
		Options{Background: true, Fetch: []Fetch{{Remote: "/x"}}})
	if err == nil {
		t.Error("background with fetch should be rejected")
	}
}

func TestPool_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool := NewPool(settings.Defaults())
	if _, err := pool.Execute(ctx, "x", []Task{{Host: localHost("h1"), Script: "true"}}, Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() = %v, want context.Canceled", err)
	}
}

func TestShellLine(t *testing.T) {
	line := shellLine("echo 'a b' && tc qdisc show", false)
	argv, err := SplitCommand(line)
	if err != nil {
		t.Fatalf("SplitCommand() error: %v", err)
	}
	want := []string{"sh", "-c", "echo 'a b' && tc qdisc show"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("round trip = %q, want %q", argv, want)
	}

	bg := shellLine("sleep 10", true)
	if !strings.HasPrefix(bg, "nohup ") || !strings.HasSuffix(bg, "&") {
		t.Errorf("background line = %q", bg)
	}
}

func TestSplitCommand_Unterminated(t *testing.T) {
	if _, err := SplitCommand("echo 'oops"); err == nil {
		t.Error("unterminated quote should fail")
	}
}

func TestSSHAddr(t *testing.T) {
	cfg := settings.Defaults()
	tests := []struct {
		host *inventory.Host
		want string
	}{
		{&inventory.Host{Alias: "h1", Address: "10.0.0.1"}, "10.0.0.1:22"},
		{&inventory.Host{Alias: "h1", Address: "10.0.0.1", Port: 2222}, "10.0.0.1:2222"},
		{&inventory.Host{Alias: "node-3"}, "node-3:22"},
		{&inventory.Host{Alias: "h6", Address: "fd00::6"}, "[fd00::6]:22"},
	}
	for _, tt := range tests {
		if got := sshAddr(cfg, tt.host); got != tt.want {
			t.Errorf("sshAddr(%v) = %s, want %s", tt.host, got, tt.want)
		}
	}
}

func writeKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClientConfig(t *testing.T) {
	key := writeKey(t)
	cfg := settings.Defaults().With(func(c *settings.Config) { c.SSHKeyFile = key })

	cc, err := clientConfig(cfg, &inventory.Host{Alias: "h1"})
	if err != nil {
		t.Fatalf("clientConfig() error: %v", err)
	}
	if cc.User != "root" {
		t.Errorf("User = %q, want default", cc.User)
	}

	cc, err = clientConfig(cfg, &inventory.Host{Alias: "h1", User: "ubuntu"})
	if err != nil {
		t.Fatal(err)
	}
	if cc.User != "ubuntu" {
		t.Errorf("User = %q, want host override", cc.User)
	}
}

func TestLoadSigner_Errors(t *testing.T) {
	if _, err := loadSigner(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing key file should fail")
	}
	bad := filepath.Join(t.TempDir(), "bad")
	if err := os.WriteFile(bad, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadSigner(bad); err == nil {
		t.Error("garbage key should fail")
	}
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{Respond: func(name string, task Task) (string, error) {
		if task.Host.Alias == "bad" {
			return "boom", errors.New("exit status 1")
		}
		return "ok", nil
	}}
	results, err := rec.Execute(context.Background(), "deploy", []Task{
		{Host: &inventory.Host{Alias: "good"}, Script: "a"},
		{Host: &inventory.Host{Alias: "bad"}, Script: "b"},
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Failed() || !results[1].Failed() || results[1].Output != "boom" {
		t.Errorf("results = %+v", results)
	}
	calls := rec.Calls()
	if len(calls) != 1 || calls[0].Name != "deploy" || len(calls[0].Tasks) != 2 {
		t.Errorf("calls = %+v", calls)
	}
	rec.Reset()
	if len(rec.Calls()) != 0 {
		t.Error("Reset() should drop calls")
	}
}
