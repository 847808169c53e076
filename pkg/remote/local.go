package remote

import (
	"context"
	"os"
	"os/exec"

	"github.com/tbkit-project/tbkit/pkg/inventory"
)

// localRunner runs on the machine tbkit itself runs on.
type localRunner struct{}

func (localRunner) run(ctx context.Context, _ *inventory.Host, line string) (string, error) {
	out, err := exec.CommandContext(ctx, "sh", "-c", line).CombinedOutput()
	return string(out), err
}

func (localRunner) fetch(_ context.Context, _ *inventory.Host, path string) ([]byte, error) {
	return os.ReadFile(path)
}
