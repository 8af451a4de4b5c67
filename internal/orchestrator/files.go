package orchestrator

import (
	"context"
	"encoding/base64"
	"path"
	"strings"

	"github.com/hearthbox/hearth/internal/core"
)

// File helpers run on top of ExecCommand. Paths are shell-quoted and write
// payloads travel base64-encoded, so file content containing shell
// metacharacters can never escape into the command line.

func (o *Orchestrator) ReadFile(ctx context.Context, id, filePath string) (string, error) {
	res, err := o.ExecCommand(ctx, id, "cat -- "+shellQuote(filePath), "", 0)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "No such file") {
			return "", core.Errorf(core.ErrNotFound, "workspace %s: file %s not found", id, filePath)
		}
		return "", core.Errorf(core.ErrRuntime, "workspace %s: read %s: %s", id, filePath, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func (o *Orchestrator) WriteFile(ctx context.Context, id, filePath, content string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	script := "mkdir -p " + shellQuote(path.Dir(filePath)) +
		" && printf '%s' " + shellQuote(encoded) +
		" | base64 -d > " + shellQuote(filePath)
	res, err := o.ExecCommand(ctx, id, script, "", 0)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return core.Errorf(core.ErrRuntime, "workspace %s: write %s: %s", id, filePath, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (o *Orchestrator) ListFiles(ctx context.Context, id, dirPath string) ([]string, error) {
	res, err := o.ExecCommand(ctx, id, "ls -1A -- "+shellQuote(dirPath), "", 0)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "No such file") {
			return nil, core.Errorf(core.ErrNotFound, "workspace %s: directory %s not found", id, dirPath)
		}
		return nil, core.Errorf(core.ErrRuntime, "workspace %s: list %s: %s", id, dirPath, strings.TrimSpace(res.Stderr))
	}
	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
