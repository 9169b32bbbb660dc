package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cortexlocal/recall/internal/config"
	"github.com/cortexlocal/recall/internal/facade"
)

// projectDataDir resolves the project root (walking up for .git or a
// .recall.yaml) and returns its sibling .recall/ data directory, mirroring
// the teacher's project-relative .recall convention rather than the
// façade's XDG per-user default (facade.DataDir), which cmd/recall reserves
// for the MCP server's no-project-argument invocation.
func projectDataDir() (root, dataDir string, err error) {
	root, err = config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return "", "", err
		}
	}
	return root, filepath.Join(root, ".recall"), nil
}

// openFacade loads config from the project root, constructs and
// initializes a Facade against its .recall/ data directory, and returns it
// along with a closer the caller must defer.
func openFacade(ctx context.Context) (*facade.Facade, func(), error) {
	root, dataDir, err := projectDataDir()
	if err != nil {
		return nil, nil, fmt.Errorf("resolve project root: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	f := facade.New(cfg, dataDir, facade.Deps{})
	if err := f.Initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}
	closer := func() {
		_ = f.Shutdown(context.Background())
	}
	return f, closer, nil
}
