// Package builtin provides the stock tools: workspace file access, shell
// execution and web fetch. Every tool validates paths through the sandbox
// and truncates its output.
package builtin

import (
	"github.com/cexll/agentd/pkg/sandbox"
	"github.com/cexll/agentd/pkg/tool"
)

// RegisterAll adds the builtin tools to r under the given sandbox policy.
func RegisterAll(r *tool.Registry, cfg sandbox.Config) error {
	tools := []tool.Tool{
		&ReadFile{cfg: cfg},
		&WriteFile{cfg: cfg},
		&ListDir{cfg: cfg},
		&ExecCmd{cfg: cfg},
		&WebFetch{cfg: cfg},
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
