// Package skills loads agent skill definitions from the workspace. A skill
// is a directory containing a SKILL.md file whose YAML frontmatter declares
// metadata, requirements and tool permissions; the markdown body is injected
// into the model context when the skill is active.
package skills

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/cexll/agentd/pkg/config"
	"github.com/cexll/agentd/pkg/tool"
)

// SkillFile is the manifest name looked up inside each skill directory.
const SkillFile = "SKILL.md"

// Requirements lists what must be present on the host for a skill to load.
type Requirements struct {
	Bins []string `yaml:"bins"`
	Env  []string `yaml:"env"`
}

// Permissions narrows what an active skill lets the model do.
type Permissions struct {
	Tools          []string        `yaml:"tools"`
	MaxExecTimeout config.Duration `yaml:"max_exec_timeout"`
}

// Skill is one parsed SKILL.md manifest plus its markdown body.
type Skill struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Version     string       `yaml:"version"`
	Always      bool         `yaml:"always"`
	Requires    Requirements `yaml:"requires"`
	Permissions *Permissions `yaml:"permissions"`

	Body string `yaml:"-"`
	Dir  string `yaml:"-"`
}

// Manager scans the skills directory and caches the result until the watcher
// invalidates it. Safe for concurrent use.
type Manager struct {
	dir         string
	minVersions map[string]string
	logger      *slog.Logger

	lookPath func(string) (string, error)
	getenv   func(string) string

	mu     sync.Mutex
	cache  []Skill
	loaded bool
}

// NewManager creates a manager over <dir>. minVersions maps skill names to
// the minimum semantic version accepted for them.
func NewManager(dir string, minVersions map[string]string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:         dir,
		minVersions: minVersions,
		logger:      logger,
		lookPath:    exec.LookPath,
		getenv:      os.Getenv,
	}
}

// Skills returns the available skills sorted by name. Skills whose
// requirements or version gates fail are skipped with a log line, never an
// error: a broken skill must not take the agent down.
func (m *Manager) Skills() []Skill {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return append([]Skill(nil), m.cache...)
	}
	m.cache = m.scan()
	m.loaded = true
	return append([]Skill(nil), m.cache...)
}

// AlwaysOn returns the skills flagged for unconditional context injection.
func (m *Manager) AlwaysOn() []Skill {
	var out []Skill
	for _, s := range m.Skills() {
		if s.Always {
			out = append(out, s)
		}
	}
	return out
}

// AllowedTools derives the tool permission from the available skills. When
// no skill declares a permissions block every tool is allowed; otherwise the
// union of declared tool lists applies.
func (m *Manager) AllowedTools() tool.Permission {
	var names []string
	declared := false
	for _, s := range m.Skills() {
		if s.Permissions == nil {
			continue
		}
		declared = true
		names = append(names, s.Permissions.Tools...)
	}
	if !declared {
		return tool.AllowAll()
	}
	return tool.Restrict(names...)
}

// Invalidate drops the cache so the next Skills call rescans the directory.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false
}

func (m *Manager) scan() []Skill {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("skills: read dir failed", "dir", m.dir, "error", err)
		}
		return nil
	}

	var out []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.dir, entry.Name(), SkillFile)
		skill, err := ParseFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn("skills: skipping unparseable skill", "path", path, "error", err)
			}
			continue
		}
		if reason := m.unavailable(skill); reason != "" {
			m.logger.Info("skills: skill unavailable", "skill", skill.Name, "reason", reason)
			continue
		}
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// unavailable returns a human-readable reason the skill cannot load, or ""
// when it can.
func (m *Manager) unavailable(s Skill) string {
	for _, bin := range s.Requires.Bins {
		if _, err := m.lookPath(bin); err != nil {
			return fmt.Sprintf("required binary %q not found", bin)
		}
	}
	for _, env := range s.Requires.Env {
		if m.getenv(env) == "" {
			return fmt.Sprintf("required environment variable %q not set", env)
		}
	}
	if min, ok := m.minVersions[s.Name]; ok {
		have := canonicalVersion(s.Version)
		want := canonicalVersion(min)
		if have == "" {
			return fmt.Sprintf("version %q is not a valid semver", s.Version)
		}
		if want != "" && semver.Compare(have, want) < 0 {
			return fmt.Sprintf("version %s is below required minimum %s", s.Version, min)
		}
	}
	return ""
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// ParseFile reads one SKILL.md manifest.
func ParseFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	skill, err := Parse(data)
	if err != nil {
		return Skill{}, fmt.Errorf("%s: %w", path, err)
	}
	skill.Dir = filepath.Dir(path)
	if skill.Name == "" {
		skill.Name = filepath.Base(skill.Dir)
	}
	return skill, nil
}

// Parse splits YAML frontmatter from the markdown body and decodes it.
func Parse(data []byte) (Skill, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return Skill{}, errors.New("missing frontmatter delimiter")
	}
	rest := text[strings.Index(text, "\n")+1:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return Skill{}, errors.New("unterminated frontmatter")
	}
	header := rest[:idx]
	body := rest[idx+len("\n---"):]
	if nl := strings.Index(body, "\n"); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}

	var skill Skill
	if err := yaml.Unmarshal([]byte(header), &skill); err != nil {
		return Skill{}, fmt.Errorf("decode frontmatter: %w", err)
	}
	skill.Name = strings.TrimSpace(skill.Name)
	skill.Body = strings.TrimSpace(body)
	return skill, nil
}
