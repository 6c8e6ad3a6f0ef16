// Package agentspec loads an agent's YAML definition: its system prompt,
// tool whitelist, and any sub-agents it may delegate to via the task tool.
package agentspec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SubagentRef names a sub-agent spec reachable from a parent spec's task
// tool, by path relative to the parent spec file.
type SubagentRef struct {
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
}

// Spec is one agent's YAML definition, as read from disk.
type Spec struct {
	Name             string                 `yaml:"name"`
	SystemPromptPath string                 `yaml:"system_prompt_path"`
	Tools            []string               `yaml:"tools"`
	Subagents        map[string]SubagentRef `yaml:"subagents"`
	Model            string                 `yaml:"model"`

	// dir is the directory the spec file was loaded from, used to resolve
	// SystemPromptPath and Subagents[*].Path.
	dir string
}

// Load reads and parses the agent spec at path.
func Load(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read agent spec: %w", err)
	}
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Spec{}, fmt.Errorf("parse agent spec %s: %w", path, err)
	}
	if s.Name == "" {
		return Spec{}, fmt.Errorf("agent spec %s: name is required", path)
	}
	if s.SystemPromptPath == "" {
		return Spec{}, fmt.Errorf("agent spec %s: system_prompt_path is required", path)
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// ResolveSubagentPath returns the absolute path to a named sub-agent's spec
// file, relative to this spec's own directory.
func (s Spec) ResolveSubagentPath(name string) (string, bool) {
	ref, ok := s.Subagents[name]
	if !ok {
		return "", false
	}
	if filepath.IsAbs(ref.Path) {
		return ref.Path, true
	}
	return filepath.Join(s.dir, ref.Path), true
}

// placeholder tokens substituted into a loaded system prompt at engine
// construction time.
const (
	placeholderNow       = "{{JIMI_NOW}}"
	placeholderWorkDir   = "{{JIMI_WORK_DIR}}"
	placeholderWorkDirLs = "{{JIMI_WORK_DIR_LS}}"
	placeholderAgentsMD  = "{{JIMI_AGENTS_MD}}"
)

// RenderSystemPrompt reads this spec's system prompt file and substitutes
// the JIMI_* placeholders against workDir. now is injected explicitly
// (rather than read via time.Now internally) so callers can keep prompt
// rendering deterministic in tests.
func (s Spec) RenderSystemPrompt(workDir string, now time.Time) (string, error) {
	path := s.SystemPromptPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	prompt := string(data)

	if strings.Contains(prompt, placeholderNow) {
		prompt = strings.ReplaceAll(prompt, placeholderNow, now.Format(time.RFC3339))
	}
	if strings.Contains(prompt, placeholderWorkDir) {
		prompt = strings.ReplaceAll(prompt, placeholderWorkDir, workDir)
	}
	if strings.Contains(prompt, placeholderWorkDirLs) {
		prompt = strings.ReplaceAll(prompt, placeholderWorkDirLs, listWorkDir(workDir))
	}
	if strings.Contains(prompt, placeholderAgentsMD) {
		prompt = strings.ReplaceAll(prompt, placeholderAgentsMD, readAgentsMD(workDir))
	}
	return prompt, nil
}

// listWorkDir renders a flat, one-entry-per-line listing of workDir's
// immediate children, the cheapest useful substitute for shelling out to
// `ls` that stays portable.
func listWorkDir(workDir string) string {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// readAgentsMD returns the contents of workDir/AGENTS.md, or an empty
// string if it doesn't exist.
func readAgentsMD(workDir string) string {
	data, err := os.ReadFile(filepath.Join(workDir, "AGENTS.md"))
	if err != nil {
		return ""
	}
	return string(data)
}
