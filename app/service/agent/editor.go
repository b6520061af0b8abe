package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	"github.com/tmc/langchaingo/tools"
)

const ToolEditor = "editor"

type editorRequest struct {
	Command    string `json:"command"`
	Path       string `json:"path"`
	FileText   string `json:"file_text"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	InsertLine *int   `json:"insert_line"`
	ViewRange  []int  `json:"view_range"`
}

// fileEditor views and edits files below root.
type fileEditor struct {
	root string
}

func newEditorTool(root string) (tools.Tool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, oops.In("agent").With("root", root).Errorf("failed to resolve editor root: %w", err)
	}

	e := &fileEditor{root: abs}

	return &agentTool{
		name: ToolEditor,
		description: `View, create and edit text files. Input must be a JSON object with fields: ` +
			`command ("view", "create", "str_replace" or "insert"), path (relative to ` + abs + `), ` +
			`file_text (create), old_str and new_str (str_replace, old_str must occur exactly once), ` +
			`insert_line and new_str (insert, text goes after that line, 0 for the top), ` +
			`view_range [start, end] (view, optional, 1-based, end -1 for the last line).`,
		call: e.call,
	}, nil
}

func (e *fileEditor) call(_ context.Context, input string) (string, error) {
	var req editorRequest
	if err := json.Unmarshal([]byte(input), &req); err != nil {
		return "", oops.In("agent").Errorf("invalid editor JSON: %w", err)
	}

	path, err := e.resolve(req.Path)
	if err != nil {
		return "", err
	}

	switch req.Command {
	case "view":
		return e.view(path, req.ViewRange)
	case "create":
		return e.create(path, req.FileText)
	case "str_replace":
		return e.replace(path, req.OldStr, req.NewStr)
	case "insert":
		if req.InsertLine == nil {
			return "", oops.In("agent").Errorf("insert_line is required for insert")
		}
		return e.insert(path, *req.InsertLine, req.NewStr)
	default:
		return "", oops.In("agent").With("command", req.Command).Errorf("unknown editor command %q", req.Command)
	}
}

func (e *fileEditor) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", oops.In("agent").Errorf("path is required")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(e.root, path)
	}
	path = filepath.Clean(path)

	if !within(e.root, path) {
		return "", oops.In("agent").With("path", path).Errorf("path %s is outside of %s", path, e.root)
	}

	// symlinks below root must not lead out of it
	realRoot, err := evalExisting(e.root)
	if err != nil {
		return "", oops.In("agent").With("root", e.root).Errorf("failed to resolve editor root: %w", err)
	}
	realPath, err := evalExisting(path)
	if err != nil {
		return "", oops.In("agent").With("path", path).Errorf("failed to resolve path: %w", err)
	}
	if !within(realRoot, realPath) {
		return "", oops.In("agent").With("path", path).Errorf("path %s resolves outside of %s", path, e.root)
	}

	return path, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// evalExisting resolves symlinks in the longest existing prefix of path and
// appends the missing tail unchanged.
func evalExisting(path string) (string, error) {
	var tail []string
	for {
		real, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if _, lerr := os.Lstat(path); lerr == nil {
			return "", oops.In("agent").With("path", path).Errorf("dangling symlink %s", path)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return filepath.Join(append([]string{path}, tail...)...), nil
		}
		tail = append([]string{filepath.Base(path)}, tail...)
		path = parent
	}
}

func (e *fileEditor) view(path string, viewRange []int) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", oops.In("agent").With("path", path).Errorf("failed to stat: %w", err)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", oops.In("agent").With("path", path).Errorf("failed to list directory: %w", err)
		}

		var sb strings.Builder
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			sb.WriteString(name)
			sb.WriteString("\n")
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", oops.In("agent").With("path", path).Errorf("failed to read file: %w", err)
	}

	lines := splitLines(string(data))
	if len(lines) == 0 {
		return "(empty file)", nil
	}

	start, end := 1, len(lines)
	switch len(viewRange) {
	case 0:
	case 2:
		start = viewRange[0]
		if viewRange[1] != -1 {
			end = viewRange[1]
		}
	default:
		return "", oops.In("agent").With("view_range", viewRange).Errorf("view_range must be [start, end]")
	}
	if start < 1 || end > len(lines) || start > end {
		return "", oops.In("agent").With("view_range", viewRange).Errorf("invalid view_range for a file of %d lines", len(lines))
	}

	var sb strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i, lines[i-1])
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}

func (e *fileEditor) create(path, text string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", oops.In("agent").With("path", path).Errorf("failed to create parent directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", oops.In("agent").With("path", path).Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("File created: %s", path), nil
}

func (e *fileEditor) replace(path, oldStr, newStr string) (string, error) {
	if oldStr == "" {
		return "", oops.In("agent").Errorf("old_str is required for str_replace")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", oops.In("agent").With("path", path).Errorf("failed to read file: %w", err)
	}

	content := string(data)

	switch n := strings.Count(content, oldStr); n {
	case 0:
		return "", oops.In("agent").With("path", path).Errorf("old_str not found in %s", path)
	case 1:
	default:
		return "", oops.In("agent").With("path", path).Errorf("old_str occurs %d times in %s, it must be unique", n, path)
	}

	if err = os.WriteFile(path, []byte(strings.Replace(content, oldStr, newStr, 1)), 0644); err != nil {
		return "", oops.In("agent").With("path", path).Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("File edited: %s", path), nil
}

func (e *fileEditor) insert(path string, line int, text string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", oops.In("agent").With("path", path).Errorf("failed to read file: %w", err)
	}

	lines := splitLines(string(data))
	if line < 0 || line > len(lines) {
		return "", oops.In("agent").With("insert_line", line).Errorf("insert_line must be between 0 and %d", len(lines))
	}

	inserted := splitLines(text)

	result := make([]string, 0, len(lines)+len(inserted))
	result = append(result, lines[:line]...)
	result = append(result, inserted...)
	result = append(result, lines[line:]...)

	if err = os.WriteFile(path, []byte(strings.Join(result, "\n")+"\n"), 0644); err != nil {
		return "", oops.In("agent").With("path", path).Errorf("failed to write file: %w", err)
	}

	return fmt.Sprintf("Inserted %d line(s) after line %d of %s", len(inserted), line, path), nil
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}
