package filesystem

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cast"

	mcp "github.com/modelctx/go-mcp"
)

// toolArgs decodes the raw arguments object into a loose map; individual
// values are coerced with cast so numeric-looking inputs still work.
func toolArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return args, nil
}

func textResult(text string) (mcp.CallToolResult, error) {
	return mcp.CallToolResult{
		Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: text}},
	}, nil
}

func (s *Server) readFile(_ *mcp.RequestContext, raw json.RawMessage) (mcp.CallToolResult, error) {
	args, err := toolArgs(raw)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	path, err := s.resolvePath(cast.ToString(args["path"]))
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to read file: %w", err)
	}

	return textResult(string(content))
}

func (s *Server) writeFile(_ *mcp.RequestContext, raw json.RawMessage) (mcp.CallToolResult, error) {
	args, err := toolArgs(raw)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	path, err := s.resolvePath(cast.ToString(args["path"]))
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	content := cast.ToString(args["content"])
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to write file: %w", err)
	}

	return textResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

func (s *Server) editFile(_ *mcp.RequestContext, raw json.RawMessage) (mcp.CallToolResult, error) {
	args, err := toolArgs(raw)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	path, err := s.resolvePath(cast.ToString(args["path"]))
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	oldText := cast.ToString(args["oldText"])
	newText := cast.ToString(args["newText"])

	original, err := os.ReadFile(path)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to read file: %w", err)
	}

	if !strings.Contains(string(original), oldText) {
		return mcp.CallToolResult{}, fmt.Errorf("text to replace not found in %s", path)
	}
	edited := strings.Replace(string(original), oldText, newText, 1)

	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to write file: %w", err)
	}

	return textResult(unifiedDiff(string(original), edited))
}

func (s *Server) searchFiles(ctx *mcp.RequestContext, raw json.RawMessage) (mcp.CallToolResult, error) {
	args, err := toolArgs(raw)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	root, err := s.resolvePath(cast.ToString(args["path"]))
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	pattern, err := glob.Compile(cast.ToString(args["pattern"]), '/')
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to compile pattern: %w", err)
	}

	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// Walking a large tree can take a while; honor cancellation between
		// entries.
		if err := ctx.EnsureNotCancelled(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if pattern.Match(filepath.ToSlash(rel)) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to search files: %w", err)
	}

	if len(matches) == 0 {
		return textResult("no matches")
	}
	return textResult(strings.Join(matches, "\n"))
}

func (s *Server) listDirectory(_ *mcp.RequestContext, raw json.RawMessage) (mcp.CallToolResult, error) {
	args, err := toolArgs(raw)
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	path, err := s.resolvePath(cast.ToString(args["path"]))
	if err != nil {
		return mcp.CallToolResult{}, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to read directory: %w", err)
	}

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		kind := "FILE"
		if entry.IsDir() {
			kind = "DIR"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", kind, entry.Name()))
	}

	return textResult(strings.Join(lines, "\n"))
}

func (s *Server) readFileResource(_ *mcp.RequestContext, uri string, params map[string]string) (mcp.ReadResourceResult, error) {
	path, err := s.resolvePath("/" + params["path"])
	if err != nil {
		return mcp.ReadResourceResult{}, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return mcp.ReadResourceResult{}, fmt.Errorf("failed to read file: %w", err)
	}

	return mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{{
			URI:      uri,
			MimeType: "text/plain",
			Text:     string(content),
		}},
	}, nil
}

// resolvePath makes the requested path absolute and rejects anything outside
// the allowed roots.
func (s *Server) resolvePath(requested string) (string, error) {
	if requested == "" {
		return "", fmt.Errorf("path is required")
	}

	abs, err := filepath.Abs(requested)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", requested, err)
	}
	abs = filepath.Clean(abs)

	for _, root := range s.roots {
		if isSubpath(abs, root) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("access denied - path %s outside allowed directories %s",
		requested, strings.Join(s.roots, ", "))
}

func isSubpath(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

// unifiedDiff renders a git-style text diff between the original and edited
// contents.
func unifiedDiff(original, edited string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, edited, true)
	return dmp.PatchToText(dmp.PatchMake(diffs))
}
