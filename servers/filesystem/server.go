// Package filesystem provides a sample server exposing file operations as
// tools and files as resources, confined to a set of allowed root
// directories.
package filesystem

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	mcp "github.com/modelctx/go-mcp"
)

// Server registers filesystem tools and resources on an mcp.Registry. All
// operations are restricted to the configured root directories.
type Server struct {
	roots []string
}

// New creates a filesystem server allowed to operate under the given root
// directories. At least one root is required.
func New(roots ...string) (*Server, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root directory is required")
	}

	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
		}
		cleaned = append(cleaned, filepath.Clean(abs))
	}

	return &Server{roots: cleaned}, nil
}

// Register adds the filesystem tools and the file resource template to the
// registry.
func (s *Server) Register(registry *mcp.Registry) error {
	tools := []mcp.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        "read_file",
				Description: "Read the complete contents of a file. Only works within allowed directories.",
				InputSchema: readFileSchema,
			},
			Handler: s.readFile,
		},
		{
			Tool: mcp.Tool{
				Name:        "write_file",
				Description: "Create or overwrite a file with new content. Only works within allowed directories.",
				InputSchema: writeFileSchema,
			},
			Handler: s.writeFile,
		},
		{
			Tool: mcp.Tool{
				Name: "edit_file",
				Description: "Replace exact text sequences in a file and return a diff of the changes. " +
					"Only works within allowed directories.",
				InputSchema: editFileSchema,
			},
			Handler: s.editFile,
		},
		{
			Tool: mcp.Tool{
				Name: "search_files",
				Description: "Recursively search for files matching a glob pattern. " +
					"Only works within allowed directories.",
				InputSchema: searchFilesSchema,
			},
			Handler: s.searchFiles,
		},
		{
			Tool: mcp.Tool{
				Name:        "list_directory",
				Description: "List the entries of a directory. Only works within allowed directories.",
				InputSchema: listDirectorySchema,
			},
			Handler: s.listDirectory,
		},
	}

	for _, st := range tools {
		if err := registry.RegisterTool(st); err != nil {
			return fmt.Errorf("failed to register tool %q: %w", st.Tool.Name, err)
		}
	}

	template := mcp.ServerResourceTemplate{
		Template: mcp.ResourceTemplate{
			// The '+' operator lets path span multiple segments.
			URITemplate: "file:///{+path}",
			Name:        "file",
			Description: "Read a file under the allowed directories by URI.",
			MimeType:    "text/plain",
		},
		Handler: s.readFileResource,
	}
	if err := registry.RegisterResourceTemplate(template); err != nil {
		return fmt.Errorf("failed to register file resource template: %w", err)
	}

	return nil
}

var readFileSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path of the file to read"}
  },
  "required": ["path"]
}`)

var writeFileSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path of the file to write"},
    "content": {"type": "string", "description": "Content to write"}
  },
  "required": ["path", "content"]
}`)

var editFileSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Path of the file to edit"},
    "oldText": {"type": "string", "description": "Exact text to replace"},
    "newText": {"type": "string", "description": "Replacement text"}
  },
  "required": ["path", "oldText", "newText"]
}`)

var searchFilesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Directory to search from"},
    "pattern": {"type": "string", "description": "Glob pattern matched against relative paths"}
  },
  "required": ["path", "pattern"]
}`)

var listDirectorySchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Directory to list"}
  },
  "required": ["path"]
}`)
