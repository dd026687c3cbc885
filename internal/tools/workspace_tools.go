package tools

import (
	"context"

	"github.com/nextlevelbuilder/goswarm/internal/workspace"
)

// workspaceFor resolves the caller's workspace id or fails with
// workspace_not_assigned.
func workspaceFor(ctx context.Context) (string, *Result) {
	if ws := WorkspaceFromCtx(ctx); ws != "" {
		return ws, nil
	}
	return "", ErrorFrom(workspace.ErrNoWorkspace)
}

// --- read_file ---

type ReadFileTool struct {
	ws *workspace.Manager
}

func NewReadFileTool(m *workspace.Manager) *ReadFileTool {
	return &ReadFileTool{ws: m}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from your workspace. Paths are relative to the workspace root; parent references and absolute paths are rejected."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative file path.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult(KindMissingParameter, "path is required")
	}
	wsID, errRes := workspaceFor(ctx)
	if errRes != nil {
		return errRes
	}
	data, err := t.ws.ReadFile(wsID, path)
	if err != nil {
		return ErrorFrom(err)
	}
	return NewResult(string(data))
}

// --- write_file ---

type WriteFileTool struct {
	ws *workspace.Manager
}

func NewWriteFileTool(m *workspace.Manager) *WriteFileTool {
	return &WriteFileTool{ws: m}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write a file into your workspace, creating parent directories as needed. Overwrites existing content."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative file path.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full file content.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult(KindMissingParameter, "path is required")
	}
	content, hasContent := args["content"].(string)
	if !hasContent {
		return ErrorResult(KindMissingParameter, "content is required")
	}
	wsID, errRes := workspaceFor(ctx)
	if errRes != nil {
		return errRes
	}
	if err := t.ws.WriteFile(wsID, path, []byte(content)); err != nil {
		return ErrorFrom(err)
	}
	return JSONResult(map[string]interface{}{
		"path":    path,
		"written": len(content),
	})
}

// --- list_files ---

type ListFilesTool struct {
	ws *workspace.Manager
}

func NewListFilesTool(m *workspace.Manager) *ListFilesTool {
	return &ListFilesTool{ws: m}
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files and directories under a workspace-relative path (default: the workspace root)."
}

func (t *ListFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative directory path; empty lists the root.",
			},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	wsID, errRes := workspaceFor(ctx)
	if errRes != nil {
		return errRes
	}
	entries, err := t.ws.ListFiles(wsID, path)
	if err != nil {
		return ErrorFrom(err)
	}
	return JSONResult(map[string]interface{}{
		"path":    path,
		"entries": entries,
	})
}

// --- put_artifact ---

type PutArtifactTool struct {
	ws *workspace.Manager
}

func NewPutArtifactTool(m *workspace.Manager) *PutArtifactTool {
	return &PutArtifactTool{ws: m}
}

func (t *PutArtifactTool) Name() string { return "put_artifact" }

func (t *PutArtifactTool) Description() string {
	return "Store content as an artifact and get back an opaque 'artifact:<id>' reference you can hand to other agents."
}

func (t *PutArtifactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Artifact body.",
			},
		},
		"required": []string{"content"},
	}
}

func (t *PutArtifactTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, ok := args["content"].(string)
	if !ok {
		return ErrorResult(KindMissingParameter, "content is required")
	}
	ref, err := t.ws.PutArtifact([]byte(content))
	if err != nil {
		return ErrorFrom(err)
	}
	return JSONResult(map[string]interface{}{"ref": ref})
}

// --- get_artifact ---

type GetArtifactTool struct {
	ws *workspace.Manager
}

func NewGetArtifactTool(m *workspace.Manager) *GetArtifactTool {
	return &GetArtifactTool{ws: m}
}

func (t *GetArtifactTool) Name() string { return "get_artifact" }

func (t *GetArtifactTool) Description() string {
	return "Fetch the content behind an 'artifact:<id>' reference produced by put_artifact."
}

func (t *GetArtifactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"ref": map[string]interface{}{
				"type":        "string",
				"description": "Artifact reference, with or without the 'artifact:' prefix.",
			},
		},
		"required": []string{"ref"},
	}
}

func (t *GetArtifactTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	ref, _ := args["ref"].(string)
	if ref == "" {
		return ErrorResult(KindMissingParameter, "ref is required")
	}
	data, err := t.ws.GetArtifact(ref)
	if err != nil {
		return ErrorFrom(err)
	}
	return NewResult(string(data))
}
