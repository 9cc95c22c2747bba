package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sentineld/termguard/internal/catalogue"
	"github.com/sentineld/termguard/internal/tools"
)

// RegisterTerminalTools registers all nine spec §4.H tools plus the sys_info
// supplement onto s, dispatching into tl.
func RegisterTerminalTools(s *Server, tl *tools.Tools) {
	s.Register(runDef(tl))
	s.Register(confirmDef(tl))
	s.Register(cancelDef(tl))
	s.Register(readFileDef(tl))
	s.Register(writeFileDef(tl))
	s.Register(diffDef(tl))
	s.Register(searchDef(tl))
	s.Register(findFilesDef(tl))
	s.Register(generateSSHKeyDef(tl))
	s.Register(sysInfoDef(tl))
}

func runDef(tl *tools.Tools) ToolDef {
	return ToolDef{
		Name:        "run",
		Description: "Execute an allowlisted command with the given arguments and working directory.",
		Params: []catalogue.Param{
			{Name: "command", Type: "string", Required: true},
			{Name: "args", Type: "string[]", Required: false},
			{Name: "cwd", Type: "string", Required: false},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
			var in struct {
				Command string   `json:"command"`
				Args    []string `json:"args"`
				Cwd     string   `json:"cwd"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("server: invalid run arguments: %w", err)
			}
			return tl.Run(ctx, in.Command, in.Args, in.Cwd)
		},
	}
}

func confirmDef(tl *tools.Tools) ToolDef {
	return ToolDef{
		Name:        "confirm",
		Description: "Advance or execute a pending confirmation token.",
		Params: []catalogue.Param{
			{Name: "token", Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
			var in struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("server: invalid confirm arguments: %w", err)
			}
			return tl.Confirm(ctx, in.Token)
		},
	}
}

func cancelDef(tl *tools.Tools) ToolDef {
	return ToolDef{
		Name:        "cancel",
		Description: "Cancel a pending confirmation token.",
		Params: []catalogue.Param{
			{Name: "token", Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
			var in struct {
				Token string `json:"token"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("server: invalid cancel arguments: %w", err)
			}
			return tl.Cancel(in.Token), nil
		},
	}
}

func readFileDef(tl *tools.Tools) ToolDef {
	return ToolDef{
		Name:        "read_file",
		Description: "Read a file within the sandbox.",
		Params: []catalogue.Param{
			{Name: "path", Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
			var in struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("server: invalid read_file arguments: %w", err)
			}
			return tl.ReadFile(in.Path)
		},
	}
}

func writeFileDef(tl *tools.Tools) ToolDef {
	return ToolDef{
		Name:        "write_file",
		Description: "Write a file within the sandbox (overwrite, append, or create).",
		Params: []catalogue.Param{
			{Name: "path", Type: "string", Required: true},
			{Name: "content", Type: "string", Required: true},
			{Name: "mode", Type: "string", Required: false},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
			var in struct {
				Path    string `json:"path"`
				Content string `json:"content"`
				Mode    string `json:"mode"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("server: invalid write_file arguments: %w", err)
			}
			if in.Mode == "" {
				in.Mode = "overwrite"
			}
			return tl.WriteFile(in.Path, in.Content, in.Mode)
		},
	}
}

func diffDef(tl *tools.Tools) ToolDef {
	return ToolDef{
		Name:        "diff",
		Description: "Produce a unified diff between a sandboxed file's current contents and proposed new contents.",
		Params: []catalogue.Param{
			{Name: "path", Type: "string", Required: true},
			{Name: "newContent", Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
			var in struct {
				Path       string `json:"path"`
				NewContent string `json:"newContent"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("server: invalid diff arguments: %w", err)
			}
			return tl.Diff(in.Path, in.NewContent)
		},
	}
}

func searchDef(tl *tools.Tools) ToolDef {
	return ToolDef{
		Name:        "search",
		Description: "Search the sandbox recursively for files containing a literal substring.",
		Params: []catalogue.Param{
			{Name: "query", Type: "string", Required: true},
			{Name: "maxMatches", Type: "number", Required: false},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
			var in struct {
				Query      string `json:"query"`
				MaxMatches int    `json:"maxMatches"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("server: invalid search arguments: %w", err)
			}
			return tl.Search(in.Query, in.MaxMatches)
		},
	}
}

func findFilesDef(tl *tools.Tools) ToolDef {
	return ToolDef{
		Name:        "find_files",
		Description: "Find files under a sandboxed directory by extension, name, or modification time.",
		Params: []catalogue.Param{
			{Name: "dir", Type: "string", Required: true},
			{Name: "extensions", Type: "string[]", Required: false},
			{Name: "nameContains", Type: "string", Required: false},
			{Name: "maxResults", Type: "number", Required: false},
			{Name: "modifiedWithinMinutes", Type: "number", Required: false},
			{Name: "followSymlinks", Type: "boolean", Required: false},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
			var in struct {
				Dir                   string   `json:"dir"`
				Extensions            []string `json:"extensions"`
				NameContains          string   `json:"nameContains"`
				MaxResults            int      `json:"maxResults"`
				ModifiedWithinMinutes int      `json:"modifiedWithinMinutes"`
				FollowSymlinks        *bool    `json:"followSymlinks"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("server: invalid find_files arguments: %w", err)
			}
			return tl.FindFiles(in.Dir, tools.FindFilesOptions{
				Extensions:            in.Extensions,
				NameContains:          in.NameContains,
				MaxResults:            in.MaxResults,
				ModifiedWithinMinutes: in.ModifiedWithinMinutes,
				FollowSymlinks:        in.FollowSymlinks,
			})
		},
	}
}

func generateSSHKeyDef(tl *tools.Tools) ToolDef {
	return ToolDef{
		Name:        "generate_ssh_key",
		Description: "Generate an SSH key pair in ~/.ssh, always gated behind confirmation.",
		Params: []catalogue.Param{
			{Name: "type", Type: "string", Required: false},
			{Name: "filename", Type: "string", Required: false},
			{Name: "comment", Type: "string", Required: false},
			{Name: "passphrase", Type: "string", Required: false},
			{Name: "overwrite", Type: "boolean", Required: false},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
			var in struct {
				Type       string `json:"type"`
				Filename   string `json:"filename"`
				Comment    string `json:"comment"`
				Passphrase string `json:"passphrase"`
				Overwrite  bool   `json:"overwrite"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("server: invalid generate_ssh_key arguments: %w", err)
			}
			return tl.GenerateSSHKey(tools.SSHKeyOptions{
				Type:       in.Type,
				Filename:   in.Filename,
				Comment:    in.Comment,
				Passphrase: in.Passphrase,
				Overwrite:  in.Overwrite,
			})
		},
	}
}

func sysInfoDef(tl *tools.Tools) ToolDef {
	return ToolDef{
		Name:        "sys_info",
		Description: "Report a snapshot of CPU, memory, and working directory.",
		Handler: func(ctx context.Context, raw json.RawMessage) (*tools.Result, error) {
			return tl.SysInfo()
		},
	}
}
