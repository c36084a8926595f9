package tools

import "myagent/pkg/tools/patch"

// NewDefaultRegistry builds the registry of built-in tools shared by every
// agent: shell, read_file, list_dir, grep_files, and apply_patch.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Def{
		Name:        "shell",
		Description: "Execute a shell command in the workspace and return its output.",
		InputSchema: ShellSchema,
		Run:         RunShell,
	})
	r.Register(Def{
		Name:        "read_file",
		Description: "Read a file with line numbers, optionally windowed by offset/limit.",
		InputSchema: ReadFileSchema,
		Run:         RunReadFile,
	})
	r.Register(Def{
		Name:        "list_dir",
		Description: "List directory contents via bounded-depth BFS traversal.",
		InputSchema: ListDirSchema,
		Run:         RunListDir,
	})
	r.Register(Def{
		Name:        "grep_files",
		Description: "Search files for a regex pattern, returning matching paths.",
		InputSchema: GrepFilesSchema,
		Run:         RunGrepFiles,
	})
	r.Register(Def{
		Name:        "apply_patch",
		Description: "Apply a structured patch document to one or more files.",
		InputSchema: patch.Schema,
		Run:         patch.Run,
	})
	return r
}
