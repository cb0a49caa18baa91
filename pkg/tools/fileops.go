// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/sandbox"
)

// FSTool serves one file operation; the op field is the action id.
// All eight share the same root and differ only in Execute.
type FSTool struct {
	op     string
	root   string
	logger *zap.Logger
}

// NewFSTools builds the FS.* handler set.
func NewFSTools(opts Options) []dispatch.Tool {
	ops := []string{
		dispatch.ActionFSRead, dispatch.ActionFSWrite, dispatch.ActionFSList,
		dispatch.ActionFSSearch, dispatch.ActionFSDiff, dispatch.ActionFSEdit,
		dispatch.ActionFSAppend, dispatch.ActionFSDelete,
	}
	tools := make([]dispatch.Tool, len(ops))
	for i, op := range ops {
		tools[i] = &FSTool{op: op, root: opts.Root, logger: opts.Logger}
	}
	return tools
}

func (t *FSTool) Name() string        { return t.op }
func (t *FSTool) Description() string { return dispatch.Describe(t.op) }
func (t *FSTool) Backend() string     { return dispatch.BackendLocal }

func (t *FSTool) SideEffects() []string {
	switch t.op {
	case dispatch.ActionFSWrite, dispatch.ActionFSEdit, dispatch.ActionFSAppend:
		return []string{"filesystem_write"}
	case dispatch.ActionFSDelete:
		return []string{"filesystem_delete"}
	default:
		return []string{"filesystem_read"}
	}
}

func (t *FSTool) InputSchema() *dispatch.JSONSchema {
	switch t.op {
	case dispatch.ActionFSRead:
		return dispatch.NewObjectSchema("read a file", map[string]*dispatch.JSONSchema{
			"path":      dispatch.NewStringSchema("file path (relative paths resolve against the data root)"),
			"max_bytes": dispatch.NewNumberSchema("read cap").WithDefault(8192),
		}, []string{"path"})
	case dispatch.ActionFSWrite:
		return dispatch.NewObjectSchema("create or overwrite a file under work/", map[string]*dispatch.JSONSchema{
			"path":      dispatch.NewStringSchema("target path (confined to work/)"),
			"content":   dispatch.NewStringSchema("file content"),
			"overwrite": dispatch.NewBooleanSchema("replace an existing file").WithDefault(true),
		}, []string{"path", "content"})
	case dispatch.ActionFSList:
		return dispatch.NewObjectSchema("list a directory", map[string]*dispatch.JSONSchema{
			"path":      dispatch.NewStringSchema("directory path").WithDefault("."),
			"max_items": dispatch.NewNumberSchema("entry cap").WithDefault(100),
		}, nil)
	case dispatch.ActionFSSearch:
		return dispatch.NewObjectSchema("search file contents with a regex", map[string]*dispatch.JSONSchema{
			"root":        dispatch.NewStringSchema("directory to search").WithDefault("."),
			"pattern":     dispatch.NewStringSchema("regular expression"),
			"ext_filter":  dispatch.NewStringSchema("filename suffix filter, e.g. .go"),
			"max_results": dispatch.NewNumberSchema("match cap").WithDefault(50),
		}, []string{"pattern"})
	case dispatch.ActionFSDiff:
		return dispatch.NewObjectSchema("unified diff of two files", map[string]*dispatch.JSONSchema{
			"path1":   dispatch.NewStringSchema("left file"),
			"path2":   dispatch.NewStringSchema("right file"),
			"context": dispatch.NewNumberSchema("context lines").WithDefault(3),
		}, []string{"path1", "path2"})
	case dispatch.ActionFSEdit:
		return dispatch.NewObjectSchema("line-based edit (1-based, writes a .bak)", map[string]*dispatch.JSONSchema{
			"path":      dispatch.NewStringSchema("file to edit (confined to work/)"),
			"operation": dispatch.NewStringSchema("edit kind").WithEnum("replace", "insert", "delete"),
			"line":      dispatch.NewNumberSchema("1-based line number"),
			"content":   dispatch.NewStringSchema("replacement or inserted line"),
		}, []string{"path", "operation", "line"})
	case dispatch.ActionFSAppend:
		return dispatch.NewObjectSchema("append to a file under work/", map[string]*dispatch.JSONSchema{
			"path":    dispatch.NewStringSchema("target path (confined to work/)"),
			"content": dispatch.NewStringSchema("content to append"),
		}, []string{"path", "content"})
	default: // FS.DELETE.v1
		return dispatch.NewObjectSchema("soft-delete a file or directory under work/", map[string]*dispatch.JSONSchema{
			"path": dispatch.NewStringSchema("target path (confined to work/, moved to work/.trash)"),
		}, []string{"path"})
	}
}

func (t *FSTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	switch t.op {
	case dispatch.ActionFSRead:
		return t.read(inputs)
	case dispatch.ActionFSWrite:
		return t.write(inputs)
	case dispatch.ActionFSList:
		return t.list(inputs)
	case dispatch.ActionFSSearch:
		return t.search(inputs)
	case dispatch.ActionFSDiff:
		return t.diff(inputs)
	case dispatch.ActionFSEdit:
		return t.edit(inputs)
	case dispatch.ActionFSAppend:
		return t.appendFile(inputs)
	default:
		return t.deleteFile(inputs)
	}
}

// failSandbox converts a containment error into the structured kind.
func (t *FSTool) failSandbox(err error) *dispatch.Result {
	return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindPathOutsideSandbox, err.Error()))
}

func (t *FSTool) failInput(detail string) *dispatch.Result {
	return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput, detail))
}

func (t *FSTool) failTool(detail string) *dispatch.Result {
	return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindToolError, detail))
}

func (t *FSTool) failNotFound(detail string) *dispatch.Result {
	return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindNotFound, detail))
}

// Informational /proc files any code may read.
var procWhitelist = []string{
	"/proc/loadavg", "/proc/meminfo", "/proc/cpuinfo",
	"/proc/uptime", "/proc/version",
}

// Per-process /proc files that leak secrets, memory layout or command
// lines. Matched literal for self and by regex for arbitrary pids.
var procBlocked = []string{
	"/proc/self/environ", "/proc/self/maps", "/proc/self/cmdline",
	"/proc/self/mem", "/proc/self/fd", "/proc/self/exe",
	"/proc/self/root", "/proc/self/cwd", "/proc/self/io",
	"/proc/self/stack", "/proc/self/status", "/proc/self/mountinfo",
}

var sensitiveProcRe = regexp.MustCompile(`^/proc/\d+/(environ|cmdline|maps|mem|fd|exe|root|cwd|io|stack|status|mountinfo)`)

// System paths readable outside the data root.
var safeSystemPrefixes = []string{"/etc/hostname", "/proc/", "/sys/class/"}

// checkSystemRead vets a resolved path that fell outside the data root.
// A nil error means the read may proceed.
func checkSystemRead(real string) error {
	if strings.HasPrefix(real, "/proc/") {
		if sensitiveProcRe.MatchString(real) {
			return fmt.Errorf("blocked sensitive /proc path: %s", real)
		}
		for _, blocked := range procBlocked {
			if real == blocked || strings.HasPrefix(real, blocked+"/") {
				return fmt.Errorf("blocked sensitive /proc path: %s", real)
			}
		}
		allowed := false
		for _, ok := range procWhitelist {
			if real == ok || strings.HasPrefix(real, ok) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("/proc path not in whitelist: %s", real)
		}
	}
	for _, prefix := range safeSystemPrefixes {
		if strings.HasPrefix(real, prefix) {
			return nil
		}
	}
	return fmt.Errorf("path outside sandbox: %s", real)
}

func (t *FSTool) read(inputs map[string]interface{}) (*dispatch.Result, error) {
	path := strInput(inputs, "path", "")
	if path == "" {
		return t.failInput("no path"), nil
	}
	maxBytes := intInput(inputs, "max_bytes", 8192)
	if maxBytes <= 0 {
		maxBytes = 8192
	}

	real, err := sandbox.ResolveRead(t.root, path)
	if errors.Is(err, sandbox.ErrOutsideRoot) {
		// Reads outside the root are allowed only for the small set of
		// informational system paths.
		real, err = sandbox.Realpath(path)
		if err != nil {
			return t.failTool(err.Error()), nil
		}
		if serr := checkSystemRead(real); serr != nil {
			return t.failSandbox(serr), nil
		}
	} else if err != nil {
		return t.failTool(err.Error()), nil
	}

	f, err := os.Open(real)
	if err != nil {
		if os.IsNotExist(err) {
			return t.failNotFound(fmt.Sprintf("file not found: %s", real)), nil
		}
		return t.failTool(fmt.Sprintf("file read error: %v", err)), nil
	}
	defer f.Close()

	buf := make([]byte, maxBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return t.failTool(fmt.Sprintf("file read error: %v", err)), nil
	}
	return dispatch.OK(string(buf[:n])), nil
}

const maxWriteBytes = 1 << 20

func (t *FSTool) write(inputs map[string]interface{}) (*dispatch.Result, error) {
	path := strInput(inputs, "path", "")
	if path == "" {
		return t.failInput("no path"), nil
	}
	content := strInput(inputs, "content", "")
	if len(content) > maxWriteBytes {
		return t.failInput("content exceeds 1MB limit"), nil
	}
	// Absolute paths are flattened to their base name inside work/
	// rather than rejected; models routinely echo full host paths.
	if filepath.IsAbs(path) {
		path = filepath.Base(path)
	}
	full, err := sandbox.ResolveWrite(t.root, path)
	if err != nil {
		return t.failSandbox(err), nil
	}

	overwrite := boolInput(inputs, "overwrite", true)
	if _, serr := os.Stat(full); serr == nil && !overwrite {
		return t.failTool(fmt.Sprintf("file exists and overwrite=false: %s", full)), nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	if err := atomicWrite(full, []byte(content)); err != nil {
		return nil, err
	}
	return dispatch.OK(fmt.Sprintf("wrote %d bytes to %s", len(content), full)), nil
}

// atomicWrite lands content via tmp + fsync + rename, keeping the
// previous version as .bak.
func atomicWrite(path string, content []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".bak")
	}
	return os.Rename(tmp, path)
}

func (t *FSTool) list(inputs map[string]interface{}) (*dispatch.Result, error) {
	path := strInput(inputs, "path", ".")
	maxItems := intInput(inputs, "max_items", 100)
	if maxItems <= 0 {
		maxItems = 100
	}

	real, err := sandbox.ResolveRead(t.root, path)
	if err != nil {
		return t.failSandbox(err), nil
	}
	info, err := os.Stat(real)
	if err != nil || !info.IsDir() {
		return t.failInput(fmt.Sprintf("not a directory: %s", real)), nil
	}

	entries, err := os.ReadDir(real)
	if err != nil {
		return t.failTool(err.Error()), nil
	}
	truncated := len(entries) >= maxItems
	if len(entries) > maxItems {
		entries = entries[:maxItems]
	}

	type row struct {
		name  string
		etype string
		size  int64
	}
	rows := make([]row, 0, len(entries))
	for _, entry := range entries {
		r := row{name: entry.Name(), etype: "file"}
		if entry.IsDir() {
			r.etype = "dir"
		} else if entry.Type()&fs.ModeSymlink != 0 {
			r.etype = "link"
		}
		if fi, ferr := entry.Info(); ferr == nil {
			r.size = fi.Size()
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		di, dj := rows[i].etype == "dir", rows[j].etype == "dir"
		if di != dj {
			return di
		}
		return strings.ToLower(rows[i].name) < strings.ToLower(rows[j].name)
	})

	lines := []string{fmt.Sprintf("%-4s %8s %s", "type", "size", "name")}
	for _, r := range rows {
		size := "-"
		if r.etype == "file" {
			size = fmt.Sprintf("%d", r.size)
		}
		lines = append(lines, fmt.Sprintf("%-4s %8s %s", r.etype[:1], size, r.name))
	}
	if truncated {
		lines = append(lines, fmt.Sprintf("... (truncated at %d)", maxItems))
	}
	return dispatch.OK(strings.Join(lines, "\n")), nil
}

// Directories never worth searching.
var searchSkipDirs = map[string]bool{
	".git": true, "__pycache__": true, "node_modules": true, ".venv": true, "build": true,
}

const searchMaxFileSize = 1 << 20

func (t *FSTool) search(inputs map[string]interface{}) (*dispatch.Result, error) {
	pattern := strInput(inputs, "pattern", "")
	if pattern == "" {
		return t.failInput("no search pattern"), nil
	}
	rootArg := strInput(inputs, "root", ".")
	extFilter := strInput(inputs, "ext_filter", "")
	maxResults := intInput(inputs, "max_results", 50)
	if maxResults <= 0 {
		maxResults = 50
	}

	realRoot, err := sandbox.ResolveRead(t.root, rootArg)
	if err != nil {
		return t.failSandbox(err), nil
	}
	info, err := os.Stat(realRoot)
	if err != nil || !info.IsDir() {
		return t.failInput(fmt.Sprintf("not a directory: %s", realRoot)), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return t.failInput(fmt.Sprintf("invalid regex: %v", err)), nil
	}

	var results []string
	walkErr := filepath.WalkDir(realRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.IsDir() {
			if searchSkipDirs[d.Name()] && path != realRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if extFilter != "" && !strings.HasSuffix(d.Name(), extFilter) {
			return nil
		}
		if fi, ferr := d.Info(); ferr != nil || fi.Size() > searchMaxFileSize {
			return nil
		}
		f, ferr := os.Open(path)
		if ferr != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), searchMaxFileSize)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if re.MatchString(line) {
				rel, rerr := filepath.Rel(realRoot, path)
				if rerr != nil {
					rel = path
				}
				results = append(results, fmt.Sprintf("%s:%d:%s", rel, lineNo, strings.TrimRight(line, " \t\r")))
				if len(results) >= maxResults {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, filepath.SkipAll) {
		return t.failTool(walkErr.Error()), nil
	}

	if len(results) == 0 {
		return dispatch.OK("no matches found"), nil
	}
	out := strings.Join(results, "\n")
	if len(results) >= maxResults {
		out += fmt.Sprintf("\n... (truncated at %d)", maxResults)
	}
	return dispatch.OK(out), nil
}

const diffMaxBytes = 4000

func (t *FSTool) diff(inputs map[string]interface{}) (*dispatch.Result, error) {
	path1 := strInput(inputs, "path1", "")
	path2 := strInput(inputs, "path2", "")
	if path1 == "" || path2 == "" {
		return t.failInput("need both path1 and path2"), nil
	}
	contextLines := intInput(inputs, "context", 3)

	real1, err := sandbox.ResolveRead(t.root, path1)
	if err != nil {
		return t.failSandbox(err), nil
	}
	real2, err := sandbox.ResolveRead(t.root, path2)
	if err != nil {
		return t.failSandbox(err), nil
	}
	data1, err := os.ReadFile(real1)
	if err != nil {
		return t.failNotFound(err.Error()), nil
	}
	data2, err := os.ReadFile(real2)
	if err != nil {
		return t.failNotFound(err.Error()), nil
	}

	result := unifiedDiff(string(data1), string(data2), path1, path2, contextLines)
	if result == "" {
		return dispatch.OK("no differences found"), nil
	}
	if len(result) > diffMaxBytes {
		result = truncBytes(result, diffMaxBytes) + "\n... (diff truncated)"
	}
	return dispatch.OK(result), nil
}

func (t *FSTool) edit(inputs map[string]interface{}) (*dispatch.Result, error) {
	path := strInput(inputs, "path", "")
	operation := strInput(inputs, "operation", "")
	if path == "" || operation == "" {
		return t.failInput("need path and operation (replace/insert/delete)"), nil
	}
	line := intInput(inputs, "line", 0)
	if line < 1 {
		return t.failInput("line must be >= 1"), nil
	}
	content := strInput(inputs, "content", "")

	real, err := sandbox.ResolveWrite(t.root, path)
	if err != nil {
		return t.failSandbox(err), nil
	}
	data, err := os.ReadFile(real)
	if err != nil {
		if os.IsNotExist(err) {
			return t.failNotFound(fmt.Sprintf("file not found: %s", real)), nil
		}
		return t.failTool(fmt.Sprintf("error reading file: %v", err)), nil
	}
	lines := splitLines(string(data))

	var message string
	switch operation {
	case "replace":
		if line > len(lines) {
			return t.failInput(fmt.Sprintf("line %d out of range (1-%d)", line, len(lines))), nil
		}
		old := lines[line-1]
		lines[line-1] = content
		message = fmt.Sprintf("replaced line %d: '%s' -> '%s'", line, old, content)
	case "insert":
		if line > len(lines)+1 {
			return t.failInput(fmt.Sprintf("line %d out of range (1-%d)", line, len(lines)+1)), nil
		}
		lines = append(lines[:line-1], append([]string{content}, lines[line-1:]...)...)
		message = fmt.Sprintf("inserted at line %d: '%s'", line, content)
	case "delete":
		if line > len(lines) {
			return t.failInput(fmt.Sprintf("line %d out of range (1-%d)", line, len(lines))), nil
		}
		removed := lines[line-1]
		lines = append(lines[:line-1], lines[line:]...)
		message = fmt.Sprintf("deleted line %d: '%s'", line, removed)
	default:
		return t.failInput(fmt.Sprintf("unknown operation '%s' (use replace/insert/delete)", operation)), nil
	}

	if err := copyFile(real, real+".bak"); err != nil {
		return t.failTool(fmt.Sprintf("backup failed: %v", err)), nil
	}
	if err := os.WriteFile(real, []byte(joinLines(lines)), 0o644); err != nil {
		return nil, err
	}
	return dispatch.OK(message), nil
}

func (t *FSTool) appendFile(inputs map[string]interface{}) (*dispatch.Result, error) {
	path := strInput(inputs, "path", "")
	content := strInput(inputs, "content", "")
	if path == "" || content == "" {
		return t.failInput("need path and content"), nil
	}
	real, err := sandbox.ResolveWrite(t.root, path)
	if err != nil {
		return t.failSandbox(err), nil
	}
	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(real, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return t.failTool(err.Error()), nil
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return t.failTool(err.Error()), nil
	}
	return dispatch.OK(fmt.Sprintf("appended %d bytes to %s", len(content), real)), nil
}

func (t *FSTool) deleteFile(inputs map[string]interface{}) (*dispatch.Result, error) {
	path := strInput(inputs, "path", "")
	if path == "" {
		return t.failInput("need path"), nil
	}
	real, err := sandbox.ResolveWrite(t.root, path)
	if err != nil {
		return t.failSandbox(err), nil
	}
	info, err := os.Stat(real)
	if err != nil {
		return t.failNotFound(fmt.Sprintf("path not found: %s", real)), nil
	}

	trashDir := filepath.Join(t.root, "work", ".trash")
	if err := os.MkdirAll(trashDir, 0o755); err != nil {
		return nil, err
	}
	dst := filepath.Join(trashDir, fmt.Sprintf("%s.%d", filepath.Base(real), nowUnix()))
	if err := os.Rename(real, dst); err != nil {
		return t.failTool(err.Error()), nil
	}
	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return dispatch.OK(fmt.Sprintf("deleted %s: %s (recoverable: %s)", kind, real, dst)), nil
}

// splitLines splits file content into lines without terminators; an
// empty file has zero lines.
func splitLines(data string) []string {
	if data == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(data, "\n"), "\n")
}

// joinLines reassembles edited lines with a trailing newline.
func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
