// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
)

// Canonical action identifiers for the built-in handlers. External
// tool-host and MCP tools add their own at runtime; all follow
// DOMAIN.ACTION.vN.
const (
	ActionFSRead   = "FS.READ.v1"
	ActionFSWrite  = "FS.WRITE.v1"
	ActionFSList   = "FS.LIST.v1"
	ActionFSSearch = "FS.SEARCH.v1"
	ActionFSDiff   = "FS.DIFF.v1"
	ActionFSEdit   = "FS.EDIT.v1"
	ActionFSAppend = "FS.APPEND.v1"
	ActionFSDelete = "FS.DELETE.v1"

	ActionShellExec = "SHELL.EXEC.v1"
	ActionCodeExec  = "CODE.EXEC.v1"

	ActionMemSave     = "MEM.SAVE.v1"
	ActionMemFind     = "MEM.FIND.v1"
	ActionGraphIngest = "GRAPH.INGEST.v1"

	ActionHTTPGet   = "NET.HTTP_GET.v1"
	ActionWebSearch = "WEB.SEARCH.v1"

	ActionProjectCreate = "PROJECT.CREATE.v1"
	ActionProjectBuild  = "PROJECT.BUILD.v1"

	ActionPkgInstall   = "PKG.INSTALL.v1"
	ActionPkgUninstall = "PKG.UNINSTALL.v1"
	ActionPkgList      = "PKG.LIST.v1"

	ActionUtilSave   = "UTIL.SAVE.v1"
	ActionUtilRun    = "UTIL.RUN.v1"
	ActionUtilList   = "UTIL.LIST.v1"
	ActionUtilDelete = "UTIL.DELETE.v1"
	ActionUtilUpdate = "UTIL.UPDATE.v1"

	ActionGenesisWriteFile = "GENESIS.WRITE_FILE.v1"
	ActionGenesisCompile   = "GENESIS.COMPILE.v1"
	ActionGenesisLoad      = "GENESIS.LOAD.v1"
)

// Identifiers served by the tool-host subprocess via the tier-0
// manifest rather than a local handler.
const (
	ActionGPUSmoke        = "GPU.SMOKE.v1"
	ActionGPUMetrics      = "GPU.METRICS.v1"
	ActionErrorScan       = "ERROR_SCAN.v1"
	ActionProcSelfMetrics = "PROC.SELF_METRICS.v1"
	ActionEmbedText       = "EMBED.TEXT.v1"
)

// MCPPrefix marks identifiers owned by the MCP bridge:
// MCP.<SERVER>.<TOOL>.vN.
const MCPPrefix = "MCP."

// BuiltinActionIDs lists every identifier with a local handler, used by
// the curiosity gap scan and the status surface.
var BuiltinActionIDs = []string{
	ActionFSRead, ActionFSWrite, ActionFSList, ActionFSSearch,
	ActionFSDiff, ActionFSEdit, ActionFSAppend, ActionFSDelete,
	ActionShellExec, ActionCodeExec,
	ActionMemSave, ActionMemFind, ActionGraphIngest,
	ActionHTTPGet, ActionWebSearch,
	ActionProjectCreate, ActionProjectBuild,
	ActionPkgInstall, ActionPkgUninstall, ActionPkgList,
	ActionUtilSave, ActionUtilRun, ActionUtilList,
	ActionUtilDelete, ActionUtilUpdate,
	ActionGenesisWriteFile, ActionGenesisCompile, ActionGenesisLoad,
}

var actionIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]+(\.[A-Z][A-Z0-9_]+)*\.v\d+$`)

// ValidateActionID enforces the DOMAIN.ACTION.vN naming convention.
func ValidateActionID(id string) error {
	if id == "" {
		return fmt.Errorf("empty action id")
	}
	if !actionIDPattern.MatchString(id) {
		return fmt.Errorf("%q does not match DOMAIN.ACTION.vN", id)
	}
	return nil
}

// IsMCPAction reports whether an identifier belongs to an MCP tool.
func IsMCPAction(id string) bool {
	return strings.HasPrefix(id, MCPPrefix)
}

// aliasMu guards the alias and description tables; the MCP bridge
// merges discovered tools into them at runtime with atomic swaps.
var aliasMu sync.RWMutex

// Convenience name → canonical identifier. Convenience names are never
// dispatch keys; they exist so models and users can say "read_file" or
// 파일읽기 instead of the versioned id.
var toolAliases = map[string]string{
	// English convenience aliases
	"create_file":   ActionFSWrite,
	"read_file":     ActionFSRead,
	"write_file":    ActionFSWrite,
	"file_write":    ActionFSWrite,
	"file_read":     ActionFSRead,
	"run_shell":     ActionShellExec,
	"shell_exec":    ActionShellExec,
	"search_memory": ActionMemFind,
	"memory_query":  ActionMemFind,
	"save_memory":   ActionMemSave,
	"memory_append": ActionMemSave,
	"memory_save":   ActionMemSave,
	"create_tool":   ActionGenesisWriteFile,
	"compile_tool":  ActionGenesisCompile,
	"load_tool":     ActionGenesisLoad,
	"fetch_url":     ActionHTTPGet,
	"http_get":      ActionHTTPGet,
	"web_search":    ActionWebSearch,
	"graph_ingest":  ActionGraphIngest,
	"delete_tool":   ActionUtilDelete,
	"remove_tool":   ActionUtilDelete,
	"update_tool":   ActionUtilUpdate,
	"save_util":     ActionUtilSave,
	"run_util":      ActionUtilRun,
	"list_util":     ActionUtilList,
	"execute_code":  ActionCodeExec,
	"code_exec":     ActionCodeExec,
	// Legacy flat names
	"util_save":   ActionUtilSave,
	"util_run":    ActionUtilRun,
	"util_list":   ActionUtilList,
	"util_delete": ActionUtilDelete,
	"util_update": ActionUtilUpdate,
	// Korean-friendly aliases
	"파일읽기":   ActionFSRead,
	"파일쓰기":   ActionFSWrite,
	"셸실행":    ActionShellExec,
	"기억검색":   ActionMemFind,
	"기억저장":   ActionMemSave,
	"도구생성":   ActionGenesisWriteFile,
	"도구삭제":   ActionUtilDelete,
	"도구수정":   ActionUtilUpdate,
	"도구저장":   ActionUtilSave,
	"도구실행":   ActionUtilRun,
	"도구목록":   ActionUtilList,
	"코드실행":   ActionCodeExec,
	"웹검색":    ActionWebSearch,
	"파일목록":   ActionFSList,
	"디렉토리":   ActionFSList,
	"파일검색":   ActionFSSearch,
	"내용검색":   ActionFSSearch,
	"파일비교":   ActionFSDiff,
	"파일편집":   ActionFSEdit,
	"줄편집":    ActionFSEdit,
	"파일추가":   ActionFSAppend,
	"파일삭제":   ActionFSDelete,
	"프로젝트생성": ActionProjectCreate,
	"프로젝트빌드": ActionProjectBuild,
	"패키지설치":  ActionPkgInstall,
	"패키지삭제":  ActionPkgUninstall,
	"패키지제거":  ActionPkgUninstall,
	"패키지목록":  ActionPkgList,
	// More file aliases
	"list_dir":          ActionFSList,
	"list_files":        ActionFSList,
	"search_files":      ActionFSSearch,
	"grep_files":        ActionFSSearch,
	"diff_files":        ActionFSDiff,
	"compare_files":     ActionFSDiff,
	"edit_file":         ActionFSEdit,
	"patch_file":        ActionFSEdit,
	"append_file":       ActionFSAppend,
	"delete_file":       ActionFSDelete,
	"remove_file":       ActionFSDelete,
	"create_project":    ActionProjectCreate,
	"build_project":     ActionProjectBuild,
	"pip_install":       ActionPkgInstall,
	"install_package":   ActionPkgInstall,
	"pip_uninstall":     ActionPkgUninstall,
	"uninstall_package": ActionPkgUninstall,
	"remove_package":    ActionPkgUninstall,
	"pip_list":          ActionPkgList,
	"list_packages":     ActionPkgList,
}

// Identifier variants observed in historical logs and memories. Old
// experiences carry the retired AID.-prefixed forms; normalizing here
// keeps replay and distilled policies working across the rename.
var legacyActionIDs = map[string]string{
	"AID.FILE.READ.v1":              ActionFSRead,
	"AID.FILE.WRITE.v1":             ActionFSWrite,
	"AID.FILE.LIST.v1":              ActionFSList,
	"AID.FILE.SEARCH.v1":            ActionFSSearch,
	"AID.FILE.DIFF.v1":              ActionFSDiff,
	"AID.FILE.EDIT.v1":              ActionFSEdit,
	"AID.FILE.APPEND.v1":            ActionFSAppend,
	"AID.FILE.DELETE.v1":            ActionFSDelete,
	"AID.SHELL.EXEC.v1":             ActionShellExec,
	"AID.CODE.EXEC.v1":              ActionCodeExec,
	"AID.MEMORY.APPEND.v1":          ActionMemSave,
	"AID.MEMORY.QUERY.v1":           ActionMemFind,
	"AID.NET.HTTP_GET.v1":           ActionHTTPGet,
	"AID.NET.WEB_SEARCH.v1":         ActionWebSearch,
	"AID.NET.SEARCH.v1":             ActionWebSearch,
	"AID.PROJECT.CREATE.v1":         ActionProjectCreate,
	"AID.PROJECT.BUILD.v1":          ActionProjectBuild,
	"AID.SYSTEM.PIP_INSTALL.v1":     ActionPkgInstall,
	"AID.SYSTEM.PIP_UNINSTALL.v1":   ActionPkgUninstall,
	"AID.SYSTEM.PIP_LIST.v1":        ActionPkgList,
	"AID.UTIL.SAVE.v1":              ActionUtilSave,
	"AID.UTIL.RUN.v1":               ActionUtilRun,
	"AID.UTIL.LIST.v1":              ActionUtilList,
	"AID.UTIL.DELETE.v1":            ActionUtilDelete,
	"AID.UTIL.UPDATE.v1":            ActionUtilUpdate,
	"AID.GENESIS.WRITE_FILE.v1":     ActionGenesisWriteFile,
	"AID.GENESIS.COMPILE_SHARED.v1": ActionGenesisCompile,
	"AID.GENESIS.LOAD_PLUGIN.v1":    ActionGenesisLoad,
	"AID.GENESIS.RUN.v1":            ActionGenesisWriteFile,
	"AID.GPU.SMOKE.v1":              ActionGPUSmoke,
	"AID.GPU_SMOKE.v1":              ActionGPUSmoke,
	"AID.GPU.METRICS.v1":            ActionGPUMetrics,
	"AID.GPU_METRICS.v1":            ActionGPUMetrics,
	"AID.ERROR_SCAN.v1":             ActionErrorScan,
	"AID.PROC.SELF_METRICS.v1":      ActionProcSelfMetrics,
	"AID.EMBED.TEXT.v1":             ActionEmbedText,
}

// Short descriptions injected into tool menus for LLM comprehension.
var toolDescriptions = map[string]string{
	ActionFSRead:           "read file contents",
	ActionFSWrite:          "create or overwrite a file (work/ paths only)",
	ActionFSList:           "list files in a directory",
	ActionFSSearch:         "search file contents (grep)",
	ActionFSDiff:           "compare two files (unified diff)",
	ActionFSEdit:           "line-based file edit (replace/insert/delete)",
	ActionFSAppend:         "append content to a file",
	ActionFSDelete:         "delete a file or directory (work/ only, moves to trash)",
	ActionShellExec:        "run a shell command",
	ActionCodeExec:         "execute Python/Bash/C++ code",
	ActionMemSave:          "save to memory",
	ActionMemFind:          "search memory",
	ActionGraphIngest:      "extract entities/relations into graph memory",
	ActionHTTPGet:          "fetch a URL",
	ActionWebSearch:        "web search",
	ActionProjectCreate:    "create a multi-file project (C++/Python)",
	ActionProjectBuild:     "build a C++ project (shared/executable)",
	ActionPkgInstall:       "install Python packages (isolated venv)",
	ActionPkgUninstall:     "remove Python packages (isolated venv)",
	ActionPkgList:          "list packages in a venv",
	ActionUtilSave:         "save a utility script",
	ActionUtilRun:          "run a saved utility",
	ActionUtilList:         "list saved utilities",
	ActionUtilDelete:       "delete a utility",
	ActionUtilUpdate:       "update a utility's code or description",
	ActionGenesisWriteFile: "write C++ tool source",
	ActionGenesisCompile:   "compile a C++ tool to a shared object",
	ActionGenesisLoad:      "load a compiled tool plugin",
}

// ResolveAlias maps a convenience name or legacy identifier to its
// canonical action id. Unknown names pass through unchanged.
func ResolveAlias(name string) string {
	aliasMu.RLock()
	defer aliasMu.RUnlock()
	if id, ok := toolAliases[name]; ok {
		return id
	}
	if id, ok := legacyActionIDs[name]; ok {
		return id
	}
	return name
}

// Describe returns the short description for an identifier, empty when
// unknown.
func Describe(id string) string {
	aliasMu.RLock()
	defer aliasMu.RUnlock()
	return toolDescriptions[id]
}

// MergeAliases installs runtime-discovered aliases and descriptions
// (MCP bridge). Entries with the given prefix are replaced wholesale so
// a reload never leaves stale tools behind.
func MergeAliases(aliasPrefix, idPrefix string, aliases, descriptions map[string]string) {
	aliasMu.Lock()
	defer aliasMu.Unlock()
	for key := range toolAliases {
		if aliasPrefix != "" && strings.HasPrefix(key, aliasPrefix) {
			delete(toolAliases, key)
		}
	}
	for key := range toolDescriptions {
		if idPrefix != "" && strings.HasPrefix(key, idPrefix) {
			delete(toolDescriptions, key)
		}
	}
	for k, v := range aliases {
		toolAliases[k] = v
	}
	for k, v := range descriptions {
		toolDescriptions[k] = v
	}
}

// Intent keyword → the 3-5 most relevant tools for the menu filter.
var intentToolMap = map[string][]string{
	"file": {ActionFSRead, ActionFSWrite, ActionFSList, ActionFSSearch,
		ActionFSDiff, ActionFSEdit, ActionFSAppend, ActionFSDelete},
	"project": {ActionProjectCreate, ActionProjectBuild,
		ActionGenesisWriteFile, ActionGenesisCompile},
	"install": {ActionPkgInstall, ActionPkgUninstall, ActionPkgList},
	"memory":  {ActionMemFind, ActionMemSave},
	"search":  {ActionWebSearch, ActionHTTPGet},
	"shell":   {ActionShellExec, ActionFSRead},
	"genesis": {ActionGenesisWriteFile, ActionGenesisCompile, ActionGenesisLoad},
	"code":    {ActionCodeExec},
	"web":     {ActionHTTPGet, ActionWebSearch},
	"util": {ActionUtilSave, ActionUtilRun, ActionUtilList,
		ActionUtilDelete, ActionUtilUpdate},
}

// FilterToolsForIntent returns the most relevant identifiers for an
// intent keyword, capped at five. Unknown intents get the generic trio.
func FilterToolsForIntent(intentType string) []string {
	tools := intentToolMap[intentType]
	if len(tools) == 0 {
		tools = []string{ActionShellExec, ActionFSRead, ActionMemFind}
	}
	if len(tools) > 5 {
		tools = tools[:5]
	}
	return append([]string(nil), tools...)
}

// NormalizeCall converts the function-call shapes different models emit
// into (canonical id, inputs). Accepted shapes:
//
//	{"tool": "create_file", "args": {...}}
//	{"pick": "FS.WRITE.v1", "input_patch_json": "..."}
//	{"action_id": "FS.WRITE.v1", "inputs": {...}}
func NormalizeCall(call map[string]interface{}) (string, map[string]interface{}) {
	if tool, ok := call["tool"].(string); ok {
		if _, hasArgs := call["args"]; hasArgs {
			return ResolveAlias(tool), coerceInputs(call["args"])
		}
	}
	if pick, ok := call["pick"].(string); ok {
		return ResolveAlias(pick), coerceInputs(call["input_patch_json"])
	}
	if id, ok := call["action_id"].(string); ok {
		return ResolveAlias(id), coerceInputs(call["inputs"])
	}
	return "", map[string]interface{}{}
}

func coerceInputs(raw interface{}) map[string]interface{} {
	switch v := raw.(type) {
	case map[string]interface{}:
		return v
	case string:
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			return parsed
		}
	}
	return map[string]interface{}{}
}

// Suggest returns up to three known identifiers or aliases close to an
// unknown name, for did-you-mean errors.
func Suggest(name string, known []string) []string {
	candidates := append([]string(nil), known...)
	aliasMu.RLock()
	for alias := range toolAliases {
		candidates = append(candidates, alias)
	}
	aliasMu.RUnlock()
	sort.Strings(candidates)

	matches := fuzzy.Find(name, candidates)
	var out []string
	for i, m := range matches {
		if i >= 3 {
			break
		}
		out = append(out, m.Str)
	}
	return out
}
