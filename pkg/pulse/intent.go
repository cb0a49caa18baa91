// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package pulse

import (
	"encoding/json"
	"strings"

	"github.com/teradata-labs/treadle/pkg/dispatch"
)

// Action is one executable step inside a classified intent.
type Action struct {
	Kind   string                 `json:"kind"` // "tool" or "chain"
	ID     string                 `json:"aid"`
	Inputs map[string]interface{} `json:"inputs"`
}

// ConfigChange is a single key=value runtime configuration update.
type ConfigChange struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Intent is the canonical classified form of a user turn: a direct
// reply, a configuration change, or a sequence of actions. Next carries
// a pre-planned chain step the model emitted alongside the first
// action.
type Intent struct {
	Type            string // "reply" | "config" | "action"
	Tool            string // simplified tool name behind an action intent
	Content         string
	Actions         []Action
	Changes         []ConfigChange
	AssistantPrefix string
	NeedsSummary    bool
	Next            map[string]interface{}
	FastPath        string // non-empty when the LLM was skipped
}

// singleAction reports whether the intent is exactly one action with no
// pre-planned chain, which lets the loop finish on first success.
func (in *Intent) singleAction() bool {
	return in != nil && in.Type == "action" && len(in.Actions) == 1 && in.Next == nil
}

// firstActionID returns the identifier of the first action, empty when
// there is none.
func (in *Intent) firstActionID() string {
	if in == nil || len(in.Actions) == 0 {
		return ""
	}
	return in.Actions[0].ID
}

// Tool names the intent layer understands. Small models also emit these
// as the type field directly; the normalizer folds both shapes.
var toolTypes = map[string]bool{
	"file_read": true, "file_write": true, "memory_save": true,
	"memory_find": true, "shell": true, "search": true, "genesis": true,
	"code": true, "web": true, "mcp": true,
	"util_save": true, "util_run": true, "util_list": true,
	"util_delete": true, "util_update": true,
	"file_list": true, "file_search": true, "file_diff": true,
	"file_edit": true, "file_append": true, "file_delete": true,
	"project_create": true, "project_build": true,
	"pip_install": true, "pip_uninstall": true, "pip_list": true,
}

// Invented tool names seen in small-model output, folded to canonical
// ones before mapping.
var toolNameAliases = map[string]string{
	"util_execute": "util_run", "run_util": "util_run",
	"execute": "shell", "cmd": "shell", "python": "code",
	"bash": "code", "google": "search", "browse": "web",
	"delete_util": "util_delete", "remove_util": "util_delete",
	"update_util": "util_update", "modify_util": "util_update",
	"list_dir": "file_list", "ls": "file_list", "dir": "file_list",
	"grep": "file_search", "search_files": "file_search",
	"diff": "file_diff", "compare": "file_diff",
	"edit": "file_edit", "patch": "file_edit",
	"append": "file_append",
	"rm":     "file_delete", "delete": "file_delete", "remove": "file_delete",
	"create_project": "project_create", "new_project": "project_create",
	"build": "project_build", "compile": "project_build",
	"pip": "pip_install", "install": "pip_install",
	"uninstall": "pip_uninstall", "packages": "pip_list",
}

// Model-name keywords that override a config intent's key/value when
// the user clearly asked for a model switch.
var modelKeywords = []struct{ kw, model string }{
	{"qwen", "qwen3:14b-q8_0"},
	{"exaone", "exaone3.5:7.8b"},
	{"gemma", "gemma2:latest"},
	{"llama", "llama3:latest"},
}

var backendKeywords = []struct{ kw, backend string }{
	{"클로드", "anthropic"},
	{"claude", "anthropic"},
	{"올라마", "oai_compat"},
	{"ollama", "oai_compat"},
	{"로컬", "oai_compat"},
}

// normalizeIntent repairs the creative variations small models produce:
// tool names used as the type, config changes wrapped in run intents,
// compound "backend: model" values, and inputs that identify the tool
// when the tool field is missing.
func normalizeIntent(raw map[string]interface{}, userMsg string) map[string]interface{} {
	intent := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		intent[k] = v
	}
	umsg := strings.ToLower(userMsg)
	itype := rawStr(intent, "type")

	if canonical, ok := toolNameAliases[itype]; ok {
		itype = canonical
		intent["type"] = itype
	}
	if canonical, ok := toolNameAliases[rawStr(intent, "tool")]; ok {
		intent["tool"] = canonical
	}
	if toolTypes[itype] {
		intent["type"] = "run"
		intent["tool"] = itype
		itype = "run"
	}

	// {"type":"run","tool":"config"} is a config intent in disguise.
	if itype == "run" && rawStr(intent, "tool") == "config" {
		intent["type"] = "config"
		if nested, ok := intent["config"].(map[string]interface{}); ok {
			for _, k := range []string{"key", "value"} {
				if _, has := intent[k]; !has {
					if v, ok := nested[k]; ok {
						intent[k] = v
					}
				}
			}
		}
	}

	// Compound "oai_compat: qwen3:14b" values mean a model switch.
	if rawStr(intent, "type") == "config" {
		val := rawStr(intent, "value")
		if strings.HasPrefix(val, "oai_compat:") || strings.HasPrefix(val, "ollama:") {
			if _, model, ok := strings.Cut(val, ":"); ok {
				intent["key"] = "model"
				intent["value"] = strings.TrimSpace(model)
			}
		}
	}

	// A bare model field with no type is a config intent.
	if rawStr(intent, "type") == "" && rawStr(intent, "model") != "" {
		intent["type"] = "config"
		intent["key"] = "model"
		intent["value"] = intent["model"]
	}

	// Infer the tool from the shape of the inputs.
	if rawStr(intent, "type") == "run" && rawStr(intent, "tool") == "" {
		switch {
		case rawStr(intent, "cmd") != "":
			intent["tool"] = "shell"
		case rawStr(intent, "query") != "":
			intent["tool"] = "search"
		case rawStr(intent, "path") != "":
			intent["tool"] = "file_read"
		case rawStr(intent, "text") != "":
			if looksLikeMemorySearch(umsg, strings.ToLower(rawStr(intent, "text"))) {
				intent["tool"] = "memory_find"
			} else {
				intent["tool"] = "memory_save"
			}
		case rawStr(intent, "code") != "":
			intent["tool"] = "code"
		case rawStr(intent, "url") != "":
			intent["tool"] = "web"
		}
	}

	// The user named a model or backend: that wins over whatever the
	// model put in key/value.
	if rawStr(intent, "type") == "config" && umsg != "" {
		for _, mk := range modelKeywords {
			if strings.Contains(umsg, mk.kw) {
				intent["key"] = "model"
				intent["value"] = mk.model
				break
			}
		}
		for _, bk := range backendKeywords {
			if strings.Contains(umsg, bk.kw) {
				intent["key"] = "backend"
				intent["value"] = bk.backend
				break
			}
		}
	}

	return intent
}

var memorySearchKeywords = []string{
	"찾아", "검색", "뭐였", "뭐라고", "언제", "어디", "알려",
	"search", "find", "when", "where",
}

func looksLikeMemorySearch(userMsg, text string) bool {
	for _, kw := range memorySearchKeywords {
		if strings.Contains(userMsg, kw) || strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Korean progress prefixes sent while a tool runs.
var progressPrefixes = map[string]string{
	"shell":          "실행 중... ⏳",
	"search":         "검색 중... 🔍",
	"memory_save":    "기억할게! 💾",
	"memory_find":    "기억 찾는 중... 🔎",
	"file_read":      "파일 읽는 중... 📄",
	"file_write":     "파일 쓰는 중... ✏️",
	"genesis":        "도구 생성 중... 🔨",
	"code":           "코드 실행 중... 💻",
	"web":            "URL 가져오는 중... 🌐",
	"util_save":      "유틸리티 저장 중... 🔧",
	"util_run":       "유틸리티 실행 중... ▶️",
	"util_list":      "유틸리티 목록 조회 중... 📋",
	"util_delete":    "유틸리티 삭제 중... 🗑️",
	"util_update":    "유틸리티 수정 중... ✏️",
	"file_list":      "파일 목록 조회 중... 📁",
	"file_search":    "파일 검색 중... 🔍",
	"file_diff":      "파일 비교 중... ↔️",
	"file_edit":      "파일 편집 중... ✏️",
	"file_append":    "파일 추가 중... 📝",
	"file_delete":    "파일 삭제 중... 🗑️",
	"project_create": "프로젝트 생성 중... 📁",
	"project_build":  "프로젝트 빌드 중... 🏗️",
	"pip_install":    "패키지 설치 중... 📦",
	"pip_uninstall":  "패키지 제거 중... 🗑️",
	"pip_list":       "패키지 목록 조회 중... 📋",
	"mcp":            "MCP 도구 실행 중... 🔌",
}

// mapIntent converts the simplified intent JSON the model emits into
// the canonical Intent with dispatch-ready actions. Unknown tools fall
// back to a reply asking for clarification.
func mapIntent(raw map[string]interface{}, userMsg string) *Intent {
	intent := normalizeIntent(raw, userMsg)

	switch rawStr(intent, "type") {
	case "chat":
		return &Intent{Type: "reply", Content: rawStr(intent, "msg")}
	case "config":
		return mapConfigIntent(intent)
	case "run":
		return mapRunIntent(intent)
	}
	msg := rawStr(intent, "msg")
	if msg == "" {
		msg = "뭐라고? 다시 말해줘!"
	}
	return &Intent{Type: "reply", Content: msg}
}

// Simplified config keys → environment keys. Unknown keys pass through
// so explicit TREADLE_/OAI_ names keep working.
var configKeyMap = map[string]string{
	"backend":     "TREADLE_BACKEND",
	"model":       "OAI_COMPAT_MODEL",
	"api_key":     "ANTHROPIC_API_KEY",
	"temperature": "TREADLE_CHAT_TEMPERATURE",
}

var backendValueAliases = map[string]string{
	"claude": "anthropic", "anthropic": "anthropic", "opus": "anthropic",
	"sonnet": "anthropic", "ollama": "oai_compat", "local": "oai_compat",
	"oai_compat": "oai_compat",
}

func mapConfigIntent(intent map[string]interface{}) *Intent {
	key := rawStr(intent, "key")
	value := rawStr(intent, "value")
	envKey := key
	if mapped, ok := configKeyMap[key]; ok {
		envKey = mapped
	}
	if key == "backend" {
		if canonical, ok := backendValueAliases[strings.ToLower(value)]; ok {
			value = canonical
		}
	}

	var changes []ConfigChange
	if envKey != "" && value != "" {
		changes = append(changes, ConfigChange{Key: envKey, Value: value})
		// Picking a local model implies the local backend; picking the
		// hosted backend stands alone.
		if key == "model" {
			changes = append([]ConfigChange{{Key: "TREADLE_BACKEND", Value: "oai_compat"}}, changes...)
		}
		if key == "backend" && value == "anthropic" {
			changes = []ConfigChange{{Key: "TREADLE_BACKEND", Value: "anthropic"}}
		}
	}
	content := rawStr(intent, "msg")
	if content == "" {
		content = key + "를 " + value + "로 변경할게!"
	}
	return &Intent{Type: "config", Changes: changes, Content: content}
}

func mapRunIntent(intent map[string]interface{}) *Intent {
	tool := rawStr(intent, "tool")
	var actions []Action

	switch tool {
	case "shell":
		cmd := rawStr(intent, "cmd")
		if cmd == "" {
			cmd = "echo 'no command'"
		}
		actions = append(actions, toolAction(dispatch.ActionShellExec, map[string]interface{}{
			"cmd": cmd, "timeout_ms": 10000,
		}))
	case "search":
		actions = append(actions, toolAction(dispatch.ActionWebSearch, map[string]interface{}{
			"query": rawStr(intent, "query"),
		}))
	case "memory_save":
		actions = append(actions, toolAction(dispatch.ActionMemSave, map[string]interface{}{
			"stream": "chat", "event": "user_note", "text": rawStr(intent, "text"),
		}))
	case "memory_find":
		actions = append(actions, toolAction(dispatch.ActionMemFind, map[string]interface{}{
			"stream": "chat", "query": rawStr(intent, "text"), "mode": "hybrid", "top_k": 5,
		}))
	case "file_read":
		actions = append(actions, toolAction(dispatch.ActionFSRead, map[string]interface{}{
			"path": rawStr(intent, "path"), "max_bytes": 8192,
		}))
	case "file_write":
		path := rawStr(intent, "path")
		if path != "" && !strings.HasPrefix(path, "work/") {
			path = "work/" + path
		}
		actions = append(actions, toolAction(dispatch.ActionFSWrite, map[string]interface{}{
			"path": path, "content": rawStr(intent, "content"), "overwrite": true,
		}))
	case "genesis":
		name := rawStr(intent, "name")
		if name == "" {
			name = "custom_tool"
		}
		if code := rawStr(intent, "code"); code != "" {
			actions = append(actions, Action{Kind: "chain", ID: "create_tool",
				Inputs: map[string]interface{}{"name": name, "code": code}})
		} else {
			desc := rawStr(intent, "description")
			actions = append(actions, toolAction(dispatch.ActionGenesisWriteFile, map[string]interface{}{
				"relative_path": name + ".cpp",
				"content":       "// " + name + "\n// " + desc + "\n#include <treadle/plugin_api.h>\n",
			}))
		}
	case "code":
		lang := rawStr(intent, "lang")
		if lang == "" {
			lang = "python"
		}
		actions = append(actions, toolAction(dispatch.ActionCodeExec, map[string]interface{}{
			"lang": lang, "code": rawStr(intent, "code"),
		}))
	case "web":
		actions = append(actions, toolAction(dispatch.ActionHTTPGet, map[string]interface{}{
			"url": rawStr(intent, "url"),
		}))
	case "util_save":
		name := rawStr(intent, "name")
		if name == "" {
			name = "unnamed"
		}
		lang := rawStr(intent, "lang")
		if lang == "" {
			lang = "python"
		}
		actions = append(actions, toolAction(dispatch.ActionUtilSave, map[string]interface{}{
			"name": name, "lang": lang,
			"code": rawStr(intent, "code"), "description": rawStr(intent, "description"),
		}))
	case "util_run":
		actions = append(actions, toolAction(dispatch.ActionUtilRun, map[string]interface{}{
			"name": rawStr(intent, "name"), "args": rawStr(intent, "args"),
		}))
	case "util_list":
		actions = append(actions, toolAction(dispatch.ActionUtilList, map[string]interface{}{}))
	case "util_delete":
		actions = append(actions, toolAction(dispatch.ActionUtilDelete, map[string]interface{}{
			"name": rawStr(intent, "name"),
		}))
	case "util_update":
		actions = append(actions, toolAction(dispatch.ActionUtilUpdate, map[string]interface{}{
			"name": rawStr(intent, "name"),
			"code": rawStr(intent, "code"), "description": rawStr(intent, "description"),
		}))
	case "file_list":
		path := rawStr(intent, "path")
		if path == "" {
			path = "."
		}
		actions = append(actions, toolAction(dispatch.ActionFSList, map[string]interface{}{
			"path": path, "max_items": rawInt(intent, "max_items", 100),
		}))
	case "file_search":
		root := rawStr(intent, "root")
		if root == "" {
			root = "."
		}
		actions = append(actions, toolAction(dispatch.ActionFSSearch, map[string]interface{}{
			"root": root, "pattern": rawStr(intent, "pattern"),
			"ext_filter": rawStr(intent, "ext_filter"),
			"max_results": rawInt(intent, "max_results", 50),
		}))
	case "file_diff":
		actions = append(actions, toolAction(dispatch.ActionFSDiff, map[string]interface{}{
			"path1": rawStr(intent, "path1"), "path2": rawStr(intent, "path2"),
			"context": rawInt(intent, "context", 3),
		}))
	case "file_edit":
		op := rawStr(intent, "operation")
		if op == "" {
			op = "replace"
		}
		actions = append(actions, toolAction(dispatch.ActionFSEdit, map[string]interface{}{
			"path": rawStr(intent, "path"), "operation": op,
			"line": rawInt(intent, "line", 1), "content": rawStr(intent, "content"),
		}))
	case "file_append":
		actions = append(actions, toolAction(dispatch.ActionFSAppend, map[string]interface{}{
			"path": rawStr(intent, "path"), "content": rawStr(intent, "content"),
		}))
	case "file_delete":
		actions = append(actions, toolAction(dispatch.ActionFSDelete, map[string]interface{}{
			"path": rawStr(intent, "path"), "recursive": rawBool(intent, "recursive"),
		}))
	case "project_create":
		lang := rawStr(intent, "lang")
		if lang == "" {
			lang = "cpp"
		}
		files, _ := intent["files"].([]interface{})
		actions = append(actions, toolAction(dispatch.ActionProjectCreate, map[string]interface{}{
			"name": rawStr(intent, "name"), "lang": lang, "files": files,
		}))
	case "project_build":
		lang := rawStr(intent, "lang")
		if lang == "" {
			lang = "cpp"
		}
		buildType := rawStr(intent, "build_type")
		if buildType == "" {
			buildType = "shared"
		}
		actions = append(actions, toolAction(dispatch.ActionProjectBuild, map[string]interface{}{
			"name": rawStr(intent, "name"), "lang": lang, "build_type": buildType,
		}))
	case "pip_install", "pip_uninstall", "pip_list":
		venv := rawStr(intent, "venv_name")
		if venv == "" {
			venv = "default"
		}
		inputs := map[string]interface{}{"venv_name": venv}
		id := dispatch.ActionPkgList
		if tool != "pip_list" {
			pkgs, _ := intent["packages"].([]interface{})
			inputs["packages"] = pkgs
			id = dispatch.ActionPkgInstall
			if tool == "pip_uninstall" {
				id = dispatch.ActionPkgUninstall
			}
		}
		actions = append(actions, toolAction(id, inputs))
	case "mcp":
		server := rawStr(intent, "mcp_server")
		mcpTool := rawStr(intent, "mcp_tool")
		if server == "" || mcpTool == "" {
			return &Intent{Type: "reply", Content: "MCP 도구 호출엔 mcp_server와 mcp_tool이 필요해!"}
		}
		args, ok := intent["args"].(map[string]interface{})
		if !ok {
			args = map[string]interface{}{}
			if s := rawStr(intent, "args"); s != "" {
				_ = json.Unmarshal([]byte(s), &args)
			}
		}
		actions = append(actions, toolAction(mcpActionID(server, mcpTool), args))
	default:
		msg := rawStr(intent, "msg")
		if msg == "" {
			msg = "'" + tool + "' 도구를 잘 모르겠어. 다시 말해줄래?"
		}
		return &Intent{Type: "reply", Content: msg}
	}

	prefix, ok := progressPrefixes[tool]
	if !ok {
		prefix = "작업 중... ⏳"
	}
	out := &Intent{
		Type:            "action",
		Tool:            tool,
		Actions:         actions,
		AssistantPrefix: prefix,
		NeedsSummary:    tool != "memory_save",
	}
	if next, ok := intent["_next"].(map[string]interface{}); ok {
		out.Next = next
	}
	return out
}

func toolAction(id string, inputs map[string]interface{}) Action {
	return Action{Kind: "tool", ID: id, Inputs: inputs}
}

// mcpActionID builds MCP.<SERVER>.<TOOL>.v1 from raw names, uppercased
// with non-identifier runs squashed to underscores.
func mcpActionID(server, tool string) string {
	return dispatch.MCPPrefix + sanitizeMCPSegment(server) + "." + sanitizeMCPSegment(tool) + ".v1"
}

func sanitizeMCPSegment(name string) string {
	upper := strings.ToUpper(name)
	var b strings.Builder
	prevUnderscore := false
	for _, r := range upper {
		ok := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if ok {
			b.WriteRune(r)
			prevUnderscore = false
		} else if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// validateActions rejects continuation payloads missing their one
// required field: a shell action with no command or a code action with
// no code would only produce a dead-end cycle.
func validateActions(actions []Action) bool {
	if len(actions) == 0 {
		return false
	}
	for _, a := range actions {
		id := strings.ToUpper(a.ID)
		if strings.Contains(id, "SHELL") {
			switch cmd := a.Inputs["cmd"].(type) {
			case string:
				if strings.TrimSpace(cmd) == "" {
					return false
				}
			case []interface{}:
				ok := false
				for _, part := range cmd {
					if s, isStr := part.(string); isStr && strings.TrimSpace(s) != "" {
						ok = true
					}
				}
				if !ok {
					return false
				}
			default:
				if cmd == nil {
					return false
				}
			}
		}
		if strings.Contains(id, "CODE") {
			if code, _ := a.Inputs["code"].(string); strings.TrimSpace(code) == "" {
				return false
			}
		}
	}
	return true
}

// coerceResponse flattens whatever shape the model handed back into a
// plain string.
func coerceResponse(response interface{}) string {
	switch v := response.(type) {
	case string:
		return v
	case map[string]interface{}:
		if content := rawStr(v, "content"); content != "" {
			return content
		}
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, coerceResponse(item))
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// extractEmbeddedAction recovers an action object the model buried
// inside a reply string. Returns the mapped intent and any prose before
// the JSON, or (nil, "") when none is found.
func extractEmbeddedAction(response string) (*Intent, string) {
	idx := strings.Index(response, `"type"`)
	if idx < 0 {
		idx = strings.Index(response, "'type'")
	}
	if idx < 0 {
		return nil, ""
	}
	start := strings.LastIndex(response[:idx+1], "{")
	if start < 0 {
		return nil, ""
	}
	depth, end := 0, start
	for i := start; i < len(response); i++ {
		switch response[i] {
		case '{':
			depth++
		case '}':
			depth--
		}
		if depth == 0 {
			end = i + 1
			break
		}
	}
	if end <= start {
		return nil, ""
	}
	var embedded map[string]interface{}
	if err := json.Unmarshal([]byte(response[start:end]), &embedded); err != nil {
		return nil, ""
	}
	if rawStr(embedded, "type") != "action" {
		return nil, ""
	}
	rawActions, ok := embedded["actions"].([]interface{})
	if !ok || len(rawActions) == 0 {
		return nil, ""
	}
	out := &Intent{Type: "action"}
	for _, ra := range rawActions {
		m, ok := ra.(map[string]interface{})
		if !ok {
			continue
		}
		kind := rawStr(m, "kind")
		if kind == "" {
			kind = "tool"
		}
		inputs, _ := m["inputs"].(map[string]interface{})
		if inputs == nil {
			inputs = map[string]interface{}{}
		}
		out.Actions = append(out.Actions, Action{Kind: kind, ID: rawStr(m, "aid"), Inputs: inputs})
	}
	if len(out.Actions) == 0 {
		return nil, ""
	}
	if next, ok := embedded["_next"].(map[string]interface{}); ok {
		out.Next = next
	}
	return out, strings.TrimSpace(response[:start])
}

// unwrapJSONReply peels a {"content": "..."} wrapper off a reply.
func unwrapJSONReply(response string) string {
	trimmed := strings.TrimSpace(response)
	if !strings.HasPrefix(trimmed, "{") {
		return response
	}
	var inner map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
		return response
	}
	if content, ok := inner["content"].(string); ok {
		return content
	}
	return response
}

func rawStr(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func rawInt(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func rawBool(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}
