// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/dispatch"
	"github.com/teradata-labs/treadle/pkg/graph"
	"github.com/teradata-labs/treadle/pkg/retrieval"
	"github.com/teradata-labs/treadle/pkg/storage"
)

// MemoryTool serves the learning substrate: JSONL saves with inferred
// metadata, hybrid retrieval enriched with graph context, and direct
// graph ingestion.
type MemoryTool struct {
	op       string
	store    *storage.Store
	searcher *retrieval.Searcher
	graph    *graph.Memory
	logger   *zap.Logger
}

// NewMemoryTools builds the MEM.* and GRAPH.* handler set.
func NewMemoryTools(opts Options) []dispatch.Tool {
	ops := []string{dispatch.ActionMemSave, dispatch.ActionMemFind, dispatch.ActionGraphIngest}
	tools := make([]dispatch.Tool, len(ops))
	for i, op := range ops {
		tools[i] = &MemoryTool{
			op:       op,
			store:    opts.Store,
			searcher: opts.Searcher,
			graph:    opts.Graph,
			logger:   opts.Logger,
		}
	}
	return tools
}

func (t *MemoryTool) Name() string        { return t.op }
func (t *MemoryTool) Description() string { return dispatch.Describe(t.op) }
func (t *MemoryTool) Backend() string     { return dispatch.BackendLocal }

func (t *MemoryTool) SideEffects() []string {
	if t.op == dispatch.ActionMemFind {
		return []string{"filesystem_read"}
	}
	return []string{"filesystem_write"}
}

func (t *MemoryTool) InputSchema() *dispatch.JSONSchema {
	switch t.op {
	case dispatch.ActionMemSave:
		return dispatch.NewObjectSchema("save a note to the memory substrate", map[string]*dispatch.JSONSchema{
			"text":       dispatch.NewStringSchema("content to remember"),
			"stream":     dispatch.NewStringSchema("memory stream").WithDefault(storage.StreamChat),
			"event":      dispatch.NewStringSchema("event label").WithDefault("user_note"),
			"topic":      dispatch.NewStringSchema("topic tag (inferred when empty)"),
			"session_id": dispatch.NewStringSchema("conversation session for context chaining"),
		}, []string{"text"})
	case dispatch.ActionMemFind:
		return dispatch.NewObjectSchema("search memory with hybrid retrieval", map[string]*dispatch.JSONSchema{
			"query":  dispatch.NewStringSchema("search query"),
			"stream": dispatch.NewStringSchema("memory stream").WithDefault(storage.StreamChat),
			"top_k":  dispatch.NewNumberSchema("result cap").WithDefault(5),
		}, []string{"query"})
	default: // GRAPH.INGEST.v1
		return dispatch.NewObjectSchema("extract entities and relations into graph memory", map[string]*dispatch.JSONSchema{
			"text":     dispatch.NewStringSchema("text to ingest"),
			"metadata": dispatch.NewObjectSchema("extra attributes stored on extracted entities", nil, nil),
		}, []string{"text"})
	}
}

func (t *MemoryTool) Execute(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	switch t.op {
	case dispatch.ActionMemSave:
		return t.save(inputs)
	case dispatch.ActionMemFind:
		return t.find(ctx, inputs)
	default:
		return t.ingest(inputs)
	}
}

func (t *MemoryTool) save(inputs map[string]interface{}) (*dispatch.Result, error) {
	if t.store == nil {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindToolError, "memory store not configured")), nil
	}
	text := strInput(inputs, "text", "")
	if text == "" {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput, "no text to save")), nil
	}
	stream := strInput(inputs, "stream", storage.StreamChat)
	event := strInput(inputs, "event", "user_note")

	topic := strInput(inputs, "topic", "")
	if topic == "" {
		topic = retrieval.InferTopicTag(text)
	}
	record := storage.Record{
		"event":      event,
		"text":       text,
		"topic_tag":  topic,
		"importance": retrieval.InferImportance(text),
	}
	if sid := strInput(inputs, "session_id", ""); sid != "" {
		record["session_id"] = sid
	}
	if err := t.store.Append(stream, record); err != nil {
		return nil, err
	}

	// Feed the graph as well so entities surface in later queries.
	if t.graph != nil {
		if _, gerr := t.graph.Ingest(text, map[string]interface{}{"stream": stream, "topic": topic}); gerr != nil {
			t.logger.Debug("graph ingest on save failed", zap.Error(gerr))
		}
	}
	return dispatch.OK(fmt.Sprintf("saved to memory (%s): %s", stream, truncRunes(text, 100))), nil
}

func (t *MemoryTool) find(ctx context.Context, inputs map[string]interface{}) (*dispatch.Result, error) {
	if t.searcher == nil {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindToolError, "retrieval not configured")), nil
	}
	query := strInput(inputs, "query", "")
	if query == "" {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput, "no query provided")), nil
	}
	stream := strInput(inputs, "stream", storage.StreamChat)
	topK := intInput(inputs, "top_k", 5)
	if topK < 1 {
		topK = 5
	}

	text, err := t.searcher.Search(ctx, stream, query, retrieval.SearchOptions{TopK: topK})
	if err != nil {
		t.logger.Debug("memory search failed", zap.Error(err))
		text = ""
	}

	if t.graph != nil {
		graphCtx, gerr := t.graph.Context(query, topK)
		if gerr == nil && graphCtx != "" {
			if text != "" {
				text = text + "\n" + graphCtx
			} else {
				text = graphCtx
			}
		}
	}
	return dispatch.OK(text), nil
}

func (t *MemoryTool) ingest(inputs map[string]interface{}) (*dispatch.Result, error) {
	if t.graph == nil {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindToolError, "graph memory not configured")), nil
	}
	text := strInput(inputs, "text", "")
	if text == "" {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindInvalidInput, "no text to ingest")), nil
	}
	metadata, _ := inputs["metadata"].(map[string]interface{})

	result, err := t.graph.Ingest(text, metadata)
	if err != nil {
		return dispatch.Failed(dispatch.NewError(t.op, dispatch.KindToolError, err.Error())), nil
	}
	out, err := json.Marshal(struct {
		OK             bool `json:"ok"`
		EntitiesAdded  int  `json:"entities_added"`
		RelationsAdded int  `json:"relations_added"`
	}{true, result.EntitiesAdded, result.RelationsAdded})
	if err != nil {
		return nil, err
	}
	return dispatch.OK(string(out)), nil
}
