// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package observability

// Standard span names for consistency across the runtime.
// Use these constants instead of hardcoding strings.
const (
	// Pulse spans
	SpanPulseTurn     = "pulse.turn"
	SpanPulseIntent   = "pulse.intent"
	SpanPulsePlan     = "pulse.plan"
	SpanPulseContinue = "pulse.continue"

	// Dispatch spans
	SpanDispatchExecute  = "dispatch.execute"
	SpanDispatchValidate = "dispatch.validate"
	SpanPermissionCheck  = "permission.check"

	// LLM spans
	SpanLLMCompletion = "llm.completion"

	// Autonomic engine spans
	SpanEngineTick    = "engine.tick"
	SpanEngineLevel   = "engine.level"
	SpanEngineBurst   = "engine.burst"
	SpanRegressionRun = "regression.run"
	SpanCuriosityRun  = "curiosity.cycle"

	// Learning spans
	SpanLearningRecord   = "learning.record"
	SpanLearningInsights = "learning.insights"
	SpanLearningWisdom   = "learning.wisdom"

	// Storage spans
	SpanStorageAppend  = "storage.append"
	SpanStorageRead    = "storage.read"
	SpanStorageCompact = "storage.compact"
	SpanStorageRotate  = "storage.rotate"

	// Retrieval spans
	SpanRetrievalSearch = "retrieval.search"
	SpanGraphContext    = "graph.context"

	// MCP spans
	SpanMCPConnect   = "mcp.connect"
	SpanMCPToolsList = "mcp.tools.list"
	SpanMCPToolsCall = "mcp.tools.call"
)

// Standard attribute keys.
const (
	AttrActionID     = "action.id"
	AttrToolName     = "tool.name"
	AttrChatID       = "chat.id"
	AttrSessionID    = "session.id"
	AttrCycle        = "pulse.cycle"
	AttrIntentType   = "intent.type"
	AttrLevel        = "engine.level"
	AttrStream       = "storage.stream"
	AttrBackend      = "llm.backend"
	AttrModel        = "llm.model"
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)
