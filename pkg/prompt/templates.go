// Grinbot - plugin-driven conversational agent runtime
// License: MIT
//
// Copyright (c) 2026 Grinbot contributors

package prompt

// Placeholders substituted by Render.
const (
	PlaceholderInput       = "{input}"
	PlaceholderTools       = "{tools}"
	PlaceholderToolNames   = "{tool_names}"
	PlaceholderScratchpad  = "{agent_scratchpad}"
	PlaceholderEpisodic    = "{episodic_memory}"
	PlaceholderDeclarative = "{declarative_memory}"
	PlaceholderChatHistory = "{chat_history}"
)

// RequiredInstructionPlaceholders must appear in the instructions output; the
// output parser depends on the format they describe.
var RequiredInstructionPlaceholders = []string{
	PlaceholderTools,
	PlaceholderToolNames,
	PlaceholderScratchpad,
	PlaceholderInput,
}

// DefaultPrefix describes who the assistant is.
const DefaultPrefix = `You are Grinbot, a helpful assistant talking with a Human.
You answer briefly and truthfully. When you do not know something, you say so.
You can use the context below, which contains things the Human said in the past
and excerpts of documents, to give better answers.`

// DefaultInstructions is the ReAct tool selection template.
const DefaultInstructions = `Answer the following question: ` + "`{input}`" + `
You can only reply using these tools:

{tools}

If you want to use tools, use the following format:
Action: the name of the action to take, should be one of [{tool_names}]
Action Input: the input to the action
Observation: the result of the action
...
Action: the name of the action to take, should be one of [{tool_names}]
Action Input: the input to the action
Observation: the result of the action

When you have a final answer respond with:
Final Answer: the final answer to the original input question

Begin!

Question: {input}
{agent_scratchpad}`

// DefaultSuffix carries recalled context and the conversation so far.
const DefaultSuffix = `
# Context

{episodic_memory}

{declarative_memory}

## Conversation until now:{chat_history}
 - Human: {input}
 - AI: `
