// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

// maxObservationChars bounds each past tool result quoted in the prompt.
const maxObservationChars = 2000

// SystemPrompt describes the reply protocol.
const SystemPrompt = `You are a SQL analyst. You answer a question by writing one read-only SQL
statement, working step by step. In every reply you choose exactly one tool.

Reply with a single XML document and nothing else:

<output>
  <reasoning>what you know and what you will do next</reasoning>
  <partial_sql><![CDATA[your best current SQL draft, may be empty]]></partial_sql>
  <sql_completeness_check>
    <is_complete>true|false</is_complete>
    <missing_info>what is still unknown, empty if nothing</missing_info>
    <confidence_level>low|medium|high</confidence_level>
  </sql_completeness_check>
  <tool_call>
    <tool_name>one of the tools below</tool_name>
    <parameters>{"json": "object"}</parameters>
  </tool_call>
</output>

Rules:
- Look up tables and columns before using them. Never invent names.
- Use search_column_values to find the exact stored value before filtering on text.
- If the question is ambiguous and the data cannot resolve it, call ask_user with
  {"question": "..."} instead of guessing.
- When the SQL answers the question, call execute_sql with {"sql": "..."} and set
  is_complete to true with high confidence.
- Only SELECT or WITH statements are allowed.`

// BuildPrompt renders the per-iteration user message.
func BuildPrompt(in Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n", in.Question)
	for _, c := range in.Clarifications {
		if c.Answer == "" {
			continue
		}
		fmt.Fprintf(&b, "You asked: %s\nUser answered: %s\n", c.Question, c.Answer)
	}

	fmt.Fprintf(&b, "\nIteration %d. Tool calls remaining including this one: %d\n", in.Iteration, in.Remaining)
	if in.Remaining <= 1 {
		b.WriteString("This is your last tool call. Propose your best final SQL with execute_sql.\n")
	}

	b.WriteString("\nTools:\n")
	for _, def := range in.Tools {
		writeTool(&b, def)
	}
	b.WriteString("- ask_user: Ask the user a clarifying question.\n    question (string, required)\n")

	if in.Metadata != "" {
		b.WriteString("\nCollected schema and context:\n")
		b.WriteString(in.Metadata)
		b.WriteString("\n")
	}

	if len(in.History) > 0 {
		b.WriteString("\nPrevious steps:\n")
		for _, st := range in.History {
			fmt.Fprintf(&b, "[%d] %s(%s)\n", st.Iteration, st.ToolCall.Name, st.ToolCall.Parameters)
			if st.ToolResult != nil {
				fmt.Fprintf(&b, "    -> %s\n", clip(*st.ToolResult, maxObservationChars))
			}
		}
	}

	if in.PartialSQL != "" {
		fmt.Fprintf(&b, "\nCurrent SQL draft:\n%s\n", in.PartialSQL)
	}
	return b.String()
}

func writeTool(b *strings.Builder, def tools.Definition) {
	fmt.Fprintf(b, "- %s: %s\n", def.Name, def.Description)
	for _, p := range def.Parameters {
		req := ""
		if p.Required {
			req = ", required"
		}
		fmt.Fprintf(b, "    %s (%s%s): %s\n", p.Name, p.Type, req, p.Description)
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
