package policy

import (
	"fmt"
	"strings"

	"rolecraft/internal/memory"
	"rolecraft/internal/retrieval"
)

const maxPromptChunkRunes = 400

const decomposePrompt = `You route questions about a role-play story world to a knowledge graph.
The graph has two kinds of content:
- character: personas, speaking styles and example lines of characters
- event: events, places, objects and the relationships between entities

Known characters: %s
Other known entities: %s
%s
Split the question into the smallest set of focused sub-queries. Each sub-query has
- "text": a short search phrase, naming entities explicitly instead of using pronouns
- "type": "character" or "event"
- "priority": 3 when it names a specific entity, 2 for relationships or events, 1 for background

Question: %s

Respond with JSON: {"subqueries": [{"text": "...", "type": "character", "priority": 3}]}`

const judgePrompt = `You decide whether retrieved context is enough to answer a question about a role-play story world.

Question: %s
Iteration: %d
Sub-queries already issued:
%s
Retrieved context:
%s
If the context is sufficient, set "is_sufficient" to true and leave the other fields empty.
Otherwise describe what is missing in "missing_info" and propose up to %d new sub-queries in
"new_subqueries", each with "text", "type" ("character" or "event") and "priority" (1 to 3).
Do not repeat sub-queries already issued.

Respond with JSON: {"is_sufficient": false, "missing_info": "...", "new_subqueries": []}`

const callbackPrompt = `You track a multi-turn conversation about a role-play story world.
Decide whether the new question refers back to earlier turns, for example through a pronoun
or an entity discussed before.

Earlier turns:
%s
New question: %s

Respond with JSON: {"needs_callback": true, "related_turn_indices": [0], "reason": "..."}
Only use turn indices listed above.`

const summarizePrompt = `Summarize this conversation turn in one or two sentences, keeping entity names,
so a later turn can refer back to it.

Question: %s
Sub-queries: %s
Retrieved context:
%s

Respond with JSON: {"summary": "..."}`

func buildDecomposePrompt(req retrieval.DecomposeRequest) string {
	var context string
	if len(req.Context) > 0 {
		var b strings.Builder
		b.WriteString("\nEarlier turns the question refers back to:\n")
		for _, c := range req.Context {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		context = b.String()
	}
	return fmt.Sprintf(decomposePrompt, listOrNone(req.Hint.Characters), listOrNone(req.Hint.Others), context, req.Query)
}

func buildJudgePrompt(req retrieval.JudgeRequest, maxFollowUps int) string {
	var issued strings.Builder
	for _, q := range req.Issued {
		fmt.Fprintf(&issued, "- %s (%s)\n", q.Text, q.Kind)
	}
	return fmt.Sprintf(judgePrompt, req.Query, req.Iteration, issued.String(), formatChunks(req.Chunks), maxFollowUps)
}

func buildCallbackPrompt(query string, history []memory.Turn) string {
	var b strings.Builder
	for _, turn := range history {
		digest := turn.Summary
		if digest == "" {
			digest = turn.UserQuery
		}
		fmt.Fprintf(&b, "[%d] %s\n", turn.Index, digest)
	}
	return fmt.Sprintf(callbackPrompt, b.String(), query)
}

func buildSummarizePrompt(turn memory.Turn) string {
	texts := make([]string, 0, len(turn.SubQueries))
	for _, q := range turn.SubQueries {
		texts = append(texts, q.Text)
	}
	return fmt.Sprintf(summarizePrompt, turn.UserQuery, strings.Join(texts, "; "), formatChunks(turn.RetrievedChunks))
}

func formatChunks(chunks []retrieval.Chunk) string {
	if len(chunks) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, c := range chunks {
		text := []rune(c.Text)
		if len(text) > maxPromptChunkRunes {
			text = append(text[:maxPromptChunkRunes], '…')
		}
		fmt.Fprintf(&b, "[%s %s %.2f]\n%s\n\n", c.ID, c.Kind, c.Score, string(text))
	}
	return b.String()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
