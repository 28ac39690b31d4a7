// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package openai

import (
	"fmt"
	"strings"
)

const summaryResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "title": {
      "type": "string",
      "maxLength": 120
    },
    "summary": {
      "type": "string",
      "maxLength": 600
    }
  },
  "required": ["title", "summary"],
  "additionalProperties": false
}`

const summaryPromptTemplate = `You write short news digests. You will be given the headlines of several
articles from different publications that cover the same story. Describe the shared story as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- "title" is a neutral headline of at most 12 words naming the shared story.
- "summary" is one or two plain sentences stating what happened. No opinions, no speculation.
- Use only facts present in the headlines. Do not hallucinate names, numbers or dates.
- Write in the language used by the majority of the headlines.
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input:
- Central bank raises interest rates by half a point
- Rates climb 0.5%% as central bank fights inflation
- Borrowing costs rise after surprise rate decision
Output:
{"title":"Central bank raises rates by half a point","summary":"The central bank raised its benchmark interest rate by 0.5 percentage points in an effort to curb inflation."}`

// buildSystemPrompt creates the system prompt with the response schema embedded.
func buildSystemPrompt() string {
	return fmt.Sprintf(summaryPromptTemplate, summaryResponseSchema)
}

// buildUserPrompt lists the titles one per line.
func buildUserPrompt(titles []string) string {
	var b strings.Builder
	for _, t := range titles {
		b.WriteString("- ")
		b.WriteString(cleanTitle(t))
		b.WriteByte('\n')
	}
	return b.String()
}
