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

import "strings"

// cleanResponse turns a raw summarizer reply into something json.Unmarshal
// accepts: code fences are removed and object keys are quoted.
func cleanResponse(s string) string {
	return quoteKeys(stripFences(s))
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// quoteKeys quotes object keys that lost their opening quote (title":)
// or were emitted bare (title:). String values are copied untouched.
func quoteKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)

	inString, escaped, expectKey := false, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		if expectKey && isKeyByte(c) {
			end := i
			for end < len(s) && isKeyByte(s[end]) {
				end++
			}
			next := end
			if next < len(s) && s[next] == '"' {
				next++
			}
			colon := next
			for colon < len(s) && isSpace(s[colon]) {
				colon++
			}
			if colon < len(s) && s[colon] == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:end])
				b.WriteByte('"')
				i = next - 1
				expectKey = false
				continue
			}
		}

		b.WriteByte(c)
		switch {
		case c == '"':
			inString = true
			expectKey = false
		case c == '{' || c == ',':
			expectKey = true
		case !isSpace(c):
			expectKey = false
		}
	}
	return b.String()
}

func isKeyByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}
