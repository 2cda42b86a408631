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
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianSQL/services/sqlagent/completeness"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/tools"
)

// textTags hold free text that models often fill with raw '<' or markup.
var textTags = []string{
	"reasoning", "partial_sql", "missing_info", "note",
	"tool_name", "is_complete", "confidence_level",
}

var (
	cdataPattern      = regexp.MustCompile(`(?s)<!\[CDATA\[.*?\]\]>`)
	entityPattern     = regexp.MustCompile(`^&(#\d+|#x[0-9A-Fa-f]+|[A-Za-z0-9_]+);`)
	elementTagPattern = regexp.MustCompile(`<\s*/?\s*[A-Za-z_][A-Za-z0-9_.:-]*\b`)
	parametersPattern = regexp.MustCompile(`(?s)<parameters(\s[^>]*)?>(.*?)</parameters>`)
	tagBodyPatterns   = make(map[string]*regexp.Regexp, len(textTags))
)

func init() {
	for _, tag := range textTags {
		q := regexp.QuoteMeta(tag)
		tagBodyPatterns[tag] = regexp.MustCompile(`(?s)<` + q + `(\s[^>]*)?>(.*?)</` + q + `>`)
	}
}

type xmlOutput struct {
	XMLName    xml.Name     `xml:"output"`
	Reasoning  string       `xml:"reasoning"`
	PartialSQL string       `xml:"partial_sql"`
	Check      *xmlCheck    `xml:"sql_completeness_check"`
	ToolCall   *xmlToolCall `xml:"tool_call"`
}

type xmlCheck struct {
	IsComplete      string `xml:"is_complete"`
	MissingInfo     string `xml:"missing_info"`
	ConfidenceLevel string `xml:"confidence_level"`
}

type xmlToolCall struct {
	ToolName   string        `xml:"tool_name"`
	Parameters xmlParameters `xml:"parameters"`
}

type xmlParameters struct {
	Text     string     `xml:",chardata"`
	Children []xmlChild `xml:",any"`
}

type xmlChild struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// ParseOutput turns raw model output into a Decision.
//
// # Description
//
// The model answers in the <output> protocol (see SystemPrompt). Before
// decoding, the text is repaired the way model output usually needs:
// anything before <output> and after the last </output> is dropped, a
// doubled <output> wrapper is unwrapped, free-text bodies containing '<'
// are wrapped in CDATA and bare '&' is escaped. Parameters may be a JSON
// object, a bare JSON array or string (the tool's list or text parameter),
// plain text, or child elements.
//
// # Outputs
//
//   - Decision: Parsed decision with canonical tool parameters.
//   - error: Wraps ErrMalformedOutput.
func ParseOutput(raw string) (Decision, error) {
	doc, err := extractOutput(raw)
	if err != nil {
		return Decision{}, err
	}
	doc = escapeBareAmpersands(repairText(doc))

	var out xmlOutput
	if err := xml.Unmarshal([]byte(doc), &out); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if out.ToolCall == nil || strings.TrimSpace(out.ToolCall.ToolName) == "" {
		return Decision{}, fmt.Errorf("%w: missing tool_call", ErrMalformedOutput)
	}

	d := Decision{
		Reasoning:  strings.TrimSpace(out.Reasoning),
		PartialSQL: strings.TrimSpace(out.PartialSQL),
	}
	if out.Check != nil {
		d.Reported = &completeness.Completeness{
			IsComplete:      strings.EqualFold(strings.TrimSpace(out.Check.IsComplete), "true"),
			ConfidenceLevel: completeness.ParseConfidence(out.Check.ConfidenceLevel),
			MissingInfo:     strings.TrimSpace(out.Check.MissingInfo),
		}
	}

	name := strings.TrimSpace(out.ToolCall.ToolName)
	d.ToolCall = tools.Canonicalize(tools.NewCall(name, out.ToolCall.Parameters.json()))
	return d, nil
}

// extractOutput isolates the outermost <output> element.
func extractOutput(raw string) (string, error) {
	start := strings.Index(raw, "<output")
	end := strings.LastIndex(raw, "</output>")
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no <output> element", ErrMalformedOutput)
	}
	doc := raw[start : end+len("</output>")]

	for {
		open := strings.Index(doc, ">")
		if open < 0 || open+1 > len(doc)-len("</output>") {
			return doc, nil
		}
		inner := strings.TrimSpace(doc[open+1 : len(doc)-len("</output>")])
		if !strings.HasPrefix(inner, "<output") || !strings.HasSuffix(inner, "</output>") {
			return doc, nil
		}
		doc = inner
	}
}

// repairText wraps risky free-text bodies in CDATA, leaving existing CDATA
// blocks untouched.
func repairText(doc string) string {
	if !strings.Contains(doc, "<") {
		return doc
	}
	var b strings.Builder
	last := 0
	for _, loc := range cdataPattern.FindAllStringIndex(doc, -1) {
		b.WriteString(repairChunk(doc[last:loc[0]]))
		b.WriteString(doc[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(repairChunk(doc[last:]))
	return b.String()
}

func repairChunk(chunk string) string {
	for _, tag := range textTags {
		re := tagBodyPatterns[tag]
		chunk = re.ReplaceAllStringFunc(chunk, func(m string) string {
			sub := re.FindStringSubmatch(m)
			attrs, body := sub[1], sub[2]
			if !strings.Contains(body, "<") || strings.Contains(body, "<![CDATA[") {
				return m
			}
			return "<" + tag + attrs + "><![CDATA[" + escapeCDATAEnd(body) + "]]></" + tag + ">"
		})
	}
	return parametersPattern.ReplaceAllStringFunc(chunk, func(m string) string {
		sub := parametersPattern.FindStringSubmatch(m)
		attrs, body := sub[1], sub[2]
		if !strings.Contains(body, "<") || strings.Contains(body, "<![CDATA[") || elementTagPattern.MatchString(body) {
			return m
		}
		return "<parameters" + attrs + "><![CDATA[" + escapeCDATAEnd(body) + "]]></parameters>"
	})
}

func escapeCDATAEnd(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}

// escapeBareAmpersands escapes '&' that does not start an entity, outside
// CDATA blocks.
func escapeBareAmpersands(doc string) string {
	if !strings.Contains(doc, "&") {
		return doc
	}
	var b strings.Builder
	last := 0
	escape := func(s string) {
		for i := 0; i < len(s); i++ {
			if s[i] == '&' && !entityPattern.MatchString(s[i:]) {
				b.WriteString("&amp;")
				continue
			}
			b.WriteByte(s[i])
		}
	}
	for _, loc := range cdataPattern.FindAllStringIndex(doc, -1) {
		escape(doc[last:loc[0]])
		b.WriteString(doc[loc[0]:loc[1]])
		last = loc[1]
	}
	escape(doc[last:])
	return b.String()
}

// json renders the parameters element as JSON.
func (p xmlParameters) json() []byte {
	if len(p.Children) > 0 {
		obj := make(map[string]json.RawMessage, len(p.Children))
		for _, c := range p.Children {
			v := strings.TrimSpace(c.Value)
			if v != "" && json.Valid([]byte(v)) {
				obj[c.XMLName.Local] = json.RawMessage(v)
				continue
			}
			quoted, _ := json.Marshal(v)
			obj[c.XMLName.Local] = quoted
		}
		raw, _ := json.Marshal(obj)
		return raw
	}

	text := strings.TrimSpace(p.Text)
	switch {
	case text == "":
		return []byte(`{}`)
	case strings.ContainsAny(text[:1], `{["`) && json.Valid([]byte(text)):
		return []byte(text)
	default:
		quoted, _ := json.Marshal(text)
		return quoted
	}
}
