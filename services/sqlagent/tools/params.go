// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool names understood by the agent.
const (
	SchemaLookup       = "schema_lookup"
	GetTableSchema     = "get_table_schema"
	SearchColumnValues = "search_column_values"
	FindSimilarQuery   = "find_similar_query"
	ValidateSQL        = "validate_sql"
	PreviewSQL         = "preview_sql"
	ExecuteSQL         = "execute_sql"

	// AskUser is a control call: the engine pauses for clarification
	// instead of dispatching it.
	AskUser = "ask_user"
)

// Call is a tool invocation as produced by the reasoner and recorded in steps.
// Parameters are kept as compact JSON so they round-trip byte for byte.
type Call struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// NewCall builds a call, compacting raw. Empty or invalid JSON input is
// kept as a JSON string so the call is always serializable.
func NewCall(name string, raw []byte) Call {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Call{Name: name, Parameters: json.RawMessage(`{}`)}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		quoted, _ := json.Marshal(string(trimmed))
		return Call{Name: name, Parameters: quoted}
	}
	return Call{Name: name, Parameters: buf.Bytes()}
}

// MustCall marshals params into a Call without HTML escaping, so SQL
// operators stay readable. Panics if params cannot be marshaled.
func MustCall(name string, params any) Call {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(params); err != nil {
		panic(fmt.Sprintf("tools: marshal %s params: %v", name, err))
	}
	return NewCall(name, buf.Bytes())
}

// =============================================================================
// Parameter shapes
// =============================================================================

// Params is the tagged union of per-tool parameter shapes.
// The concrete type is selected by tool name in DecodeParams.
type Params interface {
	// ToolName is the tag of the union.
	ToolName() string

	// Validate checks that required fields are present. Shape checks
	// beyond presence belong to the tool.
	Validate() error
}

// SchemaLookupParams searches the catalog by keyword and/or table name.
type SchemaLookupParams struct {
	Keywords   []string `json:"keywords,omitempty"`
	TableNames []string `json:"table_names,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

func (SchemaLookupParams) ToolName() string { return SchemaLookup }

func (p SchemaLookupParams) Validate() error {
	if len(nonBlank(p.Keywords)) == 0 && len(nonBlank(p.TableNames)) == 0 {
		return fmt.Errorf("keywords or table_names is required")
	}
	return nil
}

// GetTableSchemaParams describes specific tables.
type GetTableSchemaParams struct {
	TableNames []string `json:"table_names"`
}

func (GetTableSchemaParams) ToolName() string { return GetTableSchema }

func (p GetTableSchemaParams) Validate() error {
	if len(nonBlank(p.TableNames)) == 0 {
		return fmt.Errorf("table_names is required")
	}
	return nil
}

// SearchColumnValuesParams finds actual stored values matching user terms.
type SearchColumnValuesParams struct {
	Schema         string   `json:"schema,omitempty"`
	Table          string   `json:"table"`
	Column         string   `json:"column"`
	SearchKeywords []string `json:"search_keywords"`
	Limit          int      `json:"limit,omitempty"`
}

func (SearchColumnValuesParams) ToolName() string { return SearchColumnValues }

func (p SearchColumnValuesParams) Validate() error {
	switch {
	case strings.TrimSpace(p.Table) == "":
		return fmt.Errorf("table is required")
	case strings.TrimSpace(p.Column) == "":
		return fmt.Errorf("column is required")
	case len(nonBlank(p.SearchKeywords)) == 0:
		return fmt.Errorf("search_keywords is required")
	}
	return nil
}

// FindSimilarQueryParams searches previously answered questions.
type FindSimilarQueryParams struct {
	Question      string  `json:"question"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
	Limit         int     `json:"limit,omitempty"`
}

func (FindSimilarQueryParams) ToolName() string { return FindSimilarQuery }

func (p FindSimilarQueryParams) Validate() error {
	if strings.TrimSpace(p.Question) == "" {
		return fmt.Errorf("question is required")
	}
	return nil
}

// SQLParams carries a statement for validate_sql and execute_sql.
type SQLParams struct {
	Tool string `json:"-"`
	SQL  string `json:"sql"`
}

func (p SQLParams) ToolName() string { return p.Tool }

func (p SQLParams) Validate() error {
	if strings.TrimSpace(p.SQL) == "" {
		return fmt.Errorf("sql is required")
	}
	return nil
}

// PreviewSQLParams runs a statement with a small row cap.
type PreviewSQLParams struct {
	SQL   string `json:"sql"`
	Limit int    `json:"limit,omitempty"`
}

func (PreviewSQLParams) ToolName() string { return PreviewSQL }

func (p PreviewSQLParams) Validate() error {
	if strings.TrimSpace(p.SQL) == "" {
		return fmt.Errorf("sql is required")
	}
	return nil
}

// AskUserParams carries the clarifying question for the user.
type AskUserParams struct {
	Question string `json:"question"`
}

func (AskUserParams) ToolName() string { return AskUser }

func (p AskUserParams) Validate() error {
	if strings.TrimSpace(p.Question) == "" {
		return fmt.Errorf("question is required")
	}
	return nil
}

// KnownShape reports whether name has a parameter shape.
func KnownShape(name string) bool {
	switch name {
	case SchemaLookup, GetTableSchema, SearchColumnValues, FindSimilarQuery,
		ValidateSQL, PreviewSQL, ExecuteSQL, AskUser:
		return true
	}
	return false
}

// DecodeParams selects the parameter shape for name and decodes raw into it.
//
// # Description
//
// Besides a JSON object, two shorthand forms are accepted because models
// emit them often: a bare JSON array is taken as the tool's list parameter
// (keywords, table_names, search_keywords), and a bare JSON string as its
// text parameter (sql, question).
//
// # Outputs
//
//   - Params: The decoded shape. Not yet validated.
//   - error: ErrToolNotFound for unknown names, ErrInvalidParams otherwise.
func DecodeParams(name string, raw json.RawMessage) (Params, error) {
	if !KnownShape(name) {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte(`{}`)
	}

	var list []string
	var text string
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
		}
	case '"':
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
		}
	}
	shorthand := list != nil || raw[0] == '"'

	decode := func(dst any) error {
		if shorthand {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidParams, name, err)
		}
		return nil
	}

	switch name {
	case SchemaLookup:
		p := SchemaLookupParams{Keywords: list}
		err := decode(&p)
		return p, err
	case GetTableSchema:
		p := GetTableSchemaParams{TableNames: list}
		err := decode(&p)
		return p, err
	case SearchColumnValues:
		p := SearchColumnValuesParams{SearchKeywords: list}
		err := decode(&p)
		return p, err
	case FindSimilarQuery:
		p := FindSimilarQueryParams{Question: text}
		err := decode(&p)
		return p, err
	case PreviewSQL:
		p := PreviewSQLParams{SQL: text}
		err := decode(&p)
		return p, err
	case AskUser:
		p := AskUserParams{Question: text}
		err := decode(&p)
		return p, err
	default: // ValidateSQL, ExecuteSQL
		p := SQLParams{Tool: name, SQL: text}
		err := decode(&p)
		return p, err
	}
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Canonicalize rewrites shorthand parameters into the tool's object form,
// e.g. ["pressure"] for schema_lookup becomes {"keywords":["pressure"]}.
// Calls that do not decode are returned unchanged.
func Canonicalize(call Call) Call {
	p, err := DecodeParams(call.Name, call.Parameters)
	if err != nil {
		return call
	}
	return MustCall(call.Name, p)
}
