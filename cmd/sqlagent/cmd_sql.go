// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSQL/pkg/ux"
	"github.com/AleutianAI/AleutianSQL/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/session"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/sqlexec"
)

func runSQLCommand(cmd *cobra.Command, args []string) error {
	statement := strings.TrimSpace(strings.Join(args, " "))
	ctx := cmd.Context()
	printer := ux.NewPrinter(cmd.OutOrStdout(), ux.ParseMode(outputMode), 0)

	seconds := maxSQLSeconds
	if seconds <= 0 {
		seconds = session.DefaultSQLSeconds
	}

	var (
		normalized string
		result     *sqlexec.ExecutionResult
		err        error
	)
	if serverURL != "" {
		key := apiKey
		if key == "" {
			key = os.Getenv("SQLAGENT_API_KEY")
		}
		normalized, result, err = newRemoteSource(serverURL, key).executeSQL(ctx, datatypes.ExecuteSQLRequest{
			SQL:           statement,
			MaxSQLSeconds: seconds,
			MaxRows:       sqlMaxRows,
		})
	} else {
		normalized, result, err = executeLocal(ctx, statement, time.Duration(seconds)*time.Second)
	}
	if err != nil {
		return err
	}

	printer.SQL(normalized)
	printer.Result(resultView(result), 0)
	return nil
}

func executeLocal(ctx context.Context, statement string, timeout time.Duration) (string, *sqlexec.ExecutionResult, error) {
	a, err := newApp(ctx, cfg, needs{database: true})
	if err != nil {
		return "", nil, err
	}
	defer a.Close()

	normalized, err := a.guard.Validate(statement)
	if err != nil {
		return "", nil, err
	}
	rows := sqlMaxRows
	if rows <= 0 {
		rows = cfg.Database.MaxRows
	}
	result, err := a.executor.Execute(ctx, normalized, rows, timeout)
	if err != nil {
		return normalized, nil, err
	}
	return normalized, result, nil
}

// executeSQL calls the direct SQL endpoint.
func (s *remoteSource) executeSQL(ctx context.Context, body datatypes.ExecuteSQLRequest) (string, *sqlexec.ExecutionResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/sql/execute", bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("connect to %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return "", nil, err
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, &apiErr.Body) != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(data))
		}
		return "", nil, apiErr
	}
	var out datatypes.ExecuteSQLResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Result == nil {
		return "", nil, fmt.Errorf("server returned no result")
	}
	return out.SQL, out.Result, nil
}
