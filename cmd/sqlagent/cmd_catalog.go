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
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSQL/cmd/sqlagent/config"
	"github.com/AleutianAI/AleutianSQL/pkg/logging"
	"github.com/AleutianAI/AleutianSQL/pkg/ux"
	"github.com/AleutianAI/AleutianSQL/services/sqlagent/catalog"
)

func runCatalogSync(cmd *cobra.Command, args []string) error {
	c := cfg
	if len(args) == 1 {
		c.Catalog.Path = args[0]
	}
	path := logging.ExpandHome(c.Catalog.Path)

	// Validate before opening the store so a bad file leaves it untouched.
	if _, err := catalog.LoadFile(path); err != nil {
		return err
	}
	c.Catalog.Path = ""
	a, err := newApp(cmd.Context(), c, needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := catalog.Sync(cmd.Context(), a.catalog, path)
	if err != nil {
		return err
	}
	ux.NewPrinter(cmd.OutOrStdout(), ux.ParseMode(outputMode), 0).
		Success(fmt.Sprintf("Loaded %d tables from %s", n, path))
	return nil
}

func runCatalogList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), catalogOnly(), needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	tables, err := a.catalog.List(cmd.Context())
	if err != nil {
		return err
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].QualifiedName() < tables[j].QualifiedName() })

	p := ux.NewPrinter(cmd.OutOrStdout(), ux.ParseMode(outputMode), 0)
	if p.Mode() == ux.ModeMachine {
		p.JSON("tables", tables)
		return nil
	}
	rows := make([][]any, len(tables))
	for i, t := range tables {
		rows[i] = []any{t.QualifiedName(), len(t.Columns), t.Description}
	}
	p.Result(ux.ResultView{Columns: []string{"table", "columns", "description"}, Rows: rows, RowCount: len(rows)}, 0)
	return nil
}

func runCatalogShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), catalogOnly(), needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.catalog.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	p := ux.NewPrinter(cmd.OutOrStdout(), ux.ParseMode(outputMode), 0)
	if p.Mode() == ux.ModeMachine {
		p.JSON("table", t)
		return nil
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Describe())
	return err
}

// catalogOnly reads the stored catalog without re-syncing the YAML file.
func catalogOnly() config.SQLAgentConfig {
	c := cfg
	c.Catalog.Path = ""
	return c
}
