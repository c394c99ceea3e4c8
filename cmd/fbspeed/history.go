package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/NodePath81/fbspeed/internal/history"
)

func historyCmd(args []string) error {
	fs, configPath := newFlagSet("history")
	dbPath := fs.String("db", "", "SQLite history file (default: history.path from config)")
	limit := fs.IntP("limit", "n", 10, "Number of reports to show")
	testID := fs.String("id", "", "Print the full report with this test id")
	jsonOutput := fs.BoolP("json", "j", false, "Print as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *dbPath
	if path == "" {
		cfg, err := loadConfig(fs, *configPath)
		if err != nil {
			return err
		}
		path = cfg.History.Path
	}
	if path == "" {
		return errors.New("no history database: pass --db or set history.path")
	}

	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	if *testID != "" {
		report, err := store.Get(ctx, *testID)
		if err != nil {
			return err
		}
		if *jsonOutput {
			return writeJSON(report)
		}
		printReport(os.Stdout, report, 0)
		return nil
	}

	entries, err := store.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return writeJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("no reports stored")
		return nil
	}
	printHistory(os.Stdout, entries)
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
