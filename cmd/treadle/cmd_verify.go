// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/treadle/pkg/config"
	"github.com/teradata-labs/treadle/pkg/storage"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [stream...]",
	Short: "Scan the JSONL streams for corrupt and duplicate records",
	Long: heredoc.Doc(`
		Verify walks every known stream under work/memory (or only the
		named streams), counting records, unparsable lines, and exact
		duplicates. With --fix each damaged stream is rewritten without
		the bad lines: the cleaned copy lands atomically and the
		original is kept next to it as <stream>.jsonl.bak.
	`),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().Bool("fix", false, "rewrite damaged streams, keeping a .bak of the original")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	fix, _ := cmd.Flags().GetBool("fix")

	store, err := storage.NewStore(config.GetMemoryDir(), zap.NewNop(), nil)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	var results []storage.VerifyResult
	if len(args) > 0 {
		for _, stream := range args {
			res, err := store.Verify(stream, fix)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
	} else {
		if results, err = store.VerifyAll(fix); err != nil {
			return err
		}
	}

	damaged := 0
	for _, res := range results {
		fmt.Printf("%-20s %6d records, %d corrupt, %d duplicate\n",
			res.Stream, res.Total, res.Corrupt, res.Duplicates)
		if res.Corrupt == 0 && res.Duplicates == 0 {
			continue
		}
		damaged++
		if res.Fixed {
			fmt.Printf("%-20s fixed: %d records kept, original saved as %s.jsonl.bak\n",
				res.Stream, res.Good, res.Stream)
		}
	}

	if damaged > 0 && !fix {
		return fmt.Errorf("%d stream(s) need attention (re-run with --fix)", damaged)
	}
	return nil
}
