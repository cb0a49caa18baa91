// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/treadle/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the treadle version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("treadle %s (%s/%s)\n", version.Get(), goruntime.GOOS, goruntime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
