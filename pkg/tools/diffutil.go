// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type diffLine struct {
	op   byte // ' ', '+' or '-'
	text string
}

// unifiedDiff renders a unified diff between two texts. Returns ""
// when the inputs are identical.
func unifiedDiff(text1, text2, name1, name2 string, contextLines int) string {
	if contextLines < 0 {
		contextLines = 3
	}
	dmp := diffmatchpatch.New()
	c1, c2, arr := dmp.DiffLinesToChars(text1, text2)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), arr)

	var lines []diffLine
	changed := false
	for _, d := range diffs {
		op := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = '+'
			changed = true
		case diffmatchpatch.DiffDelete:
			op = '-'
			changed = true
		}
		for _, text := range splitDiffChunk(d.Text) {
			lines = append(lines, diffLine{op: op, text: text})
		}
	}
	if !changed {
		return ""
	}

	// Mark every changed line plus its context window; contiguous
	// marked runs become hunks.
	keep := make([]bool, len(lines))
	for i, l := range lines {
		if l.op == ' ' {
			continue
		}
		lo := i - contextLines
		if lo < 0 {
			lo = 0
		}
		hi := i + contextLines
		if hi >= len(lines) {
			hi = len(lines) - 1
		}
		for j := lo; j <= hi; j++ {
			keep[j] = true
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", name1, name2)
	oldLine, newLine := 1, 1
	i := 0
	for i < len(lines) {
		if !keep[i] {
			if lines[i].op != '+' {
				oldLine++
			}
			if lines[i].op != '-' {
				newLine++
			}
			i++
			continue
		}
		oldStart, newStart := oldLine, newLine
		oldCount, newCount := 0, 0
		var body strings.Builder
		for i < len(lines) && keep[i] {
			l := lines[i]
			body.WriteByte(l.op)
			body.WriteString(l.text)
			body.WriteByte('\n')
			if l.op != '+' {
				oldCount++
				oldLine++
			}
			if l.op != '-' {
				newCount++
				newLine++
			}
			i++
		}
		if oldCount == 0 {
			oldStart--
		}
		if newCount == 0 {
			newStart--
		}
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
		b.WriteString(body.String())
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// splitDiffChunk splits a line-mode diff chunk into its lines. A chunk
// holding a single blank line ("\n") yields one empty string.
func splitDiffChunk(chunk string) []string {
	if chunk == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(chunk, "\n"), "\n")
}
