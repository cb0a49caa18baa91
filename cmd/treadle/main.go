// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Command treadle is the runtime's CLI: the long-running engine plus
// chat loop, the subprocess classifier mode the self-tester spawns, and
// the operator surface (status, config, stream verification).
package main

import (
	"github.com/joho/godotenv"
)

func main() {
	// A local .env is optional; real environments set variables directly.
	_ = godotenv.Load()
	Execute()
}
