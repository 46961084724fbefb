// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ragstream runs the streaming retrieval-augmented chat server and
// a terminal client for it.
//
// # Usage
//
//	# Print a starting configuration
//	ragstream config defaults > ragstream.yaml
//
//	# Serve
//	ragstream serve --config ragstream.yaml
//
//	# Chat interactively, or ask one question
//	ragstream chat --url ws://127.0.0.1:3005/v1/chat/ws
//	ragstream ask "what is in the index?"
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
