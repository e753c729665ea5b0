// Command replay posts recorded or generated webhook payloads to a running ingestor.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
