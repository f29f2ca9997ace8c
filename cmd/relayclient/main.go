// Command relayclient is a terminal demo/integration driver for the
// Client Sync Loop: each line typed on stdin becomes the new document
// buffer, and remote changes are printed as they arrive.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
