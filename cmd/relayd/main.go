// Command relayd runs one replica of the collaborative document relay:
// the Session Handler, Document Room registry, Relay Broker, async
// snapshot persistence, and the read-only Snapshot Read API, all
// behind one HTTP listener.
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
