// Command channelbus publishes, listens and issues data requests on a channel bus.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
