// The wsignplayer command runs a Wrale Signage display: it pairs the device,
// syncs its content configuration, caches media and plays it.
package main

import "github.com/wrale/wrale-signage-player/internal/wsignplayer/cmd"

func main() {
	cmd.Execute()
}
