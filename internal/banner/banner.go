// Package banner holds the version string and the startup banner shown
// when the interactive shell comes up.
package banner

import (
	"fmt"
	"io"
)

const Version = "0.1.0"

// Fprint writes the ASCII banner to w.
func Fprint(w io.Writer) {
	banner := `
  _________    __    ____  _   __
 /_  __/   |  / /   / __ \/ | / /
  / / / /| | / /   / / / /  |/ /
 / / / ___ |/ /___/ /_/ / /|  /
/_/ /_/  |_/_____/\____/_/ |_/   v%s - Falcon Alert Watcher
`
	fmt.Fprintf(w, banner, Version)
	fmt.Fprintln(w, "------------------------------------------------")
}
