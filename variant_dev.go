//go:build !prod

package labplot

import (
	"io/fs"
	"os"
)

// Dev builds serve the page straight from the source tree so edits to
// webui/ show up on reload. Run from the repository root.
func webuiFS() fs.FS {
	return os.DirFS("webui")
}

func openBrowser(url string) {}
