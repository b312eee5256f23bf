//go:build prod

package labplot

import (
	"embed"
	"io/fs"
	"os/exec"
	"runtime"

	"github.com/sirupsen/logrus"
)

//go:embed webui
var webuiFiles embed.FS

func webuiFS() fs.FS {
	sub, err := fs.Sub(webuiFiles, "webui")
	if err != nil {
		panic(err)
	}
	return sub
}

func browserCommand(url string) *exec.Cmd {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("cmd", "/c", "start", url)
	case "darwin":
		return exec.Command("open", url)
	default:
		return exec.Command("xdg-open", url)
	}
}

func openBrowser(url string) {
	if err := browserCommand(url).Start(); err != nil {
		logrus.WithError(err).WithField("url", url).Warn("failed to start web browser automatically, open the url yourself")
	}
}
