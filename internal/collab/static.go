package collab

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SPAHandler serves the built web client from dir. Unknown paths fall back to
// index.html so client-side routes resolve.
func SPAHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clean := path.Clean("/" + r.URL.Path)
		if clean != "/" {
			p := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
			if info, err := os.Stat(p); err != nil || info.IsDir() {
				http.ServeFile(w, r, filepath.Join(dir, "index.html"))
				return
			}
		}
		fs.ServeHTTP(w, r)
	})
}
