package route

import "net/http"

// masqueradePage is served for any path the router doesn't otherwise
// recognize, so the process looks like an ordinary static site to casual
// probing (SPEC_FULL.md §2's C13).
const masqueradePage = `<!DOCTYPE html>
<html><head><title>Index of /</title></head>
<body><h1>Index of /</h1><hr><pre> </pre><hr></body>
</html>
`

// NotFound renders masqueradePage with a 404 status, regardless of the
// path requested.
func NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(masqueradePage))
}
