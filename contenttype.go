package storagekit

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// Extensions the mime package does not know on minimal systems.
var extraContentTypes = map[string]string{
	".gz":      "application/gzip",
	".tgz":     "application/gzip",
	".tar":     "application/x-tar",
	".csv":     "text/csv",
	".md":      "text/markdown",
	".yaml":    "application/yaml",
	".yml":     "application/yaml",
	".parquet": "application/vnd.apache.parquet",
}

// ContentTypeOf guesses a MIME type from the file name, falling back to
// sniffing head when the extension is unknown. It returns "" when neither
// gives an answer.
func ContentTypeOf(name string, head []byte) string {
	ext := strings.ToLower(path.Ext(name))
	if ext != "" {
		if ct, ok := extraContentTypes[ext]; ok {
			return ct
		}
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	if len(head) > 0 {
		return http.DetectContentType(head)
	}
	return ""
}
