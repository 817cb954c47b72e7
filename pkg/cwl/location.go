package cwl

import "strings"

// Supported URI schemes for File and Directory locations.
const (
	SchemeFile  = "file"
	SchemeHTTPS = "https"
	SchemeHTTP  = "http"
)

// ParseLocationScheme extracts the scheme from a location URI.
// Returns ("file", "/data/x.pdb") for "file:///data/x.pdb" and ("", raw)
// for bare strings with no scheme.
func ParseLocationScheme(location string) (scheme, path string) {
	if i := strings.Index(location, "://"); i > 0 {
		scheme = strings.ToLower(location[:i])
		path = location[i+3:]
		if scheme == SchemeFile {
			path = "/" + strings.TrimLeft(path, "/")
		}
		return scheme, path
	}
	return "", location
}

// FileLiteral converts a literal input value into the object form CWL
// expects for File and Directory typed inputs. Values that are already
// objects, or whose type is not file-like, are returned unchanged.
func FileLiteral(t string, v any) any {
	s, ok := v.(string)
	if !ok || !IsFileLike(t) || IsArray(t) {
		return v
	}
	class := "File"
	if BaseType(t) == "Directory" {
		class = "Directory"
	}
	obj := map[string]any{"class": class}
	if scheme, _ := ParseLocationScheme(s); scheme != "" {
		obj["location"] = s
	} else {
		obj["path"] = DecodePath(s)
	}
	return obj
}
