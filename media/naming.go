package media

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]+`)

// FilePath joins a base path and a relative name with exactly one separator.
func FilePath(base, name string) string {
	base = strings.TrimRight(base, "/")
	name = strings.TrimLeft(name, "/")
	if base == "" {
		return name
	}
	return base + "/" + name
}

// CleanName normalizes separators and rejects names that could escape a base path.
func CleanName(name string) (string, error) {
	name = strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	if name == "" {
		return "", validationError("File name is empty.")
	}
	if strings.ContainsRune(name, 0) {
		return "", validationError("File name is invalid.")
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", validationError("File name is invalid.")
		}
	}
	return name, nil
}

// CorrectFileName reduces an uploaded file name to a safe character set.
// A name without a usable stem gets a random one.
func CorrectFileName(original string) string {
	base := path.Base(strings.ReplaceAll(original, "\\", "/"))
	ext := path.Ext(base)
	stem := unsafeNameChars.ReplaceAllString(strings.TrimSuffix(base, ext), "_")
	ext = unsafeNameChars.ReplaceAllString(ext, "")
	if strings.Trim(stem, "_.") == "" {
		stem = "file_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return stem + strings.ToLower(ext)
}

// DispersionPath derives sub-directories from the first two characters of name,
// e.g. "photo.png" -> "p/h".
func DispersionPath(name string) string {
	name = strings.ToLower(name)
	var parts []string
	for i := 0; i < len(name) && i < 2; i++ {
		c := name[i]
		if c == '.' {
			c = '_'
		}
		parts = append(parts, string(c))
	}
	return strings.Join(parts, "/")
}

// numberedName returns name with "_n" inserted before the extension.
func numberedName(name string, n int) string {
	ext := path.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// Extension returns the lower-cased extension without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// ReferencePath turns a media URL or path into a path relative to the media root by
// dropping everything up to and including the first whole "media" segment.
func ReferencePath(ref string) string {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "media/") {
		p = p[len("media/"):]
	} else if i := strings.Index(p, "/media/"); i >= 0 {
		p = p[i+len("/media/"):]
	}
	return strings.TrimLeft(p, "/")
}
