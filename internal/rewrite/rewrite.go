// Package rewrite installs the web server rules that route requests for
// missing upload files to the retrieval endpoint.
package rewrite

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// FileName is the per-directory rules file the rules are written to.
	FileName = ".htaccess"

	markerStart = "# Start SX MEDIA STORAGE"
	markerEnd   = "# End SX MEDIA STORAGE"
)

var blockPattern = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(markerStart) + `\n.*?` + regexp.QuoteMeta(markerEnd))

// Block returns the marker-delimited rule block for target. An http(s)
// target is proxied to with the original request URI; anything else is used
// as the rewrite destination as is.
func Block(target string) string {
	rule := fmt.Sprintf(" RewriteRule .* %s [L]", target)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		rule = fmt.Sprintf(" RewriteRule .* %s%%{REQUEST_URI} [P,L]", strings.TrimRight(target, "/"))
	}
	return strings.Join([]string{
		markerStart,
		"<IfModule mod_rewrite.c>",
		"############################################",
		"## enable rewrites",
		"",
		" Options +FollowSymLinks",
		" RewriteEngine on",
		"",
		"############################################",
		"## never rewrite for existing files",
		" RewriteCond %{REQUEST_FILENAME} !-f",
		"",
		"############################################",
		"## hand everything else to media retrieval",
		"",
		rule,
		"</IfModule>",
		markerEnd,
	}, "\n")
}

// Contains reports whether data already holds a rule block.
func Contains(data []byte) bool {
	return blockPattern.Match(data)
}

// Install makes sure uploadsDir/.htaccess contains the rule block. It
// creates missing directories and the file, appends to an existing file
// without a block and leaves a file with a block untouched. It reports
// whether anything was written.
func Install(uploadsDir, target string) (bool, error) {
	if target == "" {
		return false, fmt.Errorf("rewrite target is empty")
	}
	path := filepath.Join(uploadsDir, FileName)

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("reading %q: %w", path, err)
	}
	if Contains(existing) {
		return false, nil
	}

	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		return false, fmt.Errorf("creating %q: %w", uploadsDir, err)
	}

	var out []byte
	if len(existing) > 0 {
		out = append(out, existing...)
		if existing[len(existing)-1] != '\n' {
			out = append(out, '\n')
		}
	}
	out = append(out, Block(target)...)
	out = append(out, '\n')

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return false, fmt.Errorf("writing %q: %w", path, err)
	}
	return true, nil
}
