package script

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tessera-social/app_platform/internal/platform/manifest"
)

// InspectOptions configure the static inspection pass.
type InspectOptions struct {
	// AllowedImports lists the platform modules app scripts may import.
	AllowedImports []string
	// AllowDangerous requests suppression of dangerous-pattern errors.
	AllowDangerous bool
	// Development must be independently confirmed by the runtime
	// configuration. AllowDangerous is ignored unless it is true, so a
	// stray production flag cannot disable the check.
	Development bool
}

var dangerousPatterns = []struct {
	re   *regexp.Regexp
	what string
}{
	{regexp.MustCompile(`\beval\s*\(`), "eval call"},
	{regexp.MustCompile(`\bnew\s+Function\s*\(`), "dynamic function construction"},
	{regexp.MustCompile(`\bFunction\s*\(\s*["'` + "`" + `]`), "dynamic function construction"},
	{regexp.MustCompile(`\bsetTimeout\s*\(\s*["'` + "`" + `]`), "string-evaluating setTimeout"},
	{regexp.MustCompile(`\bsetInterval\s*\(\s*["'` + "`" + `]`), "string-evaluating setInterval"},
}

var (
	importRe        = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w{}\s,*$]+\s+from\s+)?["']([^"']+)["']`)
	requireRe       = regexp.MustCompile(`\brequire\s*\(\s*["']([^"']+)["']\s*\)`)
	dynamicImportRe = regexp.MustCompile(`\bimport\s*\(`)
)

// Inspect runs the textual static-inspection pass over app source
// before any execution. Every finding is a hard error unless the
// dev-only override applies.
func Inspect(source string, opts InspectOptions) []manifest.Issue {
	var issues []manifest.Issue
	suppress := opts.AllowDangerous && opts.Development

	add := func(message string) {
		severity := manifest.SeverityError
		if suppress {
			severity = manifest.SeverityWarning
		}
		issues = append(issues, manifest.Issue{Severity: severity, Message: message, Path: "script"})
	}

	lines := strings.Split(source, "\n")
	for n, line := range lines {
		for _, p := range dangerousPatterns {
			if p.re.MatchString(line) {
				add(fmt.Sprintf("dangerous pattern on line %d: %s", n+1, p.what))
			}
		}
		if dynamicImportRe.MatchString(line) {
			add(fmt.Sprintf("dangerous pattern on line %d: dynamic import", n+1))
		}
	}

	allowed := make(map[string]bool, len(opts.AllowedImports))
	for _, mod := range opts.AllowedImports {
		allowed[mod] = true
	}
	for _, match := range importRe.FindAllStringSubmatch(source, -1) {
		if !allowed[match[1]] {
			add(fmt.Sprintf("import of %q outside the platform allow-list", match[1]))
		}
	}
	for _, match := range requireRe.FindAllStringSubmatch(source, -1) {
		if !allowed[match[1]] {
			add(fmt.Sprintf("require of %q outside the platform allow-list", match[1]))
		}
	}

	return issues
}
