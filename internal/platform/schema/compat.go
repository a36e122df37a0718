// Package schema judges compatibility between semantic versions of the
// app schema and platform core. It is shared by manifest validation at
// router build time and by the rollback path of the revision lifecycle.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Result is a compatibility judgment.
type Result struct {
	OK       bool     `json:"ok"`
	Err      string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Version is a parsed major.minor.patch triple.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Parse parses a version string. Missing minor/patch components
// default to zero; a leading "v" is tolerated.
func Parse(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}
	parts := strings.SplitN(s, ".", 3)
	var v Version
	var err error
	if v.Major, err = parseComponent(parts[0]); err != nil {
		return Version{}, fmt.Errorf("invalid major component %q", parts[0])
	}
	if len(parts) > 1 {
		if v.Minor, err = parseComponent(parts[1]); err != nil {
			return Version{}, fmt.Errorf("invalid minor component %q", parts[1])
		}
	}
	if len(parts) > 2 {
		// Strip any prerelease/build suffix.
		patch := parts[2]
		if i := strings.IndexAny(patch, "-+"); i >= 0 {
			patch = patch[:i]
		}
		if v.Patch, err = parseComponent(patch); err != nil {
			return Version{}, fmt.Errorf("invalid patch component %q", parts[2])
		}
	}
	return v, nil
}

func parseComponent(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("not a version component")
	}
	return n, nil
}

// Check judges a supplied version against a required one. A missing
// supplied version and a major mismatch are hard errors; minor and
// patch drift pass with warnings.
func Check(required, supplied string) Result {
	req, err := Parse(required)
	if err != nil {
		return Result{Err: fmt.Sprintf("invalid required version %q: %v", required, err)}
	}
	if strings.TrimSpace(supplied) == "" {
		return Result{Err: "supplied version is missing"}
	}
	sup, err := Parse(supplied)
	if err != nil {
		return Result{Err: fmt.Sprintf("invalid supplied version %q: %v", supplied, err)}
	}

	if req.Major != sup.Major {
		return Result{Err: fmt.Sprintf("major version mismatch: required %s, supplied %s", req, sup)}
	}

	var warnings []string
	if req.Minor != sup.Minor {
		warnings = append(warnings, fmt.Sprintf("minor version differs: required %s, supplied %s", req, sup))
	} else if req.Patch != sup.Patch {
		warnings = append(warnings, fmt.Sprintf("patch version differs: required %s, supplied %s", req, sup))
	}
	return Result{OK: true, Warnings: warnings}
}
