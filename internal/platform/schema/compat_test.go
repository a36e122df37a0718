package schema

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Version
		err  bool
	}{
		{"1.2.3", Version{1, 2, 3}, false},
		{"v2.0.0", Version{2, 0, 0}, false},
		{"1", Version{1, 0, 0}, false},
		{"1.4", Version{1, 4, 0}, false},
		{"1.0.0-beta.1", Version{1, 0, 0}, false},
		{"", Version{}, true},
		{"a.b.c", Version{}, true},
		{"-1.0.0", Version{}, true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("Parse(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestCheckExactMatch(t *testing.T) {
	res := Check("1.0.0", "1.0.0")
	if !res.OK || res.Err != "" || len(res.Warnings) != 0 {
		t.Fatalf("exact match should be clean: %+v", res)
	}
}

func TestCheckMissingSuppliedIsError(t *testing.T) {
	res := Check("1.0.0", "")
	if res.OK || res.Err == "" {
		t.Fatalf("missing supplied version must fail: %+v", res)
	}
}

func TestCheckMajorMismatchIsError(t *testing.T) {
	res := Check("1.0.0", "2.0.0")
	if res.OK {
		t.Fatalf("major mismatch must fail: %+v", res)
	}
	if !strings.Contains(res.Err, "major version mismatch") {
		t.Fatalf("unexpected error %q", res.Err)
	}
}

func TestCheckMinorDriftWarns(t *testing.T) {
	res := Check("1.0.0", "1.1.0")
	if !res.OK {
		t.Fatalf("minor drift must pass: %+v", res)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "minor version differs") {
		t.Fatalf("expected minor warning, got %v", res.Warnings)
	}
}

func TestCheckPatchDriftWarns(t *testing.T) {
	res := Check("1.0.0", "1.0.2")
	if !res.OK {
		t.Fatalf("patch drift must pass: %+v", res)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "patch version differs") {
		t.Fatalf("expected patch warning, got %v", res.Warnings)
	}
}
