package script

import (
	"strings"
	"testing"

	"github.com/tessera-social/app_platform/internal/platform/manifest"
)

var baseOpts = InspectOptions{
	AllowedImports: []string{"platform/api", "platform/ui"},
}

func TestInspectCleanSource(t *testing.T) {
	source := `
import { render } from "platform/ui";
export function home(req) { return { status: 200, body: "ok" }; }
`
	if issues := Inspect(source, baseOpts); len(issues) != 0 {
		t.Fatalf("clean source flagged: %v", issues)
	}
}

func TestInspectRejectsEval(t *testing.T) {
	issues := Inspect(`const x = eval("1+1");`, baseOpts)
	if !manifest.HasErrors(issues) {
		t.Fatal("eval must be an error")
	}
	if !strings.Contains(issues[0].Message, "eval call") {
		t.Fatalf("unexpected message %q", issues[0].Message)
	}
}

func TestInspectRejectsDynamicFunction(t *testing.T) {
	for _, src := range []string{
		`const f = new Function("return 1");`,
		`const f = Function("return 1");`,
	} {
		if issues := Inspect(src, baseOpts); !manifest.HasErrors(issues) {
			t.Fatalf("dynamic function should be rejected: %s", src)
		}
	}
}

func TestInspectRejectsStringTimers(t *testing.T) {
	if issues := Inspect(`setTimeout("doThing()", 10);`, baseOpts); !manifest.HasErrors(issues) {
		t.Fatal("string setTimeout should be rejected")
	}
	// Function-argument timers are not string evaluation.
	if issues := Inspect(`setTimeout(() => doThing(), 10);`, baseOpts); manifest.HasErrors(issues) {
		t.Fatalf("function setTimeout wrongly rejected: %v", issues)
	}
}

func TestInspectRejectsDynamicImport(t *testing.T) {
	if issues := Inspect(`const mod = import("./x.js");`, baseOpts); !manifest.HasErrors(issues) {
		t.Fatal("dynamic import should be rejected")
	}
}

func TestInspectImportAllowList(t *testing.T) {
	if issues := Inspect(`import fs from "node:fs";`, baseOpts); !manifest.HasErrors(issues) {
		t.Fatal("import outside allow-list should be rejected")
	}
	if issues := Inspect(`const api = require("platform/api");`, baseOpts); manifest.HasErrors(issues) {
		t.Fatalf("allow-listed require wrongly rejected: %v", issues)
	}
}

func TestInspectOverrideNeedsConfirmedDevelopment(t *testing.T) {
	source := `eval("1");`

	// Flag alone is not enough: the environment must independently be
	// development, or the override is ignored.
	opts := baseOpts
	opts.AllowDangerous = true
	if issues := Inspect(source, opts); !manifest.HasErrors(issues) {
		t.Fatal("override must not apply outside development")
	}

	opts.Development = true
	issues := Inspect(source, opts)
	if manifest.HasErrors(issues) {
		t.Fatalf("override in development should downgrade to warnings: %v", issues)
	}
	if len(issues) == 0 {
		t.Fatal("downgraded findings must still be reported as warnings")
	}
}
