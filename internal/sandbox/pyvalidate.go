package sandbox

import "regexp"

// forbiddenCalls are the builtins spec §4.3 bans from sandboxed Python:
// {open, eval, exec, compile, __import__}.
var forbiddenCalls = []string{"open", "eval", "exec", "compile", "__import__"}

// importStmt matches "import x" / "from x import y" at the start of a
// logical line (after stripping indentation), the two import forms spec
// §4.3 bans outright.
var importStmt = regexp.MustCompile(`(?m)^[ \t]*(import\s|from\s+\S+\s+import\s)`)

func forbiddenCallPattern() *regexp.Regexp {
	// word-boundary-guarded "name(" for each forbidden builtin.
	pat := `\b(`
	for i, name := range forbiddenCalls {
		if i > 0 {
			pat += "|"
		}
		pat += regexp.QuoteMeta(name)
	}
	pat += `)\s*\(`
	return regexp.MustCompile(pat)
}

var callPattern = forbiddenCallPattern()

// ValidatePython is the "AST validation" step of spec §4.3. No Go package in
// the retrieval pack parses Python, so this is a deliberate, documented
// token-pattern scan rather than a real parser (see DESIGN.md): it rejects
// any import/from-import statement and any call to a forbidden builtin.
// ok==false means the code must not run; violation names what was found.
func ValidatePython(code string) (ok bool, violation string) {
	if loc := importStmt.FindString(code); loc != "" {
		return false, "import statement is outside the permitted subset"
	}
	if m := callPattern.FindString(code); m != "" {
		return false, "call to forbidden builtin: " + m
	}
	return true, ""
}
