package pycheck

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wellFormed is a script that follows every sandbox convention.
const wellFormed = `import json
import sys

variables = {}
if '--variables-file' in sys.argv:
    idx = sys.argv.index('--variables-file')
    if idx + 1 < len(sys.argv):
        with open(sys.argv[idx + 1], 'r', encoding='utf-8') as f:
            variables = json.load(f)

try:
    name = variables.get('name', 'world')
    print('processing', file=sys.stderr)
    print(json.dumps({'status': 'success', 'data': name}))
except Exception as e:
    print(json.dumps({'status': 'error', 'error': str(e)}))
`

func TestValidate_WellFormedScript(t *testing.T) {
	t.Parallel()
	res := Validate(context.Background(), wellFormed)
	assert.True(t, res.OK, "unexpected issues: %+v", res.Issues)
	assert.Empty(t, res.Issues)
}

func TestValidate_SyntaxError(t *testing.T) {
	t.Parallel()
	res := Validate(context.Background(), "def broken(:\n    pass\n")
	require.False(t, res.OK)
	require.Len(t, res.Issues, 1, "syntax errors short-circuit other checks")

	iss := res.Issues[0]
	assert.Equal(t, SeverityError, iss.Severity)
	assert.Contains(t, iss.Message, "syntax error")
	assert.Equal(t, 1, iss.Line)
}

func TestValidate_SyntaxErrorReportsLine(t *testing.T) {
	t.Parallel()
	code := "x = 1\ny = 2\nz = ((1 + 2\n"
	res := Validate(context.Background(), code)
	require.False(t, res.OK)
	require.NotEmpty(t, res.Issues)
	assert.GreaterOrEqual(t, res.Issues[0].Line, 3, "error should point at the broken line")
}

func TestValidate_FStringQuoteNesting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
	}{
		{name: "double in double", line: `msg = f"Title: {news["title"]}"`},
		{name: "single in single", line: `msg = f'Title: {news['title']}'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			issues := checkFStringQuotes(tt.line)
			require.NotEmpty(t, issues)
			assert.Equal(t, SeverityError, issues[0].Severity)
			assert.Equal(t, 1, issues[0].Line)
			assert.Contains(t, issues[0].Message, "f-string")
		})
	}
}

func TestValidate_FStringMixedQuotesAllowed(t *testing.T) {
	t.Parallel()
	// Different quote kinds are legal and must not be flagged.
	issues := checkFStringQuotes(`msg = f"Title: {news['title']}"`)
	assert.Empty(t, issues)
}

func TestValidate_MultilineFStringWarning(t *testing.T) {
	t.Parallel()
	issues := checkFStringQuotes("f\"start {value\n")
	require.NotEmpty(t, issues)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
}

func TestValidate_VariablesFlagInsteadOfFile(t *testing.T) {
	t.Parallel()
	code := `import json
import sys
args = sys.argv
if '--variables' in args:
    pass
try:
    print(json.dumps({'ok': True}))
except Exception:
    pass
`
	res := Validate(context.Background(), code)
	assert.True(t, res.OK, "warnings do not fail validation")
	assertHasIssue(t, res, SeverityWarning, "use --variables-file")
}

func TestValidate_NoArgvHandling(t *testing.T) {
	t.Parallel()
	code := "import json\nimport sys\ntry:\n    print(json.dumps({}))\nexcept Exception:\n    pass\n"
	res := Validate(context.Background(), code)
	assert.True(t, res.OK)
	assertHasIssue(t, res, SeverityWarning, "no --variables-file argument handling")
}

func TestValidate_VariablesFileWarningWithoutSysImport(t *testing.T) {
	t.Parallel()
	// A script that never touches sys still needs the warning: the sandbox
	// always passes variables through --variables-file.
	code := "import json\ntry:\n    print(json.dumps({'ok': True}))\nexcept Exception:\n    pass\n"
	res := Validate(context.Background(), code)
	assert.True(t, res.OK)
	assertHasIssue(t, res, SeverityWarning, "no --variables-file argument handling")
}

func TestValidate_ArgvWithoutVariablesFileStillWarns(t *testing.T) {
	t.Parallel()
	code := `import json
import sys
name = sys.argv[1] if len(sys.argv) > 1 else 'world'
try:
    print(json.dumps({'name': name}))
except Exception:
    pass
`
	res := Validate(context.Background(), code)
	assert.True(t, res.OK)
	assertHasIssue(t, res, SeverityWarning, "no --variables-file argument handling")
}

func TestValidate_MissingJSONOutput(t *testing.T) {
	t.Parallel()
	code := "x = 1\ntry:\n    x = 2\nexcept Exception:\n    pass\n"
	res := Validate(context.Background(), code)
	assert.True(t, res.OK)
	assertHasIssue(t, res, SeverityWarning, "no JSON result on stdout")
}

func TestValidate_BarePrintWarning(t *testing.T) {
	t.Parallel()
	code := `import json
try:
    print('debugging')
    print(json.dumps({'ok': True}))
except Exception:
    pass
`
	res := Validate(context.Background(), code)
	assert.True(t, res.OK)

	var line int
	for _, iss := range res.Issues {
		if iss.Severity == SeverityWarning && iss.Line > 0 {
			line = iss.Line
		}
	}
	assert.Equal(t, 3, line, "bare print should be attributed to its line")
}

func TestValidate_StderrPrintAccepted(t *testing.T) {
	t.Parallel()
	res := Validate(context.Background(), wellFormed)
	for _, iss := range res.Issues {
		assert.NotContains(t, iss.Message, "file=sys.stderr")
	}
}

func TestValidate_MissingTryExcept(t *testing.T) {
	t.Parallel()
	code := "import json\nprint(json.dumps({'ok': True}))\n"
	res := Validate(context.Background(), code)
	assert.True(t, res.OK)
	assertHasIssue(t, res, SeverityWarning, "no try/except")
}

func TestValidate_MissingImports(t *testing.T) {
	t.Parallel()
	code := "try:\n    print(json.dumps(sys.argv))\nexcept Exception:\n    pass\n"
	res := Validate(context.Background(), code)
	assert.True(t, res.OK)
	assertHasIssue(t, res, SeverityWarning, "json is used but never imported")
	assertHasIssue(t, res, SeverityWarning, "sys is used but never imported")
}

func TestValidate_EmptyScript(t *testing.T) {
	t.Parallel()
	res := Validate(context.Background(), "")
	// Empty parses fine; the protocol warnings still apply.
	assert.True(t, res.OK)
	assertHasIssue(t, res, SeverityWarning, "no JSON result on stdout")
}

func TestSuggestFix_CoversCategories(t *testing.T) {
	t.Parallel()
	issues := []Issue{
		{Severity: SeverityError, Message: "double quotes nested inside a double-quoted f-string; extract the value to a variable first"},
		{Severity: SeverityWarning, Message: "no --variables-file argument handling found"},
		{Severity: SeverityWarning, Message: "no JSON result on stdout; finish with print(json.dumps(...))"},
	}
	brief := SuggestFix("", issues)

	assert.Contains(t, brief, "Extract subscripted values")
	assert.Contains(t, brief, "--variables-file")
	assert.Contains(t, brief, "print(json.dumps(result))")
}

func TestSuggestFix_Deduplicates(t *testing.T) {
	t.Parallel()
	issues := []Issue{
		{Message: "single quotes nested inside a single-quoted f-string; extract the value to a variable first"},
		{Message: "double quotes nested inside a double-quoted f-string; extract the value to a variable first"},
	}
	brief := SuggestFix("", issues)
	assert.Equal(t, 1, strings.Count(brief, "Extract subscripted values"))
}

func TestSuggestFix_NoMatches(t *testing.T) {
	t.Parallel()
	brief := SuggestFix("", []Issue{{Message: "something unusual"}})
	assert.Equal(t, "Fix the reported issues and try again.", brief)
}

func assertHasIssue(t *testing.T, res Result, sev Severity, substr string) {
	t.Helper()
	for _, iss := range res.Issues {
		if iss.Severity == sev && strings.Contains(iss.Message, substr) {
			return
		}
	}
	t.Errorf("expected %s issue containing %q, got %+v", sev, substr, res.Issues)
}
