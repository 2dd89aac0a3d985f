package pycheck

import "strings"

// SuggestFix turns validation issues into a fix brief suitable for feeding
// back to whoever (or whatever) authored the script. Suggestions are
// deduplicated by category.
func SuggestFix(code string, issues []Issue) string {
	var suggestions []string
	seen := map[string]bool{}

	add := func(key, text string) {
		if !seen[key] {
			seen[key] = true
			suggestions = append(suggestions, text)
		}
	}

	for _, iss := range issues {
		msg := iss.Message
		switch {
		case strings.Contains(msg, "f-string"):
			add("fstring", "Extract subscripted values before the f-string:\n"+
				"  # before: f'Title: {news['title']}'\n"+
				"  # after:\n"+
				"  title = news.get('title', 'N/A')\n"+
				"  result = f\"Title: {title}\"")

		case strings.Contains(msg, "--variables"):
			add("varsfile", "Read variables from the JSON file named by --variables-file:\n"+
				"  variables = {}\n"+
				"  if '--variables-file' in sys.argv:\n"+
				"      idx = sys.argv.index('--variables-file')\n"+
				"      if idx + 1 < len(sys.argv):\n"+
				"          with open(sys.argv[idx + 1], 'r', encoding='utf-8') as f:\n"+
				"              variables = json.load(f)")

		case strings.Contains(msg, "JSON result"):
			add("stdout", "Finish the script with a single JSON document on stdout:\n"+
				"  result = {'status': 'success', 'data': your_data}\n"+
				"  print(json.dumps(result))")

		case strings.Contains(msg, "file=sys.stderr"):
			add("stderr", "Send log output to stderr so stdout stays machine-readable:\n"+
				"  print('debug message', file=sys.stderr)")

		case strings.Contains(msg, "try/except"):
			add("tryexcept", "Wrap the main body in try/except and report failures as JSON:\n"+
				"  try:\n"+
				"      ...\n"+
				"  except Exception as e:\n"+
				"      print(json.dumps({'status': 'error', 'error': str(e)}))")

		case strings.Contains(msg, "never imported"):
			add("imports", "Add the missing imports at the top of the script (import json, import sys).")
		}
	}

	if len(suggestions) == 0 {
		return "Fix the reported issues and try again."
	}
	return strings.Join(suggestions, "\n\n")
}
