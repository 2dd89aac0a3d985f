package assist

import (
	"encoding/json"
	"fmt"
	"strings"
)

// builderSystemPrompt instructs the model authoring a new definition. The
// schema section mirrors the structural validator; the script rules mirror
// the code validator and the sandbox protocol.
const builderSystemPrompt = `You design workflows for an automation engine. Turn the user's request into a complete workflow definition.

Reply with exactly one JSON object and no prose around it:

{
  "workflow": { ...the definition... },
  "questions": [],
  "ready": true
}

If the request is missing information you cannot reasonably assume, set "ready" to false, leave "workflow" null, and list what you need to know in "questions". Otherwise make sensible assumptions and produce the workflow.

A definition looks like:

{
  "name": "Daily weather report",
  "description": "Fetches the forecast and mails a summary",
  "tags": ["weather"],
  "steps": [ ... ],
  "variables": { "city": "Berlin" },
  "metadata": { "python_requirements": ["requests"] }
}

Keep workflows to three to five focused steps. Each step:

{
  "name": "Fetch forecast",
  "step_type": "api_call",
  "order": 1,
  "config": { ...depends on step_type... },
  "code": "...python_script only...",
  "input_mapping": { "local_name": "workflow_variable" },
  "output_mapping": { "workflow_variable": "output.path.to.value" },
  "retry_config": { "max_retries": 2, "retry_delay_seconds": 1 },
  "condition": "optional expression; the step is skipped when false"
}

Never emit "id", "workflow_id", "version", or timestamp fields; the engine assigns them. Step names must be unique. String values in config may reference workflow variables as {variable_name}.

Step types and their config:
- "api_call": { "method": "GET", "url": "https://...", "query_params": {}, "headers": {}, "body": {} }. The url must not contain a query string; every parameter belongs in query_params. Methods: GET, POST, PUT, DELETE, PATCH.
- "python_script": config may carry { "description": "..." }; the script itself goes in the step's top-level "code" field.
- "llm_call": { "prompt": "...", "system_prompt": "...", "model": "...", "temperature": 0.2 }. Only prompt is required.
- "condition": { "condition": "count > 0" }.
- "approval": { "message": "shown to the approver" }. Pauses the run until someone approves.
- "notification": { "type": "email", "to": "...", "subject": "...", "message": "..." } or { "type": "log", "message": "..." }.
- "data_transform": { "rules": [ { "target": "variable_name", "expression": "price * quantity" } ] }.
` + scriptRules

// modifierSystemPrompt instructs the model revising an existing definition.
const modifierSystemPrompt = `You revise existing workflow definitions for an automation engine. You receive the current definition as JSON plus a change request, sometimes with evidence from a failed run.

Reply with exactly one JSON object and no prose around it:

{
  "workflow": { ...the complete modified definition... },
  "changes": ["one line per change you made"],
  "ready": true
}

Always return the whole definition, never a fragment or a diff. Keep everything the request does not touch exactly as it was, including step "id" values. Step code must always be complete; never use placeholders like "# rest unchanged".

When fixing a failure, address the root cause:
- KeyError usually means a missing variable; read it with variables.get("name", default) or add it to "variables".
- "Expecting value" JSON parse errors mean something other than the result was printed to stdout; move it to stderr.
- An unknown name in a condition means the expression references a variable no prior step produces; fix the output_mapping that should supply it.
` + scriptRules

// scriptRules is shared by both system prompts. Rules 1 through 4 restate
// the sandbox protocol; rule 5 is the f-string defect the validator rejects
// outright.
const scriptRules = `
Rules for python_script code, all mandatory:

1. Read input variables from the JSON file named by the --variables-file argument:

   import json
   import sys

   variables = {}
   args = sys.argv
   if "--variables-file" in args:
       with open(args[args.index("--variables-file") + 1]) as fh:
           variables = json.load(fh)

2. Print exactly one JSON document to stdout as the result, and nothing else:

   print(json.dumps({"status": "ok", "count": count}))

3. Logs and debug output go to stderr:

   print("processing...", file=sys.stderr)

4. Wrap the work in try/except. On failure print a JSON error to stdout and exit non-zero:

   except Exception as exc:
       print(json.dumps({"error": str(exc)}))
       sys.exit(1)

5. Never nest the same quote kind inside an f-string placeholder, and keep every placeholder on one line.
   Wrong: f"city: {data["city"]}"
   Right: city = data["city"] and then f"city: {city}"

6. Read optional inputs with variables.get("name", default) rather than variables["name"], and list third-party imports in metadata.python_requirements.`

// buildPrompt frames the user's description for the authoring round.
func buildPrompt(description string) string {
	return "Create a complete workflow for this request:\n\n" + description
}

// modifyPrompt frames the current definition and the change request.
func modifyPrompt(req ModifyRequest) (string, error) {
	current, err := json.MarshalIndent(req.Workflow, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding current definition: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Current workflow definition:\n\n```json\n")
	sb.Write(current)
	sb.WriteString("\n```\n\nModification request: ")
	sb.WriteString(req.Request)
	sb.WriteString("\n")
	if req.ErrorLogs != "" {
		sb.WriteString("\nEvidence from the failed run:\n\n```\n")
		sb.WriteString(strings.TrimSpace(req.ErrorLogs))
		sb.WriteString("\n```\n\nFix the root cause, not just the symptom.\n")
	}
	sb.WriteString("\nReturn the complete modified workflow and list every change in \"changes\".")
	return sb.String(), nil
}

// fixPrompt asks for a repaired definition after script validation failed.
func fixPrompt(findings []string) string {
	var sb strings.Builder
	sb.WriteString("The definition has script problems:\n\n")
	for _, f := range findings {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRegenerate the complete workflow JSON with these problems fixed. ")
	sb.WriteString("Change only what the fixes require. ")
	sb.WriteString("Extract subscripted values into local variables before using them inside f-strings.")
	return sb.String()
}
