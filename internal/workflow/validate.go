package workflow

import (
	"fmt"
	"strings"
)

// ValidateDefinition checks a workflow definition for structural errors
// before persistence or execution. It returns every detected problem so
// callers see the complete picture in one pass. Script bodies are not
// validated here; that is the code validator's job.
func ValidateDefinition(wf *Workflow) []error {
	if wf == nil {
		return []error{fmt.Errorf("workflow: definition is nil")}
	}

	var errs []error
	if strings.TrimSpace(wf.Name) == "" {
		errs = append(errs, fmt.Errorf("workflow: name must not be empty"))
	}

	seenIDs := make(map[string]bool, len(wf.Steps))
	seenNames := make(map[string]bool, len(wf.Steps))

	for i := range wf.Steps {
		step := &wf.Steps[i]
		label := step.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}

		if strings.TrimSpace(step.Name) == "" {
			errs = append(errs, fmt.Errorf("workflow: step %s: name must not be empty", label))
		} else if seenNames[step.Name] {
			errs = append(errs, fmt.Errorf("workflow: duplicate step name %q", step.Name))
		} else {
			seenNames[step.Name] = true
		}

		if step.ID != "" {
			if seenIDs[step.ID] {
				errs = append(errs, fmt.Errorf("workflow: duplicate step id %q", step.ID))
			}
			seenIDs[step.ID] = true
		}

		if !step.Type.Valid() {
			errs = append(errs, fmt.Errorf("workflow: step %q: unknown step type %q", label, step.Type))
			continue
		}

		errs = append(errs, validateStepConfig(step, label)...)

		if step.Retry != nil {
			if step.Retry.MaxRetries < 0 {
				errs = append(errs, fmt.Errorf("workflow: step %q: max_retries must not be negative", label))
			}
			if step.Retry.RetryDelaySeconds < 0 {
				errs = append(errs, fmt.Errorf("workflow: step %q: retry_delay_seconds must not be negative", label))
			}
		}

		if step.Condition != "" {
			if err := ParseCondition(step.Condition); err != nil {
				errs = append(errs, fmt.Errorf("workflow: step %q: condition: %w", label, err))
			}
		}
	}

	return errs
}

func validateStepConfig(step *Step, label string) []error {
	var errs []error

	switch step.Type {
	case StepPythonScript:
		if strings.TrimSpace(step.Code) == "" {
			errs = append(errs, fmt.Errorf("workflow: step %q: python_script requires a code body", label))
		}

	case StepAPICall:
		url, _ := step.Config["url"].(string)
		if strings.TrimSpace(url) == "" {
			errs = append(errs, fmt.Errorf("workflow: step %q: api_call requires config.url", label))
		} else if strings.Contains(url, "?") {
			// Query parameters belong in query_params, never inline.
			errs = append(errs, fmt.Errorf("workflow: step %q: url must not embed a query string", label))
		}
		if method, _ := step.Config["method"].(string); method != "" {
			switch strings.ToUpper(method) {
			case "GET", "POST", "PUT", "DELETE", "PATCH":
			default:
				errs = append(errs, fmt.Errorf("workflow: step %q: unsupported method %q", label, method))
			}
		}

	case StepLLMCall:
		prompt, _ := step.Config["prompt"].(string)
		if strings.TrimSpace(prompt) == "" {
			errs = append(errs, fmt.Errorf("workflow: step %q: llm_call requires config.prompt", label))
		}

	case StepCondition:
		cond, _ := step.Config["condition"].(string)
		if strings.TrimSpace(cond) == "" {
			errs = append(errs, fmt.Errorf("workflow: step %q: condition requires config.condition", label))
		} else if err := ParseCondition(cond); err != nil {
			errs = append(errs, fmt.Errorf("workflow: step %q: condition: %w", label, err))
		}

	case StepNotification:
		if typ, ok := step.Config["type"].(string); ok && typ != "" {
			switch typ {
			case "email", "log":
			default:
				errs = append(errs, fmt.Errorf("workflow: step %q: notification type must be email or log, got %q", label, typ))
			}
		}

	case StepDataTransform:
		rules, ok := step.Config["rules"].([]any)
		if !ok || len(rules) == 0 {
			errs = append(errs, fmt.Errorf("workflow: step %q: data_transform requires config.rules", label))
			break
		}
		for j, raw := range rules {
			rule, ok := raw.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Errorf("workflow: step %q: rule %d must be an object", label, j+1))
				continue
			}
			target, _ := rule["target"].(string)
			expr, _ := rule["expression"].(string)
			if strings.TrimSpace(target) == "" {
				errs = append(errs, fmt.Errorf("workflow: step %q: rule %d missing target", label, j+1))
			}
			if strings.TrimSpace(expr) == "" {
				errs = append(errs, fmt.Errorf("workflow: step %q: rule %d missing expression", label, j+1))
			} else if err := ParseCondition(expr); err != nil {
				errs = append(errs, fmt.Errorf("workflow: step %q: rule %d: %w", label, j+1, err))
			}
		}
	}

	return errs
}
