package subagent

import (
	"encoding/json"
	"fmt"

	"github.com/delegate-dev/delegate/pkg/ai"
	"github.com/delegate-dev/delegate/pkg/tools"
)

// CompleteTaskName is the synthetic tool every agent gets, whether or not
// its definition lists any tools. Calling it is the only way a run ends
// with ReasonGoal.
const CompleteTaskName = "complete_task"

// genericResult is the run result when the definition declares no output.
const genericResult = "Task completed successfully."

// completionDeclaration builds the complete_task schema. With an output
// spec, the tool takes exactly one required parameter named after the output
// field, carrying the field's schema. Without one it takes no parameters.
func completionDeclaration(out *OutputSpec) ai.FunctionDeclaration {
	if out == nil {
		return ai.FunctionDeclaration{
			Name:                 CompleteTaskName,
			Description:          "Mark the task as complete. Call this once, on its own, when all work is finished.",
			ParametersJSONSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		}
	}

	fieldSchema := json.RawMessage(`{}`)
	if len(out.Schema) > 0 {
		fieldSchema = out.Schema
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			out.Name: json.RawMessage(fieldSchema),
		},
		"required": []string{out.Name},
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		// Definition.Validate already rejected invalid schemas.
		panic(fmt.Sprintf("subagent: complete_task schema: %v", err))
	}

	desc := fmt.Sprintf("Mark the task as complete and deliver the final result in the %q argument. Call this once, on its own, when all work is finished.", out.Name)
	if out.Description != "" {
		desc = fmt.Sprintf("%s %s: %s", desc, out.Name, out.Description)
	}
	return ai.FunctionDeclaration{
		Name:                 CompleteTaskName,
		Description:          desc,
		ParametersJSONSchema: json.RawMessage(raw),
	}
}

// completionState tracks the first-wins completion protocol within a turn.
// The first accepted complete_task call settles the turn; later calls in the
// same turn get an error response and cannot revoke it. A validation failure
// on the call under consideration revokes nothing (acceptance only happens
// after validation passes) and the loop continues.
type completionState struct {
	accepted bool
	result   string
}

// handleCompletion processes one complete_task invocation against the
// definition's output spec and returns the tool response the model sees.
func handleCompletion(def *Definition, call ai.FunctionCall, st *completionState) ai.FunctionResponse {
	resp := ai.FunctionResponse{ID: call.ID, Name: call.Name}

	if st.accepted {
		resp.Error = "Task already marked complete in this turn."
		return resp
	}

	if def.Output == nil {
		st.accepted = true
		st.result = genericResult
		resp.Response = map[string]any{"result": genericResult}
		return resp
	}

	value, ok := call.Args[def.Output.Name]
	if !ok {
		resp.Error = fmt.Sprintf("Missing required argument '%s'", def.Output.Name)
		return resp
	}

	if len(def.Output.Schema) > 0 {
		if err := tools.Validate(def.Output.Schema, value); err != nil {
			resp.Error = fmt.Sprintf("Argument '%s' failed validation: %v", def.Output.Name, err)
			return resp
		}
	}

	st.accepted = true
	st.result = formatResult(def, value)
	resp.Response = map[string]any{"result": st.result}
	return resp
}

// formatResult turns the validated output value into the run's final result
// string: the definition's post-processor when it has one, otherwise the
// output object rendered as indented JSON.
func formatResult(def *Definition, value any) string {
	if def.ProcessOutput != nil {
		return def.ProcessOutput(value)
	}
	b, err := json.MarshalIndent(map[string]any{def.Output.Name: value}, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(b)
}
