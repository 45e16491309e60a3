package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/director/api/schemas"
)

const decisionGuidelines = `Determine the immediate next step to take to achieve the goal.

Important guidelines:
1. Break down complex actions into individual atomic steps
2. For ACT commands, use only one action at a time, such as:
   - Single click on a specific element
   - Type into a single input field
   - Select a single option
3. Avoid combining multiple actions in one instruction
4. If multiple actions are needed, they should be separate steps

Tools:
- GOTO: instruction is the absolute URL to open
- ACT: instruction is one UI interaction in plain language
- EXTRACT: instruction describes the information to read from the page
- OBSERVE: instruction describes the elements to locate
- WAIT: instruction is a number of milliseconds
- NAVBACK: go back in history, instruction may be empty
- CLOSE: the goal has been achieved or cannot be achieved

If the goal has been achieved, return CLOSE.`

// buildDecisionPrompt renders the textual part of a next-step request.
func buildDecisionPrompt(goal, currentURL string, history []schemas.Step, last *schemas.Extraction) string {
	var sb strings.Builder

	sb.WriteString("Consider the following screenshot of a web page")
	if currentURL != "" {
		fmt.Fprintf(&sb, " (URL: %s)", currentURL)
	}
	fmt.Fprintf(&sb, ", with the goal being %q.\n", goal)

	if len(history) > 0 {
		sb.WriteString("Previous steps taken:\n")
		for i, step := range history {
			fmt.Fprintf(&sb, "\nStep %d:\n- Action: %s\n- Reasoning: %s\n- Tool Used: %s\n- Instruction: %s\n",
				i+1, step.Text, step.Reasoning, step.Tool, step.Instruction)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(decisionGuidelines)

	if last != nil {
		fmt.Fprintf(&sb, "\n\nThe result of the previous %s is: %s.", last.Kind, last.Render())
	}
	return sb.String()
}

// buildStartPrompt renders the starting-point request.
func buildStartPrompt(goal string) string {
	return fmt.Sprintf(`Given the goal: %q, determine the best URL to start from.
Choose from:
1. A relevant search engine (Google, Bing, etc.)
2. A direct URL if you're confident about the target website
3. Any other appropriate starting point

Return a URL that would be most effective for achieving this goal.`, goal)
}

// hasNavigated reports whether any step in history is a GOTO.
func hasNavigated(history []schemas.Step) bool {
	for _, s := range history {
		if s.Tool == schemas.ToolGoto {
			return true
		}
	}
	return false
}

func decisionSchema() *schemas.ResponseSchema {
	return &schemas.ResponseSchema{
		Name: "next_step",
		Type: schemas.SchemaObject,
		Properties: map[string]*schemas.ResponseSchema{
			"text":        {Type: schemas.SchemaString, Description: "Short description of the action shown to the user"},
			"reasoning":   {Type: schemas.SchemaString, Description: "Why this action moves toward the goal"},
			"tool":        {Type: schemas.SchemaString, Enum: schemas.ToolKindNames()},
			"instruction": {Type: schemas.SchemaString, Description: "Argument for the tool"},
		},
		Required: []string{"text", "reasoning", "tool", "instruction"},
	}
}

func startSchema() *schemas.ResponseSchema {
	return &schemas.ResponseSchema{
		Name: "starting_point",
		Type: schemas.SchemaObject,
		Properties: map[string]*schemas.ResponseSchema{
			"url":       {Type: schemas.SchemaString, Format: "uri", Description: "Absolute http or https URL"},
			"reasoning": {Type: schemas.SchemaString},
		},
		Required: []string{"url", "reasoning"},
	}
}
