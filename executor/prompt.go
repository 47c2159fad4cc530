package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mohitkumar/agentorchy/model"
)

const contextPreviewLen = 2000

// BuildPrompt renders the instruction sent to the generator for one step.
func BuildPrompt(agent model.Agent, sc model.StepContext, sections []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, %s.\n", agent.Name, agent.Title)
	fmt.Fprintf(&b, "Role: %s\n", agent.Role)
	if agent.Persona != "" {
		fmt.Fprintf(&b, "Persona: %s\n", agent.Persona)
	}
	fmt.Fprintf(&b, "\nCommand: %s\n", sc.Step.Action)
	fmt.Fprintf(&b, "Step %d: %s\n", sc.StepIndex+1, sc.Step.Name)
	fmt.Fprintf(&b, "\nUser request:\n%s\n", sc.UserPrompt)

	if len(sc.Context) > 0 {
		b.WriteString("\nPrior work:\n")
		for _, k := range sortedStrings(mapKeys(sc.Context)) {
			fmt.Fprintf(&b, "### %s\n%s\n", k, preview(sc.Context[k]))
		}
	}
	if len(sc.Inputs) > 0 {
		data, _ := json.Marshal(sc.Inputs)
		fmt.Fprintf(&b, "\nInputs: %s\n", data)
	}
	if sc.Elicitation != nil {
		fmt.Fprintf(&b, "\nThe operator answered: %s\n", sc.Elicitation.Response)
	}
	if len(sc.Step.Creates) > 0 {
		fmt.Fprintf(&b, "\nProduce: %s\n", strings.Join(sc.Step.Creates, ", "))
	}
	if len(sections) > 0 {
		fmt.Fprintf(&b, "\nStructure the answer with these markdown sections: %s.\n", strings.Join(sections, ", "))
	}
	return b.String()
}

// MissingSections lists required sections absent from text. A section counts
// when a line starts with it as a heading, a bold label or a "Name:" label.
func MissingSections(text string, sections []string) []string {
	missing := make([]string, 0)
	for _, s := range sections {
		re := regexp.MustCompile(`(?im)^\s*(?:#{1,6}\s*)?(?:\*\*)?` + regexp.QuoteMeta(s) + `(?:\*\*)?\s*(?::|$)`)
		if !re.MatchString(text) {
			missing = append(missing, s)
		}
	}
	return missing
}

func preview(v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprintf("%v", val)
		} else {
			s = string(data)
		}
	}
	if len(s) > contextPreviewLen {
		return s[:contextPreviewLen] + "..."
	}
	return s
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func sortedStrings(in []string) []string {
	sort.Strings(in)
	return in
}
