package orchestrator

import (
	"fmt"
	"strings"

	"query-orchestrator/internal/models"
)

const maxPromptTurns = 4

var actionVerbs = map[string]string{
	"on": "Turning on", "off": "Turning off", "lock": "Locking", "unlock": "Unlocking",
	"dim": "Dimming", "brighten": "Brightening", "open": "Opening", "close": "Closing",
	"mute": "Muting", "unmute": "Unmuting", "play": "Playing", "pause": "Pausing",
	"stop": "Stopping", "increase": "Raising", "decrease": "Lowering", "activate": "Activating",
	"set": "Setting",
}

func controlAction(entities map[string]string, zone string) models.ControlAction {
	a := models.ControlAction{
		Action: entities["action"],
		Device: entities["device"],
		Room:   entities["room"],
		Zone:   zone,
	}
	switch {
	case entities["temperature"] != "":
		a.Value = entities["temperature"]
		if a.Action == "" {
			a.Action = "set"
		}
		if a.Device == "" {
			a.Device = "thermostat"
		}
	case entities["brightness"] != "":
		a.Value = entities["brightness"] + "%"
	case entities["color"] != "":
		a.Value = entities["color"]
	}
	return a
}

// confirmation is the spoken acknowledgement of a control action.
func confirmation(a models.ControlAction) string {
	verb, ok := actionVerbs[a.Action]
	if !ok {
		verb = "Okay, updating"
	}
	target := a.Device
	if target == "" {
		target = "device"
	}
	if a.Room != "" {
		target = a.Room + " " + target
	}
	s := fmt.Sprintf("%s the %s", verb, target)
	if a.Value != "" {
		if a.Device == "thermostat" {
			s += " to " + a.Value + " degrees"
		} else {
			s += " to " + a.Value
		}
	}
	return s + "."
}

func webContext(results []models.RetrievalResult) string {
	var b strings.Builder
	for i, r := range results {
		if r.Snippet == "" && r.Title == "" {
			continue
		}
		fmt.Fprintf(&b, "[%d] %s: %s", i+1, r.Title, r.Snippet)
		if r.URL != "" {
			fmt.Fprintf(&b, " (%s)", r.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func buildPrompt(q models.Query, facts string) string {
	var b strings.Builder
	b.WriteString("You are a voice assistant. Answer in one or two short spoken sentences.\n")
	if facts != "" {
		b.WriteString("Use only these facts; say so if they do not answer the question.\n")
		b.WriteString("Facts:\n")
		b.WriteString(facts)
		b.WriteString("\n")
	}
	if turns := models.BoundTurns(q.PriorTurns, maxPromptTurns); len(turns) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
		}
	}
	if q.Zone != "" {
		fmt.Fprintf(&b, "The user is in the %s.\n", q.Zone)
	}
	fmt.Fprintf(&b, "Question: %s\nAnswer:", q.Text)
	return b.String()
}
