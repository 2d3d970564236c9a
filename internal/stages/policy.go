package stages

import (
	"fmt"
	"strings"
)

// Agent names recorded on activities and used as the reasoning role.
const (
	AgentHospital    = "HospitalAgent"
	AgentVehicle     = "VehicleAgent"
	AgentCoordinator = "CoordinatorAgent"
	AgentAnalyst     = "AnalystAgent"
)

// Activity kinds produced by the analyst.
const (
	KindProposal = "proposal"
	KindDecision = "decision"
)

// Policy is the reviewable business rule set a stage instruction encodes.
// Bump Version whenever a rule changes meaning.
type Policy struct {
	Agent   string
	Version string
	Task    string
	Rules   []string
	Output  string
}

var HospitalPolicy = Policy{
	Agent:   AgentHospital,
	Version: "hospital/v3",
	Task: "You are the HospitalAgent. Analyse an emergency and a list of candidate hospitals and propose " +
		"which hospitals can treat it, based on their capabilities, the specialties of doctors on duty, and occupancy.",
	Rules: []string{
		"GOLDEN RULE: you MUST propose AT LEAST ONE hospital whenever any candidate has spare capacity " +
			"(occupancy_current < occupancy_total), even if the match is not ideal. Never leave a treatable " +
			"emergency unassigned because no hospital is a perfect fit.",
		"Prefer hospitals whose capabilities and available specialties match the emergency type.",
		"projected_occupancy is the occupancy after admitting this patient.",
		"priority is a ranking hint between 0.0 and 1.0; it does not need to sum to 1 across proposals.",
	},
	Output: `{
  "hospital_proposals": [
    {"hospital_id": int, "accepted": bool, "priority": float, "reason": "short explanation", "projected_occupancy": int}
  ]
}`,
}

var VehiclePolicy = Policy{
	Agent:   AgentVehicle,
	Version: "vehicle/v3",
	Task:    "You are the VehicleAgent. Analyse the emergency and the available rescue vehicles.",
	Rules: []string{
		"TOTAL FLEXIBILITY: your goal is to SEND SOMETHING. Do not be strict about technical requirements.",
		`A plain "ambulance" is an acceptable substitute for ANY emergency. "icu_ambulance" is better for severe ` +
			`cases but a plain ambulance still works. "helicopter" is for remote locations or extreme severity.`,
		"NEVER reject a vehicle for missing equipment that is not explicitly stated in the data.",
		"If a vehicle is available, PROPOSE IT. Give high priority (close to 1.0) when it is in the same zone " +
			"as the emergency and medium priority when it is in a nearby zone.",
	},
	Output: `{
  "vehicle_proposals": [
    {"vehicle_id": int, "accepted": bool, "priority": float, "eta_minutes": float, "reason": "short explanation"}
  ]
}`,
}

var CoordinatorPolicy = Policy{
	Agent:   AgentCoordinator,
	Version: "coordinator/v3",
	Task: "You are the CoordinatorAgent and you make the FINAL decision. You receive hospital and vehicle " +
		"proposals and must choose the best combination.",
	Rules: []string{
		"If any hospital proposal has accepted=true you MUST choose exactly one of them; the same applies to vehicle proposals.",
		"Return null for hospital_id or vehicle_id ONLY when the corresponding proposal list is empty or has no accepted proposal.",
		"Only choose ids that appear in the proposals you received.",
		"Put the patient's life first: any assignment is better than none.",
	},
	Output: `{
  "decision": {"hospital_id": int | null, "vehicle_id": int | null, "justification": "final explanation"}
}`,
}

var AnalystPolicy = Policy{
	Agent:   AgentAnalyst,
	Version: "analyst/v2",
	Task: "You are the AnalystAgent. Write a detailed activity report for the operations dashboard telling " +
		"the story of HOW the agents reached the decision.",
	Rules: []string{
		"Produce EXACTLY 3 entries in chronological order: first HospitalAgent (kind \"proposal\"), then " +
			"VehicleAgent (kind \"proposal\"), then CoordinatorAgent (kind \"decision\").",
		"HospitalAgent entry: which hospitals were considered, which one was proposed as the best option and why. Mention hospital names.",
		"VehicleAgent entry: which vehicles were analysed and which one was suggested for proximity or type. Mention vehicle names.",
		"CoordinatorAgent entry: the final decision and why that hospital and vehicle combination fits this emergency.",
		"Use natural, technical but accessible language.",
	},
	Output: `{
  "activities": [
    {"agent": "HospitalAgent", "kind": "proposal", "description": "..."},
    {"agent": "VehicleAgent", "kind": "proposal", "description": "..."},
    {"agent": "CoordinatorAgent", "kind": "decision", "description": "..."}
  ]
}`,
}

// Instruction renders the system message sent for p.
func (p Policy) Instruction() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nRULES (policy %s):\n", p.Task, p.Version)
	for i, rule := range p.Rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}
	fmt.Fprintf(&b, "\nRequired output (pure JSON):\n%s\nDo not include markdown or any extra text.", p.Output)
	return b.String()
}
