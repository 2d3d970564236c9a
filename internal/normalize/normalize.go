// Package normalize turns free-form reasoning output into typed stage payloads.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/reasoning"
)

// Kind selects the schema a response is decoded against. The value is the
// top-level key the stage instruction asks for.
type Kind string

const (
	KindHospitalProposals Kind = "hospital_proposals"
	KindVehicleProposals  Kind = "vehicle_proposals"
	KindDecision          Kind = "decision"
	KindActivities        Kind = "activities"
)

const fence = "```"

// Payload holds the decoded result for one Kind. Only the field matching
// Kind is meaningful; slices are never nil.
type Payload struct {
	Kind              Kind
	HospitalProposals []models.HospitalProposal
	VehicleProposals  []models.VehicleProposal
	Decision          models.Decision
	Activities        []models.ActivityRecord
}

// Empty returns the default payload for kind.
func Empty(kind Kind) Payload {
	return Payload{
		Kind:              kind,
		HospitalProposals: []models.HospitalProposal{},
		VehicleProposals:  []models.VehicleProposal{},
		Activities:        []models.ActivityRecord{},
	}
}

// Extract pulls the JSON candidate out of raw. A fence tagged json wins,
// then the first fence of any kind, then the trimmed text. Bare JSON comes
// back unchanged apart from surrounding whitespace.
func Extract(raw string) string {
	text := strings.TrimSpace(raw)
	if i := indexJSONFence(text); i >= 0 {
		return fencedBody(text[i+len(fence+"json"):])
	}
	if i := strings.Index(text, fence); i >= 0 {
		body := text[i+len(fence):]
		// drop an info string such as "javascript" on the opening line
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			first := strings.TrimSpace(body[:nl])
			if first != "" && !strings.ContainsAny(first[:1], "{[") {
				body = body[nl+1:]
			}
		}
		return fencedBody(body)
	}
	return text
}

// indexJSONFence returns the offset of the first fence whose tag is "json"
// in any ASCII case, or -1. Offsets always index text itself.
func indexJSONFence(text string) int {
	const tag = "json"
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], fence)
		if i < 0 {
			return -1
		}
		i += off
		rest := text[i+len(fence):]
		if len(rest) >= len(tag) && equalFoldASCII(rest[:len(tag)], tag) {
			return i
		}
		off = i + len(fence)
	}
	return -1
}

func equalFoldASCII(s, lower string) bool {
	for i := 0; i < len(lower); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lower[i] {
			return false
		}
	}
	return true
}

func fencedBody(rest string) string {
	if j := strings.Index(rest, fence); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

// Parse decodes raw against kind. It never fails: on malformed input it
// returns Empty(kind) and ok=false. Missing keys decode as empty values
// with ok=true.
func Parse(raw string, kind Kind) (Payload, bool) {
	p, err := Decode(raw, kind)
	return p, err == nil
}

// Decode is Parse with the decode failure reported as a
// reasoning.KindMalformedResponse error.
func Decode(raw string, kind Kind) (Payload, error) {
	out := Empty(kind)
	text := Extract(raw)
	var err error
	switch kind {
	case KindHospitalProposals:
		var doc struct {
			Proposals []models.HospitalProposal `json:"hospital_proposals"`
		}
		if err = json.Unmarshal([]byte(text), &doc); err == nil && doc.Proposals != nil {
			out.HospitalProposals = doc.Proposals
		}
	case KindVehicleProposals:
		var doc struct {
			Proposals []models.VehicleProposal `json:"vehicle_proposals"`
		}
		if err = json.Unmarshal([]byte(text), &doc); err == nil && doc.Proposals != nil {
			out.VehicleProposals = doc.Proposals
		}
	case KindDecision:
		var doc struct {
			Decision *models.Decision `json:"decision"`
		}
		if err = json.Unmarshal([]byte(text), &doc); err == nil && doc.Decision != nil {
			out.Decision = *doc.Decision
		}
	case KindActivities:
		var doc struct {
			Activities []models.ActivityRecord `json:"activities"`
		}
		if err = json.Unmarshal([]byte(text), &doc); err == nil && doc.Activities != nil {
			out.Activities = doc.Activities
		}
	default:
		return out, reasoning.NewMalformedResponse(fmt.Errorf("unknown payload kind %q", kind))
	}
	if err != nil {
		return Empty(kind), reasoning.NewMalformedResponse(fmt.Errorf("decode %s: %w", kind, err))
	}
	return out, nil
}
