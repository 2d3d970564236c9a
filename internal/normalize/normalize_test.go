package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/dispatch/internal/reasoning"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"bare", `  {"a":1}  `, `{"a":1}`},
		{"json fence", "Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		{"upper-case tag", "```JSON\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "text\n```\n{\"a\":2}\n```", `{"a":2}`},
		{"other language tag", "```javascript\n{\"a\":3}\n```", `{"a":3}`},
		{"json fence wins over earlier fence", "```\nnot this\n```\n```json\n{\"a\":4}\n```", `{"a":4}`},
		{"unterminated fence", "```json\n{\"a\":5}", `{"a":5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Extract(tc.raw))
		})
	}
}

func TestExtractIsIdempotentOnBareJSON(t *testing.T) {
	raw := `{"hospital_proposals":[{"hospital_id":1}]}`
	once := Extract(raw)
	assert.Equal(t, raw, once)
	assert.Equal(t, once, Extract(once))
}

func TestParseHospitalProposals(t *testing.T) {
	raw := "```json\n" + `{"hospital_proposals":[{"hospital_id":"7","accepted":true,"priority":0.9,"reason":"trauma unit","projected_occupancy":61}]}` + "\n```"
	p, ok := Parse(raw, KindHospitalProposals)
	require.True(t, ok)
	require.Len(t, p.HospitalProposals, 1)
	got := p.HospitalProposals[0]
	assert.EqualValues(t, 7, got.HospitalID)
	assert.True(t, got.Accepted)
	assert.InDelta(t, 0.9, got.Priority, 1e-9)
	assert.Equal(t, 61, got.ProjectedOccupancy)
}

func TestParseMissingKeysDefaultToEmpty(t *testing.T) {
	for _, kind := range []Kind{KindHospitalProposals, KindVehicleProposals, KindDecision, KindActivities} {
		p, ok := Parse(`{"unrelated":true}`, kind)
		assert.True(t, ok, kind)
		assert.NotNil(t, p.HospitalProposals)
		assert.Empty(t, p.HospitalProposals)
		assert.NotNil(t, p.VehicleProposals)
		assert.NotNil(t, p.Activities)
		assert.Nil(t, p.Decision.HospitalID)
		assert.Nil(t, p.Decision.VehicleID)
	}
}

func TestParsePlaceholderIsEmptyAndOK(t *testing.T) {
	p, ok := Parse(reasoning.Placeholder, KindVehicleProposals)
	assert.True(t, ok)
	assert.Empty(t, p.VehicleProposals)
}

func TestParseMalformedNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"I could not decide.",
		"```\nnot json\n```",
		`{"vehicle_proposals": "none"}`,
		`[1,2,3]`,
		`{"vehicle_proposals":[{"vehicle_id":"abc"}]}`,
		`{"vehicle_proposals":[]} trailing`,
	}
	for _, raw := range inputs {
		p, err := Decode(raw, KindVehicleProposals)
		require.Error(t, err, raw)
		assert.Equal(t, reasoning.KindMalformedResponse, reasoning.Classify(err))
		assert.NotNil(t, p.VehicleProposals)
		assert.Empty(t, p.VehicleProposals)

		_, ok := Parse(raw, KindVehicleProposals)
		assert.False(t, ok, raw)
	}
}

func TestExtractKeepsOffsetsOnNonASCIIPrefix(t *testing.T) {
	p, ok := Parse(strings.Repeat("\xff", 20)+"```json{}```", KindDecision)
	assert.True(t, ok)
	assert.Nil(t, p.Decision.HospitalID)

	raw := "\u212a note:\n```JSON\n{\"decision\":{\"hospital_id\":4,\"vehicle_id\":2,\"justification\":\"closest\"}}\n```"
	p, ok = Parse(raw, KindDecision)
	require.True(t, ok)
	id, has := p.Decision.Hospital()
	require.True(t, has)
	assert.EqualValues(t, 4, id)
	assert.Equal(t, "closest", p.Decision.Justification)

	for _, raw := range []string{
		"```", "```js", "```jso", "\xff\xfe```json", strings.Repeat("\u212a", 10) + "```Json\n{",
	} {
		assert.NotPanics(t, func() { Parse(raw, KindDecision) }, raw)
	}
}

func TestParseDecisionNullFields(t *testing.T) {
	p, ok := Parse(`{"decision":{"hospital_id":null,"vehicle_id":null,"justification":"nothing available"}}`, KindDecision)
	require.True(t, ok)
	assert.Nil(t, p.Decision.HospitalID)
	assert.Nil(t, p.Decision.VehicleID)
	assert.Equal(t, "nothing available", p.Decision.Justification)
	_, has := p.Decision.Hospital()
	assert.False(t, has)
}

func TestParseDecisionIDs(t *testing.T) {
	p, ok := Parse(`{"decision":{"hospital_id":2,"vehicle_id":"5","justification":"closest"}}`, KindDecision)
	require.True(t, ok)
	h, hasH := p.Decision.Hospital()
	v, hasV := p.Decision.Vehicle()
	assert.True(t, hasH)
	assert.True(t, hasV)
	assert.EqualValues(t, 2, h)
	assert.EqualValues(t, 5, v)
}

func TestParseActivities(t *testing.T) {
	raw := `{"activities":[{"agent":"HospitalAgent","kind":"proposal","description":"a"},{"agent":"VehicleAgent","kind":"proposal","description":"b"}]}`
	p, ok := Parse(raw, KindActivities)
	require.True(t, ok)
	require.Len(t, p.Activities, 2)
	assert.Equal(t, "VehicleAgent", p.Activities[1].Agent)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode("{}", Kind("weather"))
	assert.Error(t, err)
}
