package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		kind    Kind
		payload string
	}{
		{`T:{"BeerTemp":19.5,"FridgeTemp":4.1}` + "\r\n", KindTemperatures, `{"BeerTemp":19.5,"FridgeTemp":4.1}`},
		{`N:{"v":"0.4.0"}`, KindVersion, `{"v":"0.4.0"}`},
		{`L:["Mode   Off","Beer  19.5"]`, KindLCD, `["Mode   Off","Beer  19.5"]`},
		{`S:{"mode":"o"}`, KindSettings, `{"mode":"o"}`},
		{`C:{"tempFormat":"C"}`, KindConstants, `{"tempFormat":"C"}`},
		{`V:{"beerDiff":0.1}`, KindVariables, `{"beerDiff":0.1}`},
		{`D:{"logType":"I","logID":1}`, KindDebug, `{"logType":"I","logID":1}`},
		{`A:{"text":"fermentation start"}`, KindAnnotation, `{"text":"fermentation start"}`},
		{"Controller restarted\r\n", KindPlain, ""},
		{`T:not json`, KindPlain, ""},
		{`Q:{"x":1}`, KindPlain, ""},
		{"", KindPlain, ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			m := ParseLine(tt.line)
			assert.Equal(t, tt.kind, m.Kind)
			assert.Equal(t, tt.payload, string(m.Payload))
			assert.NotContains(t, m.Raw, "\n")
		})
	}
}

func TestParseLine_PlainIsUnmodified(t *testing.T) {
	m := ParseLine("  odd = spacing: kept \r\n")
	assert.Equal(t, KindPlain, m.Kind)
	assert.Equal(t, "  odd = spacing: kept ", m.Raw)
}

func TestMessage_Decode(t *testing.T) {
	m := ParseLine(`T:{"BeerTemp":19.5,"State":2}`)
	var row map[string]any
	require.NoError(t, m.Decode(&row))
	assert.Equal(t, 19.5, row["BeerTemp"])
}

func TestApplySettings(t *testing.T) {
	assert.Equal(t, Command(`j{"mode":"b","beerSet":20}`), ApplySettings([]byte(`{"mode":"b","beerSet":20}`)))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "temperatures", KindTemperatures.String())
	assert.Equal(t, "plain", KindPlain.String())
}
