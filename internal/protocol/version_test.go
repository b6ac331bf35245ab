package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVersion_JSON(t *testing.T) {
	v := ParseVersion(`{"v":"1.2.3","b":"l","y":1,"s":2}`)

	assert.Equal(t, "1.2.3", v.Version.String())
	assert.Equal(t, BoardLeonardo, v.Board)
	assert.Equal(t, "Leonardo", v.Board.Name())
	assert.Equal(t, "Arduino", v.Board.Family())
	assert.True(t, v.Simulator)
	assert.Equal(t, ShieldRevC, v.Shield)
	assert.Equal(t, "revC", v.Shield.Name())
	assert.True(t, v.Known())
}

func TestParseVersion_FullReply(t *testing.T) {
	v := ParseVersion(`N:{"v":"0.4.4","n":"a1b2","c":"3f9e2d1","s":4,"y":0,"b":"y","l":1}` + "\r\n")

	assert.Equal(t, "0.4.4", v.Version.String())
	assert.Equal(t, "a1b2", v.Build)
	assert.Equal(t, "3f9e2d1", v.Commit)
	assert.Equal(t, BoardPhoton, v.Board)
	assert.Equal(t, "Particle", v.Board.Family())
	assert.Equal(t, ShieldV2, v.Shield)
	assert.False(t, v.Simulator)
}

func TestParseVersion_NumericBuild(t *testing.T) {
	v := ParseVersion(`{"v":"0.2.10","n":417,"b":"m"}`)
	assert.Equal(t, "417", v.Build)
	assert.Equal(t, "Mega", v.Board.Name())
}

func TestParseVersion_Legacy(t *testing.T) {
	v := ParseVersion("0.2.4")
	assert.Equal(t, "0.2.4", v.Version.String())
	assert.Equal(t, BoardUnknown, v.Board)
	assert.True(t, v.Known())
}

func TestParseVersion_EmptyOnBadInput(t *testing.T) {
	for _, in := range []string{"", "garbage", "{", `{"v":"x.y"}`, `{"v":1}`, "N:"} {
		v := ParseVersion(in)
		assert.False(t, v.Known(), "ParseVersion(%q)", in)
		assert.Equal(t, "0.0.0", v.Version.String(), "ParseVersion(%q)", in)
		assert.Equal(t, BoardUnknown, v.Board)
		assert.Equal(t, ShieldUnknown, v.Shield)
		assert.False(t, v.Simulator)
		assert.Equal(t, "unknown", v.String())
	}
}

func TestParseVersion_StopsAtFirstBrace(t *testing.T) {
	v := ParseVersion(`{"v":"0.4.0","b":"e"} trailing {"v":"9.9.9"}`)
	assert.Equal(t, "0.4.0", v.Version.String())
	assert.Equal(t, "ESP", v.Board.Family())
}

func TestBoardAndShieldNames(t *testing.T) {
	boards := map[Board]string{
		BoardUno: "Uno", BoardSparkCore: "Spark Core", BoardP1: "P1",
		BoardESP8266: "ESP8266", BoardESP32: "ESP32", Board("?"): "unknown",
	}
	for b, want := range boards {
		assert.Equal(t, want, b.Name())
	}

	shields := map[Shield]string{ShieldRevA: "revA", ShieldV1: "V1", ShieldV3: "V3", Shield(9): "unknown"}
	for s, want := range shields {
		assert.Equal(t, want, s.Name())
	}
}

func TestControllerVersion_String(t *testing.T) {
	v := ParseVersion(`{"v":"0.4.0","b":"s","s":1,"y":1}`)
	assert.Equal(t, "0.4.0 Uno revA (simulator)", v.String())
}
