package protocol

import (
	"encoding/json"
	"strings"

	"github.com/nerrad567/brewlink/internal/migrate"
)

// Board is the one-letter board code reported by the firmware.
type Board string

const (
	BoardUnknown   Board = ""
	BoardUno       Board = "s"
	BoardLeonardo  Board = "l"
	BoardMega      Board = "m"
	BoardSparkCore Board = "x"
	BoardPhoton    Board = "y"
	BoardP1        Board = "p"
	BoardESP8266   Board = "e"
	BoardESP32     Board = "3"
)

var boardNames = map[Board]string{
	BoardUno:       "Uno",
	BoardLeonardo:  "Leonardo",
	BoardMega:      "Mega",
	BoardSparkCore: "Spark Core",
	BoardPhoton:    "Photon",
	BoardP1:        "P1",
	BoardESP8266:   "ESP8266",
	BoardESP32:     "ESP32",
}

// Name returns the board's display name, or "unknown".
func (b Board) Name() string {
	if n, ok := boardNames[b]; ok {
		return n
	}
	return "unknown"
}

// Family groups boards that share firmware builds.
func (b Board) Family() string {
	switch b {
	case BoardUno, BoardLeonardo, BoardMega:
		return "Arduino"
	case BoardSparkCore, BoardPhoton, BoardP1:
		return "Particle"
	case BoardESP8266, BoardESP32:
		return "ESP"
	default:
		return "unknown"
	}
}

// Shield is the numeric shield revision code.
type Shield int

const (
	ShieldUnknown Shield = 0
	ShieldRevA    Shield = 1
	ShieldRevC    Shield = 2
	ShieldV1      Shield = 3
	ShieldV2      Shield = 4
	ShieldV3      Shield = 5
)

var shieldNames = map[Shield]string{
	ShieldRevA: "revA",
	ShieldRevC: "revC",
	ShieldV1:   "V1",
	ShieldV2:   "V2",
	ShieldV3:   "V3",
}

// Name returns the shield's display name, or "unknown".
func (s Shield) Name() string {
	if n, ok := shieldNames[s]; ok {
		return n
	}
	return "unknown"
}

// ControllerVersion describes the firmware running on a controller.
// The zero value is the empty version: 0.0.0 with every other field unset.
type ControllerVersion struct {
	Version   migrate.Version
	Board     Board
	Shield    Shield
	Simulator bool
	Build     string
	Commit    string
	Log       int
}

// EmptyVersion returns the sentinel used when no version is known.
func EmptyVersion() ControllerVersion {
	return ControllerVersion{Version: migrate.MustParseVersion("0.0.0")}
}

// Known reports whether the version came from a real reply.
func (v ControllerVersion) Known() bool {
	return v.Board != BoardUnknown || v.Version.Compare(migrate.MustParseVersion("0.0.0")) != 0
}

func (v ControllerVersion) String() string {
	if !v.Known() {
		return "unknown"
	}
	s := v.Version.String()
	if v.Board != BoardUnknown {
		s += " " + v.Board.Name()
	}
	if v.Shield != ShieldUnknown {
		s += " " + v.Shield.Name()
	}
	if v.Simulator {
		s += " (simulator)"
	}
	return s
}

type versionWire struct {
	V string          `json:"v"`
	N json.RawMessage `json:"n"`
	C string          `json:"c"`
	B string          `json:"b"`
	Y int             `json:"y"`
	S int             `json:"s"`
	L int             `json:"l"`
}

// ParseVersion parses a version reply. It accepts the JSON form
// {"v":"1.2.3","c":"<commit>","b":"l","y":1,"s":2}, with or without an
// "N:" prefix, and the legacy bare form "0.2.4". Anything unparseable
// yields EmptyVersion.
func ParseVersion(s string) ControllerVersion {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "N:")

	if obj, ok := extractObject(s); ok {
		var w versionWire
		if err := json.Unmarshal([]byte(obj), &w); err != nil {
			return EmptyVersion()
		}
		sem, err := migrate.ParseVersion(w.V)
		if err != nil {
			return EmptyVersion()
		}
		return ControllerVersion{
			Version:   sem,
			Board:     Board(w.B),
			Shield:    Shield(w.S),
			Simulator: w.Y == 1,
			Build:     rawString(w.N),
			Commit:    w.C,
			Log:       w.L,
		}
	}

	sem, err := migrate.ParseVersion(s)
	if err != nil {
		return EmptyVersion()
	}
	return ControllerVersion{Version: sem}
}

// extractObject returns the substring from the first '{' up to and
// including the first '}' after it.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(s[start:], '}')
	if end < 0 {
		return "", false
	}
	return s[start : start+end+1], true
}

// rawString renders a JSON scalar that may be a string or a number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
