package protocol

import (
	"encoding/json"
	"strings"
)

// Command is a controller request. It is written followed by "\r\n".
type Command string

const (
	CmdVersion      Command = "n"
	CmdTemperatures Command = "t"
	CmdLCD          Command = "l"
	CmdSettings     Command = "s"
	CmdConstants    Command = "c"
	CmdVariables    Command = "v"
)

// ApplySettings builds the "j{...}" command that writes settings to the
// controller. payload must be a JSON object.
func ApplySettings(payload []byte) Command {
	return Command("j" + string(payload))
}

// Kind classifies an incoming line.
type Kind int

const (
	KindPlain Kind = iota
	KindVersion
	KindTemperatures
	KindLCD
	KindSettings
	KindConstants
	KindVariables
	KindDebug
	KindAnnotation
)

var kindByTag = map[byte]Kind{
	'N': KindVersion,
	'T': KindTemperatures,
	'L': KindLCD,
	'S': KindSettings,
	'C': KindConstants,
	'V': KindVariables,
	'D': KindDebug,
	'A': KindAnnotation,
}

var kindNames = map[Kind]string{
	KindPlain:        "plain",
	KindVersion:      "version",
	KindTemperatures: "temperatures",
	KindLCD:          "lcd",
	KindSettings:     "settings",
	KindConstants:    "constants",
	KindVariables:    "variables",
	KindDebug:        "debug",
	KindAnnotation:   "annotation",
}

func (k Kind) String() string { return kindNames[k] }

// Message is one decoded controller line.
type Message struct {
	Kind Kind

	// Raw is the line without its trailing "\r\n".
	Raw string

	// Payload is the JSON after the tag. It is nil for plain lines.
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// ParseLine classifies a line. A known tag followed by ':' and valid JSON
// is typed; everything else is KindPlain with the line unmodified.
func ParseLine(line string) Message {
	raw := strings.TrimRight(line, "\r\n")
	if len(raw) < 2 || raw[1] != ':' {
		return Message{Kind: KindPlain, Raw: raw}
	}

	kind, ok := kindByTag[raw[0]]
	if !ok {
		return Message{Kind: KindPlain, Raw: raw}
	}

	payload := strings.TrimSpace(raw[2:])
	if !json.Valid([]byte(payload)) {
		return Message{Kind: KindPlain, Raw: raw}
	}
	return Message{Kind: kind, Raw: raw, Payload: json.RawMessage(payload)}
}
