package worker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/brewlink/internal/migrate"
	"github.com/nerrad567/brewlink/internal/protocol"
)

// Controller modes carried in the "mode" setting.
const (
	modeBeer   = "b"
	modeFridge = "f"
	modeOff    = "o"
)

// translate turns a control message into controller commands. stop is true
// for quit messages.
func translate(msg protocol.ControlMessage) (cmds []protocol.Command, stop bool, err error) {
	switch msg.Type {
	case protocol.CtlStopScript, protocol.CtlQuit:
		return nil, true, nil

	case protocol.CtlSetParameters:
		body := strings.TrimSpace(msg.Body)
		var obj map[string]any
		if err := json.Unmarshal([]byte(body), &obj); err != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", ErrBadCommand, msg.Type, err)
		}
		return []protocol.Command{protocol.ApplySettings([]byte(body))}, false, nil

	case protocol.CtlSetBeer:
		return setpoint(msg, modeBeer, "beerSet")

	case protocol.CtlSetFridge:
		return setpoint(msg, modeFridge, "fridgeSet")

	case protocol.CtlSetOff:
		return applyOrdered(migrate.Settings{{Key: "mode", Value: modeOff}})

	case protocol.CtlLCD:
		return []protocol.Command{protocol.CmdLCD}, false, nil

	case protocol.CtlRaw:
		if msg.Body == "" {
			return nil, false, fmt.Errorf("%w: raw needs a command", ErrBadCommand)
		}
		return []protocol.Command{protocol.Command(msg.Body)}, false, nil

	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Type)
	}
}

func setpoint(msg protocol.ControlMessage, mode, key string) ([]protocol.Command, bool, error) {
	temp, err := strconv.ParseFloat(strings.TrimSpace(msg.Body), 64)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", ErrBadCommand, msg.Type, err)
	}
	return applyOrdered(migrate.Settings{
		{Key: "mode", Value: mode},
		{Key: key, Value: temp},
	})
}

func applyOrdered(s migrate.Settings) ([]protocol.Command, bool, error) {
	payload, err := s.MarshalJSON()
	if err != nil {
		return nil, false, err
	}
	return []protocol.Command{protocol.ApplySettings(payload)}, false, nil
}
