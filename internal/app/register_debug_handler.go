// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/relabs-tech/hyperbaric_controller/internal/plc"
)

// RegisterWriter is the raw PLC write path.
type RegisterWriter interface {
	WriteBit(register string, on bool) error
	WriteRegister(register string, value int) error
}

// RegisterDebug configures the commissioning endpoints. Writes bypass the
// session engine, so the controller only mounts them when asked to.
type RegisterDebug struct {
	Writer    RegisterWriter
	Registers plc.Registers
	Connected func() bool
}

// RegisterInfo describes one named PLC address.
type RegisterInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Kind    string `json:"kind"` // "bit" or "register"
}

// RegisterWriteCmd is one raw write. Exactly one of Bit and Value is set.
type RegisterWriteCmd struct {
	Address string `json:"addr"`
	Bit     *bool  `json:"bit,omitempty"`
	Value   *int   `json:"value,omitempty"`
}

var (
	bitAddress      = regexp.MustCompile(`^M[0-9]{4}$`)
	registerAddress = regexp.MustCompile(`^R[0-9]{5}$`)
)

// RegisterMap lists the addresses of r in a stable order.
func RegisterMap(r plc.Registers) []RegisterInfo {
	bit := func(name, addr string) RegisterInfo { return RegisterInfo{Name: name, Address: addr, Kind: "bit"} }
	reg := func(name, addr string) RegisterInfo { return RegisterInfo{Name: name, Address: addr, Kind: "register"} }
	return []RegisterInfo{
		bit("door", r.Door),
		bit("buzzer", r.Buzzer),
		bit("oxygen", r.Oxygen),
		bit("session_start", r.SessionStart),
		bit("drain", r.Drain),
		bit("live_bit", r.LiveBit),
		bit("alarm_reset", r.AlarmReset),
		bit("door_open", r.DoorOpen),
		bit("door_close", r.DoorClose),
		bit("door_forward", r.DoorForward),
		bit("door_backward", r.DoorBackward),
		reg("comp_valve", r.CompValve),
		reg("decomp_valve", r.DecompValve),
		reg("fan", r.Fan),
	}
}

// Validate checks the address against the write kind.
func (c RegisterWriteCmd) Validate() error {
	switch {
	case (c.Bit == nil) == (c.Value == nil):
		return fmt.Errorf("exactly one of bit and value is required")
	case c.Bit != nil && !bitAddress.MatchString(c.Address):
		return fmt.Errorf("invalid bit address %q", c.Address)
	case c.Value != nil && !registerAddress.MatchString(c.Address):
		return fmt.Errorf("invalid register address %q", c.Address)
	case c.Value != nil && (*c.Value < 0 || *c.Value > 65535):
		return fmt.Errorf("register value %d out of range", *c.Value)
	}
	return nil
}

func (a *api) registerMap(w http.ResponseWriter, r *http.Request) {
	d := a.cfg.RegisterDebug
	connected := true
	if d.Connected != nil {
		connected = d.Connected()
	}
	a.respondJSON(w, http.StatusOK, struct {
		Connected bool           `json:"connected"`
		Registers []RegisterInfo `json:"registers"`
		Valves    map[string]any `json:"valves"`
	}{
		Connected: connected,
		Registers: RegisterMap(d.Registers),
		Valves: map[string]any{
			"comp_analog_lower":   d.Registers.CompAnalogLower,
			"decomp_analog_lower": d.Registers.DecompAnalogLower,
			"valve_analog_upper":  d.Registers.ValveAnalogUpper,
			"fan_speeds":          d.Registers.FanSpeeds,
		},
	})
}

func (a *api) registerWrite(w http.ResponseWriter, r *http.Request) {
	var cmd RegisterWriteCmd
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		respondError(w, http.StatusBadRequest, "invalid write body: "+err.Error())
		return
	}
	if err := cmd.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		err   error
		value string
	)
	if cmd.Bit != nil {
		err = a.cfg.RegisterDebug.Writer.WriteBit(cmd.Address, *cmd.Bit)
		value = strconv.FormatBool(*cmd.Bit)
	} else {
		err = a.cfg.RegisterDebug.Writer.WriteRegister(cmd.Address, *cmd.Value)
		value = strconv.Itoa(*cmd.Value)
	}
	if err != nil {
		a.logger.Error(err, "register write failed", "addr", cmd.Address)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	a.logger.Info("register written", "addr", cmd.Address, "value", value)
	a.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "addr": cmd.Address, "value": value})
}
