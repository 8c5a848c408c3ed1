// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package plc talks to the chamber PLC gateway. Frames and register writes
// travel as proprietary NMEA-0183 sentences over a serial link:
//
//	$PHBFR,<v0>,<v1>,...,<vN>*CS   gateway -> controller, one sample vector
//	$PHBWB,<register>,<0|1>*CS     controller -> gateway, write a bit
//	$PHBWR,<register>,<value>*CS   controller -> gateway, write a register
package plc

import (
	"fmt"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// Sentence types, without the proprietary prefix.
const (
	TypeFrame    = "HBFR"
	TypeWriteBit = "HBWB"
	TypeWriteReg = "HBWR"
)

const proprietary = "P"

// FrameSentence is one PLC sample vector.
type FrameSentence struct {
	nmea.BaseSentence
	Values []float64
}

// WriteSentence is a bit or register write.
type WriteSentence struct {
	nmea.BaseSentence
	Register string
	Value    int64
}

// Bit reports whether the sentence writes a bit.
func (w WriteSentence) Bit() bool { return strings.HasSuffix(w.Type, TypeWriteBit) }

func parseFrame(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	f := FrameSentence{BaseSentence: s, Values: make([]float64, len(s.Fields))}
	for i := range s.Fields {
		f.Values[i] = p.Float64(i, "value "+strconv.Itoa(i))
	}
	return f, p.Err()
}

func parseWrite(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	w := WriteSentence{
		BaseSentence: s,
		Register:     p.String(0, "register"),
		Value:        p.Int64(1, "value"),
	}
	if err := p.Err(); err != nil {
		return nil, err
	}
	if w.Register == "" {
		return nil, fmt.Errorf("nmea: %s missing register", s.Prefix())
	}
	return w, nil
}

// NewParser returns a sentence parser that knows the gateway sentences.
// Proprietary types are registered with and without the "P" prefix.
func NewParser() *nmea.SentenceParser {
	custom := map[string]nmea.ParserFunc{}
	for typ, fn := range map[string]nmea.ParserFunc{
		TypeFrame:    parseFrame,
		TypeWriteBit: parseWrite,
		TypeWriteReg: parseWrite,
	} {
		custom[typ] = fn
		custom[proprietary+typ] = fn
	}
	return &nmea.SentenceParser{CustomParsers: custom}
}

func encode(typ string, fields ...string) string {
	body := proprietary + typ + "," + strings.Join(fields, ",")
	return "$" + body + "*" + nmea.Checksum(body) + "\r\n"
}

// EncodeFrame renders a sample vector.
func EncodeFrame(values []float64) string {
	fields := make([]string, len(values))
	for i, v := range values {
		fields[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return encode(TypeFrame, fields...)
}

// EncodeBit renders a bit write.
func EncodeBit(register string, on bool) string {
	v := "0"
	if on {
		v = "1"
	}
	return encode(TypeWriteBit, register, v)
}

// EncodeRegister renders a register write.
func EncodeRegister(register string, value int) string {
	return encode(TypeWriteReg, register, strconv.Itoa(value))
}
