// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package alarm raises and tracks chamber alarms.
package alarm

import (
	"sort"
	"sync"
	"time"
)

// Kind names an alarm. The values are part of the operator protocol.
type Kind string

const (
	KindDeviation         Kind = "deviation"
	KindHighO2            Kind = "highO2"
	KindHighHumidity      Kind = "highHumidity"
	KindSensorFault       Kind = "sensorFault"
	KindPatient           Kind = "patientAlarm"
	KindFire              Kind = "fireAlarm"
	KindEndOfSession      Kind = "endOfSession"
	KindSessionStop       Kind = "sessionStop"
	KindSessionStarting   Kind = "sessionStarting"
	KindOxygenBreak       Kind = "oxygenBreak"
	KindTreatmentFinished Kind = "treatmentFinished"
	KindDoorOpen          Kind = "doorIsOpen"
	KindVentilation       Kind = "ventilation"
)

// Operator messages.
const (
	MsgDeviation         = "Session paused ! Deviation in the session graph ! Check the compressor and air supply system."
	MsgHighO2            = "High O₂ level, ventilate the chamber."
	MsgHighO2Ventilation = "High O₂ level. Ventilation started."
	MsgHighHumidity      = "High Humidity, ventilate the chamber."
	MsgPatient           = "Patient Alarm"
	MsgFire              = "Smoke Detector Alarm"
	MsgEndOfSession      = "Session Finished."
	MsgSessionStop       = "Session stop initiated. Decompressing to surface."
	MsgSessionStarting   = "Session Starting"
	MsgOxygenOn          = "Oxygen Starting. Put the mask on."
	MsgOxygenOff         = "Oxygen Stopped. Take the mask off."
	MsgTreatmentFinished = "Treatment Finished. Take the mask off. Decompression Starting."
	MsgDoorOpen          = "Please check the door is closed properly."
)

// Record is one raised alarm. Duration is how long the operator display keeps it, in seconds.
type Record struct {
	Kind     Kind      `json:"type"`
	Message  string    `json:"text"`
	RaisedAt time.Time `json:"time"`
	Duration int       `json:"duration"`
}

// Board keeps at most one active record per kind plus the latest raised record.
type Board struct {
	mu     sync.RWMutex
	now    func() time.Time
	active map[Kind]Record
	latest Record
	seq    uint64
}

func NewBoard(now func() time.Time) *Board {
	if now == nil {
		now = time.Now
	}
	return &Board{now: now, active: make(map[Kind]Record)}
}

// Raise records an alarm, replacing any active one of the same kind.
func (b *Board) Raise(kind Kind, message string, duration int) Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := Record{Kind: kind, Message: message, RaisedAt: b.now(), Duration: duration}
	b.active[kind] = r
	b.latest = r
	b.seq++
	return r
}

// Clear drops the active record of kind.
func (b *Board) Clear(kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, kind)
}

// ClearAll drops every active record.
func (b *Board) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = make(map[Kind]Record)
}

func (b *Board) IsActive(kind Kind) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.active[kind]
	return ok
}

// Active lists active records, oldest first.
func (b *Board) Active() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Record, 0, len(b.active))
	for _, r := range b.active {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaisedAt.Before(out[j].RaisedAt) })
	return out
}

// Latest returns the most recently raised record and a sequence number that
// changes on every raise.
func (b *Board) Latest() (Record, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.seq
}
