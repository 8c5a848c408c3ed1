package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hyperbaric_controller/internal/config"
	"github.com/relabs-tech/hyperbaric_controller/internal/profile"
)

func TestPrintPlan(t *testing.T) {
	planner, err := profile.NewPlanner(config.DefaultChamber().Planner)
	require.NoError(t, err)
	plan, expanded, err := planner.Expand(1.4, 90, 2)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printPlan(&out, plan, expanded))
	assert.Contains(t, out.String(), "1.40 bar")
	assert.Contains(t, out.String(), "expanded")
	assert.Contains(t, out.String(), "air")
}

func TestO2CalCommand(t *testing.T) {
	var out bytes.Buffer
	o2calCmd.SetOut(&out)
	o2Raw21 = 860
	require.NoError(t, o2calCmd.RunE(o2calCmd, nil))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
}

func TestChamberCommandWritesReadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chamber.yaml")
	var out bytes.Buffer
	chamberCmd.SetOut(&out)
	require.NoError(t, chamberCmd.RunE(chamberCmd, []string{path}))

	ch, err := chamberOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultChamber().Gains, ch.Gains)
}
