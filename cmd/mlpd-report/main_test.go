// main_test.go: CLI option parsing tests
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() *cliOptions {
	return &cliOptions{
		reports:    "header,gc",
		methodSort: "total",
		allocSort:  "bytes",
	}
}

func TestBuildOptionsDefaults(t *testing.T) {
	opts, err := buildOptions(defaults())
	require.NoError(t, err)
	assert.Equal(t, "total", opts.MethodSort)
	assert.Equal(t, "bytes", opts.AllocSort)
}

func TestBuildOptionsValidation(t *testing.T) {
	bad := defaults()
	bad.methodSort = "sideways"
	_, err := buildOptions(bad)
	assert.Error(t, err)

	bad = defaults()
	bad.allocSort = "alphabetical"
	_, err = buildOptions(bad)
	assert.Error(t, err)

	bad = defaults()
	bad.reports = "header,nonsense"
	_, err = buildOptions(bad)
	assert.Error(t, err)
}

func TestBuildOptionsTrack(t *testing.T) {
	opts := defaults()
	opts.track = "0x1000,2000"
	parsed, err := buildOptions(opts)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1000, 0x2000}, parsed.TrackAddrs)

	opts = defaults()
	opts.track = "banana"
	_, err = buildOptions(opts)
	assert.Error(t, err)
}

func TestBuildOptionsFind(t *testing.T) {
	opts := defaults()
	opts.find = "S:1024"
	parsed, err := buildOptions(opts)
	require.NoError(t, err)
	assert.EqualValues(t, 1024, parsed.FindSize)

	opts = defaults()
	opts.find = "T:System.String"
	parsed, err = buildOptions(opts)
	require.NoError(t, err)
	assert.Equal(t, "System.String", parsed.FindName)

	opts = defaults()
	opts.find = "X:what"
	_, err = buildOptions(opts)
	assert.Error(t, err)
}

func TestBuildOptionsTimeWindow(t *testing.T) {
	opts := defaults()
	opts.timeWindow = "1.5-10"
	parsed, err := buildOptions(opts)
	require.NoError(t, err)
	assert.Equal(t, 1.5, parsed.TimeFrom)
	assert.Equal(t, 10.0, parsed.TimeTo)

	opts = defaults()
	opts.timeWindow = "nonsense"
	_, err = buildOptions(opts)
	assert.Error(t, err)
}

func TestBuildOptionsThread(t *testing.T) {
	opts := defaults()
	opts.thread = "0x2a"
	parsed, err := buildOptions(opts)
	require.NoError(t, err)
	assert.EqualValues(t, 0x2a, parsed.ThreadID)
}
