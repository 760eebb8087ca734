// config_loader_test.go: Multi-source configuration loading tests
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mlpd.yaml")
	content := []byte(`
filename: trace-%p.mlpd
zip: true
maxcalldepth: 50
maxframes: 16
heapshot: 500ms
sample: true
counters: true
port: 7777
queuesize: 8KB
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromYAML(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Filename != "trace-%p.mlpd" {
		t.Errorf("filename = %q", cfg.Filename)
	}
	if !cfg.UseZip {
		t.Error("zip not applied")
	}
	if cfg.MaxCallDepth != 50 {
		t.Errorf("maxcalldepth = %d", cfg.MaxCallDepth)
	}
	if cfg.MaxFrames != 16 {
		t.Errorf("maxframes = %d", cfg.MaxFrames)
	}
	if !cfg.DoHeapShot || cfg.HeapShotEveryMS != 500 {
		t.Errorf("heapshot mode not applied: %+v", cfg)
	}
	if !cfg.Sampling || !cfg.Counters {
		t.Error("sample/counters not applied")
	}
	if cfg.CommandPort != 7777 {
		t.Errorf("port = %d", cfg.CommandPort)
	}
	if cfg.QueueCapacity != 8192 {
		t.Errorf("queuesize = %d, want 8192", cfg.QueueCapacity)
	}
}

func TestLoadConfigRejectsTraversal(t *testing.T) {
	if _, err := LoadConfigFromYAML("../../etc/passwd"); err == nil {
		t.Fatal("directory traversal accepted")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mlpd.yaml")
	if err := os.WriteFile(path, []byte("filename: from-file.mlpd\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MLPD_OUTPUT", "from-env.mlpd")
	t.Setenv("MLPD_HEAPSHOT", "ondemand")

	cfg, err := LoadConfigMultiSource(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Filename != "from-env.mlpd" {
		t.Errorf("filename = %q, env must win", cfg.Filename)
	}
	if !cfg.HeapShotOnDemand {
		t.Error("ondemand heapshot not applied from env")
	}
}

func TestHeapShotModeParsing(t *testing.T) {
	cases := []struct {
		mode   string
		ms     uint
		gc     uint
		demand bool
	}{
		{"ondemand", 0, 0, true},
		{"1000ms", 1000, 0, false},
		{"5gc", 0, 5, false},
	}
	for _, tc := range cases {
		var cfg Config
		applyHeapShotMode(&cfg, tc.mode)
		if !cfg.DoHeapShot {
			t.Errorf("%s: heapshot not enabled", tc.mode)
		}
		if cfg.HeapShotEveryMS != tc.ms || cfg.HeapShotEveryGC != tc.gc || cfg.HeapShotOnDemand != tc.demand {
			t.Errorf("%s: parsed %+v", tc.mode, cfg)
		}
	}
}

func TestNextPow2(t *testing.T) {
	cases := map[int64]int64{1: 1, 2: 2, 3: 4, 1000: 1024, 8192: 8192}
	for in, want := range cases {
		if got := nextPow2(in); got != want {
			t.Errorf("nextPow2(%d) = %d, want %d", in, got, want)
		}
	}
}
