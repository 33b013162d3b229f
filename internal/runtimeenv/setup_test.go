// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package runtimeenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvSetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "# comment\nexport FOO=bar\nBAZ=\"quoted value\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("FOO")
		os.Unsetenv("BAZ")
	})

	if err := LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("FOO"); got != "bar" {
		t.Fatalf("FOO = %q, want bar", got)
	}
	if got := os.Getenv("BAZ"); got != "quoted value" {
		t.Fatalf("BAZ = %q, want %q", got, "quoted value")
	}
}

func TestLoadEnvRejectsInlineHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.env")
	if err := os.WriteFile(path, []byte("FOO=bar # inline comment\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := LoadEnv(path); err == nil {
		t.Fatal("want error for inline '#'")
	}
}

func TestSystemdNotifiyNoopWithoutSocket(t *testing.T) {
	os.Unsetenv("NOTIFY_SOCKET")
	SystemdNotifiy(true, "ready") // must not panic or block
}
