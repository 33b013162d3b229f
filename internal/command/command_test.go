// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package command

import "testing"

func TestParseCommandRejectsUnknownFields(t *testing.T) {
	raw := []byte(`{"id":"1","op":"GET","key":"k","bogus":true}`)
	if _, err := ParseCommand(raw); err == nil {
		t.Fatal("want error for unknown field, got nil")
	}
}

func TestParseCommandAccepts(t *testing.T) {
	raw := []byte(`{"id":"1","op":"SET","key":"k","value":"v"}`)
	cmd, err := ParseCommand(raw)
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Op != OpSet || cmd.Key != "k" || cmd.Value != "v" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestErrBuildsMatchingStatus(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want Status
	}{
		{ErrCodeInvalidRequest, StatusError},
		{ErrCodeNotFound, StatusNotFound},
		{ErrCodePayloadTooLarge, StatusPayloadTooLarge},
		{ErrCodeTimeout, StatusTimeout},
		{ErrCodeRangeOverflow, StatusError},
		{ErrCodeInvalidType, StatusError},
		{ErrCodeInternal, StatusError},
	}
	for _, c := range cases {
		resp := Err("id", c.code, "msg")
		if resp.Status != c.want {
			t.Errorf("Err(%v) status = %v, want %v", c.code, resp.Status, c.want)
		}
		if resp.ErrorCode == nil || *resp.ErrorCode != c.code {
			t.Errorf("Err(%v) error_code not set correctly", c.code)
		}
	}
}

func TestTimeoutResponse(t *testing.T) {
	resp := Timeout("r1")
	if resp.Status != StatusTimeout || resp.ID != "r1" {
		t.Fatalf("unexpected timeout response: %+v", resp)
	}
}
