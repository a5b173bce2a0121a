// Torii - Anime/Manga Metadata Sync and Content Cache
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/toriisync/torii

package validation

import (
	"strings"
	"testing"
)

type testRequest struct {
	Source   string `validate:"required,oneof=anilist kitsu jikan"`
	MaxPages int    `validate:"omitempty,min=1,max=500"`
	Query    string `validate:"omitempty,max=10"`
}

func TestValidateStructPasses(t *testing.T) {
	req := testRequest{Source: "anilist", MaxPages: 3}
	if err := ValidateStruct(&req); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}
}

func TestValidateStructRequired(t *testing.T) {
	req := testRequest{}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error for missing Source")
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR code, got %q", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "Source") {
		t.Errorf("expected message to name the field, got %q", apiErr.Message)
	}
}

func TestValidateStructOneOf(t *testing.T) {
	req := testRequest{Source: "bogus"}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error for bad source")
	}
	if !strings.Contains(err.Error(), "must be one of") {
		t.Errorf("expected oneof message, got %q", err.Error())
	}
}

func TestValidateStructMultipleErrors(t *testing.T) {
	req := testRequest{Source: "bogus", MaxPages: 9999, Query: "way too long query"}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if len(err.Errors()) != 3 {
		t.Errorf("expected 3 field errors, got %d", len(err.Errors()))
	}

	apiErr := err.ToAPIError()
	if _, ok := apiErr.Details["fields"]; !ok {
		t.Error("expected fields detail for multiple errors")
	}
}

func TestMaxStringMessage(t *testing.T) {
	req := testRequest{Source: "anilist", Query: "this is far too long"}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "characters") {
		t.Errorf("string max should mention characters, got %q", err.Error())
	}
}
