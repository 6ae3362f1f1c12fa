package model_test

import (
	"testing"

	"recordstore-checkout/internal/model"
)

func TestMergeMetadataNewKeysWin(t *testing.T) {
	existing := map[string]interface{}{
		model.MetaCheckoutStatus: model.CheckoutStatusPaid,
		model.MetaSessionID:      "cs_1",
	}
	updates := map[string]interface{}{
		model.MetaCheckoutStatus: model.CheckoutStatusExpired,
		model.MetaOrderID:        "order_1",
	}

	merged := model.MergeMetadata(existing, updates)

	if got := merged[model.MetaCheckoutStatus]; got != model.CheckoutStatusExpired {
		t.Errorf("status: got %v, want %q", got, model.CheckoutStatusExpired)
	}
	if got := merged[model.MetaSessionID]; got != "cs_1" {
		t.Errorf("session id: got %v, want cs_1", got)
	}
	if got := merged[model.MetaOrderID]; got != "order_1" {
		t.Errorf("order id: got %v, want order_1", got)
	}
}

func TestMergeMetadataDoesNotMutateInputs(t *testing.T) {
	existing := map[string]interface{}{"a": "1"}
	updates := map[string]interface{}{"a": "2", "b": "3"}

	model.MergeMetadata(existing, updates)

	if existing["a"] != "1" {
		t.Errorf("existing mutated: %v", existing)
	}
	if len(existing) != 1 {
		t.Errorf("existing grew: %v", existing)
	}
}

func TestMergeMetadataNilInputs(t *testing.T) {
	merged := model.MergeMetadata(nil, map[string]interface{}{"a": "1"})
	if merged["a"] != "1" {
		t.Errorf("merge with nil existing: %v", merged)
	}

	merged = model.MergeMetadata(map[string]interface{}{"a": "1"}, nil)
	if merged["a"] != "1" {
		t.Errorf("merge with nil updates: %v", merged)
	}
}

func TestMetaString(t *testing.T) {
	meta := map[string]interface{}{
		"str": "value",
		"num": 42,
	}

	if got := model.MetaString(meta, "str"); got != "value" {
		t.Errorf("got %q, want value", got)
	}
	if got := model.MetaString(meta, "num"); got != "" {
		t.Errorf("non-string value: got %q, want empty", got)
	}
	if got := model.MetaString(meta, "absent"); got != "" {
		t.Errorf("absent key: got %q, want empty", got)
	}
	if got := model.MetaString(nil, "str"); got != "" {
		t.Errorf("nil map: got %q, want empty", got)
	}
}
