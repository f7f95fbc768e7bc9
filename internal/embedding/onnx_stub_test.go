//go:build !cgo
// +build !cgo

package embedding

import "testing"

func TestNewONNXModel_requiresCGO(t *testing.T) {
	if _, err := NewONNXModel("model.onnx", "pixel_values", "pooler_output", 224, 768, ""); err == nil {
		t.Error("expected error without CGO")
	}
}
