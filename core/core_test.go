package core

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestOperationUnmarshalJSON(t *testing.T) {

	type Notification struct {
		Resource  string    `json:"resource"`
		Operation Operation `json:"operation"`
	}
	var n Notification
	err := json.Unmarshal([]byte(`{"resource":"piglet-entries","operation":"delete"}`), &n)
	if err != nil {
		t.Fatal(err)
	}
	if n.Operation != OperationDelete {
		t.Fatalf("expected %s, got %s", OperationDelete, n.Operation)
	}

	err = json.Unmarshal([]byte(`{"operation":"clear"}`), &n)
	if err == nil {
		t.Fatal("invalid operation accepted")
	}
}
