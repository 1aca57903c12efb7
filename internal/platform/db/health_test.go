package db

import (
	"encoding/json"
	"testing"
)

func TestStats_JSONShape(t *testing.T) {
	stats := Stats{
		TotalConns:    10,
		IdleConns:     5,
		AcquiredConns: 5,
		MaxConns:      20,
		AcquireCount:  100,
		AcquireWait:   "1.5s",
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"totalConns", "idleConns", "acquiredConns", "maxConns", "acquireCount", "acquireWait"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected key %s in health payload", key)
		}
	}
	if m["maxConns"] != float64(20) {
		t.Errorf("expected maxConns 20, got %v", m["maxConns"])
	}
}
