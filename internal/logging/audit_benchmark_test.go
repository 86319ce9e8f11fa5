package logging

import (
	"encoding/json"
	"testing"
)

func BenchmarkAuditEventMarshal(b *testing.B) {
	event := AuditEvent{
		Timestamp:   1700000000000,
		EventType:   AuditCommandComplete,
		SessionID:   "default",
		Correlation: "9f2c1f1e-4a6b-4a56-9a1e-2f4b7c8d9e0f",
		Target:      "go test ./... -run TestSomethingLong -count=1",
		Success:     true,
		DurationMs:  1532,
		Fields:      map[string]any{"exit_code": 0},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := json.Marshal(event); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCorrelationFormat(b *testing.B) {
	c := &CorrelationLogger{
		logger: &Logger{category: CategoryShell},
		corrID: "9f2c1f1e-4a6b-4a56-9a1e-2f4b7c8d9e0f",
		fields: map[string]any{"session": "default"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.formatMsg("command finished with exit code %d in %dms", 0, 1532)
	}
}
