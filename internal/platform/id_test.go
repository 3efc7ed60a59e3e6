package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessID_IsStableUUID(t *testing.T) {
	id := ProcessID()
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, id)
	assert.Equal(t, id, ProcessID())
}

func TestTempName_Format(t *testing.T) {
	for _, prefix := range []string{"mfa_", "mfa_backup_", ""} {
		t.Run(prefix, func(t *testing.T) {
			assert.Regexp(t, "^"+prefix+`[a-z0-9]{10}$`, TempName(prefix))
		})
	}
}

func TestTempName_Unique(t *testing.T) {
	seen := make(map[string]bool, 100)
	for i := 0; i < 100; i++ {
		n := TempName("x")
		assert.False(t, seen[n], "duplicate name generated: %s", n)
		seen[n] = true
	}
}
