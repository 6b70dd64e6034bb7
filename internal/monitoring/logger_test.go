package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("[timesync] flushed %d samples", 3)
	assert.Equal(t, []string{"[timesync] flushed 3 samples"}, got)

	// nil installs a no-op rather than restoring the previous logger
	SetLogger(nil)
	Logf("dropped")
	assert.Len(t, got, 1)
}

func TestDebugf_Gated(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetDebug(false)
	}()

	calls := 0
	SetLogger(func(string, ...interface{}) { calls++ })

	SetDebug(false)
	Debugf("evicted %s", "depth")
	assert.Equal(t, 0, calls)
	assert.False(t, DebugEnabled())

	SetDebug(true)
	Debugf("evicted %s", "depth")
	assert.Equal(t, 1, calls)
	assert.True(t, DebugEnabled())
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	assert.NotPanics(t, func() { Logf("test message: %s", "value") })
}
