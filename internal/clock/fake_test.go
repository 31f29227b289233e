package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestFake_NowAdvances(t *testing.T) {
	f := NewFake(testEpoch)
	assert.Equal(t, testEpoch, f.Now())

	f.Advance(90 * time.Second)
	assert.Equal(t, testEpoch.Add(90*time.Second), f.Now())
}

func TestFake_After(t *testing.T) {
	f := NewFake(testEpoch)
	ch := f.After(time.Minute)

	f.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	f.Advance(30 * time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, testEpoch.Add(time.Minute), got)
	default:
		t.Fatal("expected channel to fire at deadline")
	}
}

func TestFake_AfterFunc_StopPreventsFiring(t *testing.T) {
	f := NewFake(testEpoch)

	fired := make(chan struct{}, 1)
	timer := f.AfterFunc(time.Minute, func() { fired <- struct{}{} })
	require.True(t, timer.Stop())

	f.Advance(2 * time.Minute)
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	default:
	}

	// Stop on an already-stopped timer reports false.
	assert.False(t, timer.Stop())
}

func TestFake_AfterFunc_Fires(t *testing.T) {
	f := NewFake(testEpoch)

	fired := make(chan struct{}, 1)
	f.AfterFunc(time.Minute, func() { fired <- struct{}{} })

	f.Advance(time.Minute)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
}

func TestFake_Ticker(t *testing.T) {
	f := NewFake(testEpoch)
	ticker := f.NewTicker(time.Minute)
	defer ticker.Stop()

	f.Advance(time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("expected first tick")
	}

	f.Advance(time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("expected second tick")
	}
}
