package ruleflow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConsole(t *testing.T) {
	c := NewConsole()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	c.Append(
		LogEntry{ID: "fixed", Time: at, Severity: SeverityInfo, Message: "one"},
		LogEntry{Severity: SeverityError, Message: "two"},
	)

	entries := c.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, "fixed", entries[0].ID)
	assert.Equal(t, at, entries[0].Time)
	assert.NotEmpty(t, entries[1].ID)
	assert.False(t, entries[1].Time.IsZero())

	entries[0].Message = "changed"
	assert.Equal(t, "one", c.Entries()[0].Message, "Entries returns a copy")

	errs := c.Filter(SeverityError)
	assert.Len(t, errs, 1)
	assert.Equal(t, "two", errs[0].Message)
}

func TestConsole_ConcurrentAppend(t *testing.T) {
	c := NewConsole()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Append(LogEntry{Message: "x"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
