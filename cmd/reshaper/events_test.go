package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/reshaper/internal/hermes"
)

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	line := formatEvent(hermes.SubjectTransformCompleted, hermes.SessionEvent{
		SessionID:  "s1",
		Mode:       "whole",
		InputRows:  10,
		OutputRows: 30,
		At:         at,
	})
	assert.Equal(t, "2026-03-01T12:00:00Z transform.completed session=s1 mode=whole input_rows=10 output_rows=30", line)

	line = formatEvent(hermes.SubjectTransformFailed, hermes.SessionEvent{
		SessionID: "s2",
		Failure:   "Error at row 2: boom",
		At:        at,
	})
	assert.Equal(t, `2026-03-01T12:00:00Z transform.failed session=s2 failure="Error at row 2: boom"`, line)
}

func TestEventsCommandRequiresNATS(t *testing.T) {
	t.Setenv("NATS_URL", "")
	cmd := newRootCommand()
	cmd.SetArgs([]string{"events"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS_URL")
}
