package main

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pershinghar/pwa-deploy/pkg/models"
)

func TestLogEvent_LevelFollowsStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	handle := logEvent(logger)

	tests := []struct {
		status models.EventStatus
		level  logrus.Level
	}{
		{models.StatusStarted, logrus.InfoLevel},
		{models.StatusSucceeded, logrus.InfoLevel},
		{models.StatusWarning, logrus.WarnLevel},
		{models.StatusFailed, logrus.ErrorLevel},
	}

	for _, tt := range tests {
		hook.Reset()
		require.NoError(t, handle(&models.DeployEvent{
			RunID:     "run-1",
			Host:      "example.com",
			Phase:     models.PhaseUpload,
			Status:    tt.status,
			Message:   "uploading",
			Timestamp: time.Now(),
		}))

		require.Len(t, hook.AllEntries(), 1)
		entry := hook.LastEntry()
		assert.Equal(t, tt.level, entry.Level, tt.status)
		assert.Equal(t, "run-1", entry.Data["run_id"])
		assert.Equal(t, models.PhaseUpload, entry.Data["phase"])
	}
}

func TestLogEvent_PrintsOutput(t *testing.T) {
	logger, hook := test.NewNullLogger()
	out := "Traceback (most recent call last)"

	require.NoError(t, logEvent(logger)(&models.DeployEvent{
		Phase:  models.PhaseVerify,
		Status: models.StatusWarning,
		Output: &out,
	}))

	require.Len(t, hook.AllEntries(), 2)
	assert.Contains(t, hook.LastEntry().Message, "Traceback")
}
