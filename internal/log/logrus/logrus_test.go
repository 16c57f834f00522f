package logrus_test

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	loglogrus "digwatch/internal/log/logrus"
)

func TestLogrusWithValues(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.Out = &buf
	l.SetFormatter(&logrus.JSONFormatter{})

	logger := loglogrus.NewLogrus(logrus.NewEntry(l)).WithValues(map[string]any{"task_id": "T1"})
	logger.Infof("polled level %d", 2)

	out := buf.String()
	assert.Contains(t, out, `"task_id":"T1"`)
	assert.Contains(t, out, `"msg":"polled level 2"`)
}

func TestLogrusDebugFilteredByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.Out = &buf
	l.SetLevel(logrus.InfoLevel)

	loglogrus.NewLogrus(logrus.NewEntry(l)).Debugf("hidden")
	assert.Empty(t, buf.String())
}
