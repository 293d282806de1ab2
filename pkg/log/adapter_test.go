package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestBadgerLogrusAdapter_ForwardsLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	adapter := NewBadgerLogrusAdapter(logrus.NewEntry(logger))

	adapter.Errorf("err %d", 1)
	adapter.Warningf("warn %d", 2)
	adapter.Infof("info %d", 3)
	adapter.Debugf("debug %d", 4)

	out := buf.String()
	assert.Contains(t, out, "err 1")
	assert.Contains(t, out, "warn 2")
	assert.Contains(t, out, "info 3")
	assert.Contains(t, out, "debug 4")
}
