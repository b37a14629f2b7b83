package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newBufferedEntry(level logrus.Level) (*logrus.Entry, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logrus.NewEntry(logger), &buf
}

func TestBadgerLogrusAdapter_LevelMapping(t *testing.T) {
	entry, buf := newBufferedEntry(logrus.InfoLevel)
	adapter := NewBadgerLogrusAdapter(entry)

	adapter.Infof("value log GC %d\n", 1)
	assert.Empty(t, buf.String(), "badger info is demoted below info level")

	adapter.Warningf("compaction slow\n")
	out := buf.String()
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, "component=badger")
	assert.Contains(t, out, "compaction slow")
	assert.NotContains(t, out, "slow\\n")
}

func TestBadgerLogrusAdapter_ErrorAlwaysVisible(t *testing.T) {
	entry, buf := newBufferedEntry(logrus.ErrorLevel)
	NewBadgerLogrusAdapter(entry).Errorf("disk %s", "full")
	assert.Contains(t, buf.String(), "disk full")
}

func TestChromedpSinks(t *testing.T) {
	entry, buf := newBufferedEntry(logrus.DebugLevel)

	ChromedpLogf(entry)("protocol event %s", "Page.loadEventFired")
	assert.Empty(t, buf.String())

	ChromedpErrorf(entry)("could not unmarshal event: %v", "bad json")
	assert.Contains(t, buf.String(), "component=chromedp")
	assert.Contains(t, buf.String(), "could not unmarshal event")
}
