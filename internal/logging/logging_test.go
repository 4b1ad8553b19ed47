package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithOutput(&buf, "debug", "json")
	Component(log, "cache").WithField("key", "crypto_bitcoin").Debug("hit")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, "cache", got["component"])
	require.Equal(t, "crypto_bitcoin", got["key"])
	require.Equal(t, "hit", got["msg"])
}

func TestNewWithOutput_UnknownLevel(t *testing.T) {
	t.Parallel()

	log := NewWithOutput(&bytes.Buffer{}, "loud", "text")
	require.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestComponent_NilLogger(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() { Component(nil, "x").Info("dropped") })
}
