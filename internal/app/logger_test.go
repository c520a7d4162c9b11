package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONCarriesLedgerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "production", LogFormat: "json", LedgerLotOrder: "lifo"}, &buf)

	logger.Debug("hidden")
	require.Zero(t, buf.Len())

	logger.Info("movement posted")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "movement posted", line["msg"])
	require.Equal(t, "production", line["env"])
	require.Equal(t, "lifo", line["lot_order"])
}

func TestNewLoggerDevelopmentLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "development", LogFormat: "pretty"}, &buf)
	logger.Debug("lot scan")
	require.Contains(t, buf.String(), "msg=\"lot scan\"")
}
