package runtime

import (
	"bytes"
	"context"
	"testing"

	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"
)

func TestNewFanoutLoggerWritesToAllHandlers(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := btclog.NewDefaultHandler(&buf)

	logger := NewFanoutLogger(handler)
	UseLogger(logger)
	defer UseLogger(btclog.Disabled)

	log.InfoS(context.Background(), "fanout smoke test")

	require.Contains(t, buf.String(), "fanout smoke test")
	require.Contains(t, buf.String(), Subsystem)
}
