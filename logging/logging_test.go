package logging_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-metrics/logging"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("client_id", "7").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "7", line["client_id"])
	assert.Equal(t, "warn", line["level"])
}

func TestNew_RejectsBadSettings(t *testing.T) {
	_, err := logging.New(&bytes.Buffer{}, "loud", "")
	assert.Error(t, err)

	_, err = logging.New(&bytes.Buffer{}, "", "xml")
	assert.Error(t, err)

	_, err = logging.New(&bytes.Buffer{}, "", logging.FormatConsole)
	assert.NoError(t, err)
}

func TestMiddleware_PutsLoggerInContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "debug", "json")
	require.NoError(t, err)

	h := logging.Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Debug().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/catalog", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inside, done map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inside))
	require.NoError(t, json.Unmarshal(lines[1], &done))
	assert.Equal(t, "/api/catalog", inside["path"])
	assert.Equal(t, "GET", inside["method"])
	assert.Equal(t, float64(http.StatusTeapot), done["status"])
}
