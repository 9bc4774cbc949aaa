package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestWithLogging(t *testing.T) {
	t.Parallel()
	for _, method := range []string{"GET", "POST", "PUT"} {
		method := method
		t.Run("method="+method, func(t *testing.T) {
			t.Parallel()
			for _, path := range []string{"/ping", "/tests", "/tests/abc"} {
				path := path
				t.Run("path="+path, func(t *testing.T) {
					t.Parallel()
					logger, hook := logtest.NewNullLogger()
					logger.SetLevel(logrus.DebugLevel)
					s := &Server{Logger: logger}

					rw := httptest.NewRecorder()
					r := httptest.NewRequest(method, "http://example.com"+path, nil)
					s.withLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusOK)
					})).ServeHTTP(rw, r)

					assert.Equal(t, http.StatusOK, rw.Result().StatusCode)
					if !assert.Len(t, hook.Entries, 1) {
						return
					}
					entry := hook.LastEntry()
					assert.Equal(t, method, entry.Data["method"])
					assert.Equal(t, path, entry.Data["path"])
				})
			}
		})
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	logger, _ := logtest.NewNullLogger()
	s := &Server{Logger: logger}

	rw := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	s.Handler().ServeHTTP(rw, r)

	res := rw.Result()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []byte("ok"), rw.Body.Bytes())
	assert.NoError(t, res.Body.Close())
}
