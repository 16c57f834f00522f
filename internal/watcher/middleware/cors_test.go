package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"digwatch/internal/watcher/middleware"
)

func TestCORS(t *testing.T) {
	tests := map[string]struct {
		method      string
		origin      string
		expStatus   int
		expOrigin   string
		expCalled   bool
		expCredsSet bool
	}{
		"preflight is answered here": {
			method:      http.MethodOptions,
			origin:      "http://map.local",
			expStatus:   http.StatusNoContent,
			expOrigin:   "http://map.local",
			expCredsSet: true,
		},
		"origin is echoed": {
			method:      http.MethodGet,
			origin:      "http://map.local",
			expStatus:   http.StatusOK,
			expOrigin:   "http://map.local",
			expCalled:   true,
			expCredsSet: true,
		},
		"no origin": {
			method:    http.MethodGet,
			expStatus: http.StatusOK,
			expOrigin: "*",
			expCalled: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			called := false
			h := middleware.CORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(test.method, "/api/polling", nil)
			if test.origin != "" {
				req.Header.Set("Origin", test.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, test.expStatus, rec.Code)
			assert.Equal(t, test.expOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, test.expCalled, called)
			assert.Equal(t, test.expCredsSet, rec.Header().Get("Access-Control-Allow-Credentials") == "true")
		})
	}
}
