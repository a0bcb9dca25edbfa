package monitoring

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/loraedge/edge-network-server/internal/storage"
)

func healthCheckHandlerFunc(w http.ResponseWriter, r *http.Request) {
	// redis is optional for single gateway deployments
	if c := storage.RedisClient(); c != nil {
		if err := c.Ping(r.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(errors.Wrap(err, "redis ping error").Error()))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}
