package handlers

import (
	"net/http"

	"github.com/vango-go/vai-voice/pkg/gateway/apierror"
)

type NotFoundHandler struct{}

func (NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, &apierror.Error{
		Type:    apierror.ErrNotFound,
		Message: "no route for " + r.Method + " " + r.URL.Path,
	})
}
