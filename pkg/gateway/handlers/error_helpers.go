package handlers

import (
	"net/http"

	"github.com/vango-go/vai-voice/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
)

func writeError(w http.ResponseWriter, r *http.Request, err *apierror.Error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, reqID, apierror.StatusFor(err.Type), err)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, reqID, http.StatusMethodNotAllowed, &apierror.Error{
		Type:    apierror.ErrInvalidRequest,
		Message: "method not allowed",
		Code:    "method_not_allowed",
	})
}
