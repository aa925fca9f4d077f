/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ehrchain/ehrd/common/flogging"
)

type LogSpec struct {
	Spec string `json:"spec,omitempty"`
}

// Logging is the part of the logging system the spec handler drives.
type Logging interface {
	ActivateSpec(spec string) error
	Spec() string
}

// SpecHandler reads and replaces the active logging spec.
type SpecHandler struct {
	Logging Logging
	Logger  *flogging.Logger
}

func NewSpecHandler() *SpecHandler {
	return &SpecHandler{
		Logging: flogging.Global,
		Logger:  flogging.MustGetLogger("operations.logspec"),
	}
}

func (h *SpecHandler) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPut:
		var logSpec LogSpec
		decoder := json.NewDecoder(req.Body)
		if err := decoder.Decode(&logSpec); err != nil {
			sendResponse(h.Logger, resp, http.StatusBadRequest, err)
			return
		}
		req.Body.Close()

		if err := h.Logging.ActivateSpec(logSpec.Spec); err != nil {
			sendResponse(h.Logger, resp, http.StatusBadRequest, err)
			return
		}
		h.Logger.Infof("Log spec set to %s", logSpec.Spec)
		resp.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		sendResponse(h.Logger, resp, http.StatusOK, &LogSpec{Spec: h.Logging.Spec()})

	default:
		err := fmt.Errorf("invalid request method: %s", req.Method)
		sendResponse(h.Logger, resp, http.StatusBadRequest, err)
	}
}
