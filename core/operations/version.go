/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/ehrchain/ehrd/common/flogging"
)

// VersionInfo is the body of /version.
type VersionInfo struct {
	Version   string `json:"Version,omitempty"`
	CommitSHA string `json:"CommitSHA,omitempty"`
	GoVersion string `json:"GoVersion"`
}

// VersionInfoHandler reports the build the node is running.
type VersionInfoHandler struct {
	Logger *flogging.Logger
	Info   VersionInfo
}

func NewVersionInfoHandler(logger *flogging.Logger, version, commitSHA string) *VersionInfoHandler {
	return &VersionInfoHandler{
		Logger: logger,
		Info:   VersionInfo{Version: version, CommitSHA: commitSHA, GoVersion: runtime.Version()},
	}
}

func (m *VersionInfoHandler) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		sendResponse(m.Logger, resp, http.StatusBadRequest, fmt.Errorf("invalid request method: %s", req.Method))
		return
	}
	sendResponse(m.Logger, resp, http.StatusOK, m.Info)
}
