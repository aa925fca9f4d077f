/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"net/http"
	"net/http/httptest"
	"runtime"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("VersionInfoHandler", func() {
	var (
		handler *VersionInfoHandler
		resp    *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		handler = NewVersionInfoHandler(nil, "1.2.0", "abc123")
		resp = httptest.NewRecorder()
	})

	It("reports the build on GET", func() {
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/version", nil))
		Expect(resp.Code).To(Equal(http.StatusOK))
		Expect(resp.Header().Get("Content-Type")).To(Equal("application/json"))
		Expect(resp.Body).To(MatchJSON(`{"Version": "1.2.0", "CommitSHA": "abc123", "GoVersion": "` + runtime.Version() + `"}`))
	})

	It("rejects other methods", func() {
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/version", nil))
		Expect(resp.Code).To(Equal(http.StatusBadRequest))
		Expect(resp.Body).To(MatchJSON(`{"Error": "invalid request method: PUT"}`))
	})
})

var _ = Describe("sendResponse", func() {
	It("fails with 500 when the payload cannot be encoded", func() {
		resp := httptest.NewRecorder()
		sendResponse(nil, resp, http.StatusOK, make(chan int))
		Expect(resp.Code).To(Equal(http.StatusInternalServerError))
	})
})
