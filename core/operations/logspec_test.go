/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/ehrchain/ehrd/common/flogging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeLogging struct {
	spec      string
	activated []string
	err       error
}

func (f *fakeLogging) ActivateSpec(spec string) error {
	f.activated = append(f.activated, spec)
	if f.err != nil {
		return f.err
	}
	f.spec = spec
	return nil
}

func (f *fakeLogging) Spec() string { return f.spec }

var _ = Describe("SpecHandler", func() {
	var (
		logging *fakeLogging
		handler *SpecHandler
	)

	BeforeEach(func() {
		logging = &fakeLogging{spec: "info"}
		handler = &SpecHandler{Logging: logging, Logger: flogging.MustGetLogger("test")}
	})

	It("returns the active spec", func() {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/logspec", nil))
		Expect(resp.Code).To(Equal(http.StatusOK))
		Expect(resp.Body).To(MatchJSON(`{"spec": "info"}`))
	})

	It("activates a new spec", func() {
		resp := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/logspec", strings.NewReader(`{"spec": "replication=debug:info"}`))
		handler.ServeHTTP(resp, req)
		Expect(resp.Code).To(Equal(http.StatusNoContent))
		Expect(logging.activated).To(Equal([]string{"replication=debug:info"}))
	})

	It("returns 400 on a malformed body", func() {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/logspec", strings.NewReader(`{spec}`)))
		Expect(resp.Code).To(Equal(http.StatusBadRequest))
		Expect(logging.activated).To(BeEmpty())
	})

	It("returns 400 when the spec is rejected", func() {
		logging.err = errors.New("invalid log spec")
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/logspec", strings.NewReader(`{"spec": "=="}`)))
		Expect(resp.Code).To(Equal(http.StatusBadRequest))
		Expect(resp.Body).To(MatchJSON(`{"Error": "invalid log spec"}`))
	})

	It("returns 400 on other methods", func() {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/logspec", nil))
		Expect(resp.Code).To(Equal(http.StatusBadRequest))
		Expect(resp.Body).To(MatchJSON(`{"Error": "invalid request method: DELETE"}`))
	})
})
