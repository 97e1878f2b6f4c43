package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"quizzy-backend/client"
)

var _ = Describe("Client", func() {
	var (
		handler http.HandlerFunc
		server  *httptest.Server
		c       *client.Client
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		DeferCleanup(server.Close)
		c = client.New(server.URL+"/api/v1/ai/", "tok", nil)
	})

	It("streams an answer and returns its sources", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/api/v1/ai/chat"))
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer tok"))
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, stream)
		}

		var deltas []string
		answer, err := c.Chat(context.Background(), "bonjour", nil, func(s string) { deltas = append(deltas, s) })
		Expect(err).NotTo(HaveOccurred())
		Expect(deltas).To(Equal([]string{"Bon", "jour"}))
		Expect(answer.Text).To(Equal("Bonjour"))
		Expect(answer.Sources).To(HaveLen(1))
	})

	It("reports a truncated stream", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "data: {\"content\":\"Bon\",\"done\":false}\n\n")
		}
		answer, err := c.Chat(context.Background(), "bonjour", nil, nil)
		Expect(errors.Is(err, client.ErrIncomplete)).To(BeTrue())
		Expect(answer.Text).To(Equal("Bon"))
	})

	It("decodes structured errors", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"success":false,"error":{"code":"INVALID_REQUEST","message":"Le message est requis"}}`)
		}
		_, err := c.Chat(context.Background(), "", nil, nil)

		var apiErr *client.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.Status).To(Equal(http.StatusBadRequest))
		Expect(apiErr.Code).To(Equal("INVALID_REQUEST"))
	})

	It("wraps unstructured errors", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
		_, err := c.Status(context.Background())

		var apiErr *client.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.Message).To(Equal("bad gateway"))
	})

	It("reads status and reinitialize responses", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/v1/ai/status":
				fmt.Fprint(w, `{"success":true,"data":{"initialized":true,"documentsCount":12,"provider":"ollama"}}`)
			case "/api/v1/ai/reinitialize":
				fmt.Fprint(w, `{"success":true,"message":"ok","documentsCount":12}`)
			}
		}

		st, err := c.Status(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Initialized).To(BeTrue())
		Expect(st.DocumentsCount).To(Equal(12))

		n, err := c.Reinitialize(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(12))
	})
})
