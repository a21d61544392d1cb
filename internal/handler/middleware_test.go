package handler_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/caching-proxy/internal/handler"
)

var _ = Describe("Middleware", func() {
	var (
		buf bytes.Buffer
		log *slog.Logger
	)

	BeforeEach(func() {
		buf.Reset()
		log = slog.New(slog.NewTextHandler(&buf, nil))
	})

	Describe("CORS", func() {
		var reached bool

		BeforeEach(func() {
			reached = false
		})

		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached = true
			w.WriteHeader(http.StatusTeapot)
		})

		It("should answer OPTIONS without calling next", func() {
			rec := httptest.NewRecorder()
			handler.CORS(next).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/metrics", nil))

			Expect(reached).To(BeFalse())
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(rec.Header().Get("Access-Control-Max-Age")).To(Equal("86400"))
		})

		It("should decorate other responses", func() {
			rec := httptest.NewRecorder()
			handler.CORS(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(reached).To(BeTrue())
			Expect(rec.Code).To(Equal(http.StatusTeapot))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("Recoverer", func() {
		It("should turn a panic into a JSON 500", func() {
			panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic("boom")
			})

			rec := httptest.NewRecorder()
			handler.Recoverer(log, panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items", nil))

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var payload map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &payload)).To(Succeed())
			Expect(payload).To(HaveKeyWithValue("status", BeNumerically("==", 500)))
			Expect(buf.String()).To(ContainSubstring("Recovered from panic"))
		})

		It("should keep serving after a panic", func() {
			calls := 0
			flaky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls == 1 {
					panic("first call fails")
				}
				w.WriteHeader(http.StatusOK)
			})
			wrapped := handler.Recoverer(log, flaky)

			first := httptest.NewRecorder()
			wrapped.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
			second := httptest.NewRecorder()
			wrapped.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

			Expect(first.Code).To(Equal(http.StatusInternalServerError))
			Expect(second.Code).To(Equal(http.StatusOK))
		})

		It("should not rewrite a response that already started", func() {
			partial := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				panic("late failure")
			})

			rec := httptest.NewRecorder()
			handler.Recoverer(log, partial).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(rec.Body.Len()).To(BeZero())
		})

		It("should let http.ErrAbortHandler through", func() {
			aborting := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(http.ErrAbortHandler)
			})

			Expect(func() {
				handler.Recoverer(log, aborting).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			}).To(PanicWith(http.ErrAbortHandler))
		})
	})

	Describe("RequestLogger", func() {
		It("should log status, cache status and client", func() {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusNotFound)
			})

			req := httptest.NewRequest(http.MethodGet, "/items/9", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			handler.RequestLogger(log, next).ServeHTTP(httptest.NewRecorder(), req)

			Expect(buf.String()).To(ContainSubstring("status=404"))
			Expect(buf.String()).To(ContainSubstring("cache=HIT"))
			Expect(buf.String()).To(ContainSubstring("from=203.0.113.7"))
			Expect(buf.String()).To(ContainSubstring("path=/items/9"))
		})

		It("should report 200 when the handler only writes a body", func() {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("ok"))
			})

			handler.RequestLogger(log, next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			Expect(buf.String()).To(ContainSubstring("status=200"))
		})
	})
})
