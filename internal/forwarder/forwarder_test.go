package forwarder_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/caching-proxy/internal/forwarder"
)

type capturedRequest struct {
	method  string
	path    string
	rawPath string
	query   string
	header  http.Header
	body    string
}

var _ = Describe("Forwarder", func() {
	var (
		fwd      *forwarder.Forwarder
		server   *httptest.Server
		captured chan capturedRequest
		respond  http.HandlerFunc
	)

	BeforeEach(func() {
		captured = make(chan capturedRequest, 1)
		respond = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok":true}`))
		}

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			captured <- capturedRequest{
				method:  r.Method,
				path:    r.URL.Path,
				rawPath: r.URL.EscapedPath(),
				query:   r.URL.RawQuery,
				header:  r.Header.Clone(),
				body:    string(body),
			}
			respond(w, r)
		}))

		fwd = forwarder.New(2 * time.Second)
	})

	AfterEach(func() {
		server.Close()
	})

	target := func() *url.URL {
		u, err := url.Parse(server.URL)
		Expect(err).NotTo(HaveOccurred())
		return u
	}

	Describe("New", func() {
		It("should fall back to the default timeout", func() {
			Expect(forwarder.New(0).Timeout()).To(Equal(forwarder.DefaultTimeout))
			Expect(fwd.Timeout()).To(Equal(2 * time.Second))
		})
	})

	Describe("Forward", func() {
		It("should send method, path and query to the backend", func() {
			res, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method:   http.MethodGet,
				Path:     "/items/7",
				RawQuery: "format=xml&limit=5",
			}, target())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.StatusCode).To(Equal(http.StatusOK))

			req := <-captured
			Expect(req.method).To(Equal(http.MethodGet))
			Expect(req.path).To(Equal("/items/7"))
			Expect(req.query).To(Equal("format=xml&limit=5"))
		})

		It("should keep escaped path segments intact", func() {
			inbound := httptest.NewRequest(http.MethodGet, "/files/a%2Fb?rev=2", nil)

			_, err := fwd.Forward(context.Background(), forwarder.NewRequest(inbound), target())
			Expect(err).NotTo(HaveOccurred())

			req := <-captured
			Expect(req.rawPath).To(Equal("/files/a%2Fb"))
			Expect(req.path).To(Equal("/files/a/b"))
			Expect(req.query).To(Equal("rev=2"))
		})

		It("should keep escaping under a backend base path", func() {
			base := target()
			base.Path = "/api"

			inbound := httptest.NewRequest(http.MethodGet, "/files/x%3Fy", nil)
			_, err := fwd.Forward(context.Background(), forwarder.NewRequest(inbound), base)
			Expect(err).NotTo(HaveOccurred())
			Expect((<-captured).rawPath).To(Equal("/api/files/x%3Fy"))
		})

		It("should join the backend base path", func() {
			base := target()
			base.Path = "/api/"

			_, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method: http.MethodGet,
				Path:   "/items",
			}, base)
			Expect(err).NotTo(HaveOccurred())
			Expect((<-captured).path).To(Equal("/api/items"))
		})

		It("should strip connection-management headers and keep the rest", func() {
			header := http.Header{}
			header.Set("Host", "proxy.local")
			header.Set("Connection", "keep-alive, X-Hop")
			header.Set("X-Hop", "drop-me")
			header.Set("Content-Length", "999")
			header.Set("Transfer-Encoding", "chunked")
			header.Set("Accept", "application/xml")
			header.Set("X-Request-Id", "abc")

			_, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method: http.MethodGet,
				Path:   "/items",
				Header: header,
			}, target())
			Expect(err).NotTo(HaveOccurred())

			req := <-captured
			Expect(req.header.Get("X-Hop")).To(BeEmpty())
			Expect(req.header.Get("Content-Length")).To(BeEmpty())
			Expect(req.header.Get("Accept")).To(Equal("application/xml"))
			Expect(req.header.Get("X-Request-Id")).To(Equal("abc"))
			Expect(header.Get("X-Hop")).To(Equal("drop-me"), "caller header must not be mutated")
		})

		It("should buffer and forward the body of writes", func() {
			_, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method: http.MethodPost,
				Path:   "/items",
				Header: http.Header{"Content-Type": {"application/xml"}},
				Body:   strings.NewReader(`<item><name>a</name></item>`),
			}, target())
			Expect(err).NotTo(HaveOccurred())

			req := <-captured
			Expect(req.body).To(Equal(`<item><name>a</name></item>`))
			Expect(req.header.Get("Content-Type")).To(Equal("application/xml"))
		})

		DescribeTable("defaults the content type of writes",
			func(method, expected string) {
				_, err := fwd.Forward(context.Background(), &forwarder.Request{
					Method: method,
					Path:   "/items/1",
					Body:   strings.NewReader(`{"name":"a"}`),
				}, target())
				Expect(err).NotTo(HaveOccurred())
				Expect((<-captured).header.Get("Content-Type")).To(Equal(expected))
			},
			Entry("POST", http.MethodPost, "application/json"),
			Entry("PUT", http.MethodPut, "application/json"),
			Entry("DELETE", http.MethodDelete, ""),
		)

		It("should not send a body for GET", func() {
			_, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method: http.MethodGet,
				Path:   "/items",
				Body:   strings.NewReader("ignored"),
			}, target())
			Expect(err).NotTo(HaveOccurred())
			Expect((<-captured).body).To(BeEmpty())
		})

		It("should set forwarding headers", func() {
			_, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method:     http.MethodGet,
				Path:       "/items",
				Header:     http.Header{"X-Forwarded-For": {"10.0.0.1"}},
				Host:       "proxy.local:3000",
				RemoteAddr: "192.168.1.20:53211",
			}, target())
			Expect(err).NotTo(HaveOccurred())

			req := <-captured
			Expect(req.header.Get("X-Forwarded-For")).To(Equal("10.0.0.1, 192.168.1.20"))
			Expect(req.header.Get("X-Forwarded-Host")).To(Equal("proxy.local:3000"))
			Expect(req.header.Get("X-Forwarded-Proto")).To(Equal("http"))
		})

		It("should return error statuses verbatim without an error", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":"not found"}`))
			}

			res, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method: http.MethodGet,
				Path:   "/items/404",
			}, target())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.StatusCode).To(Equal(http.StatusNotFound))
			Expect(string(res.Body)).To(Equal(`{"error":"not found"}`))
		})

		It("should pass XML bodies through byte for byte", func() {
			payload := "<?xml version=\"1.0\"?>\n<items>\n  <item id=\"1\">café</item>\n</items>\n"
			respond = func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/xml; charset=utf-8")
				w.Write([]byte(payload))
			}

			res, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method:   http.MethodGet,
				Path:     "/items",
				RawQuery: "format=xml",
			}, target())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Body).To(Equal([]byte(payload)))
			Expect(res.Header.Get("Content-Type")).To(Equal("application/xml; charset=utf-8"))
		})

		It("should not follow redirects", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/elsewhere", http.StatusFound)
			}

			res, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method: http.MethodGet,
				Path:   "/items",
			}, target())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.StatusCode).To(Equal(http.StatusFound))
			Expect(res.Header.Get("Location")).To(Equal("/elsewhere"))
		})
	})

	Describe("transport failures", func() {
		It("should report a refused connection as a TransportError", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			addr := listener.Addr().String()
			listener.Close()

			dead, _ := url.Parse("http://" + addr)
			res, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method: http.MethodGet,
				Path:   "/items",
			}, dead)

			Expect(res).To(BeNil())
			Expect(errors.Is(err, forwarder.ErrTransport)).To(BeTrue())

			var transportErr *forwarder.TransportError
			Expect(errors.As(err, &transportErr)).To(BeTrue())
			Expect(transportErr.Backend).To(Equal("http://" + addr))
			Expect(transportErr.Timeout()).To(BeFalse())
		})

		It("should time out a backend that never answers", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			}

			slow := forwarder.New(100 * time.Millisecond)
			start := time.Now()
			_, err := slow.Forward(context.Background(), &forwarder.Request{
				Method: http.MethodGet,
				Path:   "/items",
			}, target())

			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			var transportErr *forwarder.TransportError
			Expect(errors.As(err, &transportErr)).To(BeTrue())
			Expect(transportErr.Timeout()).To(BeTrue())
		})

		It("should report client cancellation", func() {
			respond = func(w http.ResponseWriter, r *http.Request) {
				<-r.Context().Done()
			}

			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(50*time.Millisecond, cancel)

			_, err := fwd.Forward(ctx, &forwarder.Request{
				Method: http.MethodGet,
				Path:   "/items",
			}, target())

			var transportErr *forwarder.TransportError
			Expect(errors.As(err, &transportErr)).To(BeTrue())
			Expect(transportErr.Canceled()).To(BeTrue())
		})

		It("should report an unreadable request body", func() {
			_, err := fwd.Forward(context.Background(), &forwarder.Request{
				Method: http.MethodPost,
				Path:   "/items",
				Body:   failingReader{},
			}, target())

			Expect(errors.Is(err, forwarder.ErrRequestBody)).To(BeTrue())
			Expect(errors.Is(err, forwarder.ErrTransport)).To(BeFalse())
		})
	})

	Describe("StripHopHeaders", func() {
		It("should remove hop-by-hop headers and tokens named in Connection", func() {
			h := http.Header{}
			h.Set("Connection", "X-Internal")
			h.Set("X-Internal", "1")
			h.Set("Keep-Alive", "timeout=5")
			h.Set("Content-Type", "application/json")

			out := forwarder.StripHopHeaders(h)
			Expect(out).To(HaveKey("Content-Type"))
			Expect(out).NotTo(HaveKey("Connection"))
			Expect(out).NotTo(HaveKey("X-Internal"))
			Expect(out).NotTo(HaveKey("Keep-Alive"))
		})

		It("should handle a nil header", func() {
			Expect(forwarder.StripHopHeaders(nil)).To(BeEmpty())
		})
	})
})

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}
