package loadbalancer_test

import (
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/caching-proxy/internal/backend"
	"github.com/angeloszaimis/caching-proxy/internal/loadbalancer"
	"github.com/angeloszaimis/caching-proxy/internal/strategy"
)

var _ = Describe("LoadBalancer", func() {
	var (
		lb       *loadbalancer.LoadBalancer
		backends []*backend.Backend
	)

	BeforeEach(func() {
		backends = []*backend.Backend{
			backend.New(mustParseURL("http://localhost:8081")),
			backend.New(mustParseURL("http://localhost:8082")),
			backend.New(mustParseURL("http://localhost:8083")),
		}

		var err error
		lb, err = loadbalancer.New(backends, strategy.NewRoundRobinStrategy())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("should reject an empty pool", func() {
			balancer, err := loadbalancer.New(nil, strategy.NewRoundRobinStrategy())
			Expect(err).To(MatchError(loadbalancer.ErrEmptyPool))
			Expect(balancer).To(BeNil())
		})

		It("should reject a nil strategy", func() {
			balancer, err := loadbalancer.New(backends, nil)
			Expect(err).To(HaveOccurred())
			Expect(balancer).To(BeNil())
		})

		It("should not be affected by later changes to the caller's slice", func() {
			backends[0] = backend.New(mustParseURL("http://localhost:9999"))
			Expect(lb.Addresses()[0]).To(Equal("http://localhost:8081"))
		})
	})

	Describe("Next", func() {
		It("should follow pool order and wrap around", func() {
			var picked []string
			for i := 0; i < 6; i++ {
				picked = append(picked, lb.Next().Address())
			}
			Expect(picked).To(Equal([]string{
				"http://localhost:8081", "http://localhost:8082", "http://localhost:8083",
				"http://localhost:8081", "http://localhost:8082", "http://localhost:8083",
			}))
		})

		It("should not skip unhealthy backends", func() {
			lb.Backends()[0].SetHealthy(false)
			Expect(lb.Next().Address()).To(Equal("http://localhost:8081"))
		})
	})

	Describe("Position", func() {
		It("should advance modulo pool size", func() {
			Expect(lb.Position()).To(Equal(0))
			lb.Next()
			Expect(lb.Position()).To(Equal(1))
			lb.Next()
			lb.Next()
			Expect(lb.Position()).To(Equal(0))
		})
	})
})

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
