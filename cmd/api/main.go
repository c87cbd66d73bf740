// cmd/api/main.go
package main

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"
)

func main() {
	registryServiceURL, _ := url.Parse(getEnv("REGISTRY_SERVICE_URL", "http://localhost:8081"))
	engineServiceURL, _ := url.Parse(getEnv("ENGINE_SERVICE_URL", "http://localhost:8082"))

	registryProxy := httputil.NewSingleHostReverseProxy(registryServiceURL)
	engineProxy := httputil.NewSingleHostReverseProxy(engineServiceURL)

	// The engine owns the transaction surface plus the per-product
	// availability and swap-offer views; everything else under /products
	// is the registry's.
	http.Handle("/api/v1/transactions/", http.StripPrefix("/api/v1", engineProxy))
	http.Handle("/api/v1/products/", http.StripPrefix("/api/v1", &productMux{
		engine:   engineProxy,
		registry: registryProxy,
	}))

	port := getEnv("PORT", "8080")
	log.Printf("API Gateway listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}

type productMux struct {
	engine   http.Handler
	registry http.Handler
}

func (m *productMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/availability"), strings.HasSuffix(r.URL.Path, "/swap-offers"):
		m.engine.ServeHTTP(w, r)
	default:
		m.registry.ServeHTTP(w, r)
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
