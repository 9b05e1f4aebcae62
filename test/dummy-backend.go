package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
)

// A stand-in for one platform service. It echoes what the gateway forwarded
// and answers the gateway's health probes.
func main() {
	addr := flag.String("addr", ":8083", "Listen address")
	name := flag.String("name", "order-service", "Service name reported in responses")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/actuator/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Received request: %s %s user=%q", r.Method, r.URL.Path, r.Header.Get("X-User-Id"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"service":    *name,
			"path":       r.URL.Path,
			"user_id":    r.Header.Get("X-User-Id"),
			"request_id": r.Header.Get("X-Request-ID"),
		})
	})

	log.Printf("%s starting on %s", *name, *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}
