//go:build ignore

// Backend is a demo items API used to exercise the caching proxy.
// It serves an in-memory collection in JSON or XML and a /health endpoint.
//
// Usage:
//
//	go run backend.go -port 3001 -name alpha
//	go run backend.go -port 3002 -name beta -delay 50ms
//
// The format is chosen by ?format=xml|json or the Accept header.
package main

import (
	"encoding/json"
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Item is the resource served under /items.
type Item struct {
	XMLName xml.Name `json:"-" xml:"item"`
	ID      int      `json:"id" xml:"id"`
	Name    string   `json:"name" xml:"name"`
	Price   float64  `json:"price" xml:"price"`
}

type itemList struct {
	XMLName  xml.Name `json:"-" xml:"items"`
	Backend  string   `json:"backend" xml:"backend,attr"`
	Items    []Item   `json:"items" xml:"item"`
	Total    int      `json:"total" xml:"total,attr"`
	Offset   int      `json:"offset" xml:"offset,attr"`
	Limit    int      `json:"limit" xml:"limit,attr"`
	Rendered string   `json:"rendered_at" xml:"rendered_at,attr"`
}

type store struct {
	mu     sync.RWMutex
	items  map[int]Item
	nextID int
}

func newStore() *store {
	s := &store{items: make(map[int]Item), nextID: 1}
	for _, name := range []string{"widget", "gadget", "gizmo"} {
		s.create(Item{Name: name, Price: 9.99})
	}
	return s
}

func (s *store) create(it Item) Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	it.ID = s.nextID
	s.nextID++
	s.items[it.ID] = it
	return it
}

func (s *store) list() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	name := flag.String("name", "", "name reported in responses (defaults to the port)")
	delay := flag.Duration("delay", 0, "artificial latency added to every response")
	flag.Parse()

	if *name == "" {
		*name = strconv.Itoa(*port)
	}

	s := newStore()
	mux := http.NewServeMux()

	mux.HandleFunc("/items", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*delay)
		log.Printf("request: method=%s uri=%s from=%s", r.Method, r.RequestURI, r.RemoteAddr)

		switch r.Method {
		case http.MethodGet:
			all := s.list()
			offset := queryInt(r, "offset", 0)
			limit := queryInt(r, "limit", len(all))
			page := paginate(all, offset, limit)
			write(w, r, http.StatusOK, itemList{
				Backend:  *name,
				Items:    page,
				Total:    len(all),
				Offset:   offset,
				Limit:    limit,
				Rendered: time.Now().Format(time.RFC3339Nano),
			})
		case http.MethodPost:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			var it Item
			if err := json.Unmarshal(body, &it); err != nil || it.Name == "" {
				writeError(w, http.StatusBadRequest, "expected {\"name\":...,\"price\":...}")
				return
			}
			write(w, r, http.StatusCreated, s.create(it))
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	mux.HandleFunc("/items/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*delay)
		id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/items/"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		it, ok := s.items[id]
		if !ok {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			write(w, r, http.StatusOK, it)
		case http.MethodPut, http.MethodPatch:
			var patch Item
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json")
				return
			}
			if patch.Name != "" {
				it.Name = patch.Name
			}
			if patch.Price != 0 {
				it.Price = patch.Price
			}
			s.items[id] = it
			write(w, r, http.StatusOK, it)
		case http.MethodDelete:
			delete(s.items, id)
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	// simple health endpoint used by the proxy health observer
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting backend %s on %s", *name, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func paginate(items []Item, offset, limit int) []Item {
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func wantsXML(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == "xml"
	}
	return strings.Contains(r.Header.Get("Accept"), "xml")
}

func write(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsXML(r) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		w.Write([]byte(xml.Header))
		xml.NewEncoder(w).Encode(v)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
