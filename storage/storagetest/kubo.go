// Package storagetest provides an in-process fake of the kubo HTTP API for
// tests of code that talks to a remote node.
package storagetest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// FakeKubo serves the subset of /api/v0 used by the remote backend:
// version, id, add, cat, pin/add and swarm/peers.
type FakeKubo struct {
	*httptest.Server

	mu      sync.Mutex
	objects map[string][]byte
	pins    map[string]bool
	peers   int
	calls   map[string]int
}

// NewFakeKubo starts a fake node. Call Close when done.
func NewFakeKubo() *FakeKubo {
	f := &FakeKubo{
		objects: map[string][]byte{},
		pins:    map[string]bool{},
		calls:   map[string]int{},
		peers:   3,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/version", f.handleVersion)
	mux.HandleFunc("/api/v0/id", f.handleID)
	mux.HandleFunc("/api/v0/add", f.handleAdd)
	mux.HandleFunc("/api/v0/cat", f.handleCat)
	mux.HandleFunc("/api/v0/pin/add", f.handlePinAdd)
	mux.HandleFunc("/api/v0/swarm/peers", f.handleSwarmPeers)
	f.Server = httptest.NewServer(mux)
	return f
}

// HashFor returns the CID the fake assigns to data.
func HashFor(data []byte) string {
	sum := sha256.Sum256(data)
	return "Qm" + hex.EncodeToString(sum[:])[:44]
}

// Put stores content directly, as if another client had added it.
func (f *FakeKubo) Put(data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := HashFor(data)
	f.objects[hash] = append([]byte(nil), data...)
	return hash
}

// Pinned reports whether hash was pinned.
func (f *FakeKubo) Pinned(hash string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins[hash]
}

// Calls returns how many times an API command was invoked.
func (f *FakeKubo) Calls(command string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[command]
}

// SetPeers sets the swarm peer count reported by swarm/peers.
func (f *FakeKubo) SetPeers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = n
}

func (f *FakeKubo) count(command string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[command]++
}

func (f *FakeKubo) handleVersion(w http.ResponseWriter, r *http.Request) {
	f.count("version")
	writeJSON(w, http.StatusOK, map[string]string{
		"Version": "0.29.0",
		"Commit":  "fake",
		"Repo":    "15",
		"System":  "amd64/linux",
		"Golang":  "go1.22.4",
	})
}

func (f *FakeKubo) handleID(w http.ResponseWriter, r *http.Request) {
	f.count("id")
	writeJSON(w, http.StatusOK, map[string]any{
		"ID":              "12D3KooWFakeKuboNode",
		"PublicKey":       "CAESIFake",
		"Addresses":       []string{"/ip4/127.0.0.1/tcp/4001/p2p/12D3KooWFakeKuboNode"},
		"AgentVersion":    "kubo/0.29.0/",
		"ProtocolVersion": "ipfs/0.1.0",
	})
}

func (f *FakeKubo) handleAdd(w http.ResponseWriter, r *http.Request) {
	f.count("add")
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, "expected multipart body")
		return
	}
	part, err := reader.NextPart()
	if err != nil {
		writeError(w, "no file in request")
		return
	}
	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, err.Error())
		return
	}

	hash := f.Put(data)
	if r.URL.Query().Get("pin") == "true" {
		f.mu.Lock()
		f.pins[hash] = true
		f.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"Name": "",
		"Hash": hash,
		"Size": jsonSize(len(data)),
	})
}

func (f *FakeKubo) handleCat(w http.ResponseWriter, r *http.Request) {
	f.count("cat")
	hash := r.URL.Query().Get("arg")

	f.mu.Lock()
	data, ok := f.objects[hash]
	f.mu.Unlock()
	if !ok {
		writeError(w, "block was not found locally (offline): ipld: could not find "+hash)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (f *FakeKubo) handlePinAdd(w http.ResponseWriter, r *http.Request) {
	f.count("pin/add")
	hash := r.URL.Query().Get("arg")

	f.mu.Lock()
	_, ok := f.objects[hash]
	if ok {
		f.pins[hash] = true
	}
	f.mu.Unlock()
	if !ok {
		writeError(w, "pin: merkledag: not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"Pins": {hash}})
}

func (f *FakeKubo) handleSwarmPeers(w http.ResponseWriter, r *http.Request) {
	f.count("swarm/peers")
	f.mu.Lock()
	n := f.peers
	f.mu.Unlock()

	peers := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		peers = append(peers, map[string]string{
			"Addr": "/ip4/10.0.0.1/tcp/4001",
			"Peer": "12D3KooWPeer" + string(rune('A'+i)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"Peers": peers})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError replies the way kubo reports command errors.
func writeError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"Message": message,
		"Code":    0,
		"Type":    "error",
	})
}

func jsonSize(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
