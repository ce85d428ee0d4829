package api

import (
	"github.com/ruteri/nexus-storage-gateway/interfaces"
)

// FileResponse is a catalogue record with its public gateway link.
type FileResponse struct {
	interfaces.FileRecord
	GatewayURL string `json:"gatewayUrl,omitempty"`
}

// FileListResponse is returned by the list and search endpoint.
type FileListResponse struct {
	Files []FileResponse `json:"files"`
	Total int            `json:"total"`
}

// UploadResult is the outcome of one file in a batch upload. Exactly one of
// Record and Error is set.
type UploadResult struct {
	Name   string        `json:"name"`
	Record *FileResponse `json:"record,omitempty"`
	Error  string        `json:"error,omitempty"`

	// Status is the HTTP status the file would have produced on its own.
	Status int `json:"status"`
}

// UploadResponse is returned by the batch upload endpoint.
type UploadResponse struct {
	Results   []UploadResult `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

// PinResponse is returned after toggling a pin.
type PinResponse struct {
	Record FileResponse `json:"record"`

	// BackendUnpinned is false when the active backend kept its pin because it
	// cannot release pins. Only meaningful when Record.Pinned is false.
	BackendUnpinned bool `json:"backendUnpinned"`
}

// SelectionResponse carries the selected record, if any.
type SelectionResponse struct {
	Selected *FileResponse `json:"selected"`
}

// GatewayStatus describes the routing state of the storage gateway.
type GatewayStatus struct {
	Mode            interfaces.Mode `json:"mode"`
	Provider        string          `json:"provider,omitempty"`
	EmbeddedRunning bool            `json:"embeddedRunning"`
	RemoteConnected bool            `json:"remoteConnected"`
	RemoteEndpoint  string          `json:"remoteEndpoint,omitempty"`
}

// NodeResponse combines gateway status with a description of the active node.
// Node is nil and Error is set when the active backend could not describe it.
type NodeResponse struct {
	Status GatewayStatus        `json:"status"`
	Node   *interfaces.NodeInfo `json:"node,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// StatsResponse summarises the catalogue.
type StatsResponse struct {
	interfaces.RegistryStats
	Mode interfaces.Mode `json:"mode"`
}

// ProviderInfo is one entry of the remote provider table.
type ProviderInfo struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// ModeRequest asks the gateway to switch backends. Provider is only used for
// the remote mode.
type ModeRequest struct {
	Mode     string `json:"mode"`
	Provider string `json:"provider,omitempty"`
}

// DNSLinkResponse is a resolved DNSLink record. Record is set when the CID is
// already in the catalogue.
type DNSLinkResponse struct {
	Domain    string        `json:"domain"`
	Path      string        `json:"path"`
	Namespace string        `json:"namespace"`
	CID       string        `json:"cid,omitempty"`
	Record    *FileResponse `json:"record,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}
