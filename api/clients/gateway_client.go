package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/nexus-storage-gateway/api"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// UploadFile is one file of a batch upload.
type UploadFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// GatewayClient talks to the gateway HTTP API.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGatewayClient creates a client for the API at baseURL
// (e.g., "http://localhost:8080"). The timeout defaults to 5 minutes to
// accommodate large uploads.
func NewGatewayClient(baseURL string, timeout ...time.Duration) *GatewayClient {
	clientTimeout := 5 * time.Minute
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// Upload sends files as one multipart batch. Per-file failures are reported in
// the response, not as an error.
func (c *GatewayClient) Upload(ctx context.Context, files ...UploadFile) (*api.UploadResponse, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
		if f.MimeType != "" {
			header.Set("Content-Type", f.MimeType)
		}
		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/files", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result api.UploadResponse
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	return &result, nil
}

// ListFiles returns the catalogue filtered by query. An empty query lists
// everything.
func (c *GatewayClient) ListFiles(ctx context.Context, query string) (*api.FileListResponse, error) {
	path := "/api/v1/files"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var result api.FileListResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetFile returns the record with the given id.
func (c *GatewayClient) GetFile(ctx context.Context, id string) (*api.FileResponse, error) {
	var result api.FileResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/files/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetByCID returns the record registered for cid.
func (c *GatewayClient) GetByCID(ctx context.Context, cid interfaces.CID) (*api.FileResponse, error) {
	var result api.FileResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/cids/"+url.PathEscape(cid.String()), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteFile removes a record from the catalogue.
func (c *GatewayClient) DeleteFile(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/files/"+url.PathEscape(id), nil, nil)
}

// ClearFiles removes every record from the catalogue.
func (c *GatewayClient) ClearFiles(ctx context.Context) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/files", nil, nil)
}

// TogglePin flips the pin of a record.
func (c *GatewayClient) TogglePin(ctx context.Context, id string) (*api.PinResponse, error) {
	var result api.PinResponse
	if err := c.request(ctx, http.MethodPost, "/api/v1/files/"+url.PathEscape(id)+"/pin", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Select marks a record as selected.
func (c *GatewayClient) Select(ctx context.Context, id string) (*api.FileResponse, error) {
	var result api.SelectionResponse
	if err := c.request(ctx, http.MethodPost, "/api/v1/files/"+url.PathEscape(id)+"/select", nil, &result); err != nil {
		return nil, err
	}
	return result.Selected, nil
}

// Selection returns the selected record, or nil.
func (c *GatewayClient) Selection(ctx context.Context) (*api.FileResponse, error) {
	var result api.SelectionResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/selection", nil, &result); err != nil {
		return nil, err
	}
	return result.Selected, nil
}

// ClearSelection clears the selection.
func (c *GatewayClient) ClearSelection(ctx context.Context) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/selection", nil, nil)
}

// Download fetches the content for cid.
func (c *GatewayClient) Download(ctx context.Context, cid interfaces.CID) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ipfs/"+url.PathEscape(cid.String()), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Node describes the active node and the gateway status.
func (c *GatewayClient) Node(ctx context.Context) (*api.NodeResponse, error) {
	var result api.NodeResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/node", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats summarises the catalogue.
func (c *GatewayClient) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var result api.StatsResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Providers lists the remote provider table.
func (c *GatewayClient) Providers(ctx context.Context) ([]api.ProviderInfo, error) {
	var result []api.ProviderInfo
	if err := c.request(ctx, http.MethodGet, "/api/v1/providers", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SwitchMode switches the gateway backend. provider is only used for remote.
func (c *GatewayClient) SwitchMode(ctx context.Context, mode interfaces.Mode, provider string) (*api.GatewayStatus, error) {
	var result api.GatewayStatus
	req := api.ModeRequest{Mode: string(mode), Provider: provider}
	if err := c.request(ctx, http.MethodPost, "/api/v1/mode", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Retry reruns the gateway startup sequence.
func (c *GatewayClient) Retry(ctx context.Context) (*api.GatewayStatus, error) {
	var result api.GatewayStatus
	if err := c.request(ctx, http.MethodPost, "/api/v1/gateway/retry", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResolveDNSLink resolves the DNSLink record of domain.
func (c *GatewayClient) ResolveDNSLink(ctx context.Context, domain string) (*api.DNSLinkResponse, error) {
	var result api.DNSLinkResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/dnslink/"+url.PathEscape(domain), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *GatewayClient) request(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.do(req, out); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func (c *GatewayClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readStatusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var errResp api.ErrorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
