package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/nexus-storage-gateway/api"
	"github.com/ruteri/nexus-storage-gateway/dnslink"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"github.com/ruteri/nexus-storage-gateway/storage"
	"github.com/ruteri/nexus-storage-gateway/upload"
)

const (
	// UploadFormField is the multipart field carrying uploaded files.
	UploadFormField = "files"

	// maxMultipartMemory is kept in memory while parsing uploads, the rest
	// spills to temporary files.
	maxMultipartMemory = 32 << 20

	// maxBodySize bounds JSON request bodies.
	maxBodySize = 64 * 1024
)

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	// StatusCode is the HTTP status code to return.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error returns the error message from the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(format string, args ...any) *RequestError {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

// StorageGateway is the part of storage.Gateway the handler needs.
type StorageGateway interface {
	Fetch(ctx context.Context, cid interfaces.CID) ([]byte, error)
	Pin(ctx context.Context, cid interfaces.CID) error
	Unpin(ctx context.Context, cid interfaces.CID) error
	DescribeNode(ctx context.Context) (*interfaces.NodeInfo, error)
	SwitchMode(ctx context.Context, target interfaces.Mode, provider string) error
	Retry(ctx context.Context) error
	Status() storage.GatewayStatus
	Providers() []storage.Provider
	GatewayURL(cid interfaces.CID) string
}

// FileCatalogue is the part of registry.FileRegistry the handler needs.
type FileCatalogue interface {
	Search(query string) []interfaces.FileRecord
	FindByID(id string) (interfaces.FileRecord, bool)
	FindByCID(cid interfaces.CID) (interfaces.FileRecord, bool)
	RemoveFile(ctx context.Context, id string) error
	TogglePin(ctx context.Context, id string) (interfaces.FileRecord, bool, error)
	Clear(ctx context.Context) error
	Select(id string) bool
	ClearSelection()
	Selected() (interfaces.FileRecord, bool)
	Stats() interfaces.RegistryStats
}

// BatchUploader is implemented by upload.Uploader.
type BatchUploader interface {
	UploadBatch(ctx context.Context, inputs []upload.Input, progress upload.ProgressFunc) []upload.Result
	Policy() upload.Policy
}

// LinkResolver is implemented by dnslink.Resolver.
type LinkResolver interface {
	Resolve(ctx context.Context, domain string) (dnslink.Link, error)
}

// Handler serves the file catalogue and storage gateway API.
type Handler struct {
	gateway  StorageGateway
	files    FileCatalogue
	uploader BatchUploader
	resolver LinkResolver
	log      *slog.Logger
}

// NewHandler creates a new HTTP request handler. resolver may be nil, in
// which case DNSLink resolution answers 501.
func NewHandler(gateway StorageGateway, files FileCatalogue, uploader BatchUploader, resolver LinkResolver, log *slog.Logger) *Handler {
	return &Handler{
		gateway:  gateway,
		files:    files,
		uploader: uploader,
		resolver: resolver,
		log:      log,
	}
}

// HandleUpload ingests every file of a multipart form and registers it.
//
// URL format: POST /api/v1/files, multipart field "files"
//
// The response is 200 whenever the form parsed. Per-file failures are reported
// in the results with the status the file would have produced on its own.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		h.writeError(w, badRequest("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[UploadFormField]
	if len(headers) == 0 {
		h.writeError(w, badRequest("no files in form field %q", UploadFormField))
		return
	}

	policy := h.uploader.Policy()
	results := make([]api.UploadResult, len(headers))
	inputs := make([]upload.Input, 0, len(headers))
	slots := make([]int, 0, len(headers))

	for i, fh := range headers {
		results[i].Name = fh.Filename
		if err := policy.CheckSize(fh.Size); err != nil {
			h.setResultError(&results[i], err)
			continue
		}
		data, err := readPart(fh, policy.MaxFileSize)
		if err != nil {
			h.setResultError(&results[i], badRequest("failed to read %s: %v", fh.Filename, err))
			continue
		}
		inputs = append(inputs, upload.Input{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
		slots = append(slots, i)
	}

	progress := func(done, total int) {
		h.log.Debug("Upload progress", slog.Int("done", done), slog.Int("total", total))
	}
	for j, res := range h.uploader.UploadBatch(r.Context(), inputs, progress) {
		slot := &results[slots[j]]
		if res.Err != nil {
			h.setResultError(slot, res.Err)
			continue
		}
		file := h.fileResponse(*res.Record)
		slot.Record = &file
		slot.Status = http.StatusCreated
	}

	resp := api.UploadResponse{Results: results}
	for _, res := range results {
		if res.Record != nil {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) setResultError(res *api.UploadResult, err error) {
	res.Error = err.Error()
	res.Status = statusFor(err)
}

func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		// One byte over the limit lets the policy reject a lying header.
		r = io.LimitReader(f, limit+1)
	}
	return io.ReadAll(r)
}

// HandleListFiles returns the catalogue, filtered by the optional q parameter.
//
// URL format: GET /api/v1/files?q=
func (h *Handler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	records := h.files.Search(r.URL.Query().Get("q"))
	resp := api.FileListResponse{
		Files: make([]api.FileResponse, 0, len(records)),
		Total: len(records),
	}
	for _, rec := range records {
		resp.Files = append(resp.Files, h.fileResponse(rec))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleGetFile returns one record by id.
//
// URL format: GET /api/v1/files/{id}
func (h *Handler) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.files.FindByID(r.PathValue("id"))
	if !ok {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: errors.New("file not found")})
		return
	}
	h.writeJSON(w, http.StatusOK, h.fileResponse(rec))
}

// HandleGetByCID returns the record registered for a CID.
//
// URL format: GET /api/v1/cids/{cid}
func (h *Handler) HandleGetByCID(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.files.FindByCID(interfaces.CID(r.PathValue("cid")))
	if !ok {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: errors.New("no file with this cid")})
		return
	}
	h.writeJSON(w, http.StatusOK, h.fileResponse(rec))
}

// HandleDeleteFile removes a record. Removing an unknown id succeeds.
// Content stays in the storage backend.
//
// URL format: DELETE /api/v1/files/{id}
func (h *Handler) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.files.RemoveFile(r.Context(), r.PathValue("id")); err != nil {
		h.log.Error("Failed to remove file", "err", err, "id", r.PathValue("id"))
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClearFiles removes every record.
//
// URL format: DELETE /api/v1/files
func (h *Handler) HandleClearFiles(w http.ResponseWriter, r *http.Request) {
	if err := h.files.Clear(r.Context()); err != nil {
		h.log.Error("Failed to clear catalogue", "err", err)
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTogglePin flips the pinned flag of a record. Pinning goes to the
// backend first and the flag only changes once the backend accepted the pin.
// Unpinning releases the backend pin when the active backend supports it and
// always clears the flag.
//
// URL format: POST /api/v1/files/{id}/pin
func (h *Handler) HandleTogglePin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	rec, ok := h.files.FindByID(id)
	if !ok {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: errors.New("file not found")})
		return
	}

	backendUnpinned := false
	if !rec.Pinned {
		if err := h.gateway.Pin(ctx, rec.CID); err != nil {
			h.log.Error("Failed to pin content", "err", err, "cid", rec.CID)
			h.writeError(w, err)
			return
		}
	} else {
		err := h.gateway.Unpin(ctx, rec.CID)
		switch {
		case err == nil:
			backendUnpinned = true
		case errors.Is(err, interfaces.ErrUnpinUnsupported):
			h.log.Info("Active backend keeps its pin, clearing local flag only", "cid", rec.CID)
		default:
			h.log.Error("Failed to unpin content", "err", err, "cid", rec.CID)
			h.writeError(w, err)
			return
		}
	}

	updated, found, err := h.files.TogglePin(ctx, id)
	if err != nil {
		h.log.Error("Failed to persist pin state", "err", err, "id", id)
		h.writeError(w, err)
		return
	}
	if !found {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: errors.New("file not found")})
		return
	}

	h.writeJSON(w, http.StatusOK, api.PinResponse{
		Record:          h.fileResponse(updated),
		BackendUnpinned: backendUnpinned,
	})
}

// HandleSelect marks a record as selected.
//
// URL format: POST /api/v1/files/{id}/select
func (h *Handler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.files.Select(id) {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotFound, Err: errors.New("file not found")})
		return
	}
	rec, _ := h.files.FindByID(id)
	file := h.fileResponse(rec)
	h.writeJSON(w, http.StatusOK, api.SelectionResponse{Selected: &file})
}

// HandleGetSelection returns the selected record, or null.
//
// URL format: GET /api/v1/selection
func (h *Handler) HandleGetSelection(w http.ResponseWriter, r *http.Request) {
	var resp api.SelectionResponse
	if rec, ok := h.files.Selected(); ok {
		file := h.fileResponse(rec)
		resp.Selected = &file
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleClearSelection clears the selection.
//
// URL format: DELETE /api/v1/selection
func (h *Handler) HandleClearSelection(w http.ResponseWriter, r *http.Request) {
	h.files.ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

// HandleDownload streams content from the active backend. Known CIDs are
// served with the registered name and type.
//
// URL format: GET /ipfs/{cid}
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	cid := interfaces.CID(r.PathValue("cid"))
	if cid.IsZero() {
		h.writeError(w, badRequest("missing cid"))
		return
	}

	data, err := h.gateway.Fetch(r.Context(), cid)
	if err != nil {
		h.log.Error("Failed to fetch content", "err", err, "cid", cid)
		h.writeError(w, err)
		return
	}

	name := cid.String()
	var modTime time.Time
	if rec, ok := h.files.FindByCID(cid); ok {
		name = rec.Name
		modTime = rec.CreatedAt
		if rec.MimeType != "" {
			w.Header().Set("Content-Type", rec.MimeType)
		}
		w.Header().Set("Content-Disposition", contentDisposition(rec.Name))
	}
	w.Header().Set("Etag", `"`+cid.String()+`"`)
	http.ServeContent(w, r, name, modTime, bytes.NewReader(data))
}

// HandleNode describes the active node. It answers 200 even when no backend
// is active so pollers always get the gateway status.
//
// URL format: GET /api/v1/node
func (h *Handler) HandleNode(w http.ResponseWriter, r *http.Request) {
	resp := api.NodeResponse{Status: toAPIStatus(h.gateway.Status())}
	info, err := h.gateway.DescribeNode(r.Context())
	if err != nil {
		h.log.Debug("Failed to describe node", "err", err)
		resp.Error = err.Error()
	} else {
		resp.Node = info
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStats summarises the catalogue.
//
// URL format: GET /api/v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.StatsResponse{
		RegistryStats: h.files.Stats(),
		Mode:          h.gateway.Status().Mode,
	})
}

// HandleProviders lists the remote provider table.
//
// URL format: GET /api/v1/providers
func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	status := h.gateway.Status()
	providers := h.gateway.Providers()
	resp := make([]api.ProviderInfo, 0, len(providers))
	for _, p := range providers {
		resp = append(resp, api.ProviderInfo{
			Name:   p.Name,
			URL:    p.URL,
			Active: status.Mode == interfaces.ModeRemote && status.Provider == p.Name,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleSwitchMode switches the gateway to another backend. A failed switch
// leaves the previous mode active.
//
// URL format: POST /api/v1/mode, body api.ModeRequest
func (h *Handler) HandleSwitchMode(w http.ResponseWriter, r *http.Request) {
	var req api.ModeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, badRequest("invalid request body: %v", err))
		return
	}

	mode, err := interfaces.ParseMode(req.Mode)
	if err != nil {
		h.writeError(w, badRequest("%v: %q", err, req.Mode))
		return
	}

	if err := h.gateway.SwitchMode(r.Context(), mode, req.Provider); err != nil {
		h.log.Error("Failed to switch gateway mode", "err", err, "mode", mode, "provider", req.Provider)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toAPIStatus(h.gateway.Status()))
}

// HandleRetry reruns the startup fallback sequence.
//
// URL format: POST /api/v1/gateway/retry
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.Retry(r.Context()); err != nil {
		h.log.Error("Gateway retry failed", "err", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toAPIStatus(h.gateway.Status()))
}

// HandleDNSLink resolves the DNSLink record of a domain.
//
// URL format: GET /api/v1/dnslink/{domain}
func (h *Handler) HandleDNSLink(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		h.writeError(w, &RequestError{StatusCode: http.StatusNotImplemented, Err: errors.New("dnslink resolution disabled")})
		return
	}

	link, err := h.resolver.Resolve(r.Context(), r.PathValue("domain"))
	if err != nil {
		h.log.Info("DNSLink resolution failed", "err", err, "domain", r.PathValue("domain"))
		h.writeError(w, err)
		return
	}

	resp := api.DNSLinkResponse{
		Domain:    link.Domain,
		Path:      link.Path,
		Namespace: link.Namespace,
		CID:       string(link.CID),
	}
	if link.CID != "" {
		if rec, ok := h.files.FindByCID(interfaces.CID(link.CID)); ok {
			file := h.fileResponse(rec)
			resp.Record = &file
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Ready reports whether the gateway has an active backend.
func (h *Handler) Ready() bool {
	return h.gateway.Status().Mode != interfaces.ModeUnavailable
}

func (h *Handler) fileResponse(rec interfaces.FileRecord) api.FileResponse {
	return api.FileResponse{FileRecord: rec, GatewayURL: h.gateway.GatewayURL(rec.CID)}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, statusFor(err), api.ErrorResponse{Error: err.Error()})
}

// statusFor maps an error to the HTTP status reported to clients.
func statusFor(err error) int {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, interfaces.ErrNotFound), errors.Is(err, dnslink.ErrNoDNSLink):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrBackendUnavailable), errors.Is(err, interfaces.ErrNoBackendAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, interfaces.ErrIngestFailure):
		return http.StatusBadGateway
	case errors.Is(err, upload.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrMimeTypeNotAllowed),
		errors.Is(err, interfaces.ErrInvalidMode),
		errors.Is(err, interfaces.ErrUnknownProvider),
		errors.Is(err, dnslink.ErrInvalidDomain):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func toAPIStatus(s storage.GatewayStatus) api.GatewayStatus {
	return api.GatewayStatus{
		Mode:            s.Mode,
		Provider:        s.Provider,
		EmbeddedRunning: s.EmbeddedRunning,
		RemoteConnected: s.RemoteConnected,
		RemoteEndpoint:  s.RemoteEndpoint,
	}
}

func contentDisposition(name string) string {
	name = strings.NewReplacer(`"`, "", "\r", "", "\n", "").Replace(name)
	return fmt.Sprintf(`inline; filename="%s"`, name)
}
