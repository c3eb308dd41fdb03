package hostfuncs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/sandboxrt/sandboxrt/internal/memory"
	"github.com/sandboxrt/sandboxrt/internal/wasm/ffi"
)

// dnsPinningTransport prevents DNS rebinding by resolving the hostname once,
// validating the capability against that resolved address, then connecting
// to the pinned IP rather than re-resolving on every redirect hop.
type dnsPinningTransport struct {
	base    *http.Transport
	ctx     context.Context
	checker *CapabilityChecker
}

func (t *dnsPinningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	hostname := req.URL.Hostname()

	validatedIP, err := resolveAndValidate(t.ctx, hostname, t.checker)
	if err != nil {
		return nil, fmt.Errorf("network capability check: %w", err)
	}

	port := getPort(req.URL)
	pinnedTransport := t.createPinnedTransport(validatedIP, port, hostname, req.URL.Scheme)

	return pinnedTransport.RoundTrip(req)
}

func getPort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}

func (t *dnsPinningTransport) createPinnedTransport(validatedIP, port, hostname, scheme string) *http.Transport {
	pinnedTransport := t.base.Clone()
	pinnedTransport.DialContext = func(dialCtx context.Context, network, _ string) (net.Conn, error) {
		targetAddr := net.JoinHostPort(validatedIP, port)
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		return dialer.DialContext(dialCtx, network, targetAddr)
	}

	if scheme == "https" {
		if pinnedTransport.TLSClientConfig == nil {
			pinnedTransport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		pinnedTransport.TLSClientConfig.ServerName = hostname
	}

	return pinnedTransport
}

// resolveAndValidate resolves hostname to its first address and checks the
// outbound network capability against it.
func resolveAndValidate(ctx context.Context, hostname string, checker *CapabilityChecker) (string, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, hostname)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", hostname, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", hostname)
	}
	return addrs[0], nil
}

// HTTPRequest is the host function backing the guest's async HTTP façade
// (§4.5). Once the request envelope is parsed, every outcome (capability
// denial, malformed request, transport failure, or a real response) is
// delivered through request.SuccessHandle/ErrorHandle via the guest's
// closure dispatcher rather than a synchronous return.
func HTTPRequest(ctx context.Context, mod api.Module, stack []uint64, checker *CapabilityChecker, closures *ffi.Arena, heap *memory.Heap) {
	request, errDetail := readHTTPRequest(ctx, mod, stack[0])
	if errDetail != nil {
		stack[0] = hostWriteResponse(ctx, mod, HTTPResponseWire{Error: errDetail})
		return
	}
	stack[0] = 0

	httpCtx, cancel := createContextFromWire(ctx, request.Context)
	defer cancel()

	if errDetail := checkHTTPCapability(ctx, checker, request); errDetail != nil {
		completeAsync(ctx, mod, closures, request.SuccessHandle, request.ErrorHandle, false, HTTPResponseWire{Error: errDetail})
		return
	}

	req, errDetail := buildHTTPRequest(ctx, httpCtx, request)
	if errDetail != nil {
		completeAsync(ctx, mod, closures, request.SuccessHandle, request.ErrorHandle, false, HTTPResponseWire{Error: errDetail})
		return
	}

	response := executeHTTPRequest(ctx, req, checker, request.URL, heap)
	completeAsync(ctx, mod, closures, request.SuccessHandle, request.ErrorHandle, response.Error == nil, response)
}

func readHTTPRequest(ctx context.Context, mod api.Module, requestPacked uint64) (*HTTPRequestWire, *ErrorDetail) {
	requestBytes, errDetail := readGuestBytes(ctx, mod, requestPacked, "HTTP request")
	if errDetail != nil {
		return nil, errDetail
	}

	var request HTTPRequestWire
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		errMsg := fmt.Sprintf("hostfuncs: failed to unmarshal HTTP request: %v", err)
		slog.ErrorContext(ctx, errMsg)
		return nil, &ErrorDetail{Message: errMsg, Type: "internal"}
	}

	return &request, nil
}

func checkHTTPCapability(ctx context.Context, checker *CapabilityChecker, request *HTTPRequestWire) *ErrorDetail {
	parsedURL, err := url.Parse(request.URL)
	if err != nil {
		errMsg := fmt.Sprintf("invalid URL: %v", err)
		slog.WarnContext(ctx, errMsg, "url", request.URL)
		return &ErrorDetail{Message: errMsg, Type: "config"}
	}

	port := getPort(parsedURL)
	capabilityPattern := fmt.Sprintf("outbound:%s", port)

	if err := checker.Check("network", capabilityPattern); err != nil {
		errMsg := fmt.Sprintf("permission denied for %s %s: %v", request.Method, request.URL, err)
		slog.WarnContext(ctx, errMsg, "url", request.URL, "method", request.Method)
		return &ErrorDetail{Message: errMsg, Type: "capability"}
	}

	return nil
}

func buildHTTPRequest(ctx context.Context, httpCtx context.Context, request *HTTPRequestWire) (*http.Request, *ErrorDetail) {
	var reqBody io.Reader
	if request.Body != "" {
		decodedBody, err := base64.StdEncoding.DecodeString(request.Body)
		if err != nil {
			errMsg := fmt.Sprintf("failed to decode request body: %v", err)
			slog.ErrorContext(ctx, errMsg, "url", request.URL)
			return nil, &ErrorDetail{Message: errMsg, Type: "config"}
		}
		reqBody = bytes.NewReader(decodedBody)
	}

	req, err := http.NewRequestWithContext(httpCtx, request.Method, request.URL, reqBody)
	if err != nil {
		errMsg := fmt.Sprintf("failed to create HTTP request: %v", err)
		slog.ErrorContext(ctx, errMsg, "url", request.URL, "method", request.Method)
		return nil, &ErrorDetail{Message: errMsg, Type: "internal"}
	}

	req.Header.Set("User-Agent", "sandboxrt-guest-app/1")
	for key, values := range request.Headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	return req, nil
}

func executeHTTPRequest(ctx context.Context, req *http.Request, checker *CapabilityChecker, requestURL string, heap *memory.Heap) HTTPResponseWire {
	baseTransport := &http.Transport{
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Transport: &dnsPinningTransport{
			base:    baseTransport,
			ctx:     ctx,
			checker: checker,
		},
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		errMsg := fmt.Sprintf("HTTP request failed: %v", err)
		slog.ErrorContext(ctx, errMsg, "url", requestURL, "method", req.Method)
		return HTTPResponseWire{Error: toErrorDetail(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return readHTTPResponse(ctx, resp, requestURL, heap)
}

// readHTTPResponse stages the response body through the host-side HTTP heap
// before it is base64-encoded into the wire response: the body is read into
// a heap-backed region (exercising the region's guard pages the same way the
// guest's own allocations do) and copied out once, rather than handed to the
// JSON encoder directly out of the HTTP client's internal buffer.
func readHTTPResponse(ctx context.Context, resp *http.Response, requestURL string, heap *memory.Heap) HTTPResponseWire {
	const maxBodySize = 10 * 1024 * 1024

	limitedReader := io.LimitReader(resp.Body, maxBodySize+1)
	readBytes, err := io.ReadAll(limitedReader)
	if err != nil {
		errMsg := fmt.Sprintf("failed to read response body: %v", err)
		slog.ErrorContext(ctx, errMsg, "url", requestURL)
		return HTTPResponseWire{Error: toErrorDetail(err)}
	}

	bodyTruncated := false
	if len(readBytes) > maxBodySize {
		readBytes = readBytes[:maxBodySize]
		bodyTruncated = true
		slog.WarnContext(ctx, "HTTP response body truncated", "url", requestURL, "max_size_mb", maxBodySize/(1024*1024))
	}

	respBodyBytes := readBytes
	if heap != nil && len(readBytes) > 0 {
		if offset := heap.Alloc(len(readBytes), "http-response-body"); offset >= 0 {
			region := heap.Region()
			copy(region.Bytes()[offset:offset+len(readBytes)], readBytes)
			respBodyBytes = make([]byte, len(readBytes))
			copy(respBodyBytes, region.Bytes()[offset:offset+len(readBytes)])
			heap.Free(offset)
		} else {
			slog.WarnContext(ctx, "HTTP heap exhausted, staging response body unbuffered", "url", requestURL, "size", len(readBytes))
		}
	}

	var encodedRespBody string
	if len(respBodyBytes) > 0 {
		encodedRespBody = base64.StdEncoding.EncodeToString(respBodyBytes)
	}

	responseHeaders := make(map[string][]string)
	for key, values := range resp.Header {
		responseHeaders[key] = values
	}

	return HTTPResponseWire{
		StatusCode:    resp.StatusCode,
		Headers:       responseHeaders,
		Body:          encodedRespBody,
		BodyTruncated: bodyTruncated,
	}
}
