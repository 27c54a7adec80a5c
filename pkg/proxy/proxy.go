// Package proxy is a plain HTTP forward proxy. Requests are forwarded with a
// caller-provided transport, so an intercepted transport records every
// exchange that passes through. CONNECT tunnels aren't supported.
package proxy

import (
	"errors"
	"net/http"
	"net/http/httputil"

	"github.com/dstotijn/netlog/pkg/log"
)

var ErrAbsoluteURLRequired = errors.New("proxy: request URL must be absolute")

type Proxy struct {
	handler *httputil.ReverseProxy
	logger  log.Logger
}

type Config struct {
	Transport http.RoundTripper
	Logger    log.Logger
}

func NewProxy(cfg Config) *Proxy {
	p := &Proxy{
		logger: cfg.Logger,
	}

	if p.logger == nil {
		p.logger = log.NewNopLogger()
	}

	p.handler = &httputil.ReverseProxy{
		// Out already carries the absolute URL of the proxied request.
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetXForwarded()
		},
		Transport:    cfg.Transport,
		ErrorHandler: p.errorHandler,
	}

	return p
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "proxy: CONNECT is not supported", http.StatusNotImplemented)
		return
	}

	if !r.URL.IsAbs() {
		http.Error(w, ErrAbsoluteURLRequired.Error(), http.StatusBadRequest)
		return
	}

	p.handler.ServeHTTP(w, r)
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, r.Context().Err()) {
		return
	}

	p.logger.Errorw("Failed to proxy request.",
		"url", r.URL.String(),
		"error", err)

	w.WriteHeader(http.StatusBadGateway)
}
