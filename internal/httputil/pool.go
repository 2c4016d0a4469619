// Package httputil provides the pooled HTTP clients shared by every vendor
// adapter, split by the connection-pool depth each adapter role actually
// needs rather than a single constructor taking a bare pool-size int.
package httputil

import (
	"net/http"
	"time"
)

// NewVendorJobClient builds a pooled client for ASR/separation back-ends
// (§4.2): one or a few job-submission-plus-poll or single-shot calls
// in flight per run, so a modest pool covers Speechmatics, Azure, and
// AudioShake without over-provisioning idle connections to a vendor this
// service only calls a handful of times per request.
func NewVendorJobClient(timeout time.Duration) *http.Client {
	return newPooledClient(8, timeout)
}

// NewRemoteChatClient builds a pooled client for a remote, multi-tenant
// OpenAI-compatible chat backend (§4.2): the Role Classifier fans out one
// call per separated stem and the Markdown Pipeline issues several more,
// so the pool is deeper than the job-vendor clients to avoid serializing
// those calls behind a shallow connection limit.
func NewRemoteChatClient(timeout time.Duration) *http.Client {
	return newPooledClient(16, timeout)
}

// NewLocalChatClient builds a pooled client for a single local
// OpenAI-compatible server process (§4.2): that process can only serve a
// few requests concurrently, so the pool stays shallow — a deeper one
// would just queue requests the server would otherwise reject or starve.
func NewLocalChatClient(timeout time.Duration) *http.Client {
	return newPooledClient(4, timeout)
}

func newPooledClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
