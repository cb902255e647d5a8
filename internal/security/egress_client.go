package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// egressAllowList は外部接続を許可するスキーム・ホスト・ポートの組。
type egressAllowList struct {
	schemes []string
	hosts   []string
	ports   []int
}

// newEgressAllowList は設定されたURLから許可リストを組み立てる。
// ポート省略時はスキームの既定ポートを使う。
func newEgressAllowList(rawURLs []string) (egressAllowList, error) {
	var allow egressAllowList
	if len(rawURLs) == 0 {
		return allow, fmt.Errorf("no egress targets configured")
	}
	for _, raw := range rawURLs {
		u, err := url.Parse(raw)
		if err != nil {
			return allow, fmt.Errorf("invalid egress URL %q: %w", raw, err)
		}
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return allow, fmt.Errorf("disallowed scheme in egress URL %q", raw)
		}
		host := u.Hostname()
		if host == "" {
			return allow, fmt.Errorf("empty host in egress URL %q", raw)
		}

		port := 80
		if scheme == "https" {
			port = 443
		}
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return allow, fmt.Errorf("invalid port in egress URL %q: %w", raw, err)
			}
		}

		if !slices.Contains(allow.schemes, scheme) {
			allow.schemes = append(allow.schemes, scheme)
		}
		if !slices.Contains(allow.hosts, host) {
			allow.hosts = append(allow.hosts, host)
		}
		if !slices.Contains(allow.ports, port) {
			allow.ports = append(allow.ports, port)
		}
	}
	return allow, nil
}

// NewEgressClient は設定済みの接続先にだけ通信できるHTTPクライアントを生成する。
// IdPとバックエンドは社内ネットワーク上にあることが多いため、safeurlの既定の
// プライベートIP遮断の代わりに、起動時に解決したIPとポートだけを許可する。
// ダイアル時に検証するため、リダイレクト先が許可外の場合も接続しない。
func NewEgressClient(ctx context.Context, timeout time.Duration, rawURLs ...string) (*http.Client, error) {
	allow, err := newEgressAllowList(rawURLs)
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, host := range allow.hosts {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve egress host %s: %w", host, err)
		}
		for _, addr := range addrs {
			if !slices.Contains(ips, addr) {
				ips = append(ips, addr)
			}
		}
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allow.schemes...).
		SetAllowedPorts(allow.ports...).
		SetAllowedIPs(ips...).
		Build()

	return safeurl.Client(config).Client, nil
}
