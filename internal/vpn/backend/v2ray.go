package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	veevpnerrors "github.com/veevpn/panel/internal/shared/errors"
)

// V2RayClient talks to a companion management API fronting an Xray-core
// instance (POST /keys, GET /keys/{id}/link, POST /system/xray/sync-config).
// The API's response shapes vary across server builds: key_id arrives as
// either a number or a string, the ready-made VLESS URL is returned under
// one of several field names. GetUserConfig and CreateUser tolerate all of
// these rather than assuming one fixed shape.
type V2RayClient struct {
	apiURL string
	apiKey string
	client *http.Client
}

// NewV2RayClient builds a client against one V2Ray server's management API.
func NewV2RayClient(apiURL, apiKey string, insecureSkipVerify bool) *V2RayClient {
	return &V2RayClient{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		client: newHTTPClient(insecureSkipVerify),
	}
}

type v2rayCreateResponse struct {
	KeyID        json.Number `json:"key_id"`
	ID           json.Number `json:"id"`
	UUID         string      `json:"uuid"`
	ClientConfig string      `json:"client_config"`
	VlessURL     string      `json:"vless_url"`
}

type v2rayLinkResponse struct {
	VlessLink    string `json:"vless_link"`
	ClientConfig string `json:"client_config"`
	VlessURL     string `json:"vless_url"`
}

type v2raySyncResponse struct {
	Message string `json:"message"`
}

type v2rayTrafficResponse struct {
	Data  *v2rayTrafficBody `json:"data"`
	Ports map[string]v2rayPortTraffic `json:"ports"`
}

type v2rayTrafficBody struct {
	Ports map[string]v2rayPortTraffic `json:"ports"`
}

type v2rayPortTraffic struct {
	UUID       string `json:"uuid"`
	TotalBytes int64  `json:"total_bytes"`
}

type v2rayKeysResponse struct {
	Keys []v2rayKeySummary `json:"keys"`
}

type v2rayKeySummary struct {
	KeyID json.Number `json:"key_id"`
	ID    json.Number `json:"id"`
	UUID  string      `json:"uuid"`
}

// CreateUser provisions a key with POST /keys. When the create response
// carries no client config, it fetches the server-rendered VLESS URL with
// GET /keys/{id}/link (the server owns SNI/short-id/public-key material —
// this client never synthesizes them); if that still yields nothing it
// calls POST /system/xray/sync-config and fetches the link once more.
// Otherwise it calls sync-config once so the running Xray process picks up
// the new client without a restart. A sync failure is discarded here (the
// caller never sees it) and does not fail provisioning: the key is already
// live in the config store and most builds apply it automatically on the
// next reload cycle.
func (v *V2RayClient) CreateUser(ctx context.Context, email string, trafficLimitBytes int64) (UserConfig, error) {
	var created v2rayCreateResponse
	if err := v.doJSON(ctx, http.MethodPost, "/keys", map[string]string{"name": email}, &created); err != nil {
		return UserConfig{}, err
	}
	keyID := created.KeyID.String()
	if keyID == "" || keyID == "0" {
		keyID = created.ID.String()
	}
	if keyID == "" || keyID == "0" {
		return UserConfig{}, veevpnerrors.NewBackendRejectedError("v2ray create response missing key_id", "")
	}

	config := firstNonEmpty(created.ClientConfig, created.VlessURL)
	if config == "" {
		if fetched, err := v.GetUserConfig(ctx, keyID); err == nil {
			config = fetched.Config
		}
	}
	if config == "" {
		// Best effort: sync and retry once before giving up on the config.
		_ = v.syncXrayConfig(ctx)
		if fetched, err := v.GetUserConfig(ctx, keyID); err == nil {
			config = fetched.Config
		}
	} else {
		_ = v.syncXrayConfig(ctx)
	}

	return UserConfig{KeyID: keyID, Config: config}, nil
}

func (v *V2RayClient) GetUserConfig(ctx context.Context, keyID string) (UserConfig, error) {
	var link v2rayLinkResponse
	if err := v.doJSON(ctx, http.MethodGet, fmt.Sprintf("/keys/%s/link", keyID), nil, &link); err != nil {
		return UserConfig{}, err
	}
	config := firstNonEmpty(link.VlessLink, link.ClientConfig, link.VlessURL)
	config = firstVlessLine(config)
	return UserConfig{KeyID: keyID, Config: config}, nil
}

func (v *V2RayClient) DeleteUser(ctx context.Context, keyID string) error {
	err := v.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/keys/%s", keyID), nil, nil)
	if appErr := veevpnerrors.GetAppError(err); appErr != nil && appErr.Code == http.StatusNotFound {
		return nil
	}
	return err
}

func (v *V2RayClient) GetTrafficHistory(ctx context.Context) ([]KeyTrafficStats, error) {
	var resp v2rayTrafficResponse
	if err := v.doJSON(ctx, http.MethodGet, "/traffic", nil, &resp); err != nil {
		return nil, err
	}
	ports := resp.Ports
	if ports == nil && resp.Data != nil {
		ports = resp.Data.Ports
	}
	stats := make([]KeyTrafficStats, 0, len(ports))
	for _, p := range ports {
		stats = append(stats, KeyTrafficStats{KeyID: p.UUID, BytesUsed: p.TotalBytes})
	}
	return stats, nil
}

func (v *V2RayClient) GetKeyTrafficStats(ctx context.Context, keyID string) (KeyTrafficStats, error) {
	history, err := v.GetTrafficHistory(ctx)
	if err != nil {
		return KeyTrafficStats{}, err
	}
	for _, s := range history {
		if s.KeyID == keyID {
			return s, nil
		}
	}
	return KeyTrafficStats{KeyID: keyID, BytesUsed: 0}, nil
}

func (v *V2RayClient) ResetKeyTraffic(ctx context.Context, keyID string) error {
	return v.doJSON(ctx, http.MethodPost, fmt.Sprintf("/keys/%s/traffic/reset", keyID), nil, nil)
}

func (v *V2RayClient) GetAllKeys(ctx context.Context) ([]string, error) {
	var raw json.RawMessage
	if err := v.doJSON(ctx, http.MethodGet, "/keys", nil, &raw); err != nil {
		return nil, err
	}
	// The keys listing arrives either as a bare array or as {"keys": [...]}.
	var list []v2rayKeySummary
	if err := json.Unmarshal(raw, &list); err != nil {
		var wrapped v2rayKeysResponse
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, veevpnerrors.NewBackendRejectedError("unrecognized v2ray keys response shape", err.Error())
		}
		list = wrapped.Keys
	}
	ids := make([]string, 0, len(list))
	for _, k := range list {
		id := k.KeyID.String()
		if id == "" || id == "0" {
			id = k.ID.String()
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SyncXrayConfig satisfies XrayConfigSyncer by calling the server's own
// POST /system/xray/sync-config endpoint; configJSON is not sent to the
// server. No caller in this repository (the reconciler included) uses it.
func (v *V2RayClient) SyncXrayConfig(ctx context.Context, configJSON string) error {
	return v.syncXrayConfig(ctx)
}

func (v *V2RayClient) syncXrayConfig(ctx context.Context) error {
	var resp v2raySyncResponse
	return v.doJSON(ctx, http.MethodPost, "/system/xray/sync-config", nil, &resp)
}

func (v *V2RayClient) Close() error { return nil }

func (v *V2RayClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, v.apiURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return veevpnerrors.NewBackendUnavailableError("v2ray request failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return veevpnerrors.NewTokenInvalidError("v2ray resource not found", path)
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return veevpnerrors.NewBackendRejectedError("v2ray rejected request", string(respBody))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// firstVlessLine extracts the first vless:// line from a possibly
// multi-line response body; some server builds return the URL alongside
// human-readable QR/instructions text in the same field.
func firstVlessLine(config string) string {
	if config == "" {
		return ""
	}
	for _, line := range strings.Split(config, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "vless://") {
			return line
		}
	}
	return config
}
