package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	veevpnerrors "github.com/veevpn/panel/internal/shared/errors"
)

// OutlineClient talks to an Outline (Shadowbox) management API. The API is
// a small REST surface over a self-signed TLS endpoint pinned by
// certificate, hence the per-server insecureSkipVerify knob.
type OutlineClient struct {
	apiURL string
	client *http.Client
}

// NewOutlineClient builds a client against a single Outline server's
// management API base URL (already includes the random access-key segment
// Outline generates at install time).
func NewOutlineClient(apiURL string, insecureSkipVerify bool) *OutlineClient {
	return &OutlineClient{apiURL: apiURL, client: newHTTPClient(insecureSkipVerify)}
}

type outlineAccessKey struct {
	ID        string `json:"id"`
	AccessURL string `json:"accessUrl"`
	Name      string `json:"name,omitempty"`
}

type outlineAccessKeyList struct {
	AccessKeys []outlineAccessKey `json:"accessKeys"`
}

type outlineDataLimit struct {
	Bytes int64 `json:"bytes"`
}

type outlineMetricsTransfer struct {
	BytesTransferredByUserID map[string]int64 `json:"bytesTransferredByUserId"`
}

func (o *OutlineClient) CreateUser(ctx context.Context, email string, trafficLimitBytes int64) (UserConfig, error) {
	var created outlineAccessKey
	if err := o.doJSON(ctx, http.MethodPost, "/access-keys", map[string]string{"name": email}, &created); err != nil {
		return UserConfig{}, err
	}
	if err := o.renameAndLimit(ctx, created.ID, email, trafficLimitBytes); err != nil {
		// Best-effort: the key exists even if naming/limiting failed; the
		// caller decides whether to treat this as a provisioning failure.
		return UserConfig{KeyID: created.ID, Config: created.AccessURL}, err
	}
	return UserConfig{KeyID: created.ID, Config: created.AccessURL}, nil
}

func (o *OutlineClient) renameAndLimit(ctx context.Context, keyID, email string, trafficLimitBytes int64) error {
	if err := o.doJSON(ctx, http.MethodPut, fmt.Sprintf("/access-keys/%s/name", keyID), map[string]string{"name": email}, nil); err != nil {
		return err
	}
	if trafficLimitBytes > 0 {
		return o.doJSON(ctx, http.MethodPut, fmt.Sprintf("/access-keys/%s/data-limit", keyID), outlineDataLimit{Bytes: trafficLimitBytes}, nil)
	}
	return o.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/access-keys/%s/data-limit", keyID), nil, nil)
}

func (o *OutlineClient) DeleteUser(ctx context.Context, keyID string) error {
	err := o.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/access-keys/%s", keyID), nil, nil)
	if appErr := veevpnerrors.GetAppError(err); appErr != nil && appErr.Code == http.StatusNotFound {
		return nil
	}
	return err
}

func (o *OutlineClient) GetUserConfig(ctx context.Context, keyID string) (UserConfig, error) {
	var list outlineAccessKeyList
	if err := o.doJSON(ctx, http.MethodGet, "/access-keys", nil, &list); err != nil {
		return UserConfig{}, err
	}
	for _, k := range list.AccessKeys {
		if k.ID == keyID {
			return UserConfig{KeyID: k.ID, Config: k.AccessURL}, nil
		}
	}
	return UserConfig{}, veevpnerrors.NewTokenInvalidError("key not found on backend", keyID)
}

func (o *OutlineClient) GetTrafficHistory(ctx context.Context) ([]KeyTrafficStats, error) {
	var metrics outlineMetricsTransfer
	if err := o.doJSON(ctx, http.MethodGet, "/metrics/transfer", nil, &metrics); err != nil {
		return nil, err
	}
	stats := make([]KeyTrafficStats, 0, len(metrics.BytesTransferredByUserID))
	for keyID, bytesUsed := range metrics.BytesTransferredByUserID {
		stats = append(stats, KeyTrafficStats{KeyID: keyID, BytesUsed: bytesUsed})
	}
	return stats, nil
}

func (o *OutlineClient) GetKeyTrafficStats(ctx context.Context, keyID string) (KeyTrafficStats, error) {
	history, err := o.GetTrafficHistory(ctx)
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

func (o *OutlineClient) ResetKeyTraffic(ctx context.Context, keyID string) error {
	// Outline has no direct counter-reset endpoint; toggling the data limit
	// off and back on clears its internal transfer accounting for the key.
	if err := o.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/access-keys/%s/data-limit", keyID), nil, nil); err != nil {
		return err
	}
	return nil
}

func (o *OutlineClient) GetAllKeys(ctx context.Context) ([]string, error) {
	var list outlineAccessKeyList
	if err := o.doJSON(ctx, http.MethodGet, "/access-keys", nil, &list); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.AccessKeys))
	for _, k := range list.AccessKeys {
		ids = append(ids, k.ID)
	}
	return ids, nil
}

func (o *OutlineClient) Close() error { return nil }

// doJSON issues a request against the management API. Outline's responses
// are loosely typed (fields absent rather than null, numbers sometimes
// strings on older builds) so callers must tolerate a zero-value decode
// rather than treat it as an error.
func (o *OutlineClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.apiURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return veevpnerrors.NewBackendUnavailableError("outline request failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return veevpnerrors.NewTokenInvalidError("outline resource not found", path)
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return veevpnerrors.NewBackendRejectedError("outline rejected request", string(respBody))
	}
	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
