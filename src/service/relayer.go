package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RelayerResolutionStatus is the relayer's answer when asked what happened to
// a relayer-mediated operation.
type RelayerResolutionStatus string

const (
	RelayerResolutionSuccess  RelayerResolutionStatus = "success"
	RelayerResolutionRejected RelayerResolutionStatus = "rejected"
	RelayerResolutionNotFound RelayerResolutionStatus = "not_found"
)

// RelayerResolution resolves a relayer op id to a concrete transaction hash,
// or to a rejection / not-found outcome.
type RelayerResolution struct {
	Status RelayerResolutionStatus `json:"status"`
	TxnID  string                  `json:"txnId,omitempty"`
}

// Relayer resolves relayer-identified operations post broadcast.
type Relayer interface {
	ResolveOp(ctx context.Context, chainID int64, relayerOpID string) (*RelayerResolution, error)
}

// RelayerClient talks to the first-party relayer backend over HTTP.
type RelayerClient struct {
	baseURL string
	client  *http.Client
}

func NewRelayerClient(baseURL string) *RelayerClient {
	return &RelayerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// logger wraps the execution context with component info
func (r *RelayerClient) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "relayer").Logger()
	return &l
}

// ResolveOp asks the relayer for the final transaction of a relayer op id.
// A 404 maps to not_found rather than an error: the op may simply not have
// been picked up yet.
func (r *RelayerClient) ResolveOp(ctx context.Context, chainID int64, relayerOpID string) (*RelayerResolution, error) {
	url := fmt.Sprintf("%s/v2/get-txn-id/%d/%s", r.baseURL, chainID, relayerOpID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build relayer request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relayer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &RelayerResolution{Status: RelayerResolutionNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		r.logger(ctx).Warn().
			Int("status_code", resp.StatusCode).
			Str("relayer_op_id", relayerOpID).
			Msg("unexpected relayer response status")
		return nil, fmt.Errorf("relayer responded with status %d", resp.StatusCode)
	}

	var resolution RelayerResolution
	if err := json.NewDecoder(resp.Body).Decode(&resolution); err != nil {
		return nil, fmt.Errorf("failed to decode relayer response: %w", err)
	}

	return &resolution, nil
}
