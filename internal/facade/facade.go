// Package facade implements the client of the device registry facade API.
package facade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/logging"
)

// Client defines the facade client interface.
type Client interface {
	// GetSessionKeys returns the devices (DevAddr may collide) using the
	// given DevAddr.
	GetSessionKeys(ctx context.Context, devAddr lorawan.DevAddr) ([]DeviceKeys, error)

	// PerformOTAA handles the join-request. The returned join-accept is
	// encrypted and ready to be sent.
	PerformOTAA(ctx context.Context, devEUI, joinEUI lorawan.EUI64, devNonce uint16) (JoinAnswer, error)

	// CalculateADRAndStoreFrame delegates the ADR calculation. A nil result
	// means that nothing needs to change.
	CalculateADRAndStoreFrame(ctx context.Context, req ADRRequest) (*ADRResult, error)

	// NextFCntDown returns the next downlink frame-counter, 0 when no
	// downlink must be sent.
	NextFCntDown(ctx context.Context, devEUI lorawan.EUI64, fCntDown, fCntUp uint32, gatewayID string) (uint32, error)
}

// DeviceKeys holds the session of a device.
type DeviceKeys struct {
	DevEUI  lorawan.EUI64     `json:"devEui"`
	DevAddr lorawan.DevAddr   `json:"devAddr"`
	NwkSKey lorawan.AES128Key `json:"nwkSKey"`
	AppSKey lorawan.AES128Key `json:"appSKey"`

	// GatewayID is set when the device is pinned to a single gateway.
	GatewayID string `json:"gatewayId"`

	FCntUp   uint32 `json:"fCntUp"`
	FCntDown uint32 `json:"fCntDown"`

	// MaxDataRate and MinTxPowerIndex optionally restrict the ADR
	// parameters of the device below the band limits.
	MaxDataRate     *int `json:"maxDataRate,omitempty"`
	MinTxPowerIndex *int `json:"minTxPowerIndex,omitempty"`
}

// JoinAnswer holds the result of a successful join.
type JoinAnswer struct {
	DeviceKeys

	// JoinAccept holds the encrypted join-accept PHYPayload.
	JoinAccept []byte `json:"joinAccept"`
}

// ADRRequest holds a delegated ADR request.
type ADRRequest struct {
	DevEUI             lorawan.EUI64 `json:"devEui"`
	GatewayID          string        `json:"gatewayId"`
	FCntUp             uint32        `json:"fCntUp"`
	FCntDown           uint32        `json:"fCntDown"`
	DataRate           int           `json:"dataRate"`
	RequiredSNR        float64       `json:"requiredSnr"`
	SNR                float64       `json:"snr"`
	MinTxPowerIndex    int           `json:"minTxPowerIndex"`
	MaxDataRate        int           `json:"maxDataRate"`
	PerformCalculation bool          `json:"performCalculation"`
	ClearCache         bool          `json:"clearCache"`
}

// ADRResult holds a delegated ADR result.
type ADRResult struct {
	DataRate           int    `json:"dataRate"`
	TxPower            int    `json:"txPower"`
	NbRepetition       int    `json:"nbRepetition"`
	FCntDown           uint32 `json:"fCntDown"`
	CanConfirmToDevice bool   `json:"canConfirmToDevice"`
}

type client struct {
	server     string
	authCode   string
	httpClient *retryablehttp.Client

	// postClient is used for the non-idempotent POST requests.
	postClient *retryablehttp.Client
}

// NewClient creates a new facade client. Failed GET requests (network errors
// and 5xx responses) are retried up to retryMax times. POST requests are
// only retried when the connection could not be established.
func NewClient(server, authCode string, timeout time.Duration, retryMax int) Client {
	log.WithFields(log.Fields{
		"server":    server,
		"retry_max": retryMax,
	}).Info("facade: configuring facade client")

	httpClient := newRetryableClient(timeout, retryMax)

	postClient := newRetryableClient(timeout, retryMax)
	postClient.CheckRetry = dialErrorRetryPolicy

	return &client{
		server:     server,
		authCode:   authCode,
		httpClient: httpClient,
		postClient: postClient,
	}
}

func newRetryableClient(timeout time.Duration, retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = retryMax
	c.RetryWaitMin = 50 * time.Millisecond
	c.RetryWaitMax = time.Second
	if timeout != 0 {
		c.HTTPClient.Timeout = timeout
	}
	return c
}

// dialErrorRetryPolicy retries a request only when it never reached the
// facade. Responses, including 5xx, and errors after the connection was
// established are returned as is.
func dialErrorRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	var opErr *net.OpError
	if err != nil && errors.As(err, &opErr) && opErr.Op == "dial" {
		return true, nil
	}
	return false, nil
}

// GetSessionKeys returns the devices using the given DevAddr.
func (c *client) GetSessionKeys(ctx context.Context, devAddr lorawan.DevAddr) ([]DeviceKeys, error) {
	var out []DeviceKeys
	err := c.do(ctx, http.MethodGet, "GetNwkSKeyAppSKey", url.Values{
		"devAddr": []string{devAddr.String()},
	}, nil, &out)
	if err != nil {
		if errors.Cause(err) == ErrDoesNotExist {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// PerformOTAA handles the join-request.
func (c *client) PerformOTAA(ctx context.Context, devEUI, joinEUI lorawan.EUI64, devNonce uint16) (JoinAnswer, error) {
	var ans JoinAnswer
	err := c.do(ctx, http.MethodGet, "PerformOTAA", url.Values{
		"DevEUI":   []string{devEUI.String()},
		"DevNonce": []string{fmt.Sprintf("%04X", devNonce)},
		"AppEUI":   []string{joinEUI.String()},
	}, nil, &ans)
	if err != nil {
		return ans, err
	}
	if len(ans.JoinAccept) == 0 {
		return ans, ErrJoinRejected
	}
	return ans, nil
}

// CalculateADRAndStoreFrame delegates the ADR calculation.
func (c *client) CalculateADRAndStoreFrame(ctx context.Context, req ADRRequest) (*ADRResult, error) {
	var out *ADRResult
	if err := c.do(ctx, http.MethodPost, "CalculateADRAndStoreFrame", nil, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NextFCntDown returns the next downlink frame-counter.
func (c *client) NextFCntDown(ctx context.Context, devEUI lorawan.EUI64, fCntDown, fCntUp uint32, gatewayID string) (uint32, error) {
	var out uint32
	err := c.do(ctx, http.MethodGet, "NextFCntDown", url.Values{
		"DevEUI":    []string{devEUI.String()},
		"FCntDown":  []string{strconv.FormatUint(uint64(fCntDown), 10)},
		"FCntUp":    []string{strconv.FormatUint(uint64(fCntUp), 10)},
		"GatewayId": []string{gatewayID},
	}, nil, &out)
	return out, err
}

func (c *client) do(ctx context.Context, method, function string, params url.Values, body, out interface{}) error {
	start := time.Now()

	if params == nil {
		params = url.Values{}
	}
	if c.authCode != "" {
		params.Set("code", c.authCode)
	}
	u := fmt.Sprintf("%s/%s?%s", c.server, function, params.Encode())

	var rawBody interface{}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request error")
		}
		rawBody = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequest(method, u, rawBody)
	if err != nil {
		return errors.Wrap(err, "new request error")
	}
	req = req.WithContext(ctx)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.httpClient
	if method == http.MethodPost {
		httpClient = c.postClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		facadeRequestCounter(function, "error").Inc()
		return errors.Wrap(err, "http request error")
	}
	defer resp.Body.Close()

	facadeRequestCounter(function, strconv.Itoa(resp.StatusCode)).Inc()
	facadeRequestDuration(function).Observe(time.Since(start).Seconds())

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrDoesNotExist
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("unexpected response status: %d, body: %s", resp.StatusCode, b)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response error")
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}

	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrap(err, "unmarshal response error")
	}

	log.WithFields(log.Fields{
		"function": function,
		"duration": time.Since(start),
		"ctx_id":   ctx.Value(logging.ContextIDKey),
	}).Debug("facade: request completed")

	return nil
}
