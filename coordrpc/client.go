// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordrpc

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/google/uuid"
	"golang.org/x/net/proxy"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = time.Minute

// ErrUnreachable is returned when the coordinator could not be reached or
// did not answer with a protocol response.
var ErrUnreachable = errors.New("coordinator unreachable")

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the coordinator base URL, without the API prefix.
	URL string

	// Proxy is the host:port of a SOCKS5 proxy such as Tor. Empty dials
	// directly.
	Proxy     string
	ProxyUser string
	ProxyPass string

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Client talks to a coordinator over HTTP. It has the method set of the
// round manager.
type Client struct {
	cfg     ClientConfig
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the coordinator at cfg.URL.
func NewClient(cfg *ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		cfg:     *cfg,
		baseURL: strings.TrimSuffix(u.String(), "/") + APIPrefix,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}, nil
}

// newTransport returns a transport dialing through the configured proxy.
func newTransport(cfg *ClientConfig) (*http.Transport, error) {
	t := &http.Transport{
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if cfg.Proxy == "" {
		return t, nil
	}

	var auth *proxy.Auth
	if cfg.ProxyUser != "" || cfg.ProxyPass != "" {
		auth = &proxy.Auth{
			User:     cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", cfg.Proxy, auth, proxy.Direct)
	if err != nil {
		return nil, err
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks dialer does not support contexts")
	}
	t.DialContext = ctxDialer.DialContext

	return t, nil
}

// Isolated returns a client for the same coordinator that shares no
// connections with c. Behind a proxy it authenticates with fresh random
// credentials, which Tor maps to a separate circuit.
func (c *Client) Isolated() (*Client, error) {
	cfg := c.cfg
	if cfg.Proxy != "" {
		var b [16]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, err
		}
		cfg.ProxyUser = hex.EncodeToString(b[:8])
		cfg.ProxyPass = hex.EncodeToString(b[8:])
	}

	return NewClient(&cfg)
}

// do performs a request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body,
	out interface{}) error {

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, reader,
	)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := dec.Decode(&errResp); err != nil || errResp.Code == "" {
			return fmt.Errorf("%w: HTTP status %d", ErrUnreachable,
				resp.StatusCode)
		}
		return errResp.err()
	}

	if out == nil {
		return nil
	}

	return dec.Decode(out)
}

// Status returns the open rounds.
func (c *Client) Status(ctx context.Context) ([]coordinator.RoundStatus,
	error) {

	var states []RoundState
	if err := c.do(ctx, http.MethodGet, "/states", nil, &states); err != nil {
		return nil, err
	}

	statuses := make([]coordinator.RoundStatus, len(states))
	for i := range states {
		status, err := states[i].status()
		if err != nil {
			return nil, err
		}
		statuses[i] = status
	}

	return statuses, nil
}

// RoundResult returns how a round ended.
func (c *Client) RoundResult(ctx context.Context,
	roundID uint64) (*coordinator.RoundResult, error) {

	var resp RoundResultJSON
	path := "/rounds/" + strconv.FormatUint(roundID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	phase, err := coordinator.ParsePhase(resp.Phase)
	if err != nil {
		return nil, err
	}

	res := &coordinator.RoundResult{
		RoundID: resp.RoundID,
		Phase:   phase,
		Reason:  resp.Reason,
	}
	if resp.TxID != "" {
		res.TxID, err = chainhash.NewHashFromStr(resp.TxID)
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}

// RegisterInput registers an Alice.
func (c *Client) RegisterInput(ctx context.Context,
	req *coordinator.RegisterInputRequest) (
	*coordinator.RegisterInputResponse, error) {

	var resp InputsResponse
	err := c.do(ctx, http.MethodPost, "/inputs", newInputsRequest(req),
		&resp)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(resp.UniqueID)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(resp.BlindSignature)
	if err != nil {
		return nil, err
	}

	return &coordinator.RegisterInputResponse{
		UniqueID:       id,
		RoundID:        resp.RoundID,
		BlindSignature: sig,
	}, nil
}

// ConfirmConnection confirms an Alice or sends its heartbeat.
func (c *Client) ConfirmConnection(ctx context.Context,
	req *coordinator.ConfirmConnectionRequest) (
	*coordinator.ConfirmConnectionResponse, error) {

	body := &ConfirmationRequest{
		UniqueID:      req.UniqueID.String(),
		BlindedOutput: hex.EncodeToString(req.BlindedOutput),
	}
	if req.RoundHash != (chainhash.Hash{}) {
		body.RoundHash = req.RoundHash.String()
	}

	var resp ConfirmationResponse
	if err := c.do(ctx, http.MethodPost, "/confirmation", body,
		&resp); err != nil {

		return nil, err
	}

	phase, err := coordinator.ParsePhase(resp.Phase)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(resp.BlindSignature)
	if err != nil {
		return nil, err
	}
	if len(sig) == 0 {
		sig = nil
	}

	return &coordinator.ConfirmConnectionResponse{
		RoundID:            resp.RoundID,
		Phase:              phase,
		NeedsBlindedOutput: resp.NeedsBlindedOutput,
		BlindSignature:     sig,
	}, nil
}

// RegisterOutput registers a covert output. It should be called on an
// isolated client.
func (c *Client) RegisterOutput(ctx context.Context,
	req *coordinator.RegisterOutputRequest) error {

	body := &OutputRequest{
		RoundHash:    req.RoundHash.String(),
		OutputScript: hex.EncodeToString(req.OutputScript),
		Signature:    hex.EncodeToString(req.Signature),
	}

	return c.do(ctx, http.MethodPost, "/output", body, nil)
}

// GetUnsignedCoinJoin returns the serialized unsigned coinjoin PSBT.
func (c *Client) GetUnsignedCoinJoin(ctx context.Context,
	roundID uint64) ([]byte, error) {

	var resp CoinJoinResponse
	path := "/coinjoin/" + strconv.FormatUint(roundID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return hex.DecodeString(resp.PSBT)
}

// SubmitSignatures sends an Alice's witnesses.
func (c *Client) SubmitSignatures(ctx context.Context,
	req *coordinator.SubmitSignaturesRequest) error {

	return c.do(
		ctx, http.MethodPost, "/signatures", newSignaturesRequest(req),
		nil,
	)
}
