// Package gateway implements the ledger collaborators against an HTTP ledger
// gateway. The gateway builds program and oracle instructions, relays signed
// instruction bundles to the ledger and reports signature status.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/phrazzld/lottery-keeper/internal/ledger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrGateway is returned for unexpected gateway responses.
var ErrGateway = errors.New("ledger gateway error")

// Config holds the gateway client settings.
type Config struct {
	BaseURL   string
	ProgramID string
	// AdminKey is the base58 secret of the lottery admin. Every submission
	// carries the admin signature first.
	AdminKey string
	Timeout  time.Duration
}

// Client talks to the ledger gateway. It implements ledger.Program,
// ledger.Oracle and ledger.Client.
type Client struct {
	baseURL   *url.URL
	programID string
	admin     *ledger.Keypair
	http      *http.Client
	logger    *slog.Logger
}

var (
	_ ledger.Program = (*Client)(nil)
	_ ledger.Oracle  = (*Client)(nil)
	_ ledger.Client  = (*Client)(nil)
)

// NewClient validates cfg and builds a client with an instrumented transport.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrGateway)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL: %v", ErrGateway, err)
	}
	admin, err := ledger.KeypairFromBase58(cfg.AdminKey)
	if err != nil {
		return nil, fmt.Errorf("invalid admin key: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:   base,
		programID: cfg.ProgramID,
		admin:     admin,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With("component", "ledger_gateway"),
	}, nil
}

// AdminAddress returns the base58 address of the admin signer.
func (c *Client) AdminAddress() string {
	return c.admin.Address()
}

// FetchLottery implements ledger.Program.
func (c *Client) FetchLottery(ctx context.Context, lotteryID string) (*ledger.Lottery, error) {
	var lottery ledger.Lottery
	status, err := c.do(ctx, http.MethodGet, "/lotteries/"+url.PathEscape(lotteryID), nil, &lottery)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ledger.ErrLotteryNotFound, lotteryID)
	}
	if err != nil {
		return nil, err
	}
	return &lottery, nil
}

// ListLotteries implements ledger.Program.
func (c *Client) ListLotteries(ctx context.Context) ([]*ledger.Lottery, error) {
	var lotteries []*ledger.Lottery
	if _, err := c.do(ctx, http.MethodGet, "/lotteries", nil, &lotteries); err != nil {
		return nil, err
	}
	return lotteries, nil
}

// SelectWinnerInstruction implements ledger.Program.
func (c *Client) SelectWinnerInstruction(ctx context.Context, lotteryID, randomnessAccount string) (ledger.Instruction, error) {
	req := map[string]string{
		"programId":         c.programID,
		"lotteryId":         lotteryID,
		"randomnessAccount": randomnessAccount,
		"admin":             c.admin.Address(),
	}
	var ix ledger.Instruction
	_, err := c.do(ctx, http.MethodPost, "/instructions/select-winner", req, &ix)
	return ix, err
}

// Queue implements ledger.Oracle.
func (c *Client) Queue(ctx context.Context) (string, error) {
	var resp struct {
		Queue string `json:"queue"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/oracle/queue", nil, &resp); err != nil {
		return "", err
	}
	if resp.Queue == "" {
		return "", fmt.Errorf("%w: empty queue address", ErrGateway)
	}
	return resp.Queue, nil
}

// CreateCommitment implements ledger.Oracle. Only the public half of the
// keypair leaves the process.
func (c *Client) CreateCommitment(ctx context.Context, keypair *ledger.Keypair, queue string) (*ledger.Commitment, error) {
	req := map[string]string{
		"account": keypair.Address(),
		"queue":   queue,
		"payer":   c.admin.Address(),
	}
	var commitment ledger.Commitment
	if _, err := c.do(ctx, http.MethodPost, "/oracle/commitments", req, &commitment); err != nil {
		return nil, err
	}
	return &commitment, nil
}

// CommitInstruction implements ledger.Oracle.
func (c *Client) CommitInstruction(ctx context.Context, account, queue string) (ledger.Instruction, error) {
	req := map[string]string{"account": account, "queue": queue}
	var ix ledger.Instruction
	_, err := c.do(ctx, http.MethodPost, "/oracle/commit", req, &ix)
	return ix, err
}

// RevealInstruction implements ledger.Oracle.
func (c *Client) RevealInstruction(ctx context.Context, account string) (ledger.Instruction, error) {
	req := map[string]string{"account": account, "payer": c.admin.Address()}
	var ix ledger.Instruction
	_, err := c.do(ctx, http.MethodPost, "/oracle/reveal", req, &ix)
	return ix, err
}

type signerSignature struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type submitRequest struct {
	Instructions json.RawMessage   `json:"instructions"`
	Signatures   []signerSignature `json:"signatures"`
}

// Submit implements ledger.Client. The serialized instruction bundle is
// signed by the admin and then by every extra signer.
func (c *Client) Submit(ctx context.Context, instructions []ledger.Instruction, signers ...*ledger.Keypair) (ledger.Signature, error) {
	payload, err := json.Marshal(instructions)
	if err != nil {
		return "", fmt.Errorf("failed to encode instructions: %w", err)
	}

	all := append([]*ledger.Keypair{c.admin}, signers...)
	sigs := make([]signerSignature, 0, len(all))
	for _, kp := range all {
		if kp == nil {
			continue
		}
		sigs = append(sigs, signerSignature{
			Address:   kp.Address(),
			Signature: base58.Encode(kp.Sign(payload)),
		})
	}

	var resp struct {
		Signature string `json:"signature"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/transactions", submitRequest{
		Instructions: payload,
		Signatures:   sigs,
	}, &resp); err != nil {
		return "", err
	}
	if resp.Signature == "" {
		return "", fmt.Errorf("%w: empty signature", ErrGateway)
	}

	c.logger.DebugContext(ctx, "submitted transaction",
		slog.String("signature", resp.Signature),
		slog.Int("instructions", len(instructions)))

	return ledger.Signature(resp.Signature), nil
}

// SignatureStatus implements ledger.Client. An unknown signature yields a
// nil status and no error.
func (c *Client) SignatureStatus(ctx context.Context, sig ledger.Signature) (*ledger.SignatureStatus, error) {
	var status ledger.SignatureStatus
	code, err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(string(sig))+"/status", nil, &status)
	if code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// do performs one JSON round trip and returns the HTTP status code, which is
// zero when no response was received.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %v", ErrGateway, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("%w: %s %s returned %d: %s",
			ErrGateway, method, path, resp.StatusCode, apiErr.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: failed to decode response: %v", ErrGateway, err)
		}
	}
	return resp.StatusCode, nil
}
