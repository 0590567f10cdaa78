package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCommitment  = "confirmed"
	defaultHTTPTimeout = 15 * time.Second

	// Highest transaction wire version this client can decode.
	maxSupportedTransactionVersion = 0
)

var (
	// ErrInvalidRPCConfig indicates the RPC client configuration is unusable.
	ErrInvalidRPCConfig = errors.New("ledger: invalid rpc client config")

	errMissingEndpoint    = errors.New("rpc endpoint is required")
	errUnsupportedVersion = errors.New("ledger: unsupported transaction version")
)

// RPCClientConfig bundles configuration for the JSON-RPC ledger client.
type RPCClientConfig struct {
	Endpoint   string
	Commitment string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// RPCClient implements Client over the ledger node's JSON-RPC interface.
type RPCClient struct {
	endpoint   string
	commitment string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRPCClient constructs an RPC client with validated configuration.
func NewRPCClient(cfg RPCClientConfig) (*RPCClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRPCConfig, errMissingEndpoint)
	}

	commitment := strings.TrimSpace(cfg.Commitment)
	if commitment == "" {
		commitment = defaultCommitment
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RPCClient{
		endpoint:   endpoint,
		commitment: commitment,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result *transactionResult `json:"result"`
	Error  *rpcError          `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type transactionResult struct {
	Version     json.RawMessage `json:"version"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys  []string `json:"accountKeys"`
			Instructions []struct {
				ProgramIDIndex int    `json:"programIdIndex"`
				Data           string `json:"data"`
			} `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
	Meta struct {
		LoadedAddresses struct {
			Writable []string `json:"writable"`
			Readonly []string `json:"readonly"`
		} `json:"loadedAddresses"`
	} `json:"meta"`
}

// GetFinalizedTransaction fetches a finalized transaction by signature.
func (c *RPCClient) GetFinalizedTransaction(ctx context.Context, signature string) (*FinalizedTransaction, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []any{
			signature,
			map[string]any{
				"encoding":                       "json",
				"commitment":                     c.commitment,
				"maxSupportedTransactionVersion": maxSupportedTransactionVersion,
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode rpc request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ledger: build rpc request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("ledger: rpc request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger: rpc status %s", response.Status)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ledger: decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("ledger: rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if decoded.Result == nil {
		return nil, ErrTransactionNotFound
	}

	decoder, err := decoderForVersion(decoded.Result.Version)
	if err != nil {
		c.logger.Warn("unsupported transaction version",
			zap.String("signature", signature),
			zap.ByteString("version", decoded.Result.Version))
		return nil, err
	}

	return decoder.decode(signature, decoded.Result), nil
}

// messageDecoder maps one transaction wire version to the common
// FinalizedTransaction view.
type messageDecoder interface {
	decode(signature string, result *transactionResult) *FinalizedTransaction
}

// decoderForVersion selects the decoder matching the version tag of a
// fetched transaction. Nodes report legacy transactions either with the
// string "legacy" or by omitting the field entirely.
func decoderForVersion(raw json.RawMessage) (messageDecoder, error) {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "", "null", `"legacy"`:
		return legacyMessageDecoder{}, nil
	case "0":
		return v0MessageDecoder{}, nil
	}
	return nil, fmt.Errorf("%w: %s", errUnsupportedVersion, trimmed)
}

type legacyMessageDecoder struct{}

func (legacyMessageDecoder) decode(signature string, result *transactionResult) *FinalizedTransaction {
	return &FinalizedTransaction{
		Signature:    signature,
		AccountKeys:  result.Transaction.Message.AccountKeys,
		Instructions: decodeInstructions(result),
	}
}

type v0MessageDecoder struct{}

// decode appends address-table-loaded keys after the static keys, keeping
// the fee payer at index 0 as in the legacy layout.
func (v0MessageDecoder) decode(signature string, result *transactionResult) *FinalizedTransaction {
	static := result.Transaction.Message.AccountKeys
	loaded := result.Meta.LoadedAddresses

	keys := make([]string, 0, len(static)+len(loaded.Writable)+len(loaded.Readonly))
	keys = append(keys, static...)
	keys = append(keys, loaded.Writable...)
	keys = append(keys, loaded.Readonly...)

	return &FinalizedTransaction{
		Signature:    signature,
		AccountKeys:  keys,
		Instructions: decodeInstructions(result),
	}
}

func decodeInstructions(result *transactionResult) []Instruction {
	raw := result.Transaction.Message.Instructions
	instructions := make([]Instruction, 0, len(raw))
	for _, instruction := range raw {
		instructions = append(instructions, Instruction{
			ProgramIndex: instruction.ProgramIDIndex,
			DataBase58:   instruction.Data,
		})
	}
	return instructions
}
