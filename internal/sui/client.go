// Package sui implements ledger.Client against a Sui fullnode JSON-RPC endpoint and the
// network's public faucet.
package sui

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"
)

// SUICoinType is the native coin type.
const SUICoinType = "0x2::sui::SUI"

// DefaultGasBudget is the gas budget for a single payout, in MIST.
const DefaultGasBudget uint64 = 10_000_000

// maxInputCoins is how many coins are fetched and merged to cover a payout.
const maxInputCoins = 50

// FullnodeURL returns the public fullnode for n.
func FullnodeURL(n ledger.Network) string {
	if n == ledger.Localnet {
		return "http://127.0.0.1:9000"
	}
	return "https://fullnode." + string(n) + ".sui.io"
}

// FaucetURL returns the public faucet host for n, empty when n has none.
func FaucetURL(n ledger.Network) string {
	switch n {
	case ledger.Testnet:
		return "https://faucet.testnet.sui.io"
	case ledger.Devnet:
		return "https://faucet.devnet.sui.io"
	case ledger.Localnet:
		return "http://127.0.0.1:9123"
	default:
		return ""
	}
}

// Options configures a Client. Zero values take the network defaults.
type Options struct {
	Network   ledger.Network
	RPCURL    string
	FaucetURL string
	Signer    *Keypair
	GasBudget uint64

	// HTTPClient is used for both RPC and faucet calls. Defaults to an otelhttp-instrumented client.
	HTTPClient *http.Client
}

// Client talks to one Sui network on behalf of one faucet signer.
type Client struct {
	rpc       *rpc
	http      *http.Client
	network   ledger.Network
	faucetURL string
	signer    *Keypair
	gasBudget uint64
}

var _ ledger.Client = (*Client)(nil)

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	if opts.Signer == nil {
		return nil, xerrors.New("sui client requires a signer")
	}
	if opts.Network == "" {
		opts.Network = ledger.Testnet
	}
	if opts.RPCURL == "" {
		opts.RPCURL = FullnodeURL(opts.Network)
	}
	if opts.FaucetURL == "" {
		opts.FaucetURL = FaucetURL(opts.Network)
	}
	if opts.GasBudget == 0 {
		opts.GasBudget = DefaultGasBudget
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		}
	}

	return &Client{
		rpc:       &rpc{url: opts.RPCURL, client: opts.HTTPClient},
		http:      opts.HTTPClient,
		network:   opts.Network,
		faucetURL: strings.TrimRight(opts.FaucetURL, "/"),
		signer:    opts.Signer,
		gasBudget: opts.GasBudget,
	}, nil
}

func (c *Client) Address() string { return c.signer.Address() }

// mist decodes u64 values, which the fullnode sends as JSON strings.
type mist uint64

func (m *mist) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return xerrors.Wrapf(err, "parse u64 %q", s)
	}
	*m = mist(n)
	return nil
}

func (c *Client) Balance(ctx context.Context, addr string) (uint64, error) {
	var out struct {
		TotalBalance mist `json:"totalBalance"`
	}
	if err := c.rpc.call(ctx, "suix_getBalance", []any{addr, SUICoinType}, &out); err != nil {
		return 0, xerrors.Wrap(err, "get balance")
	}
	return uint64(out.TotalBalance), nil
}

func (c *Client) Probe(ctx context.Context) error {
	var seq string
	if err := c.rpc.call(ctx, "sui_getLatestCheckpointSequenceNumber", nil, &seq); err != nil {
		return xerrors.Wrap(err, "probe fullnode")
	}
	return nil
}

type coin struct {
	CoinObjectID string `json:"coinObjectId"`
	Balance      mist   `json:"balance"`
}

// selectCoins picks the largest coins until they cover need.
func selectCoins(coins []coin, need uint64) ([]string, bool) {
	sorted := slices.Clone(coins)
	slices.SortFunc(sorted, func(a, b coin) int {
		switch {
		case a.Balance > b.Balance:
			return -1
		case a.Balance < b.Balance:
			return 1
		default:
			return strings.Compare(a.CoinObjectID, b.CoinObjectID)
		}
	})

	var sum uint64
	ids := make([]string, 0, len(sorted))
	for _, c := range sorted {
		ids = append(ids, c.CoinObjectID)
		sum += uint64(c.Balance)
		if sum >= need {
			return ids, true
		}
	}
	return nil, false
}

type executeResult struct {
	Digest  string `json:"digest"`
	Effects struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
		GasUsed struct {
			ComputationCost mist `json:"computationCost"`
		} `json:"gasUsed"`
	} `json:"effects"`
}

// Transfer pays amount from the faucet's coins to recipient with unsafe_paySui,
// signs locally and executes with local-execution wait.
func (c *Client) Transfer(ctx context.Context, recipient string, amount uint64) (ledger.Receipt, error) {
	sender := c.signer.Address()

	var page struct {
		Data []coin `json:"data"`
	}
	if err := c.rpc.call(ctx, "suix_getCoins", []any{sender, SUICoinType, nil, maxInputCoins}, &page); err != nil {
		return ledger.Receipt{}, xerrors.Wrap(classify(err), "list faucet coins")
	}
	inputs, ok := selectCoins(page.Data, amount+c.gasBudget)
	if !ok {
		return ledger.Receipt{}, xerrors.Wrap(ledger.ErrRejected, "faucet coins do not cover amount and gas")
	}

	var built struct {
		TxBytes string `json:"txBytes"`
	}
	params := []any{
		sender,
		inputs,
		[]string{recipient},
		[]string{strconv.FormatUint(amount, 10)},
		strconv.FormatUint(c.gasBudget, 10),
	}
	if err := c.rpc.call(ctx, "unsafe_paySui", params, &built); err != nil {
		return ledger.Receipt{}, xerrors.Wrap(classify(err), "build transfer")
	}
	txBytes, err := base64.StdEncoding.DecodeString(built.TxBytes)
	if err != nil {
		return ledger.Receipt{}, xerrors.Wrap(err, "decode transaction bytes")
	}

	sig := c.signer.SignTransaction(txBytes)

	var res executeResult
	params = []any{
		built.TxBytes,
		[]string{sig},
		map[string]any{"showEffects": true},
		"WaitForLocalExecution",
	}
	if err := c.rpc.call(ctx, "sui_executeTransactionBlock", params, &res); err != nil {
		return ledger.Receipt{}, xerrors.Wrap(classify(err), "execute transfer")
	}

	rcpt := ledger.Receipt{
		Digest:  res.Digest,
		GasUsed: uint64(res.Effects.GasUsed.ComputationCost),
		Status:  ledger.StatusFailure,
		Error:   res.Effects.Status.Error,
	}
	if res.Effects.Status.Status == "success" {
		rcpt.Status = ledger.StatusSuccess
	}
	return rcpt, nil
}

// classify marks node-level refusals as ErrRejected and leaves transport errors alone.
func classify(err error) error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return xerrors.Mark(err, ledger.ErrRejected)
	}
	return err
}

func (c *Client) Transaction(ctx context.Context, digest string) (ledger.TransactionDetails, error) {
	var out struct {
		Digest      string `json:"digest"`
		TimestampMs mist   `json:"timestampMs"`
		Effects     struct {
			Status struct {
				Status string `json:"status"`
			} `json:"status"`
			GasUsed struct {
				ComputationCost mist `json:"computationCost"`
			} `json:"gasUsed"`
		} `json:"effects"`
		Events        []map[string]any `json:"events"`
		ObjectChanges []map[string]any `json:"objectChanges"`
	}
	opts := map[string]any{
		"showEffects":       true,
		"showInput":         true,
		"showEvents":        true,
		"showObjectChanges": true,
	}
	if err := c.rpc.call(ctx, "sui_getTransactionBlock", []any{digest, opts}, &out); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && isNotFound(rpcErr) {
			return ledger.TransactionDetails{}, xerrors.Wrapf(ledger.ErrNotFound, "transaction %s", digest)
		}
		return ledger.TransactionDetails{}, xerrors.Wrap(err, "get transaction")
	}

	d := ledger.TransactionDetails{
		Digest:        out.Digest,
		Status:        ledger.StatusFailure,
		GasUsed:       uint64(out.Effects.GasUsed.ComputationCost),
		Events:        out.Events,
		ObjectChanges: out.ObjectChanges,
	}
	if out.Effects.Status.Status == "success" {
		d.Status = ledger.StatusSuccess
	}
	if out.TimestampMs > 0 {
		d.Timestamp = time.UnixMilli(int64(out.TimestampMs)).UTC()
	}
	return d, nil
}

func isNotFound(e *RPCError) bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "could not find") || strings.Contains(msg, "not found")
}
