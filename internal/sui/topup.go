package sui

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/ledger"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"
)

type topUpRequest struct {
	FixedAmountRequest struct {
		Recipient string `json:"recipient"`
	} `json:"FixedAmountRequest"`
}

type topUpResponse struct {
	// Status is the string "Success" or an object describing the failure.
	Status json.RawMessage `json:"status"`
}

// RequestTopUp asks the network's public faucet (v2 gas endpoint) to fund recipient.
func (c *Client) RequestTopUp(ctx context.Context, network ledger.Network, recipient string) error {
	if !network.HasTopUpSource() {
		return xerrors.Wrapf(ledger.ErrNoTopUpSource, "network %s", network)
	}
	host := c.faucetURL
	if network != c.network || host == "" {
		host = FaucetURL(network)
	}

	var body topUpRequest
	body.FixedAmountRequest.Recipient = recipient
	buf, err := json.Marshal(body)
	if err != nil {
		return xerrors.Wrap(err, "encode top-up request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/v2/gas", bytes.NewReader(buf))
	if err != nil {
		return xerrors.Wrap(err, "build top-up request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Wrap(err, "request top-up")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return xerrors.Wrap(err, "read top-up response")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return xerrors.New("upstream faucet rate limited the top-up request")
	}
	if resp.StatusCode/100 != 2 {
		return xerrors.Newf("upstream faucet returned http status %d", resp.StatusCode)
	}

	var out topUpResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return xerrors.Wrap(err, "decode top-up response")
	}
	if string(bytes.TrimSpace(out.Status)) != `"Success"` {
		return xerrors.Newf("upstream faucet refused top-up: %s", out.Status)
	}
	return nil
}
