// Package mintclient is the default mintapi.API: a net/http client talking
// the NUT HTTP endpoints, carrying a context.Context through every call so
// cancellation actually reaches the socket.
package mintclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cashukit/cashukit/cashu"
	"github.com/cashukit/cashukit/cashu/nuts/nut01"
	"github.com/cashukit/cashukit/cashu/nuts/nut02"
	"github.com/cashukit/cashukit/cashu/nuts/nut03"
	"github.com/cashukit/cashukit/cashu/nuts/nut04"
	"github.com/cashukit/cashukit/cashu/nuts/nut05"
	"github.com/cashukit/cashukit/cashu/nuts/nut06"
	"github.com/cashukit/cashukit/cashu/nuts/nut07"
	"github.com/cashukit/cashukit/cashu/nuts/nut09"
	"github.com/cashukit/cashukit/crypto"
	"github.com/cashukit/cashukit/mintapi"
)

var _ mintapi.API = (*Client)(nil)

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 120 * time.Second

// Client is the net/http-backed mintapi.API.
type Client struct {
	http *http.Client
}

// New returns a Client with the default per-request timeout. Pass a
// pre-configured http.Client via NewWithClient to use a shorter timeout
// (e.g. the 10s restore batch budget).
func New() *Client {
	return &Client{http: &http.Client{Timeout: DefaultTimeout}}
}

// NewWithClient lets a caller supply its own http.Client, e.g. with a
// shorter timeout for restore batches.
func NewWithClient(c *http.Client) *Client {
	return &Client{http: c}
}

func (c *Client) Info(ctx context.Context, mintURL string) (*nut06.MintInfo, error) {
	var out nut06.MintInfo
	if err := c.get(ctx, mintURL+"/v1/info", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ActiveKeys(ctx context.Context, mintURL string) (map[string]crypto.PublicKeys, error) {
	var out nut01.GetKeysResponse
	if err := c.get(ctx, mintURL+"/v1/keys", &out); err != nil {
		return nil, err
	}
	keys := make(map[string]crypto.PublicKeys, len(out.Keysets))
	for _, ks := range out.Keysets {
		keys[ks.Id] = ks.Keys
	}
	return keys, nil
}

func (c *Client) KeysByID(ctx context.Context, mintURL, keysetID string) (crypto.PublicKeys, error) {
	var out nut01.GetKeysResponse
	if err := c.get(ctx, mintURL+"/v1/keys/"+keysetID, &out); err != nil {
		return nil, err
	}
	if len(out.Keysets) == 0 {
		return nil, fmt.Errorf("mintclient: mint returned no keyset for id %s", keysetID)
	}
	return out.Keysets[0].Keys, nil
}

func (c *Client) AllKeysets(ctx context.Context, mintURL string) ([]nut02.Keyset, error) {
	var out nut02.GetKeysetsResponse
	if err := c.get(ctx, mintURL+"/v1/keysets", &out); err != nil {
		return nil, err
	}
	return out.Keysets, nil
}

func (c *Client) MintQuote(ctx context.Context, mintURL string, amount uint64, unit cashu.Unit) (*nut04.PostMintQuoteBolt11Response, error) {
	req := nut04.PostMintQuoteBolt11Request{Amount: amount, Unit: unit.String()}
	var out nut04.PostMintQuoteBolt11Response
	if err := c.post(ctx, mintURL+"/v1/mint/quote/bolt11", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MintQuoteState(ctx context.Context, mintURL, quoteID string) (*nut04.PostMintQuoteBolt11Response, error) {
	var out nut04.PostMintQuoteBolt11Response
	if err := c.get(ctx, mintURL+"/v1/mint/quote/bolt11/"+quoteID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Mint(ctx context.Context, mintURL, quoteID string, outputs cashu.BlindedMessages) (*nut04.PostMintBolt11Response, error) {
	req := nut04.PostMintBolt11Request{Quote: quoteID, Outputs: outputs}
	var out nut04.PostMintBolt11Response
	if err := c.post(ctx, mintURL+"/v1/mint/bolt11", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MeltQuote(ctx context.Context, mintURL, invoice string, unit cashu.Unit) (*nut05.PostMeltQuoteBolt11Response, error) {
	req := nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: unit.String()}
	var out nut05.PostMeltQuoteBolt11Response
	if err := c.post(ctx, mintURL+"/v1/melt/quote/bolt11", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Melt(ctx context.Context, mintURL, quoteID string, inputs cashu.Proofs, outputs cashu.BlindedMessages) (*nut05.PostMeltBolt11Response, error) {
	req := nut05.PostMeltBolt11Request{Quote: quoteID, Inputs: inputs, Outputs: outputs}
	var out nut05.PostMeltBolt11Response
	if err := c.post(ctx, mintURL+"/v1/melt/bolt11", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Swap(ctx context.Context, mintURL string, inputs cashu.Proofs, outputs cashu.BlindedMessages) (*nut03.PostSwapResponse, error) {
	req := nut03.PostSwapRequest{Inputs: inputs, Outputs: outputs}
	var out nut03.PostSwapResponse
	if err := c.post(ctx, mintURL+"/v1/swap", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Restore(ctx context.Context, mintURL string, outputs cashu.BlindedMessages) (*nut09.PostRestoreResponse, error) {
	req := nut09.PostRestoreRequest{Outputs: outputs}
	var out nut09.PostRestoreResponse
	if err := c.post(ctx, mintURL+"/v1/restore", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckState(ctx context.Context, mintURL string, ys []string) (*nut07.PostCheckStateResponse, error) {
	req := nut07.PostCheckStateRequest{Ys: ys}
	var out nut07.PostCheckStateResponse
	if err := c.post(ctx, mintURL+"/v1/checkstate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mintclient: encoding request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusBadRequest {
		var cashuErr cashu.Error
		if err := json.Unmarshal(body, &cashuErr); err != nil {
			return fmt.Errorf("mintclient: decoding error response: %v", err)
		}
		return cashuErr
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mintclient: unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mintclient: decoding response from mint: %v", err)
	}
	return nil
}
