package rpc

import (
	"io"
	"net/http"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/node"
	"github.com/canopy-network/routing/section"
)

// Client queries the status RPC of a routing node
type Client struct {
	rpcURL string
	client http.Client
}

func NewClient(rpcURL string) *Client {
	return &Client{rpcURL: rpcURL, client: http.Client{}}
}

func (c *Client) Version() (version *string, err lib.ErrorI) {
	version = new(string)
	err = c.get(VersionRouteName, version)
	return
}

func (c *Client) Status() (p *node.Status, err lib.ErrorI) {
	p = new(node.Status)
	err = c.get(StatusRouteName, p)
	return
}

func (c *Client) Section() (p *section.Info, err lib.ErrorI) {
	p = new(section.Info)
	err = c.get(SectionRouteName, p)
	return
}

func (c *Client) Chain() (p []chain.Link, err lib.ErrorI) {
	err = c.get(ChainRouteName, &p)
	return
}

func (c *Client) Neighbours() (p []*section.Info, err lib.ErrorI) {
	err = c.get(NeighboursRouteName, &p)
	return
}

func (c *Client) url(routeName string) string {
	return c.rpcURL + routePaths[routeName].Path
}

func (c *Client) get(routeName string, ptr any) lib.ErrorI {
	resp, err := c.client.Get(c.url(routeName))
	if err != nil {
		return ErrGetRequest(err)
	}
	defer resp.Body.Close()
	return c.unmarshal(resp, ptr)
}

func (c *Client) unmarshal(resp *http.Response, ptr any) lib.ErrorI {
	bz, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrReadBody(err)
	}
	if resp.StatusCode != http.StatusOK {
		return ErrHttpStatus(resp.Status, resp.StatusCode, bz)
	}
	return lib.UnmarshalJSON(bz, ptr)
}
