package secom

import (
	"context"
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"
	jsonitor "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/grad-enav/atonservice/internal/common/httpclient"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

var json = jsonitor.ConfigCompatibleWithStandardLibrary

const (
	pathSearchService = "/v1/searchService"
	pathUpload        = "/v1/object"
	pathNotification  = "/v1/subscription/notification"
)

// Peer is the outbound side of the SECOM exchange.
type Peer interface {
	Discover(ctx context.Context, mrn string) ([]Endpoint, error)
	Upload(ctx context.Context, endpoint string, obj *UploadObject) error
	Notify(ctx context.Context, endpoint string, subscription uuid.UUID, event EventEnum) error
}

// Client talks to the service registry and to subscriber endpoints.
type Client struct {
	doer        httpclient.Doer
	registryURL string
}

var _ Peer = (*Client)(nil)

// NewClient returns a SECOM peer that discovers endpoints through the
// service registry at registryURL.
func NewClient(doer httpclient.Doer, registryURL string) *Client {
	return &Client{doer: doer, registryURL: registryURL}
}

// Discover looks up the endpoints registered for an instance MRN. The
// registry may answer with a bare array or wrap it in searchServiceResult.
func (c *Client) Discover(ctx context.Context, mrn string) ([]Endpoint, error) {
	body, err := c.doer.DoRequest(ctx, httpclient.RequestOptions{
		Method:      http.MethodGet,
		BaseURL:     c.registryURL,
		Path:        pathSearchService,
		QueryParams: map[string]string{"instanceId": mrn},
	})
	if err != nil {
		return nil, err
	}
	results := gjson.ParseBytes(body)
	if !results.IsArray() {
		results = results.Get("searchServiceResult")
	}
	var out []Endpoint
	results.ForEach(func(_, v gjson.Result) bool {
		uri := v.Get("endpointUri").String()
		if uri == "" {
			uri = v.Get("endpointURI").String()
		}
		if uri != "" {
			out = append(out, Endpoint{URI: uri, Version: v.Get("version").String()})
		}
		return true
	})
	return out, nil
}

// Upload posts a signed upload object to a subscriber endpoint.
func (c *Client) Upload(ctx context.Context, endpoint string, obj *UploadObject) error {
	body, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	_, err = c.doer.DoRequest(ctx, httpclient.RequestOptions{
		Method:  http.MethodPost,
		BaseURL: endpoint,
		Path:    pathUpload,
		Body:    body,
	})
	return err
}

func (c *Client) Notify(ctx context.Context, endpoint string, subscription uuid.UUID, event EventEnum) error {
	body, err := sjson.SetBytes([]byte(`{}`), "subscriptionIdentifier", subscription.String())
	if err != nil {
		return err
	}
	if body, err = sjson.SetBytes(body, "eventEnum", string(event)); err != nil {
		return err
	}
	_, err = c.doer.DoRequest(ctx, httpclient.RequestOptions{
		Method:  http.MethodPost,
		BaseURL: endpoint,
		Path:    pathNotification,
		Body:    body,
	})
	return err
}

// selectEndpoint returns the endpoint with the highest semantic version.
// Endpoints whose version does not parse rank below all others; among equals
// the first listed wins.
func selectEndpoint(endpoints []Endpoint) (Endpoint, bool) {
	if len(endpoints) == 0 {
		return Endpoint{}, false
	}
	best := 0
	var bestVersion *semver.Version
	for i, ep := range endpoints {
		v, err := semver.NewVersion(strings.TrimSpace(ep.Version))
		if err != nil {
			continue
		}
		if bestVersion == nil || v.GreaterThan(bestVersion) {
			best, bestVersion = i, v
		}
	}
	return endpoints[best], true
}

// validEndpoint reports whether uri can be used as a base URL.
func validEndpoint(uri string) error {
	_, err := httpclient.BuildURL(httpclient.RequestOptions{BaseURL: uri})
	return err
}
