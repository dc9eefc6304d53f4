package tracking

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"kubegems.io/modeleval/pkg/errors"
	"kubegems.io/modeleval/pkg/version"
)

var UserAgent = "modeleval/" + version.Get().GitVersion

type apiClient struct {
	Client        *http.Client
	Addr          string
	Authorization string
}

func newAPIClient(addr string, opts *Options) *apiClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	cli := &apiClient{
		Client: &http.Client{Transport: transport, Timeout: opts.Timeout},
		Addr:   strings.TrimSuffix(addr, "/"),
	}
	switch {
	case opts.Token != "":
		cli.Authorization = "Bearer " + opts.Token
	case opts.Username != "":
		cli.Authorization = "Basic " + base64.StdEncoding.EncodeToString([]byte(opts.Username+":"+opts.Password))
	}
	return cli
}

func (t *apiClient) get(ctx context.Context, path string, query url.Values, into any) error {
	if len(query) != 0 {
		path += "?" + query.Encode()
	}
	return t.request(ctx, http.MethodGet, t.Addr+path, nil, nil, into)
}

func (t *apiClient) post(ctx context.Context, path string, body any, into any) error {
	header := map[string]string{"Content-Type": "application/json"}
	return t.request(ctx, http.MethodPost, t.Addr+path, header, body, into)
}

func (t *apiClient) request(ctx context.Context, method, url string, header map[string]string, body any, into any) error {
	var reqbody io.Reader
	switch val := body.(type) {
	case io.Reader:
		reqbody = val
	case nil:
		reqbody = nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		reqbody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqbody)
	if err != nil {
		return err
	}
	if blob, ok := body.(BlobContent); ok && blob.ContentLength > 0 {
		req.ContentLength = blob.ContentLength
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if t.Authorization != "" {
		req.Header.Set("Authorization", t.Authorization)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apierr errors.ErrorInfo
		bodystr, _ := io.ReadAll(resp.Body)
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
			if err := json.Unmarshal(bodystr, &apierr); err != nil {
				apierr.Message = string(bodystr)
			}
		} else {
			apierr.Message = string(bodystr)
		}
		apierr.HttpStatus = resp.StatusCode
		if apierr.Code == "" {
			apierr.Code = errors.CodeFromStatus(resp.StatusCode)
		}
		return apierr
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			return err
		}
	}
	return nil
}
