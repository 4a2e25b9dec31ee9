// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/poiesic/retrievit/ai"
)

// prober checks an OpenAI-compatible server through its model listing endpoint.
type prober struct {
	host    string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func newProber(host, apiKey string, timeout time.Duration) *prober {
	return &prober{
		host:    strings.TrimSuffix(host, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{},
		logger:  slog.Default().With("component", "openai-prober"),
	}
}

// Available reports whether the server answered the model listing with 200.
func (p *prober) Available(ctx context.Context) bool {
	resp, err := p.get(ctx)
	if err != nil {
		p.logger.Debug("model server not available", "host", p.host, "err", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("model server returned unexpected status", "host", p.host, "status", resp.StatusCode)
		return false
	}
	return true
}

// Models lists the model identifiers offered by the server.
func (p *prober) Models(ctx context.Context) ([]string, error) {
	resp, err := p.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ai.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading model list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ai.ErrProviderUnavailable, resp.StatusCode)
	}

	var list modelList
	if err := sonic.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decoding model list: %w", err)
	}

	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID != "" {
			models = append(models, m.ID)
		}
	}
	p.logger.Debug("listed models", "host", p.host, "count", len(models))
	return models, nil
}

func (p *prober) get(ctx context.Context) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/models", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the request context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
