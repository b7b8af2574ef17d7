//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type testClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newTestClient(baseURL, apiKey string) *testClient {
	return &testClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

func (c *testClient) doRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	require.NoError(t, err)
	return resp
}

func (c *testClient) createSession(t *testing.T, userID string) map[string]any {
	t.Helper()
	resp := c.doRequest(t, "POST", "/sessions", map[string]any{
		"userId": userID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "failed to create session")
	return decodeResponse(t, resp)
}

func (c *testClient) getSession(t *testing.T, sessionID string) *http.Response {
	t.Helper()
	return c.doRequest(t, "GET", fmt.Sprintf("/sessions/%s", sessionID), nil)
}

func (c *testClient) sendMessage(t *testing.T, sessionID, content string) *http.Response {
	t.Helper()
	return c.doRequest(t, "POST", fmt.Sprintf("/sessions/%s/messages", sessionID), map[string]any{
		"content": content,
	})
}

func (c *testClient) stopSession(t *testing.T, sessionID string) {
	t.Helper()
	resp := c.doRequest(t, "DELETE", fmt.Sprintf("/sessions/%s", sessionID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}
