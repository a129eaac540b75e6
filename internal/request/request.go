/*
Copyright 2026 ReelScript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// StatusError is returned by Call for responses outside the 2XX range.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status code %d: %s", e.StatusCode, e.Body)
}

// ToJsonReq serializes payload into a buffer ready to be used as a request body.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}
	return bytes.NewBuffer(c), nil
}

// PostJSON sends payload as a JSON POST with the given headers.
//
// Parameters:
// - ctx context.Context: Bounds the request.
// - url string: The target URL.
// - payload interface{}: Serialized as the request body.
// - headers map[string]string: Extra headers, applied after Content-Type.
// - response interface{}: Decoded from a JSON response body when non-nil.
//
// Returns:
// - error: A *StatusError for non-2XX responses, or the transport or decode error.
func PostJSON(ctx context.Context, url string, payload interface{}, headers map[string]string, response interface{}) error {
	body, err := ToJsonReq(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	_, err = Call(req, response)
	return err
}

// Call sends req with a JSON content type and decodes the response into response.
// An empty response body is not an error.
func Call(req *http.Request, response interface{}) (*http.Response, error) {
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: defaultTimeout}

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if response == nil || len(bytes.TrimSpace(raw)) == 0 {
		return resp, nil
	}
	return resp, json.Unmarshal(raw, response)
}
