package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// call sends a JSON request and prints the response body indented.
func call(method, path string, body any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req.Header.Set("X-Principal", principal)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var e domain.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Code != "" {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				return fmt.Errorf("%s: %s (retry after %ss)", e.Code, e.Error, ra)
			}
			return fmt.Errorf("%s: %s", e.Code, e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if len(data) == 0 {
		return nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		_, err = os.Stdout.Write(data)
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(os.Stdout)
	return err
}

func rawJSON(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("not valid JSON: %s", s)
	}
	return json.RawMessage(s), nil
}
