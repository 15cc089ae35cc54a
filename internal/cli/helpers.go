package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// getJSON fetches one status API endpoint into out.
func getJSON(path string, out any) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(apiAddr + path)
	if err != nil {
		return fmt.Errorf("is atlas running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("api %s: status %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}
