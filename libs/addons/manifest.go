package addons

import (
	"fmt"
	"io"
	"net/http"

	"github.com/nadaahm/sql-based-etl-on-amazon-eks/libs/values"
)

const maxManifestSize = 8 << 20

func fetchManifest(client *http.Client, url string) (string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch manifest %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch manifest %s: %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return "", fmt.Errorf("failed to read manifest %s: %w", url, err)
	}
	return string(body), nil
}

// loadManifest fetches m, substitutes vars and splits it into objects.
func loadManifest(client *http.Client, m Manifest, vars map[string]string) ([]map[string]interface{}, error) {
	text, err := fetchManifest(client, m.URL)
	if err != nil {
		return nil, err
	}
	tmpl := values.Parse(m.URL, text)
	if err := tmpl.Check(m.Tokens...); err != nil {
		return nil, err
	}
	rendered, err := tmpl.Render(vars)
	if err != nil {
		return nil, err
	}
	objs, err := values.SplitDocuments(rendered)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", m.URL, err)
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("manifest %s contains no resources", m.URL)
	}
	return objs, nil
}
