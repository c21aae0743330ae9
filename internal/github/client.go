// Package github implements the relay's event source on top of the GitHub
// REST API.
package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// NewClient returns an authenticated GitHub client. baseURL selects a GitHub
// Enterprise API root (e.g. https://ghe.example.com/api/v3/); empty means
// github.com.
func NewClient(ctx context.Context, token, baseURL string) (*gh.Client, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client := gh.NewClient(httpClient)
	if baseURL == "" {
		return client, nil
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	client, err := client.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("github: enterprise url %q: %w", baseURL, err)
	}
	return client, nil
}
